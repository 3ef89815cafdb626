// Package testdata generates deterministic synthetic gesture images for
// tests, so no binary fixtures need to live in the repository.
package testdata

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
)

// Image returns a deterministic synthetic frame for the given class index.
// Each class gets a distinct dominant color with a horizontal gradient, so
// the images are distinguishable but cheap to produce.
func Image(class, size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			shade := uint8(40 + (x*160)/size)
			c := color.RGBA{A: 255}
			switch class % 3 {
			case 0:
				c.R = shade
			case 1:
				c.G = shade
			case 2:
				c.B = shade
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// JPEG encodes a synthetic frame for the given class as JPEG bytes.
func JPEG(class, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Image(class, size), &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDataset lays out a labelled image directory under root with the
// given number of PNG images per class, in the on-disk format the dataset
// loader expects.
func WriteDataset(root string, labels []string, perClass, size int) error {
	for class, label := range labels {
		dir := filepath.Join(root, label)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for i := 0; i < perClass; i++ {
			path := filepath.Join(dir, fmt.Sprintf("%s_%03d.png", label, i))
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := png.Encode(f, Image(class, size)); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
