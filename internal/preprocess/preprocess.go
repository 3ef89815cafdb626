// Package preprocess converts raw images into the fixed-shape tensors the
// classifier consumes. The same Preprocessor value is used by the training
// data pipeline and the live inference session so the two paths can never
// diverge.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/ayusman/mudra/internal/nn"
)

// ErrInvalidImage is returned when an input cannot be decoded or has zero area.
// Callers on the live path skip the frame; callers on the training path fail
// the dataset load.
var ErrInvalidImage = errors.New("invalid image")

// Channels is the number of color channels the model consumes.
const Channels = 3

// Preprocessor resizes and normalizes images to a square RGB tensor with
// values in [0, 1], channel-first (CHW). It is stateless and deterministic.
type Preprocessor struct {
	size int
}

// New creates a Preprocessor producing size x size tensors.
func New(size int) (*Preprocessor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("preprocess: input size must be positive, got %d", size)
	}
	return &Preprocessor{size: size}, nil
}

// Size returns the square input resolution.
func (p *Preprocessor) Size() int {
	return p.size
}

// Image converts a decoded image into a [1, 3, size, size] tensor.
func (p *Preprocessor) Image(img image.Image) (*nn.Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-area image %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}

	resized := resize.Resize(uint(p.size), uint(p.size), img, resize.Lanczos3)

	t := nn.NewTensor(1, Channels, p.size, p.size)
	plane := p.size * p.size
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			idx := y*p.size + x
			t.Data[idx] = float64(r) / 65535.0
			t.Data[plane+idx] = float64(g) / 65535.0
			t.Data[2*plane+idx] = float64(bl) / 65535.0
		}
	}
	return t, nil
}

// Bytes decodes an encoded JPEG/PNG frame and preprocesses it.
func (p *Preprocessor) Bytes(data []byte) (*nn.Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Image(img)
}

// Decode decodes an encoded JPEG/PNG image, mapping decode failures to
// ErrInvalidImage.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// Batch stacks per-image tensors into a single [B, 3, size, size] batch.
// All inputs must share the preprocessor's shape.
func (p *Preprocessor) Batch(images []*nn.Tensor) (*nn.Tensor, error) {
	if len(images) == 0 {
		return nil, errors.New("preprocess: empty batch")
	}
	per := Channels * p.size * p.size
	out := nn.NewTensor(len(images), Channels, p.size, p.size)
	for i, img := range images {
		if img.Len() != per {
			return nil, fmt.Errorf("preprocess: tensor %d has %d values, want %d", i, img.Len(), per)
		}
		copy(out.Data[i*per:(i+1)*per], img.Data)
	}
	return out, nil
}
