// Package dataset loads labeled gesture images from a directory-per-label
// layout and partitions them into disjoint train/validation/test splits.
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLabels is the gesture label set in its canonical order. The index of
// a label here is its class index everywhere: dataset encoding, model head
// and checkpoint metadata.
var DefaultLabels = []string{"rock", "paper", "scissors"}

// LabeledImage is one stored image with its ground-truth class index.
type LabeledImage struct {
	Path  string
	Class int
}

// Dataset is the full set of labeled images found on disk.
type Dataset struct {
	Labels []string
	Images []LabeledImage
}

// Split is a disjoint partition of a dataset.
type Split struct {
	Train []LabeledImage
	Val   []LabeledImage
	Test  []LabeledImage
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Load scans root for one subdirectory per label and collects that label's
// images. Every label must have a directory with at least one image; dataset
// problems are fatal before any training step runs.
func Load(root string, labels []string) (*Dataset, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("dataset: need at least 2 labels, got %d", len(labels))
	}

	d := &Dataset{Labels: append([]string(nil), labels...)}
	for class, label := range labels {
		dir := filepath.Join(root, label)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("dataset: reading label directory %q: %w", dir, err)
		}

		count := 0
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			d.Images = append(d.Images, LabeledImage{
				Path:  filepath.Join(dir, e.Name()),
				Class: class,
			})
			count++
		}
		if count == 0 {
			return nil, fmt.Errorf("dataset: label %q has no images under %q", label, dir)
		}
	}
	return d, nil
}

// ClassCounts returns the number of images per class, indexed by class.
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, len(d.Labels))
	for _, img := range d.Images {
		counts[img.Class]++
	}
	return counts
}

// Split partitions the dataset into train/val/test subsets, stratified per
// class so the balance carries into every subset. The shuffle is driven by
// rng so a fixed seed reproduces the exact partition. Every image lands in
// exactly one subset.
func (d *Dataset) Split(trainFrac, valFrac float64, rng *rand.Rand) (*Split, error) {
	if trainFrac <= 0 || valFrac < 0 || trainFrac+valFrac >= 1 {
		return nil, fmt.Errorf("dataset: invalid split fractions train=%.2f val=%.2f", trainFrac, valFrac)
	}

	byClass := make([][]LabeledImage, len(d.Labels))
	for _, img := range d.Images {
		byClass[img.Class] = append(byClass[img.Class], img)
	}

	s := &Split{}
	for _, images := range byClass {
		// Sort for a stable base order, then shuffle with the seeded rng.
		sort.Slice(images, func(i, j int) bool { return images[i].Path < images[j].Path })
		rng.Shuffle(len(images), func(i, j int) {
			images[i], images[j] = images[j], images[i]
		})

		nTrain := int(float64(len(images)) * trainFrac)
		nVal := int(float64(len(images)) * valFrac)
		s.Train = append(s.Train, images[:nTrain]...)
		s.Val = append(s.Val, images[nTrain:nTrain+nVal]...)
		s.Test = append(s.Test, images[nTrain+nVal:]...)
	}

	if len(s.Train) == 0 || len(s.Test) == 0 {
		return nil, fmt.Errorf("dataset: split produced empty subsets (train=%d val=%d test=%d)",
			len(s.Train), len(s.Val), len(s.Test))
	}
	return s, nil
}

// ShuffleInPlace reorders images with the given rng. Called once per epoch.
func ShuffleInPlace(images []LabeledImage, rng *rand.Rand) {
	rng.Shuffle(len(images), func(i, j int) {
		images[i], images[j] = images[j], images[i]
	})
}
