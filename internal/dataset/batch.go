package dataset

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/internal/preprocess"
)

// Loader turns labeled images into preprocessed tensor batches. Each batch is
// built fresh and handed to exactly one training step.
type Loader struct {
	pre       *preprocess.Preprocessor
	batchSize int
	augmenter *Augmenter
}

// NewLoader creates a batch loader over the shared preprocessor. augmenter
// may be nil to disable augmentation (validation and test batches).
func NewLoader(pre *preprocess.Preprocessor, batchSize int, augmenter *Augmenter) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	return &Loader{pre: pre, batchSize: batchSize, augmenter: augmenter}, nil
}

// Epoch shuffles images with rng (when rng is non-nil), then feeds every
// batch to fn in order. A short final batch is delivered rather than dropped.
// The first error, from loading or from fn, aborts the epoch.
func (l *Loader) Epoch(images []LabeledImage, rng *rand.Rand, fn func(x *nn.Tensor, labels []int) error) error {
	items := append([]LabeledImage(nil), images...)
	if rng != nil {
		ShuffleInPlace(items, rng)
	}

	for start := 0; start < len(items); start += l.batchSize {
		end := start + l.batchSize
		if end > len(items) {
			end = len(items)
		}
		x, labels, err := l.batch(items[start:end])
		if err != nil {
			return err
		}
		if err := fn(x, labels); err != nil {
			return err
		}
	}
	return nil
}

// batch loads, optionally augments, and preprocesses one group of images.
func (l *Loader) batch(items []LabeledImage) (*nn.Tensor, []int, error) {
	tensors := make([]*nn.Tensor, 0, len(items))
	labels := make([]int, 0, len(items))

	for _, item := range items {
		data, err := os.ReadFile(item.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset: reading %q: %w", item.Path, err)
		}
		img, err := preprocess.Decode(data)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset: decoding %q: %w", item.Path, err)
		}
		if l.augmenter != nil {
			img = l.augmenter.Apply(img)
		}
		t, err := l.pre.Image(img)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset: preprocessing %q: %w", item.Path, err)
		}
		tensors = append(tensors, t)
		labels = append(labels, item.Class)
	}

	x, err := l.pre.Batch(tensors)
	if err != nil {
		return nil, nil, err
	}
	return x, labels, nil
}
