package dataset

import (
	"math/rand"
	"testing"

	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/internal/preprocess"
)

func TestLoader_Epoch(t *testing.T) {
	root := writeFixtures(t, 5)
	ds, err := Load(root, DefaultLabels)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	pre, err := preprocess.New(16)
	if err != nil {
		t.Fatalf("preprocess.New failed: %v", err)
	}
	loader, err := NewLoader(pre, 4, nil)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	var batchSizes []int
	total := 0
	err = loader.Epoch(ds.Images, rand.New(rand.NewSource(1)), func(x *nn.Tensor, labels []int) error {
		if x.Shape[0] != len(labels) {
			t.Errorf("batch dim %d does not match %d labels", x.Shape[0], len(labels))
		}
		batchSizes = append(batchSizes, len(labels))
		total += len(labels)
		return nil
	})
	if err != nil {
		t.Fatalf("Epoch failed: %v", err)
	}

	// 15 images at batch size 4: three full batches plus a short final one.
	if total != 15 {
		t.Errorf("expected 15 images delivered, got %d", total)
	}
	want := []int{4, 4, 4, 3}
	if len(batchSizes) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(batchSizes))
	}
	for i, n := range want {
		if batchSizes[i] != n {
			t.Errorf("batch %d: expected size %d, got %d", i, n, batchSizes[i])
		}
	}
}

func TestLoader_EpochShuffleReproducible(t *testing.T) {
	root := writeFixtures(t, 4)
	ds, _ := Load(root, DefaultLabels)
	pre, _ := preprocess.New(8)
	loader, _ := NewLoader(pre, 3, nil)

	collect := func(seed int64) []int {
		var labels []int
		err := loader.Epoch(ds.Images, rand.New(rand.NewSource(seed)), func(x *nn.Tensor, batch []int) error {
			labels = append(labels, batch...)
			return nil
		})
		if err != nil {
			t.Fatalf("Epoch failed: %v", err)
		}
		return labels
	}

	a := collect(9)
	b := collect(9)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("label order differs at %d with the same seed", i)
		}
	}
}
