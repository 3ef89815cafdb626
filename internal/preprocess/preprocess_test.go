package preprocess

import (
	"errors"
	"testing"

	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/testdata"
)

func TestPreprocessor_Shape(t *testing.T) {
	p, err := New(32)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tensor, err := p.Image(testdata.Image(0, 64))
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}

	want := []int{1, 3, 32, 32}
	if len(tensor.Shape) != 4 {
		t.Fatalf("expected 4 dims, got %d", len(tensor.Shape))
	}
	for i, d := range want {
		if tensor.Shape[i] != d {
			t.Errorf("dim %d: got %d, want %d", i, tensor.Shape[i], d)
		}
	}
}

func TestPreprocessor_ValueRange(t *testing.T) {
	p, _ := New(24)

	tensor, err := p.Image(testdata.Image(1, 48))
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}

	for i, v := range tensor.Data {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of range [0,1]: %f", i, v)
		}
	}
}

func TestPreprocessor_Deterministic(t *testing.T) {
	p, _ := New(32)
	img := testdata.Image(2, 100)

	a, err := p.Image(img)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	b, err := p.Image(img)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	// The same image must produce bit-identical tensors.
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestDecode_InvalidData(t *testing.T) {
	cases := map[string][]byte{
		"empty":   nil,
		"garbage": []byte("not an image at all"),
	}
	for name, data := range cases {
		if _, err := Decode(data); !errors.Is(err, ErrInvalidImage) {
			t.Errorf("%s: expected ErrInvalidImage, got %v", name, err)
		}
	}
}

func TestPreprocessor_Bytes(t *testing.T) {
	p, _ := New(16)

	data, err := testdata.JPEG(0, 40)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	tensor, err := p.Bytes(data)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if tensor.Len() != 3*16*16 {
		t.Errorf("expected %d values, got %d", 3*16*16, tensor.Len())
	}
}

func TestPreprocessor_Batch(t *testing.T) {
	p, _ := New(8)

	a, _ := p.Image(testdata.Image(0, 8))
	b, _ := p.Image(testdata.Image(1, 8))

	batch, err := p.Batch([]*nn.Tensor{a, b})
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if batch.Shape[0] != 2 {
		t.Errorf("expected batch dim 2, got %d", batch.Shape[0])
	}

	// First image occupies the first 3*8*8 values.
	per := 3 * 8 * 8
	for i := 0; i < per; i++ {
		if batch.Data[i] != a.Data[i] {
			t.Fatalf("batch value %d differs from source image", i)
		}
	}
}
