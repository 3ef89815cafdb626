package overlay

import (
	"testing"

	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/stream"
	"github.com/ayusman/mudra/testdata"
)

var testLabels = []string{"rock", "paper", "scissors"}

func TestRenderer_Render(t *testing.T) {
	r := New(testLabels)
	frame := testdata.Image(0, 160)

	out := r.Render(frame, infer.Result{
		Frame: stream.Frame{Image: frame},
		Prediction: model.Prediction{
			Probs: []float64{0.7, 0.2, 0.1}, Class: 0, Label: "rock", Confidence: 0.7,
		},
		Smoothed: infer.Smoothed{Class: 0, Label: "rock", Confidence: 0.75, Samples: 5},
	})

	if out == nil {
		t.Fatal("expected an output image")
	}
	if out.Bounds().Dx() != 160 || out.Bounds().Dy() != 160 {
		t.Errorf("output size changed: %v", out.Bounds())
	}

	// The banner region must differ from the untouched source.
	same := true
	for x := 0; x < 160 && same; x++ {
		for y := 0; y < bannerHeight && same; y++ {
			r0, g0, b0, _ := frame.At(x, y).RGBA()
			r1, g1, b1, _ := out.At(x, y).RGBA()
			if r0 != r1 || g0 != g1 || b0 != b1 {
				same = false
			}
		}
	}
	if same {
		t.Error("banner region identical to source, nothing was drawn")
	}
}

func TestRenderer_EmptyWindow(t *testing.T) {
	r := New(testLabels)
	frame := testdata.Image(1, 120)

	// Before any prediction lands the smoothed class is the -1 sentinel;
	// rendering must still work.
	out := r.Render(frame, infer.Result{
		Frame:    stream.Frame{Image: frame},
		Smoothed: infer.Smoothed{Class: -1},
	})
	if out == nil {
		t.Fatal("expected an output image")
	}
}

func TestRenderer_MoreProbsThanLabels(t *testing.T) {
	r := New([]string{"rock"})
	frame := testdata.Image(2, 120)

	out := r.Render(frame, infer.Result{
		Frame: stream.Frame{Image: frame},
		Prediction: model.Prediction{
			Probs: []float64{0.5, 0.3, 0.2}, Class: 0, Label: "rock", Confidence: 0.5,
		},
		Smoothed: infer.Smoothed{Class: 0, Label: "rock", Confidence: 0.5, Samples: 1},
	})
	if out == nil {
		t.Fatal("expected an output image")
	}
}
