// Package infer runs the live classification loop: frames from a stream
// source are preprocessed, scored by a loaded checkpoint, and smoothed over
// a short rolling window before being reported.
package infer

import "github.com/ayusman/mudra/internal/model"

// Smoothed is the reported result over the rolling window: the majority
// class of the last K predictions with its average confidence. Smoothing
// suppresses single-frame flicker from transient misclassification.
type Smoothed struct {
	Class      int
	Label      string
	Confidence float64
	Samples    int
}

// Window is a bounded rolling buffer of recent predictions.
type Window struct {
	size  int
	preds []model.Prediction
}

// NewWindow creates a rolling window of the given size.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size}
}

// Add appends a prediction, evicting the oldest when full, and returns the
// updated smoothed result.
func (w *Window) Add(p model.Prediction) Smoothed {
	if len(w.preds) == w.size {
		copy(w.preds, w.preds[1:])
		w.preds = w.preds[:w.size-1]
	}
	w.preds = append(w.preds, p)
	return w.Result()
}

// Result computes the majority class over the window. Ties break toward the
// most recent prediction among the tied classes.
func (w *Window) Result() Smoothed {
	if len(w.preds) == 0 {
		return Smoothed{Class: -1}
	}

	counts := make(map[int]int)
	confidence := make(map[int]float64)
	for _, p := range w.preds {
		counts[p.Class]++
		confidence[p.Class] += p.Confidence
	}

	best := -1
	for i := len(w.preds) - 1; i >= 0; i-- {
		c := w.preds[i].Class
		if best == -1 || counts[c] > counts[best] {
			best = c
		}
	}

	last := w.preds[len(w.preds)-1]
	label := last.Label
	if best != last.Class {
		// Find a prediction carrying the winning class's label.
		for _, p := range w.preds {
			if p.Class == best {
				label = p.Label
				break
			}
		}
	}

	return Smoothed{
		Class:      best,
		Label:      label,
		Confidence: confidence[best] / float64(counts[best]),
		Samples:    len(w.preds),
	}
}

// Reset clears the window.
func (w *Window) Reset() {
	w.preds = w.preds[:0]
}
