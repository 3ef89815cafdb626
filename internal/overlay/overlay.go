// Package overlay renders prediction results onto frames for the operator:
// the smoothed class with its confidence, plus a per-class probability bar.
package overlay

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"

	"github.com/ayusman/mudra/internal/infer"
)

// Renderer draws prediction overlays. It is stateless apart from the label
// set and safe to reuse across frames.
type Renderer struct {
	labels []string
}

// New creates a renderer for the given label set.
func New(labels []string) *Renderer {
	return &Renderer{labels: append([]string(nil), labels...)}
}

const (
	bannerHeight = 28
	barHeight    = 14
	barMaxWidth  = 120
	margin       = 8
)

// Render returns a copy of the frame with the result drawn on top. The input
// image is not modified.
func (r *Renderer) Render(img image.Image, res infer.Result) image.Image {
	dc := gg.NewContextForImage(img)
	w := dc.Width()

	// Top banner: smoothed class and average confidence.
	dc.SetRGBA(0, 0, 0, 0.55)
	dc.DrawRectangle(0, 0, float64(w), bannerHeight)
	dc.Fill()

	dc.SetRGB(1, 1, 1)
	text := fmt.Sprintf("%s  %.0f%%", res.Smoothed.Label, res.Smoothed.Confidence*100)
	if res.Smoothed.Class < 0 {
		text = "..."
	}
	dc.DrawStringAnchored(text, margin, bannerHeight/2, 0, 0.35)

	// Per-class probability bars from the single-frame prediction.
	y := float64(bannerHeight + margin)
	for i, p := range res.Prediction.Probs {
		if i >= len(r.labels) {
			break
		}
		dc.SetRGBA(0, 0, 0, 0.4)
		dc.DrawRectangle(margin, y, barMaxWidth, barHeight)
		dc.Fill()

		if i == res.Prediction.Class {
			dc.SetRGB(0.2, 0.9, 0.3)
		} else {
			dc.SetRGB(0.3, 0.5, 0.9)
		}
		dc.DrawRectangle(margin, y, barMaxWidth*p, barHeight)
		dc.Fill()

		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(fmt.Sprintf("%s %.2f", r.labels[i], p),
			margin+barMaxWidth+6, y+barHeight/2, 0, 0.35)

		y += barHeight + 4
	}

	return dc.Image()
}
