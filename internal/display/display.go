// Package display shows overlaid frames in a local window using GoCV.
package display

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Window is a local preview window. Show may be called from the inference
// goroutine; the window is created lazily on first use.
type Window struct {
	title string
	mu    sync.Mutex
	win   *gocv.Window
}

// NewWindow creates a display window with the given title.
func NewWindow(title string) *Window {
	return &Window{title: title}
}

// Show renders one frame. Errors converting the frame are swallowed; the
// preview is best-effort and must never stall the inference loop.
func (w *Window) Show(img image.Image) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.win == nil {
		w.win = gocv.NewWindow(w.title)
	}

	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)

	w.win.IMShow(bgr)
	w.win.WaitKey(1)
}

// Close releases the window.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.win == nil {
		return nil
	}
	err := w.win.Close()
	w.win = nil
	return err
}
