package server

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"
)

// PreviewHandler serves the latest overlaid frame as an MJPEG stream.
// The inference session pushes frames in; clients replay whatever is
// current, so a stalled pipeline simply freezes the preview.
type PreviewHandler struct {
	mu     sync.RWMutex
	latest []byte
}

// NewPreviewHandler creates a preview handler with no frame yet.
func NewPreviewHandler() *PreviewHandler {
	return &PreviewHandler{}
}

// Update encodes and stores the newest overlaid frame.
func (h *PreviewHandler) Update(img image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return
	}
	h.mu.Lock()
	h.latest = buf.Bytes()
	h.mu.Unlock()
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *PreviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(100 * time.Millisecond) // ~10 FPS
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		frame := h.latest
		h.mu.RUnlock()
		if len(frame) == 0 {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		w.Write(frame)
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
