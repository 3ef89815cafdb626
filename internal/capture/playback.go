package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/stream"
)

// Playback replays pre-recorded images as a stream.Source, for testing and
// demos without any camera. The sequence ends after one pass unless loop is
// set.
type Playback struct {
	images   []image.Image
	loop     bool
	interval time.Duration
	frames   chan stream.Frame

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayback creates a playback source delivering one image per interval.
func NewPlayback(images []image.Image, interval time.Duration, loop bool) *Playback {
	return &Playback{
		images:   images,
		loop:     loop,
		interval: interval,
		frames:   make(chan stream.Frame),
		done:     make(chan struct{}),
	}
}

// Start begins playback.
func (p *Playback) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		defer close(p.frames)

		for {
			for _, img := range p.images {
				if p.interval > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(p.interval):
					}
				}
				select {
				case p.frames <- stream.Frame{Image: img, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
			// Nothing to replay: end instead of spinning on the outer loop.
			if !p.loop || len(p.images) == 0 {
				return
			}
		}
	}()
}

// Frames returns the frame channel.
func (p *Playback) Frames() <-chan stream.Frame {
	return p.frames
}

// Err always returns nil; playback ends cleanly.
func (p *Playback) Err() error {
	return nil
}

// Close stops playback.
func (p *Playback) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-p.done
	}
	return nil
}
