// Package stream acquires frames from the remote camera device. The primary
// client consumes an MJPEG (multipart/x-mixed-replace) HTTP stream; a
// snapshot poller covers firmware that only exposes a single-image capture
// endpoint. Both tolerate transient failures with bounded reconnection.
package stream

import (
	"errors"
	"image"
	"time"
)

// ErrStreamUnavailable is returned when the camera endpoint cannot be
// reached or keeps failing past the configured retry limit. It terminates
// the frame sequence.
var ErrStreamUnavailable = errors.New("stream unavailable")

// Frame is one decoded image from the camera with its arrival time. Frames
// are transient: consumed by one inference pass and then released.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// Source produces a lazy, potentially infinite, non-restartable frame
// sequence. The channel closes when the source ends; Err reports why.
type Source interface {
	// Frames returns the frame channel. It always returns the same channel.
	Frames() <-chan Frame
	// Err returns the terminal error after Frames closes, or nil for a
	// clean shutdown.
	Err() error
	// Close stops the source and releases its connection.
	Close() error
}

// Config holds stream client settings.
type Config struct {
	URL         string
	ReadTimeout time.Duration // max silence between frames before the connection is declared dead
	MaxRetries  int           // consecutive reconnect attempts before giving up
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns stream settings tuned for the embedded camera.
func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		ReadTimeout: 5 * time.Second,
		MaxRetries:  5,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  8 * time.Second,
	}
}

// backoff returns the delay before reconnect attempt n (1-based),
// exponential and capped.
func (c Config) backoff(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
