// Package capture provides a local webcam frame source using GoCV (OpenCV),
// for development without the embedded camera device.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/stream"
)

// Default camera settings
const (
	DefaultFPS    = 10
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when reading from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera reads frames from a local capture device and exposes them as a
// stream.Source, interchangeable with the network stream client.
type Camera struct {
	deviceID int
	fps      int
	frames   chan stream.Frame

	mu      sync.Mutex
	capture *gocv.VideoCapture
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCamera creates a camera source for the given device ID.
func NewCamera(deviceID int) *Camera {
	return &Camera{
		deviceID: deviceID,
		fps:      DefaultFPS,
		frames:   make(chan stream.Frame),
		done:     make(chan struct{}),
	}
}

// Start opens the device and begins producing frames at the configured rate.
func (c *Camera) Start(ctx context.Context) error {
	cap, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return err
	}
	cap.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	cap.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	cap.Set(gocv.VideoCaptureFPS, float64(c.fps))

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.capture = cap
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *Camera) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.frames)

	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		cap := c.capture
		c.mu.Unlock()
		if cap == nil {
			return
		}

		if ok := cap.Read(&mat); !ok || mat.Empty() {
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			continue
		}

		select {
		case c.frames <- stream.Frame{Image: img, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// Frames returns the frame channel.
func (c *Camera) Frames() <-chan stream.Frame {
	return c.frames
}

// Err returns the terminal error once the frame channel has closed.
func (c *Camera) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops production and releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return ErrCameraNotOpen
	}
	cancel()
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		err := c.capture.Close()
		c.capture = nil
		return err
	}
	return nil
}
