package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client consumes an MJPEG stream over HTTP. Each multipart section is a
// self-contained JPEG frame. The client reconnects with exponential backoff
// on transient failures; exhausting the retry budget ends the sequence with
// ErrStreamUnavailable.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	http   *http.Client
	frames chan Frame

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates an MJPEG stream client. Call Start to begin producing.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		log:    log,
		http:   &http.Client{},
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
}

// Frames returns the frame channel.
func (c *Client) Frames() <-chan Frame {
	return c.frames
}

// Err returns the terminal error once the frame channel has closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close cancels the client and waits for the producer to exit. Closing a
// client that was never started is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-c.done
	return nil
}

// Start launches the producer goroutine. The frame channel closes when the
// context is cancelled or the retry budget is exhausted.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		defer close(c.frames)
		c.setErr(c.run(ctx))
	}()
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// run connects and re-connects until cancelled or retries are exhausted.
// A successfully delivered frame resets the retry counter.
func (c *Client) run(ctx context.Context) error {
	attempts := 0
	for {
		delivered, err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			attempts = 0
		}
		attempts++
		if attempts > c.cfg.MaxRetries {
			return fmt.Errorf("%w: giving up after %d attempts: %v", ErrStreamUnavailable, attempts, err)
		}

		delay := c.cfg.backoff(attempts)
		c.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("backoff", delay).
			Msg("stream read failed, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// consume opens one connection and delivers frames until it dies. Returns
// the number of frames delivered and the error that ended the connection.
func (c *Client) consume(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return 0, fmt.Errorf("parsing content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return 0, fmt.Errorf("not an MJPEG stream: content type %q", mediaType)
	}

	// Watchdog: a stream that goes silent past the read timeout is dead even
	// though the TCP connection may still look healthy.
	watchdog := time.AfterFunc(c.cfg.ReadTimeout, func() { resp.Body.Close() })
	defer watchdog.Stop()

	reader := multipart.NewReader(resp.Body, params["boundary"])
	delivered := 0
	for {
		part, err := reader.NextPart()
		if err != nil {
			if err == io.EOF {
				return delivered, fmt.Errorf("stream closed by peer")
			}
			return delivered, err
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return delivered, err
		}
		watchdog.Reset(c.cfg.ReadTimeout)

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			// Bad frame, recoverable: skip it and keep reading.
			c.log.Debug().Err(err).Int("bytes", len(data)).Msg("skipping undecodable frame")
			continue
		}

		select {
		case c.frames <- Frame{Image: img, Timestamp: time.Now()}:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}
