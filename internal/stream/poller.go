package stream

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/preprocess"
)

// Poller is the fallback frame source for firmware that only exposes a
// single-shot capture endpoint: it GETs one JPEG per interval. Retry and
// backoff semantics match the MJPEG client.
type Poller struct {
	cfg      Config
	interval time.Duration
	log      zerolog.Logger
	http     *http.Client
	frames   chan Frame

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 200 * time.Millisecond

// NewPoller creates a snapshot poller fetching one frame per interval.
func NewPoller(cfg Config, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		cfg:      cfg,
		interval: interval,
		log:      log,
		http:     &http.Client{Timeout: cfg.ReadTimeout},
		frames:   make(chan Frame),
		done:     make(chan struct{}),
	}
}

// Frames returns the frame channel.
func (p *Poller) Frames() <-chan Frame {
	return p.frames
}

// Err returns the terminal error once the frame channel has closed.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close cancels the poller and waits for the producer to exit. Closing a
// poller that was never started is a no-op.
func (p *Poller) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-p.done
	return nil
}

// Start launches the polling goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		defer close(p.frames)
		err := p.run(ctx)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
}

func (p *Poller) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		img, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures > p.cfg.MaxRetries {
				return fmt.Errorf("%w: giving up after %d attempts: %v", ErrStreamUnavailable, failures, err)
			}
			p.log.Warn().Err(err).Int("attempt", failures).Msg("snapshot fetch failed")
			continue
		}
		failures = 0

		select {
		case p.frames <- Frame{Image: img, Timestamp: time.Now()}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Poller) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return preprocess.Decode(data)
}
