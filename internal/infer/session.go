package infer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/preprocess"
	"github.com/ayusman/mudra/internal/stream"
)

// Result is delivered to observers for every successfully classified frame.
type Result struct {
	Frame      stream.Frame
	Prediction model.Prediction
	Smoothed   Smoothed
}

// Config holds inference loop settings.
type Config struct {
	WindowSize int // rolling smoothing window, default 5
	QueueSize  int // bounded frame queue between acquisition and inference
}

// DefaultConfig returns the tuned inference loop defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize: 5,
		QueueSize:  4,
	}
}

// Session owns one live inference run: a frame source, the shared
// preprocessor, a loaded classifier and the smoothing window. The session is
// the single owner of all of them; Run tears everything down on exit.
type Session struct {
	cfg    Config
	clf    model.Classifier
	pre    *preprocess.Preprocessor
	source stream.Source
	queue  *stream.Queue
	window *Window
	log    zerolog.Logger

	mu        sync.Mutex
	observers []func(Result)

	processed int64
	skipped   int64
}

// NewSession wires a classifier, preprocessor and frame source together.
// The preprocessor resolution must match the classifier's declared input,
// otherwise every prediction would be garbage; this is rejected up front.
func NewSession(cfg Config, clf model.Classifier, pre *preprocess.Preprocessor, source stream.Source, log zerolog.Logger) (*Session, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if pre.Size() != clf.InputSize() {
		return nil, fmt.Errorf("%w: preprocessor resolution %d, classifier expects %d",
			model.ErrCheckpointIncompatible, pre.Size(), clf.InputSize())
	}
	return &Session{
		cfg:    cfg,
		clf:    clf,
		pre:    pre,
		source: source,
		queue:  stream.NewQueue(cfg.QueueSize),
		window: NewWindow(cfg.WindowSize),
		log:    log,
	}, nil
}

// Subscribe registers an observer for classified frames. Observers run on
// the inference goroutine and must be quick.
func (s *Session) Subscribe(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Run consumes frames until the source's sequence ends or ctx is cancelled.
// Acquisition runs as an independent producer feeding the bounded queue so a
// slow inference pass never blocks the network read. Per-frame errors are
// logged and skipped; a dead stream terminates the session with its error.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	go func() {
		for f := range s.source.Frames() {
			s.queue.Push(f)
		}
		s.queue.Close()
	}()

	for {
		frame, ok := s.queue.Pop(ctx)
		if !ok {
			if ctx.Err() != nil {
				s.log.Info().Msg("inference session stopped")
				return nil
			}
			err := s.source.Err()
			if err != nil {
				s.log.Error().Err(err).Msg("frame source failed")
			}
			return err
		}
		s.process(frame)
	}
}

// process classifies one frame and notifies observers. Frame-level failures
// are isolated: the frame is skipped and the loop continues.
func (s *Session) process(frame stream.Frame) {
	t, err := s.pre.Image(frame.Image)
	if err != nil {
		s.skipped++
		if errors.Is(err, preprocess.ErrInvalidImage) {
			s.log.Warn().Err(err).Msg("skipping invalid frame")
			return
		}
		s.log.Warn().Err(err).Msg("preprocess failed, skipping frame")
		return
	}

	pred, err := s.clf.Classify(t)
	if err != nil {
		s.skipped++
		s.log.Warn().Err(err).Msg("classify failed, skipping frame")
		return
	}

	smoothed := s.window.Add(pred)
	s.processed++

	result := Result{Frame: frame, Prediction: pred, Smoothed: smoothed}
	s.mu.Lock()
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		fn(result)
	}
}

// teardown releases the source and logs session totals.
func (s *Session) teardown() {
	if err := s.source.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing frame source")
	}
	if err := s.clf.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing classifier")
	}
	s.log.Info().
		Int64("processed", s.processed).
		Int64("skipped", s.skipped).
		Int64("dropped", s.queue.Dropped()).
		Msg("inference session closed")
}
