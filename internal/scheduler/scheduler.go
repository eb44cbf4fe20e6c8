// Package scheduler runs the periodic session refresh.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hls-relay/internal/session"
)

const (
	// DefaultInterval is how often the session is refreshed.
	DefaultInterval = 45 * time.Minute
	// DefaultTimeout bounds a single refresh attempt.
	DefaultTimeout = 30 * time.Second
)

// Refresher is the one operation the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler calls Refresh once at start and then every interval. Failures
// are logged and reported to the observer, never returned.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	log       *slog.Logger
	observe   func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout bounds each refresh attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver is called after every attempt with its result.
func WithObserver(fn func(error)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// New returns a stopped Scheduler.
func New(r Refresher, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		refresher: r,
		interval:  interval,
		timeout:   DefaultTimeout,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run refreshes immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Start runs the scheduler in its own goroutine. Calling Start on a running
// Scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	s.log.Info("refresh scheduler started", slog.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for any in-flight refresh to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("refresh scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.refresher.Refresh(ctx)
	switch {
	case err == nil:
		s.log.Debug("scheduled refresh succeeded")
	case errors.Is(err, session.ErrNotAuthenticated):
		s.log.Info("scheduled refresh skipped, not logged in")
	case errors.Is(err, context.Canceled):
		s.log.Debug("scheduled refresh canceled")
	default:
		s.log.Warn("scheduled refresh failed", slog.String("error", err.Error()))
	}
	if s.observe != nil {
		s.observe(err)
	}
}
