// Package supervisor keeps a session running against the relay,
// rebuilding it after transport loss with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/metrics"
)

var errUnexpectedClose = errors.New("session closed unexpectedly")

// Session is the part of session.Session the supervisor drives.
type Session interface {
	Run(ctx context.Context) error
	// Opened reports whether the session ever reached StateOpen.
	Opened() bool
	SessionID() string
}

// Factory builds a fresh session for each attempt.
type Factory func() Session

// Options configures a Supervisor.
type Options struct {
	NewSession    Factory
	AutoReconnect bool
	Backoff       *Backoff
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	// After defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

// Supervisor runs sessions one after another.
type Supervisor struct {
	opts Options
	log  *zap.Logger
}

// New returns a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff()
	}
	if opts.After == nil {
		opts.After = time.After
	}
	return &Supervisor{opts: opts, log: logger.OrNop(opts.Logger)}
}

// Run blocks until ctx is cancelled, returning nil, or until a session
// fails with AutoReconnect disabled, returning that session's error.
func (s *Supervisor) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		sess := s.opts.NewSession()
		s.log.Info("starting session", zap.Int("attempt", attempt), zap.String("session", sess.SessionID()))

		err := sess.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = domain.NewError(domain.KindTransport, "session", errUnexpectedClose)
		}
		if sess.Opened() {
			s.opts.Backoff.Reset()
		}

		if !s.opts.AutoReconnect {
			s.log.Error("session failed, auto reconnect disabled", zap.Error(err))
			return err
		}

		delay := s.opts.Backoff.Next()
		s.log.Warn("session lost, reconnecting",
			zap.Error(err),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Duration("delay", delay),
		)
		s.opts.Metrics.Reconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-s.opts.After(delay):
		}
	}
}
