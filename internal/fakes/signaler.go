package fakes

import (
	"context"
	"errors"
	"sync"

	"noadb/agent/internal/domain"
)

// ErrNotConnected is returned by Signaler.Send without a live connection.
var ErrNotConnected = errors.New("fake signaler: not connected")

// Signaler records sent envelopes and lets tests inject inbound ones.
type Signaler struct {
	ConnectErr error

	mu       sync.Mutex
	in       chan domain.Envelope
	live     bool
	err      error
	sent     []domain.Envelope
	connects int
	closes   int
}

// NewSignaler returns an unconnected Signaler.
func NewSignaler() *Signaler {
	return &Signaler{}
}

func (s *Signaler) Connect(ctx context.Context, relayURL string) (<-chan domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return nil, s.ConnectErr
	}
	s.connects++
	s.in = make(chan domain.Envelope, 64)
	s.live = true
	s.err = nil
	return s.in, nil
}

func (s *Signaler) Send(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return domain.NewError(domain.KindTransport, "send", ErrNotConnected)
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *Signaler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.end(nil)
}

// Deliver pushes an inbound envelope onto the live connection. The
// inbound buffer holds 64 envelopes.
func (s *Signaler) Deliver(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live {
		s.in <- env
	}
}

// DeliverPayload builds and delivers an envelope.
func (s *Signaler) DeliverPayload(typ domain.EnvelopeType, sessionID string, payload any) {
	env, err := domain.NewEnvelope(typ, sessionID, payload)
	if err != nil {
		panic(err)
	}
	s.Deliver(env)
}

// Drop ends the live connection with cause.
func (s *Signaler) Drop(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(domain.NewError(domain.KindTransport, "read", cause))
}

func (s *Signaler) end(cause error) {
	if !s.live {
		return
	}
	s.live = false
	s.err = cause
	close(s.in)
}

// Sent returns a copy of all sent envelopes.
func (s *Signaler) Sent() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Envelope(nil), s.sent...)
}

// SentOfType returns the sent envelopes with the given type.
func (s *Signaler) SentOfType(typ domain.EnvelopeType) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range s.Sent() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// Connects returns how many times Connect succeeded.
func (s *Signaler) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Closes returns how many times Close was called.
func (s *Signaler) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
