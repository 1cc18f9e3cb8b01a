package supervisor

import "time"

// Default reconnect delays.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff yields exponentially growing delays: Base, 2*Base, 4*Base and
// so on, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// NewBackoff returns a Backoff with the default 1s base and 30s cap.
func NewBackoff() *Backoff {
	return &Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d <= 0 || d >= b.Max {
		return b.Max
	}
	b.attempt++
	return d
}

// Reset restarts the sequence at Base.
func (b *Backoff) Reset() {
	b.attempt = 0
}
