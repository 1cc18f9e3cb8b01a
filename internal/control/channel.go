package control

import (
	"errors"
	"sync"
	"sync/atomic"

	"noadb/agent/internal/domain"
)

// Label is the data channel label controllers open for commands.
const Label = "control_channel"

// ErrNotOpen is returned by Send when the channel is not open.
var ErrNotOpen = errors.New("control channel not open")

// State is the control channel lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handlers receive channel callbacks. Both run on the data channel's
// callback goroutine and must not block.
type Handlers struct {
	OnState   func(*Channel, State)
	OnMessage func(data []byte)
}

// Channel wraps a data channel with Connecting, Open and Closed states.
// Transitions only move forward.
type Channel struct {
	dc    domain.DataChannel
	state atomic.Int32
	h     Handlers

	closeOnce sync.Once
}

// NewChannel wraps dc and registers its callbacks.
func NewChannel(dc domain.DataChannel, h Handlers) *Channel {
	c := &Channel{dc: dc, h: h}
	dc.OnOpen(func() {
		if c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
			c.notify(StateOpen)
		}
	})
	dc.OnClose(c.markClosed)
	dc.OnMessage(func(data []byte) {
		if c.State() != StateOpen || c.h.OnMessage == nil {
			return
		}
		c.h.OnMessage(data)
	})
	return c
}

// Label returns the underlying channel label.
func (c *Channel) Label() string {
	return c.dc.Label()
}

// State returns the current state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Send writes data while the channel is open.
func (c *Channel) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	return c.dc.Send(data)
}

// Close closes the underlying channel and moves to Closed.
func (c *Channel) Close() error {
	err := c.dc.Close()
	c.markClosed()
	return err
}

func (c *Channel) markClosed() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.notify(StateClosed)
	})
}

func (c *Channel) notify(s State) {
	if c.h.OnState != nil {
		c.h.OnState(c, s)
	}
}
