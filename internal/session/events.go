package session

import (
	"noadb/agent/internal/control"
	"noadb/agent/internal/domain"
)

// event is processed by the session worker. The set is closed.
type event interface {
	isEvent()
}

type envelopeEvent struct {
	env domain.Envelope
}

type signalingClosed struct{}

type peerEvent struct {
	ev domain.PeerEvent
}

type channelState struct {
	ch    *control.Channel
	state control.State
}

type renegotiate struct{}

func (envelopeEvent) isEvent()   {}
func (signalingClosed) isEvent() {}
func (peerEvent) isEvent()       {}
func (channelState) isEvent()    {}
func (renegotiate) isEvent()     {}
