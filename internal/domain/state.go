package domain

// SessionState is the negotiator's position in the session lifecycle.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateRegistering
	StateOffering
	StateNegotiating
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

var sessionStateNames = [...]string{
	StateIdle:        "idle",
	StateRegistering: "registering",
	StateOffering:    "offering",
	StateNegotiating: "negotiating",
	StateOpen:        "open",
	StateClosing:     "closing",
	StateClosed:      "closed",
	StateFailed:      "failed",
}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		return "unknown"
	}
	return sessionStateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// AllSessionStates lists every state, in lifecycle order.
func AllSessionStates() []SessionState {
	return []SessionState{
		StateIdle, StateRegistering, StateOffering, StateNegotiating,
		StateOpen, StateClosing, StateClosed, StateFailed,
	}
}

// PeerState mirrors the peer connection's connectivity state.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}
