package domain

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// Signaler manages the relay connection. Each Connect opens one
// connection and returns its inbound envelopes; the channel is closed when
// the connection ends and Err then reports why.
type Signaler interface {
	Connect(ctx context.Context, relayURL string) (<-chan Envelope, error)
	Send(env Envelope) error
	Err() error
	Close()
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	AddVideoTrack() (SampleSink, error)
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close() error
}

// PeerFactory builds a Peer whose callbacks are delivered to sink.
type PeerFactory func(sink func(PeerEvent)) (Peer, error)

// PeerEvent is emitted by the peer layer. The set of implementations is
// closed; see the isPeerEvent marker.
type PeerEvent interface {
	isPeerEvent()
}

// CandidateGathered carries a local ICE candidate.
type CandidateGathered struct {
	Candidate ICECandidatePayload
}

// GatheringComplete signals the end of local candidate gathering.
type GatheringComplete struct{}

// ConnectionStateChanged carries the peer connection's new state.
type ConnectionStateChanged struct {
	State PeerState
}

// NegotiationNeeded signals a structural change that needs a new offer.
type NegotiationNeeded struct{}

// DataChannelReceived carries a data channel opened by the remote side.
type DataChannelReceived struct {
	Channel DataChannel
}

func (CandidateGathered) isPeerEvent()      {}
func (GatheringComplete) isPeerEvent()      {}
func (ConnectionStateChanged) isPeerEvent() {}
func (NegotiationNeeded) isPeerEvent()      {}
func (DataChannelReceived) isPeerEvent()    {}

// DataChannel is the message pipe under the control channel.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(data []byte))
	Close() error
}

// SampleSink receives encoded media samples from the capture subsystem.
type SampleSink interface {
	WriteSample(sample media.Sample) error
}

// CaptureSource produces the screen stream while a session is open.
type CaptureSource interface {
	OnSessionOpen(sink SampleSink, profile CaptureProfile, bitrateBps int) error
	OnSessionClose()
}

// Injector performs input actions on the local device.
type Injector interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	Key(ctx context.Context, keyCode int) error
	Text(ctx context.Context, text string) error
	GlobalAction(ctx context.Context, action GlobalAction) error
	LaunchApp(ctx context.Context, pkg string) error
	// ClickNode clicks the first on-screen element matching viewID, or
	// failing that, text.
	ClickNode(ctx context.Context, viewID, text string) error
	// SetText replaces the content of the field identified by viewID.
	SetText(ctx context.Context, viewID, text string) error
}
