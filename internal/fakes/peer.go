package fakes

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media"

	"noadb/agent/internal/domain"
)

// Peer is a scripted domain.Peer.
type Peer struct {
	OfferErr  error
	AnswerErr error
	RemoteErr error

	mu               sync.Mutex
	sink             func(domain.PeerEvent)
	offers           int
	answers          int
	remoteDescs      []domain.SDPPayload
	remoteCandidates []domain.ICECandidatePayload
	channels         []*DataChannel
	track            *SampleSink
	closed           bool
}

// NewPeer returns a Peer delivering events to sink.
func NewPeer(sink func(domain.PeerEvent)) *Peer {
	return &Peer{sink: sink}
}

func (p *Peer) AddVideoTrack() (domain.SampleSink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = &SampleSink{}
	return p.track, nil
}

func (p *Peer) CreateDataChannel(label string) (domain.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := NewDataChannel(label)
	p.channels = append(p.channels, dc)
	return dc, nil
}

func (p *Peer) CreateOffer() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OfferErr != nil {
		return "", p.OfferErr
	}
	p.offers++
	return fmt.Sprintf("v=0\r\no=- offer-%d", p.offers), nil
}

func (p *Peer) CreateAnswer() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AnswerErr != nil {
		return "", p.AnswerErr
	}
	p.answers++
	return fmt.Sprintf("v=0\r\no=- answer-%d", p.answers), nil
}

func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	p.remoteDescs = append(p.remoteDescs, sdp)
	return nil
}

func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remoteDescs) == 0 {
		return fmt.Errorf("remote description not set")
	}
	p.remoteCandidates = append(p.remoteCandidates, candidate)
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetOfferErr makes later CreateOffer calls fail with err.
func (p *Peer) SetOfferErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OfferErr = err
}

// SetRemoteErr makes later SetRemoteDescription calls fail with err.
func (p *Peer) SetRemoteErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RemoteErr = err
}

// Emit delivers ev as if raised by the connection.
func (p *Peer) Emit(ev domain.PeerEvent) {
	p.sink(ev)
}

// Offers returns the number of offers created.
func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

// Answers returns the number of answers created.
func (p *Peer) Answers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}

// RemoteDescriptions returns the applied remote descriptions.
func (p *Peer) RemoteDescriptions() []domain.SDPPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SDPPayload(nil), p.remoteDescs...)
}

// RemoteCandidates returns the added remote candidates.
func (p *Peer) RemoteCandidates() []domain.ICECandidatePayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ICECandidatePayload(nil), p.remoteCandidates...)
}

// Channel returns the i-th locally created data channel.
func (p *Peer) Channel(i int) *DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.channels) {
		return nil
	}
	return p.channels[i]
}

// Closed reports whether Close was called.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PeerFactory hands out fake peers and remembers them.
type PeerFactory struct {
	Err error
	// Setup, if set, configures each peer before it is returned.
	Setup func(*Peer)

	mu    sync.Mutex
	peers []*Peer
}

// New implements domain.PeerFactory.
func (f *PeerFactory) New(sink func(domain.PeerEvent)) (domain.Peer, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPeer(sink)
	if f.Setup != nil {
		f.Setup(p)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

// Last returns the most recently built peer, or nil.
func (f *PeerFactory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// Count returns how many peers were built.
func (f *PeerFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// SampleSink records written samples.
type SampleSink struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (s *SampleSink) WriteSample(sample media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

// Samples returns the written samples.
func (s *SampleSink) Samples() []media.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Sample(nil), s.samples...)
}
