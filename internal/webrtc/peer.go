package webrtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	pion "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
)

const (
	videoTrackID  = "screen"
	videoStreamID = "noadb"
)

var errNoRemoteDescription = errors.New("remote description not set")

// Peer wraps a Pion PeerConnection sending one H264 video track and
// carrying the control data channel. Connection callbacks are translated
// into domain.PeerEvent values and handed to the sink.
type Peer struct {
	pc   *pion.PeerConnection
	sink func(domain.PeerEvent)
	log  *zap.Logger
}

// NewFactory returns a domain.PeerFactory building peers with the given
// ICE servers.
func NewFactory(iceServers []domain.ICEServer, log *zap.Logger) domain.PeerFactory {
	return func(sink func(domain.PeerEvent)) (domain.Peer, error) {
		return NewPeer(iceServers, sink, log)
	}
}

// NewPeer creates a PeerConnection with H264 registered and NACK plus
// sender-report interceptors.
func NewPeer(iceServers []domain.ICEServer, sink func(domain.PeerEvent), log *zap.Logger) (*Peer, error) {
	if sink == nil {
		sink = func(domain.PeerEvent) {}
	}
	log = logger.OrNop(log)

	m := &pion.MediaEngine{}
	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: h264Capability(),
		PayloadType:        102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	reportFactory, err := report.NewSenderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create sender report: %w", err)
	}
	i.Add(reportFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   toPionICEServers(iceServers),
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{pc: pc, sink: sink, log: log}

	pc.OnICECandidate(p.onICECandidate)
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug("ICE connection state", zap.String("state", state.String()))
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info("peer connection state", zap.String("state", state.String()))
		sink(domain.ConnectionStateChanged{State: toPeerState(state)})
	})
	pc.OnNegotiationNeeded(func() {
		sink(domain.NegotiationNeeded{})
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		log.Info("remote data channel", zap.String("label", dc.Label()))
		sink(domain.DataChannelReceived{Channel: &dataChannel{dc: dc}})
	})

	return p, nil
}

func h264Capability() pion.RTPCodecCapability {
	return pion.RTPCodecCapability{
		MimeType:    pion.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	}
}

// AddVideoTrack adds the outbound screen track and starts draining RTCP
// from its sender so the interceptors see feedback.
func (p *Peer) AddVideoTrack() (domain.SampleSink, error) {
	track, err := pion.NewTrackLocalStaticSample(h264Capability(), videoTrackID, videoStreamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add video track: %w", err)
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return track, nil
}

// CreateDataChannel opens a locally initiated data channel.
func (p *Peer) CreateDataChannel(label string) (domain.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &dataChannel{dc: dc}, nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.log.Debug("local SDP offer set")
	return offer.SDP, nil
}

// CreateAnswer answers a remote offer and sets it as the local description.
func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.log.Debug("local SDP answer set")
	return answer.SDP, nil
}

// SetRemoteDescription applies a remote offer or answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	desc := pion.SessionDescription{
		Type: pion.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
	if desc.Type == pion.SDPTypeUnknown {
		return fmt.Errorf("set remote description: unknown sdp type %q", sdp.Type)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.log.Debug("remote SDP set", zap.String("type", sdp.Type))
	return nil
}

// AddRemoteICECandidate adds a remote candidate. The remote description
// must already be applied; callers buffer candidates until then.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	if p.pc.RemoteDescription() == nil {
		return fmt.Errorf("add ice candidate: %w", errNoRemoteDescription)
	}

	sdpMid := candidate.SDPMid
	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close shuts down the PeerConnection and its data channels.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		p.log.Debug("ICE gathering complete")
		p.sink(domain.GatheringComplete{})
		return
	}

	init := c.ToJSON()
	if isLoopback(init.Candidate) {
		p.log.Debug("filtering loopback ICE candidate")
		return
	}

	payload := domain.ICECandidatePayload{Candidate: init.Candidate}
	if init.SDPMid != nil {
		payload.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		payload.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	p.sink(domain.CandidateGathered{Candidate: payload})
}

func toPionICEServers(servers []domain.ICEServer) []pion.ICEServer {
	out := make([]pion.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func toPeerState(state pion.PeerConnectionState) domain.PeerState {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.PeerConnecting
	case pion.PeerConnectionStateConnected:
		return domain.PeerConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.PeerDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.PeerFailed
	case pion.PeerConnectionStateClosed:
		return domain.PeerClosed
	default:
		return domain.PeerNew
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
