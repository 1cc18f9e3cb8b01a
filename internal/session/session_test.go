package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"noadb/agent/internal/control"
	"noadb/agent/internal/domain"
	"noadb/agent/internal/fakes"
)

const waitFor = 2 * time.Second

var testProfile = domain.CaptureProfile{Name: "720p", Width: 1280, Height: 720, FPS: 30}

type harness struct {
	sig     *fakes.Signaler
	peers   *fakes.PeerFactory
	capture *fakes.Capture
	inj     *fakes.Injector
	s       *Session
	cancel  context.CancelFunc
	errc    chan error
}

func newHarness(t *testing.T, setup func(*fakes.Peer)) *harness {
	t.Helper()
	h := &harness{
		sig:     fakes.NewSignaler(),
		peers:   &fakes.PeerFactory{Setup: setup},
		capture: &fakes.Capture{},
		inj:     &fakes.Injector{},
		errc:    make(chan error, 1),
	}
	h.s = New(Deps{
		Signaler:   h.sig,
		NewPeer:    h.peers.New,
		Capture:    h.capture,
		Injector:   h.inj,
		Register:   domain.RegisterPayload{DeviceID: "dev-1", DeviceName: "bench", DeviceModel: "Pixel 7", OSVersion: "14"},
		DeviceInfo: domain.DeviceInfo{Type: "deviceInfo", Model: "Pixel 7", ScreenWidth: 1080, ScreenHeight: 2400},
		Logger:     zap.NewNop(),
	}, domain.SessionConfig{
		RelayURL:      "ws://relay",
		VideoQuality:  60,
		Profile:       testProfile,
		BitrateBps:    5_000_000,
		AutoReconnect: true,
		OSLevel:       34,
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.s.Stop()
	})
	require.Eventually(t, func() bool { return len(h.sig.SentOfType(domain.TypeDeviceInfo)) == 1 }, waitFor, time.Millisecond)
}

func (h *harness) waitState(t *testing.T, want domain.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.State() == want }, waitFor, time.Millisecond,
		"want %s, have %s", want, h.s.State())
}

func (h *harness) runErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
		return nil
	}
}

func (h *harness) peer() *fakes.Peer {
	return h.peers.Last()
}

func (h *harness) register(t *testing.T, relaySession string) {
	t.Helper()
	h.sig.DeliverPayload(domain.TypeRegistered, "", domain.RegisteredPayload{SessionID: relaySession})
	h.waitState(t, domain.StateOffering)
}

func (h *harness) answer(t *testing.T) {
	t.Helper()
	h.sig.DeliverPayload(domain.TypeAnswer, h.s.SessionID(), domain.SDPPayload{Type: "answer", SDP: "v=0\r\nanswer"})
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	h.register(t, "")
	h.answer(t)
	h.waitState(t, domain.StateNegotiating)
	h.peer().Emit(domain.ConnectionStateChanged{State: domain.PeerConnected})
	h.waitState(t, domain.StateOpen)
}

func TestSession_RegistersAndOffers(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)

	assert.Equal(t, domain.StateRegistering, h.s.State())
	reg := h.sig.SentOfType(domain.TypeRegister)
	require.Len(t, reg, 1)
	var payload domain.RegisterPayload
	require.NoError(t, reg[0].Decode(&payload))
	assert.Equal(t, "dev-1", payload.DeviceID)
	assert.Equal(t, h.s.SessionID(), reg[0].SessionID)
	assert.Empty(t, h.sig.SentOfType(domain.TypeOffer), "no offer before the relay acknowledges")

	h.register(t, "relay-42")

	assert.Equal(t, "relay-42", h.s.SessionID())
	assert.True(t, h.s.Registered())
	assert.False(t, h.s.Opened())
	offers := h.sig.SentOfType(domain.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "relay-42", offers[0].SessionID)
	var sdp domain.SDPPayload
	require.NoError(t, offers[0].Decode(&sdp))
	assert.Equal(t, "offer", sdp.Type)
	assert.NotEmpty(t, sdp.SDP)

	label := h.peer().Channel(0).Label()
	assert.Equal(t, control.Label, label)
}

func TestSession_BuffersCandidatesUntilAnswer(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.register(t, "")

	local := domain.ICECandidatePayload{Candidate: "candidate:local", SDPMid: "0"}
	remote := domain.ICECandidatePayload{Candidate: "candidate:remote", SDPMid: "0"}
	h.peer().Emit(domain.CandidateGathered{Candidate: local})
	h.sig.DeliverPayload(domain.TypeICECandidate, "", remote)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.sig.SentOfType(domain.TypeICECandidate))
	assert.Empty(t, h.peer().RemoteCandidates())

	h.answer(t)
	h.waitState(t, domain.StateNegotiating)

	require.Eventually(t, func() bool { return len(h.sig.SentOfType(domain.TypeICECandidate)) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []domain.ICECandidatePayload{remote}, h.peer().RemoteCandidates())

	late := domain.ICECandidatePayload{Candidate: "candidate:late"}
	h.peer().Emit(domain.CandidateGathered{Candidate: late})
	require.Eventually(t, func() bool { return len(h.sig.SentOfType(domain.TypeICECandidate)) == 2 }, waitFor, time.Millisecond)
}

func TestSession_OpenStartsCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	require.Eventually(t, func() bool { return h.capture.Opens() == 1 }, waitFor, time.Millisecond)
	assert.True(t, h.s.Opened())
	profile, bitrate := h.capture.Last()
	assert.Equal(t, testProfile, profile)
	assert.Equal(t, 5_000_000, bitrate)
}

func TestSession_RenegotiationCoalesced(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)
	require.Equal(t, 1, h.peer().Offers())

	h.s.RequestRenegotiation()
	h.s.RequestRenegotiation()
	h.s.RequestRenegotiation()
	h.peer().Emit(domain.NegotiationNeeded{})

	require.Eventually(t, func() bool { return h.peer().Offers() == 2 }, waitFor, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.peer().Offers(), "burst answered by one offer")
	assert.Equal(t, domain.StateNegotiating, h.s.State())

	h.answer(t)
	h.waitState(t, domain.StateOpen)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.peer().Offers())
	assert.Len(t, h.sig.SentOfType(domain.TypeOffer), 2)

	h.s.RequestRenegotiation()
	require.Eventually(t, func() bool { return h.peer().Offers() == 3 }, waitFor, time.Millisecond)
}

func TestSession_RenegotiationBeforeOpenAbsorbed(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.register(t, "")

	h.s.RequestRenegotiation()
	h.s.RequestRenegotiation()
	h.answer(t)
	h.waitState(t, domain.StateNegotiating)
	h.peer().Emit(domain.ConnectionStateChanged{State: domain.PeerConnected})
	h.waitState(t, domain.StateOpen)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.sig.SentOfType(domain.TypeOffer), 1)
}

func TestSession_CreatedAt(t *testing.T) {
	before := time.Now()
	h := newHarness(t, nil)
	assert.False(t, h.s.CreatedAt().Before(before))
	assert.False(t, h.s.CreatedAt().After(time.Now()))
}

func TestSession_RenegotiationFailureReturnsToOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.peer().SetOfferErr(errors.New("no ice agent"))
	h.s.RequestRenegotiation()

	time.Sleep(20 * time.Millisecond)
	h.waitState(t, domain.StateOpen)

	h.peer().SetOfferErr(nil)
	h.peer().SetRemoteErr(errors.New("bad answer"))
	h.s.RequestRenegotiation()
	require.Eventually(t, func() bool { return h.peer().Offers() == 2 }, waitFor, time.Millisecond)
	h.answer(t)
	h.waitState(t, domain.StateOpen)

	select {
	case err := <-h.errc:
		t.Fatalf("session ended: %v", err)
	default:
	}
}

func TestSession_MalformedAnswerDropped(t *testing.T) {
	tests := []struct {
		name string
		env  func(id string) domain.Envelope
	}{
		{"wrong sdp type", func(id string) domain.Envelope {
			env, _ := domain.NewEnvelope(domain.TypeAnswer, id, domain.SDPPayload{Type: "offer", SDP: "v=0"})
			return env
		}},
		{"empty sdp", func(id string) domain.Envelope {
			env, _ := domain.NewEnvelope(domain.TypeAnswer, id, domain.SDPPayload{Type: "answer"})
			return env
		}},
		{"garbage payload", func(id string) domain.Envelope {
			return domain.Envelope{Type: domain.TypeAnswer, SessionID: id, Payload: json.RawMessage(`"nope"`)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.run(t)
			h.register(t, "")

			h.sig.Deliver(tt.env(h.s.SessionID()))
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, domain.StateOffering, h.s.State())
			assert.Empty(t, h.peer().RemoteDescriptions())

			h.answer(t)
			h.waitState(t, domain.StateNegotiating)
		})
	}
}

func TestSession_NegotiationFailureBeforeOpen(t *testing.T) {
	h := newHarness(t, func(p *fakes.Peer) { p.RemoteErr = errors.New("sdp rejected") })
	h.run(t)
	h.register(t, "")
	h.answer(t)

	err := h.runErr(t)
	assert.True(t, domain.IsKind(err, domain.KindNegotiation), "got %v", err)
	assert.Equal(t, domain.StateFailed, h.s.State())
	assert.True(t, h.peer().Closed())
}

func TestSession_SignalingLossIsTransportError(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.sig.Drop(errors.New("connection reset"))

	err := h.runErr(t)
	assert.True(t, domain.IsKind(err, domain.KindTransport), "got %v", err)
	assert.Equal(t, domain.StateClosed, h.s.State())
	assert.Equal(t, 1, h.capture.Closes())
}

func TestSession_PeerFailureIsTransportError(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.peer().Emit(domain.ConnectionStateChanged{State: domain.PeerDisconnected})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateOpen, h.s.State(), "disconnected may recover")

	h.peer().Emit(domain.ConnectionStateChanged{State: domain.PeerFailed})
	err := h.runErr(t)
	assert.True(t, domain.IsKind(err, domain.KindTransport))
}

func TestSession_StopIsIdempotentAndSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.peer().Channel(0).Open()
	before := len(h.sig.Sent())

	h.s.Stop()
	h.s.Stop()

	assert.NoError(t, h.runErr(t))
	assert.Equal(t, domain.StateClosed, h.s.State())
	assert.Len(t, h.sig.Sent(), before)
	assert.Empty(t, h.peer().Channel(0).Sent())
	assert.True(t, h.peer().Closed())
	assert.True(t, h.peer().Channel(0).Closed())
	assert.Equal(t, 1, h.sig.Closes())
	assert.Equal(t, 1, h.capture.Closes())
}

func TestSession_StopBeforeRun(t *testing.T) {
	h := newHarness(t, nil)
	h.s.Stop()

	assert.NoError(t, h.s.Run(context.Background()))
	assert.Zero(t, h.sig.Connects())
}

func TestSession_ContextCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)

	h.cancel()
	assert.NoError(t, h.runErr(t))
	assert.Equal(t, domain.StateClosed, h.s.State())
}

func TestSession_CommandsOverSignalingFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.sig.Deliver(domain.Envelope{
		Type:      domain.TypeRemoteControl,
		SessionID: h.s.SessionID(),
		Payload:   json.RawMessage(`{"action":"tap","sequence":1,"x":10,"y":20}`),
	})

	require.Eventually(t, func() bool { return len(h.sig.SentOfType(domain.TypeControlResponse)) == 1 }, waitFor, time.Millisecond)
	var resp domain.CommandResponse
	require.NoError(t, h.sig.SentOfType(domain.TypeControlResponse)[0].Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), resp.Sequence)
	require.Len(t, h.inj.Calls(), 1)
	assert.Equal(t, "tap 10 20", h.inj.Calls()[0].String())
}

func TestSession_CommandsOverControlChannel(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	dc := h.peer().Channel(0)
	dc.Open()
	dc.Receive([]byte(`{"action":"key","sequence":1,"keyCode":4}`))
	dc.Receive([]byte(`{"action":"key","sequence":1,"keyCode":4}`))
	dc.Receive([]byte(`{"action":"globalAction","sequence":2,"name":"home"}`))

	require.Eventually(t, func() bool { return len(dc.Sent()) == 2 }, waitFor, time.Millisecond)
	var first, second domain.CommandResponse
	require.NoError(t, json.Unmarshal(dc.Sent()[0], &first))
	require.NoError(t, json.Unmarshal(dc.Sent()[1], &second))
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Len(t, h.inj.Calls(), 2)
	assert.Empty(t, h.sig.SentOfType(domain.TypeControlResponse))
}

func TestSession_ForeignSessionDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.open(t)

	h.sig.Deliver(domain.Envelope{
		Type:      domain.TypeRemoteControl,
		SessionID: "someone-else",
		Payload:   json.RawMessage(`{"action":"tap","sequence":1,"x":1,"y":1}`),
	})
	h.sig.DeliverPayload(domain.TypeAnswer, "someone-else", domain.SDPPayload{Type: "answer", SDP: "v=0"})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.inj.Calls())
	assert.Len(t, h.peer().RemoteDescriptions(), 1)
	assert.Equal(t, domain.StateOpen, h.s.State())
}

func TestSession_ControllerInitiatedOffer(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)

	h.sig.DeliverPayload(domain.TypeOffer, "", domain.SDPPayload{Type: "offer", SDP: "v=0\r\nremote"})
	h.waitState(t, domain.StateNegotiating)

	answers := h.sig.SentOfType(domain.TypeAnswer)
	require.Len(t, answers, 1)
	var sdp domain.SDPPayload
	require.NoError(t, answers[0].Decode(&sdp))
	assert.Equal(t, "answer", sdp.Type)
	assert.Equal(t, 1, h.peer().Answers())
	assert.Zero(t, h.peer().Offers())

	h.peer().Emit(domain.ConnectionStateChanged{State: domain.PeerConnected})
	h.waitState(t, domain.StateOpen)
}

func TestSession_GlareDropsRemoteOffer(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)
	h.register(t, "")

	h.sig.DeliverPayload(domain.TypeOffer, "", domain.SDPPayload{Type: "offer", SDP: "v=0\r\nremote"})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.sig.SentOfType(domain.TypeAnswer))
	assert.Empty(t, h.peer().RemoteDescriptions())
	assert.Equal(t, domain.StateOffering, h.s.State())
}

func TestSession_RelayErrorFailsRegistration(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t)

	h.sig.DeliverPayload(domain.TypeError, "", domain.RelayError{Code: 409, Message: "device already registered"})

	err := h.runErr(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device already registered")
	assert.Equal(t, domain.StateFailed, h.s.State())
}

func TestSession_ConnectFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sig.ConnectErr = errors.New("dial tcp: refused")

	err := h.s.Run(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindTransport))
	assert.Equal(t, domain.StateClosed, h.s.State())
	assert.Zero(t, h.peers.Count())
}
