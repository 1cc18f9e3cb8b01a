package webrtc

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.PeerEvent
}

func (l *eventLog) sink(ev domain.PeerEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(match func(domain.PeerEvent) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if match(ev) {
			return true
		}
	}
	return false
}

func newTestPeer(t *testing.T, events *eventLog) *Peer {
	t.Helper()
	p, err := NewPeer(nil, events.sink, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPeer_OfferCarriesVideoAndData(t *testing.T) {
	p := newTestPeer(t, &eventLog{})

	_, err := p.AddVideoTrack()
	require.NoError(t, err)
	dc, err := p.CreateDataChannel("control_channel")
	require.NoError(t, err)
	assert.Equal(t, "control_channel", dc.Label())

	sdp, err := p.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, sdp, "m=video")
	assert.Contains(t, sdp, "H264")
	assert.Contains(t, sdp, "m=application")
}

func TestPeer_OfferAnswerHandshake(t *testing.T) {
	device := newTestPeer(t, &eventLog{})
	controller := newTestPeer(t, &eventLog{})

	_, err := device.AddVideoTrack()
	require.NoError(t, err)
	_, err = device.CreateDataChannel("control_channel")
	require.NoError(t, err)

	offer, err := device.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, controller.SetRemoteDescription(domain.SDPPayload{Type: "offer", SDP: offer}))

	answer, err := controller.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, device.SetRemoteDescription(domain.SDPPayload{Type: "answer", SDP: answer}))
}

func TestPeer_NegotiationNeededOnTrack(t *testing.T) {
	events := &eventLog{}
	p := newTestPeer(t, events)

	_, err := p.AddVideoTrack()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return events.has(func(ev domain.PeerEvent) bool {
			_, ok := ev.(domain.NegotiationNeeded)
			return ok
		})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPeer_CandidateBeforeRemoteDescription(t *testing.T) {
	p := newTestPeer(t, &eventLog{})

	err := p.AddRemoteICECandidate(domain.ICECandidatePayload{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:    "0",
	})
	assert.ErrorIs(t, err, errNoRemoteDescription)
}

func TestPeer_SetRemoteDescriptionRejectsUnknownType(t *testing.T) {
	p := newTestPeer(t, &eventLog{})

	err := p.SetRemoteDescription(domain.SDPPayload{Type: "bogus", SDP: "v=0"})
	assert.Error(t, err)
}

func TestPeer_CloseReportsClosedState(t *testing.T) {
	events := &eventLog{}
	p, err := NewPeer(nil, events.sink, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Eventually(t, func() bool {
		return events.has(func(ev domain.PeerEvent) bool {
			s, ok := ev.(domain.ConnectionStateChanged)
			return ok && s.State == domain.PeerClosed
		})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		candidate string
		want      bool
	}{
		{"candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host", true},
		{"candidate:2 1 udp 2130706431 ::1 50001 typ host", true},
		{"candidate:3 1 udp 2130706431 192.168.1.20 50002 typ host", false},
		{"candidate:4 1 udp 1694498815 203.0.113.7 50003 typ srflx raddr 0.0.0.0 rport 0", false},
	}
	for _, tt := range tests {
		t.Run(strings.Fields(tt.candidate)[4], func(t *testing.T) {
			assert.Equal(t, tt.want, isLoopback(tt.candidate))
		})
	}
}

func TestToPionICEServers(t *testing.T) {
	got := toPionICEServers([]domain.ICEServer{
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, got[0].URLs)
	assert.Equal(t, "u", got[0].Username)
	assert.Equal(t, "p", got[0].Credential)
}
