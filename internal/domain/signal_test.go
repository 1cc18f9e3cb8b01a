package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTripPayload(t *testing.T) {
	env, err := NewEnvelope(TypeICECandidate, "s1", ICECandidatePayload{
		Candidate:     "candidate:1 1 udp 1 10.0.0.2 5000 typ host",
		SDPMid:        "0",
		SDPMLineIndex: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", env.SessionID)

	var got ICECandidatePayload
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "0", got.SDPMid)
}

func TestEnvelope_DecodeErrorsAreProtocolErrors(t *testing.T) {
	var sdp SDPPayload
	err := Envelope{Type: TypeAnswer}.Decode(&sdp)
	assert.True(t, IsKind(err, KindProtocol))

	err = Envelope{Type: TypeAnswer, Payload: []byte(`{"sdp":`)}.Decode(&sdp)
	assert.True(t, IsKind(err, KindProtocol))
}

func TestSDPPayload_Validate(t *testing.T) {
	assert.NoError(t, SDPPayload{Type: "answer", SDP: "v=0"}.Validate("answer"))
	assert.Error(t, SDPPayload{Type: "offer", SDP: "v=0"}.Validate("answer"))
	assert.Error(t, SDPPayload{Type: "answer"}.Validate("answer"))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("refused")
	err := NewError(KindTransport, "dial", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
	assert.Contains(t, err.Error(), "dial")
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", SessionState(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateOpen.Terminal())
}
