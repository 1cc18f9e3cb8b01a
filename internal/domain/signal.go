package domain

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType tags the payload carried by an Envelope.
type EnvelopeType string

const (
	TypeRegister        EnvelopeType = "register_device"
	TypeRegistered      EnvelopeType = "registered"
	TypeOffer           EnvelopeType = "offer"
	TypeAnswer          EnvelopeType = "answer"
	TypeICECandidate    EnvelopeType = "ice-candidate"
	TypeRemoteControl   EnvelopeType = "remote-control"
	TypeControlResponse EnvelopeType = "controlResponse"
	TypeDeviceInfo      EnvelopeType = "deviceInfo"
	TypeKeepAlive       EnvelopeType = "keepAlive"
	TypeError           EnvelopeType = "error"
)

// Envelope is the JSON frame exchanged with the signaling relay.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(typ EnvelopeType, sessionID string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, SessionID: sessionID}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return NewError(KindProtocol, "decode "+string(e.Type), fmt.Errorf("empty payload"))
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewError(KindProtocol, "decode "+string(e.Type), err)
	}
	return nil
}

// RegisterPayload identifies the device to the relay.
type RegisterPayload struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	DeviceModel string `json:"deviceModel"`
	OSVersion   string `json:"osVersion"`
}

// RegisteredPayload is the relay's acknowledgement of a registration.
type RegisteredPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Validate rejects payloads that cannot be applied to a peer connection.
func (p SDPPayload) Validate(want string) error {
	if p.Type != want {
		return fmt.Errorf("sdp type %q, want %q", p.Type, want)
	}
	if p.SDP == "" {
		return fmt.Errorf("empty sdp")
	}
	return nil
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// DeviceInfo describes the controlled device's screen and OS.
type DeviceInfo struct {
	Type          string `json:"type"`
	Model         string `json:"model"`
	Manufacturer  string `json:"manufacturer"`
	OSVersion     string `json:"osVersion"`
	ScreenWidth   int    `json:"screenWidth"`
	ScreenHeight  int    `json:"screenHeight"`
	ScreenDensity int    `json:"screenDensity"`
	DeviceID      string `json:"deviceId"`
}

// RelayError is sent by the relay when it rejects a request.
type RelayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
