package domain

import "time"

// CaptureProfile is the capture width, height and frame rate for a
// resolution setting.
type CaptureProfile struct {
	Name   string
	Width  int
	Height int
	FPS    int
}

// SessionConfig is the configuration snapshot a session runs with. It is
// taken once at session start and never mutated afterwards.
type SessionConfig struct {
	RelayURL      string
	VideoQuality  int
	Profile       CaptureProfile
	BitrateBps    int
	AutoReconnect bool
	ControlDelay  time.Duration
	OSLevel       int
	ICEServers    []ICEServer
}
