package config

import (
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
)

var profiles = map[string]domain.CaptureProfile{
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, FPS: 30},
	"720p":  {Name: "720p", Width: 1280, Height: 720, FPS: 30},
	"480p":  {Name: "480p", Width: 854, Height: 480, FPS: 30},
	"360p":  {Name: "360p", Width: 640, Height: 360, FPS: 30},
	"240p":  {Name: "240p", Width: 426, Height: 240, FPS: 15},
}

// ResolveProfile maps a resolution setting to capture parameters.
func ResolveProfile(name string, log *zap.Logger) domain.CaptureProfile {
	if p, ok := profiles[name]; ok {
		return p
	}
	logger.OrNop(log).Warn("unknown resolution, using default",
		zap.String("resolution", name),
		zap.String("default", DefaultResolution),
	)
	return profiles[DefaultResolution]
}

const (
	minBitrate = 500_000
	maxBitrate = 8_000_000
)

// Bitrate scales video quality (1-100) linearly between 500 kbps and 8 Mbps.
func Bitrate(quality int) int {
	return minBitrate + (maxBitrate-minBitrate)*quality/100
}
