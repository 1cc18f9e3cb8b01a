package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
)

// Defaults mirror the settings screen of the device app.
const (
	DefaultVideoQuality   = 60
	DefaultResolution     = "720p"
	DefaultControlDelayMs = 200
)

// Config holds the agent settings. It is read once per process; each
// session takes an immutable snapshot through Session.
type Config struct {
	ServerURL      string             `yaml:"serverUrl"`
	DeviceID       string             `yaml:"deviceId"`
	DeviceName     string             `yaml:"deviceName"`
	VideoQuality   int                `yaml:"videoQuality"`
	Resolution     string             `yaml:"resolution"`
	AutoReconnect  bool               `yaml:"autoReconnect"`
	ControlDelayMs int                `yaml:"controlDelay"`
	AutoStart      bool               `yaml:"autoStart"`
	OSLevel        int                `yaml:"osLevel"`
	ICEServers     []domain.ICEServer `yaml:"iceServers"`
	ICEConfigURL   string             `yaml:"iceConfigUrl"`
	ICEConfigToken string             `yaml:"iceConfigToken"`
	MetricsAddr    string             `yaml:"metricsAddr"`
	Mode           string             `yaml:"mode"`
	Log            logger.Config      `yaml:"log"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		VideoQuality:   DefaultVideoQuality,
		Resolution:     DefaultResolution,
		AutoReconnect:  true,
		ControlDelayMs: DefaultControlDelayMs,
		Mode:           "production",
		Log: logger.Config{
			Level:      "info",
			MaxSize:    50,
			MaxAge:     14,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a .env file (if present), the YAML
// settings file at path (if present) and NOADB_* environment variables,
// in increasing order of precedence.
func Load(path string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("NOADB_SERVER_URL", &c.ServerURL)
	str("NOADB_DEVICE_ID", &c.DeviceID)
	str("NOADB_DEVICE_NAME", &c.DeviceName)
	str("NOADB_RESOLUTION", &c.Resolution)
	str("NOADB_ICE_CONFIG_URL", &c.ICEConfigURL)
	str("NOADB_ICE_CONFIG_TOKEN", &c.ICEConfigToken)
	str("NOADB_METRICS_ADDR", &c.MetricsAddr)
	str("NOADB_MODE", &c.Mode)
	str("NOADB_LOG_LEVEL", &c.Log.Level)
	str("NOADB_LOG_FILE", &c.Log.Filename)

	return errors.Join(
		integer("NOADB_VIDEO_QUALITY", &c.VideoQuality),
		integer("NOADB_CONTROL_DELAY_MS", &c.ControlDelayMs),
		integer("NOADB_OS_LEVEL", &c.OSLevel),
		boolean("NOADB_AUTO_RECONNECT", &c.AutoReconnect),
		boolean("NOADB_AUTO_START", &c.AutoStart),
	)
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverUrl is required (settings file or NOADB_SERVER_URL)")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("serverUrl: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("serverUrl: unsupported scheme %q", u.Scheme)
	}
	if c.VideoQuality < 1 || c.VideoQuality > 100 {
		return fmt.Errorf("videoQuality must be within 1-100, got %d", c.VideoQuality)
	}
	if c.ControlDelayMs < 0 {
		return fmt.Errorf("controlDelay must be >= 0, got %d", c.ControlDelayMs)
	}
	return nil
}

// Session takes the immutable per-session snapshot. Unknown resolution
// names fall back to 720p with a warning on log.
func (c *Config) Session(log *zap.Logger) domain.SessionConfig {
	servers := c.ICEServers
	if len(servers) == 0 {
		servers = domain.DefaultICEServers
	}
	return domain.SessionConfig{
		RelayURL:      c.ServerURL,
		VideoQuality:  c.VideoQuality,
		Profile:       ResolveProfile(c.Resolution, log),
		BitrateBps:    Bitrate(c.VideoQuality),
		AutoReconnect: c.AutoReconnect,
		ControlDelay:  time.Duration(c.ControlDelayMs) * time.Millisecond,
		OSLevel:       c.OSLevel,
		ICEServers:    append([]domain.ICEServer(nil), servers...),
	}
}
