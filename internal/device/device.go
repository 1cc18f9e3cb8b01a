// Package device gathers the identity and screen metadata announced to
// the relay.
package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/shell"
)

// HostInfoFunc returns host metadata; host.InfoWithContext in production.
type HostInfoFunc func(ctx context.Context) (*host.InfoStat, error)

// Prober reads device properties through shell tools, falling back to
// host metadata when the tools are missing.
type Prober struct {
	run      shell.Runner
	hostInfo HostInfoFunc
	log      *zap.Logger
}

// NewProber returns a Prober. A nil hostInfo selects gopsutil.
func NewProber(r shell.Runner, hostInfo HostInfoFunc, log *zap.Logger) *Prober {
	if hostInfo == nil {
		hostInfo = host.InfoWithContext
	}
	return &Prober{run: r, hostInfo: hostInfo, log: logger.OrNop(log)}
}

// Identity is the configured device id and name. Empty fields are filled
// in by Probe.
type Identity struct {
	DeviceID   string
	DeviceName string
}

// Profile is everything the agent announces about the device.
type Profile struct {
	Register domain.RegisterPayload
	Info     domain.DeviceInfo
	// OSLevel is the API level, or 0 when unknown.
	OSLevel int
	// GeneratedID is set when no stable id was found and DeviceID was
	// minted for this run. Callers should persist it.
	GeneratedID bool
}

// Probe collects the device profile. Missing properties degrade to host
// metadata; Probe itself never fails.
func (p *Prober) Probe(ctx context.Context, id Identity) Profile {
	hi, err := p.hostInfo(ctx)
	if err != nil {
		p.log.Warn("host info unavailable", zap.Error(err))
		hi = &host.InfoStat{}
	}

	model := p.prop(ctx, "ro.product.model")
	manufacturer := p.prop(ctx, "ro.product.manufacturer")
	release := p.prop(ctx, "ro.build.version.release")
	level, _ := strconv.Atoi(p.prop(ctx, "ro.build.version.sdk"))

	if model == "" {
		model = hi.Platform
	}
	if release == "" {
		release = hi.PlatformVersion
	}

	deviceID, generated := p.deviceID(ctx, id.DeviceID, hi.HostID, level > 0)
	name := id.DeviceName
	if name == "" {
		name = strings.TrimSpace(manufacturer + " " + model)
	}
	if name == "" {
		name = hi.Hostname
	}

	w, h := p.screenSize(ctx)
	density := p.density(ctx)

	return Profile{
		Register: domain.RegisterPayload{
			DeviceID:    deviceID,
			DeviceName:  name,
			DeviceModel: model,
			OSVersion:   release,
		},
		Info: domain.DeviceInfo{
			Type:          string(domain.TypeDeviceInfo),
			Model:         model,
			Manufacturer:  manufacturer,
			OSVersion:     release,
			ScreenWidth:   w,
			ScreenHeight:  h,
			ScreenDensity: density,
			DeviceID:      deviceID,
		},
		OSLevel:     level,
		GeneratedID: generated,
	}
}

// deviceID prefers the configured id, then the Android secure id. gopsutil's
// host id is only used off Android, where it comes from the machine id; on
// Android it falls back to the boot id and changes on every boot.
func (p *Prober) deviceID(ctx context.Context, configured, hostID string, android bool) (string, bool) {
	if configured != "" {
		return configured, false
	}
	out, err := p.run.Run(ctx, "settings", "get", "secure", "android_id")
	if err != nil {
		p.log.Debug("android_id unavailable", zap.Error(err))
	}
	if v := strings.TrimSpace(string(out)); err == nil && v != "" && v != "null" {
		return v, false
	}
	if !android && hostID != "" {
		return hostID, false
	}
	id := uuid.NewString()
	p.log.Warn("no stable device id, generated one", zap.String("deviceId", id))
	return id, true
}

func (p *Prober) prop(ctx context.Context, key string) string {
	out, err := p.run.Run(ctx, "getprop", key)
	if err != nil {
		p.log.Debug("getprop failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(string(out))
}

var sizeRe = regexp.MustCompile(`(?m)^(Physical|Override) size:\s*(\d+)x(\d+)`)

func (p *Prober) screenSize(ctx context.Context) (int, int) {
	out, err := p.run.Run(ctx, "wm", "size")
	if err != nil {
		return 0, 0
	}
	w, h, err := ParseSize(string(out))
	if err != nil {
		p.log.Debug("wm size", zap.Error(err))
	}
	return w, h
}

// ParseSize parses `wm size` output. An override size wins over the
// physical one.
func ParseSize(out string) (int, int, error) {
	var w, h int
	found := false
	for _, m := range sizeRe.FindAllStringSubmatch(out, -1) {
		if found && m[1] != "Override" {
			continue
		}
		w, _ = strconv.Atoi(m[2])
		h, _ = strconv.Atoi(m[3])
		found = true
	}
	if !found {
		return 0, 0, fmt.Errorf("no size in %q", out)
	}
	return w, h, nil
}

var densityRe = regexp.MustCompile(`(?m)^(Physical|Override) density:\s*(\d+)`)

func (p *Prober) density(ctx context.Context) int {
	out, err := p.run.Run(ctx, "wm", "density")
	if err != nil {
		return 0
	}
	d, _ := ParseDensity(string(out))
	return d
}

// ParseDensity parses `wm density` output, preferring an override.
func ParseDensity(out string) (int, error) {
	d := 0
	found := false
	for _, m := range densityRe.FindAllStringSubmatch(out, -1) {
		if found && m[1] != "Override" {
			continue
		}
		d, _ = strconv.Atoi(m[2])
		found = true
	}
	if !found {
		return 0, fmt.Errorf("no density in %q", out)
	}
	return d, nil
}
