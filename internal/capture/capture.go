// Package capture produces the H264 screen stream fed to the video track.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
)

const restartDelay = 250 * time.Millisecond

// Starter launches a streaming command. The returned reader yields its
// standard output and wait reaps the process.
type Starter func(ctx context.Context, name string, args ...string) (out io.ReadCloser, wait func() error, err error)

// ExecStarter launches the command with os/exec.
func ExecStarter(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return out, cmd.Wait, nil
}

// ScreenRecord streams the display through `screenrecord` in raw H264
// mode. The recorder is restarted if it exits while a session is open.
type ScreenRecord struct {
	start Starter
	log   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScreenRecord returns a capture source using start, or ExecStarter if
// start is nil.
func NewScreenRecord(start Starter, log *zap.Logger) *ScreenRecord {
	if start == nil {
		start = ExecStarter
	}
	return &ScreenRecord{start: start, log: logger.OrNop(log)}
}

// Args returns the screenrecord command line for a profile and bitrate.
func Args(profile domain.CaptureProfile, bitrateBps int) []string {
	return []string{
		"--output-format=h264",
		"--size", fmt.Sprintf("%dx%d", profile.Width, profile.Height),
		"--bit-rate", strconv.Itoa(bitrateBps),
		"-",
	}
}

// OnSessionOpen starts streaming into sink. A running stream is stopped
// first.
func (s *ScreenRecord) OnSessionOpen(sink domain.SampleSink, profile domain.CaptureProfile, bitrateBps int) error {
	if profile.Width <= 0 || profile.Height <= 0 || profile.FPS <= 0 {
		return fmt.Errorf("invalid capture profile %+v", profile)
	}
	s.OnSessionClose()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	s.log.Info("capture started",
		zap.String("profile", profile.Name),
		zap.Int("bitrate", bitrateBps),
	)
	go func() {
		defer close(done)
		s.loop(ctx, sink, profile, bitrateBps)
	}()
	return nil
}

// OnSessionClose stops streaming and waits for the recorder to exit.
func (s *ScreenRecord) OnSessionClose() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("capture stopped")
}

func (s *ScreenRecord) loop(ctx context.Context, sink domain.SampleSink, profile domain.CaptureProfile, bitrateBps int) {
	for {
		err := s.record(ctx, sink, profile, bitrateBps)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("screenrecord exited, restarting", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (s *ScreenRecord) record(ctx context.Context, sink domain.SampleSink, profile domain.CaptureProfile, bitrateBps int) error {
	out, wait, err := s.start(ctx, "screenrecord", Args(profile, bitrateBps)...)
	if err != nil {
		return fmt.Errorf("start screenrecord: %w", err)
	}
	defer func() {
		out.Close()
		wait()
	}()

	return Pump(out, sink, time.Second/time.Duration(profile.FPS))
}

// Pump reads an Annex-B H264 stream from r and writes one sample per NAL
// unit to sink. Only coded slices advance the timeline.
func Pump(r io.Reader, sink domain.SampleSink, frameDuration time.Duration) error {
	reader, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("h264 reader: %w", err)
	}
	for {
		nal, err := reader.NextNAL()
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("read nal: %w", err)
		}

		var d time.Duration
		switch nal.UnitType {
		case h264reader.NalUnitTypeCodedSliceIdr, h264reader.NalUnitTypeCodedSliceNonIdr:
			d = frameDuration
		}
		if err := sink.WriteSample(media.Sample{Data: nal.Data, Duration: d}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}

// Nop is a capture source that only logs. It is used when the agent runs
// without a display, for example under test harnesses.
type Nop struct {
	Log *zap.Logger
}

func (n Nop) OnSessionOpen(sink domain.SampleSink, profile domain.CaptureProfile, bitrateBps int) error {
	logger.OrNop(n.Log).Info("capture disabled", zap.String("profile", profile.Name))
	return nil
}

func (n Nop) OnSessionClose() {}
