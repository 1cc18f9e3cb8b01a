// Package input injects touch, key and text events through the device's
// input and shell tools.
package input

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/shell"
)

// Android key codes used for global actions.
const (
	keyBack       = 4
	keyHome       = 3
	keyAppSwitch  = 187
	keySleep      = 223
	keySysrq      = 120
	launcherCateg = "android.intent.category.LAUNCHER"
)

// Shell implements domain.Injector on top of `input`, `cmd statusbar`,
// `monkey` and `uiautomator`.
type Shell struct {
	run shell.Runner
	log *zap.Logger
}

// NewShell returns an injector running commands through r.
func NewShell(r shell.Runner, log *zap.Logger) *Shell {
	return &Shell{run: r, log: logger.OrNop(log)}
}

// Tap is a zero-length stroke lasting domain.TapDuration.
func (s *Shell) Tap(ctx context.Context, x, y int) error {
	return s.input(ctx, "swipe", itoa(x), itoa(y), itoa(x), itoa(y), ms(domain.TapDuration))
}

// Swipe drags from (x1, y1) to (x2, y2) over duration.
func (s *Shell) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	return s.input(ctx, "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), ms(duration))
}

// Key sends one Android key code.
func (s *Shell) Key(ctx context.Context, keyCode int) error {
	return s.input(ctx, "keyevent", itoa(keyCode))
}

// Text types text into the focused field. `input text` treats %s as a
// space.
func (s *Shell) Text(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return s.input(ctx, "text", strings.ReplaceAll(text, " ", "%s"))
}

// GlobalAction maps action to a key event or a status bar command.
func (s *Shell) GlobalAction(ctx context.Context, action domain.GlobalAction) error {
	switch action {
	case domain.GlobalBack:
		return s.Key(ctx, keyBack)
	case domain.GlobalHome:
		return s.Key(ctx, keyHome)
	case domain.GlobalRecents:
		return s.Key(ctx, keyAppSwitch)
	case domain.GlobalNotifications:
		return s.exec(ctx, "cmd", "statusbar", "expand-notifications")
	case domain.GlobalQuickSettings:
		return s.exec(ctx, "cmd", "statusbar", "expand-settings")
	case domain.GlobalLockScreen:
		return s.Key(ctx, keySleep)
	case domain.GlobalScreenshot:
		return s.Key(ctx, keySysrq)
	}
	return fmt.Errorf("unsupported global action %q", action)
}

// LaunchApp starts the launcher activity of pkg.
func (s *Shell) LaunchApp(ctx context.Context, pkg string) error {
	return s.exec(ctx, "monkey", "-p", pkg, "-c", launcherCateg, "1")
}

func (s *Shell) input(ctx context.Context, args ...string) error {
	return s.exec(ctx, "input", args...)
}

func (s *Shell) exec(ctx context.Context, name string, args ...string) error {
	s.log.Debug("exec", zap.String("cmd", name), zap.Strings("args", args))
	if _, err := s.run.Run(ctx, name, args...); err != nil {
		return err
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func ms(d time.Duration) string { return strconv.FormatInt(d.Milliseconds(), 10) }
