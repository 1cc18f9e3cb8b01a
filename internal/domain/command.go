package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Action names a control command.
type Action string

const (
	ActionTap          Action = "tap"
	ActionSwipe        Action = "swipe"
	ActionKey          Action = "key"
	ActionText         Action = "text"
	ActionGlobalAction Action = "globalAction"
	ActionKeepAlive    Action = "keepAlive"
	ActionLaunchApp    Action = "launchApp"
	ActionClickNode    Action = "clickNode"
	ActionSetText      Action = "setText"
)

// GlobalAction is one of the fixed system-wide navigation actions.
type GlobalAction string

const (
	GlobalBack          GlobalAction = "back"
	GlobalHome          GlobalAction = "home"
	GlobalRecents       GlobalAction = "recents"
	GlobalNotifications GlobalAction = "notifications"
	GlobalQuickSettings GlobalAction = "quickSettings"
	GlobalLockScreen    GlobalAction = "lockScreen"
	GlobalScreenshot    GlobalAction = "screenshot"
)

// globalActionMinLevel lists actions that need a minimum OS API level.
var globalActionMinLevel = map[GlobalAction]int{
	GlobalLockScreen: 28,
	GlobalScreenshot: 28,
}

// ParseGlobalAction maps a wire name to a GlobalAction. "takeScreenshot" is
// accepted for older controllers.
func ParseGlobalAction(name string) (GlobalAction, bool) {
	switch GlobalAction(name) {
	case GlobalBack, GlobalHome, GlobalRecents, GlobalNotifications,
		GlobalQuickSettings, GlobalLockScreen, GlobalScreenshot:
		return GlobalAction(name), true
	}
	if name == "takeScreenshot" {
		return GlobalScreenshot, true
	}
	return "", false
}

// MinLevel returns the OS API level the action requires, or 0.
func (g GlobalAction) MinLevel() int {
	return globalActionMinLevel[g]
}

// TapDuration is the stroke length used for a tap gesture.
const TapDuration = 50 * time.Millisecond

// ControlCommand is a decoded remote-control message.
type ControlCommand struct {
	Action   Action
	Sequence int64

	X, Y                       int
	StartX, StartY, EndX, EndY int
	Duration                   time.Duration
	KeyCode                    int
	Text                       string
	Global                     GlobalAction
	Package                    string
	// ViewID is a resource id such as "com.example:id/login".
	ViewID string
}

// Numeric parameters arrive as JSON numbers, possibly fractional when the
// controller scales coordinates, or as numeric strings.
type wireCommand struct {
	Action   string  `json:"action"`
	Sequence int64   `json:"sequence"`
	X        any     `json:"x"`
	Y        any     `json:"y"`
	StartX   any     `json:"startX"`
	StartY   any     `json:"startY"`
	EndX     any     `json:"endX"`
	EndY     any     `json:"endY"`
	Duration any     `json:"duration"`
	KeyCode  any     `json:"keyCode"`
	Text     *string `json:"text"`
	Name     string  `json:"name"`
	Package  string  `json:"package"`
	ViewID   string  `json:"viewId"`
}

// ints converts the named numeric parameters, truncating fractions.
func ints(action string, names []string, vals ...any) ([]int, error) {
	var missing []string
	for i, v := range vals {
		if v == nil {
			missing = append(missing, names[i])
		}
	}
	if len(missing) > 0 {
		return nil, NewError(KindProtocol, "decode "+action, fmt.Errorf("missing parameter(s) %v", missing))
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, NewError(KindProtocol, "decode "+action, fmt.Errorf("parameter %s: %w", names[i], err))
		}
		out[i] = n
	}
	return out, nil
}

// DecodeCommand parses raw into a ControlCommand. On error the returned
// command still carries whatever action and sequence could be read so the
// caller can answer the failure.
func DecodeCommand(raw []byte) (ControlCommand, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return ControlCommand{}, NewError(KindProtocol, "decode command", err)
	}
	cmd := ControlCommand{Action: Action(w.Action), Sequence: w.Sequence}
	if w.Sequence < 0 {
		return cmd, NewError(KindProtocol, "decode command", fmt.Errorf("negative sequence %d", w.Sequence))
	}

	missing := func(fields ...string) error {
		return NewError(KindProtocol, "decode "+w.Action, fmt.Errorf("missing parameter(s) %v", fields))
	}

	switch cmd.Action {
	case ActionTap:
		v, err := ints(w.Action, []string{"x", "y"}, w.X, w.Y)
		if err != nil {
			return cmd, err
		}
		cmd.X, cmd.Y = v[0], v[1]
	case ActionSwipe:
		v, err := ints(w.Action, []string{"startX", "startY", "endX", "endY", "duration"},
			w.StartX, w.StartY, w.EndX, w.EndY, w.Duration)
		if err != nil {
			return cmd, err
		}
		if v[4] <= 0 {
			return cmd, NewError(KindProtocol, "decode swipe", fmt.Errorf("duration must be positive, got %d", v[4]))
		}
		cmd.StartX, cmd.StartY, cmd.EndX, cmd.EndY = v[0], v[1], v[2], v[3]
		cmd.Duration = time.Duration(v[4]) * time.Millisecond
	case ActionKey:
		v, err := ints(w.Action, []string{"keyCode"}, w.KeyCode)
		if err != nil {
			return cmd, err
		}
		cmd.KeyCode = v[0]
	case ActionText:
		if w.Text == nil {
			return cmd, missing("text")
		}
		cmd.Text = *w.Text
	case ActionGlobalAction:
		g, ok := ParseGlobalAction(w.Name)
		if !ok {
			return cmd, NewError(KindProtocol, "decode globalAction", fmt.Errorf("unknown global action %q", w.Name))
		}
		cmd.Global = g
	case ActionLaunchApp:
		if w.Package == "" {
			return cmd, missing("package")
		}
		cmd.Package = w.Package
	case ActionClickNode:
		if w.ViewID == "" && (w.Text == nil || *w.Text == "") {
			return cmd, missing("viewId", "text")
		}
		cmd.ViewID = w.ViewID
		if w.Text != nil {
			cmd.Text = *w.Text
		}
	case ActionSetText:
		if w.ViewID == "" || w.Text == nil {
			return cmd, missing("viewId", "text")
		}
		cmd.ViewID, cmd.Text = w.ViewID, *w.Text
	case ActionKeepAlive:
	default:
		return cmd, NewError(KindProtocol, "decode command", fmt.Errorf("unknown action %q", w.Action))
	}
	return cmd, nil
}

// CommandResponse reports the outcome of one executed command.
type CommandResponse struct {
	Type     string `json:"type"`
	Sequence int64  `json:"sequence,omitempty"`
	Action   Action `json:"action"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// NewCommandResponse builds a controlResponse for cmd.
func NewCommandResponse(cmd ControlCommand, success bool, message string) CommandResponse {
	return CommandResponse{
		Type:     string(TypeControlResponse),
		Sequence: cmd.Sequence,
		Action:   cmd.Action,
		Success:  success,
		Message:  message,
	}
}
