package input

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/shell"
)

func TestShell_Commands(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(s *Shell) error
		want string
	}{
		{"tap", func(s *Shell) error { return s.Tap(ctx, 100, 200) }, "input swipe 100 200 100 200 50"},
		{"swipe", func(s *Shell) error { return s.Swipe(ctx, 1, 2, 3, 4, 350*time.Millisecond) }, "input swipe 1 2 3 4 350"},
		{"key", func(s *Shell) error { return s.Key(ctx, 66) }, "input keyevent 66"},
		{"text", func(s *Shell) error { return s.Text(ctx, "hi there you") }, "input text hi%sthere%syou"},
		{"back", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalBack) }, "input keyevent 4"},
		{"home", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalHome) }, "input keyevent 3"},
		{"recents", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalRecents) }, "input keyevent 187"},
		{"notifications", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalNotifications) }, "cmd statusbar expand-notifications"},
		{"quick settings", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalQuickSettings) }, "cmd statusbar expand-settings"},
		{"lock", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalLockScreen) }, "input keyevent 223"},
		{"screenshot", func(s *Shell) error { return s.GlobalAction(ctx, domain.GlobalScreenshot) }, "input keyevent 120"},
		{"launch", func(s *Shell) error { return s.LaunchApp(ctx, "com.example.app") }, "monkey -p com.example.app -c android.intent.category.LAUNCHER 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &shell.Recorder{}
			require.NoError(t, tt.call(NewShell(rec, nil)))
			assert.Equal(t, []string{tt.want}, rec.Commands())
		})
	}
}

func TestShell_EmptyTextIsNoop(t *testing.T) {
	rec := &shell.Recorder{}
	require.NoError(t, NewShell(rec, nil).Text(context.Background(), ""))
	assert.Empty(t, rec.Commands())
}

func TestShell_UnknownGlobalAction(t *testing.T) {
	rec := &shell.Recorder{}
	err := NewShell(rec, nil).GlobalAction(context.Background(), domain.GlobalAction("warp"))
	assert.Error(t, err)
	assert.Empty(t, rec.Commands())
}

func TestShell_PropagatesErrors(t *testing.T) {
	rec := &shell.Recorder{Err: map[string]error{"input keyevent 3": errors.New("exit status 1")}}
	err := NewShell(rec, nil).GlobalAction(context.Background(), domain.GlobalHome)
	assert.EqualError(t, err, "exit status 1")
}

const uiDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" content-desc="" bounds="[0,0][1080,2400]">
    <node index="0" text="ada" resource-id="com.example:id/user" class="android.widget.EditText" content-desc="" bounds="[100,400][980,520]" />
    <node index="1" text="" resource-id="com.example:id/avatar" class="android.widget.ImageView" content-desc="Profile Photo" bounds="[40,40][200,200]" />
    <node index="2" text="Sign in" resource-id="com.example:id/login" class="android.widget.Button" content-desc="" bounds="[300,1800][780,1960]" />
  </node>
</hierarchy>`

func dumpRecorder() *shell.Recorder {
	return &shell.Recorder{Output: map[string]string{"cat " + uiDumpPath: uiDump}}
}

func TestShell_ClickNode(t *testing.T) {
	dumpCmds := []string{"uiautomator dump " + uiDumpPath, "cat " + uiDumpPath}
	tests := []struct {
		name   string
		viewID string
		text   string
		tap    string
	}{
		{"by id", "com.example:id/login", "", "input swipe 540 1880 540 1880 50"},
		{"by text ignoring case", "", "sign IN", "input swipe 540 1880 540 1880 50"},
		{"by content description", "", "photo", "input swipe 120 120 120 120 50"},
		{"unknown id falls back to text", "com.example:id/gone", "Sign in", "input swipe 540 1880 540 1880 50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := dumpRecorder()
			require.NoError(t, NewShell(rec, nil).ClickNode(context.Background(), tt.viewID, tt.text))
			assert.Equal(t, append(dumpCmds, tt.tap), rec.Commands())
		})
	}
}

func TestShell_ClickNodeNotFound(t *testing.T) {
	rec := dumpRecorder()
	err := NewShell(rec, nil).ClickNode(context.Background(), "com.example:id/none", "nothing")
	assert.ErrorIs(t, err, errNodeNotFound)
	assert.Len(t, rec.Commands(), 2, "no tap without a match")
}

func TestShell_SetTextReplacesContent(t *testing.T) {
	rec := dumpRecorder()
	require.NoError(t, NewShell(rec, nil).SetText(context.Background(), "com.example:id/user", "grace hopper"))
	assert.Equal(t, []string{
		"uiautomator dump " + uiDumpPath,
		"cat " + uiDumpPath,
		"input swipe 540 460 540 460 50",
		"input keyevent 123",
		"input keyevent 67 67 67",
		"input text grace%shopper",
	}, rec.Commands())
}

func TestShell_SetTextEmptyField(t *testing.T) {
	rec := dumpRecorder()
	require.NoError(t, NewShell(rec, nil).SetText(context.Background(), "com.example:id/avatar", "x"))
	assert.Equal(t, []string{
		"uiautomator dump " + uiDumpPath,
		"cat " + uiDumpPath,
		"input swipe 120 120 120 120 50",
		"input text x",
	}, rec.Commands())
}

func TestShell_DumpFailure(t *testing.T) {
	rec := &shell.Recorder{Err: map[string]error{"uiautomator dump " + uiDumpPath: errors.New("no window")}}
	err := NewShell(rec, nil).SetText(context.Background(), "com.example:id/user", "x")
	assert.ErrorContains(t, err, "dump ui")
}
