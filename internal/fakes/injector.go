package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"noadb/agent/internal/domain"
)

// Call is one recorded injector or capture invocation.
type Call struct {
	Name string
	Args string
	At   time.Time
}

func (c Call) String() string {
	return c.Name + " " + c.Args
}

// Injector records input actions. Err, if set, is returned for every call
// whose name matches a key ("tap", "swipe", ...).
type Injector struct {
	Err map[string]error

	mu    sync.Mutex
	calls []Call
}

func (f *Injector) record(name, args string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Name: name, Args: args, At: time.Now()})
	return f.Err[name]
}

func (f *Injector) Tap(ctx context.Context, x, y int) error {
	return f.record("tap", fmt.Sprintf("%d %d", x, y))
}

func (f *Injector) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	return f.record("swipe", fmt.Sprintf("%d %d %d %d %d", x1, y1, x2, y2, duration.Milliseconds()))
}

func (f *Injector) Key(ctx context.Context, keyCode int) error {
	return f.record("key", fmt.Sprint(keyCode))
}

func (f *Injector) Text(ctx context.Context, text string) error {
	return f.record("text", text)
}

func (f *Injector) GlobalAction(ctx context.Context, action domain.GlobalAction) error {
	return f.record("global", string(action))
}

func (f *Injector) LaunchApp(ctx context.Context, pkg string) error {
	return f.record("launch", pkg)
}

func (f *Injector) ClickNode(ctx context.Context, viewID, text string) error {
	return f.record("clickNode", viewID+"|"+text)
}

func (f *Injector) SetText(ctx context.Context, viewID, text string) error {
	return f.record("setText", viewID+"|"+text)
}

// Calls returns the recorded calls in order.
func (f *Injector) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Capture records session open and close notifications.
type Capture struct {
	OpenErr error

	mu      sync.Mutex
	opens   int
	closes  int
	profile domain.CaptureProfile
	bitrate int
	sink    domain.SampleSink
}

func (c *Capture) OnSessionOpen(sink domain.SampleSink, profile domain.CaptureProfile, bitrateBps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	c.sink, c.profile, c.bitrate = sink, profile, bitrateBps
	return c.OpenErr
}

func (c *Capture) OnSessionClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

// Opens returns how many times capture was started.
func (c *Capture) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Closes returns how many times capture was stopped.
func (c *Capture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Last returns the profile and bitrate of the last open.
func (c *Capture) Last() (domain.CaptureProfile, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile, c.bitrate
}
