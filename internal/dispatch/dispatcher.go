package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/metrics"
)

// Responder delivers command responses to the controller.
type Responder interface {
	Respond(resp domain.CommandResponse) error
}

// Options configures a Dispatcher.
type Options struct {
	Injector  domain.Injector
	Responder Responder
	// Delay is added to each command's submission time before it runs.
	Delay time.Duration
	// OSLevel is the device API level; 0 means unknown and gates nothing.
	OSLevel int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type pending struct {
	raw         []byte
	submittedAt time.Time
}

// Dispatcher executes control commands one at a time in arrival order.
// Each command waits until its submission time plus Delay, passes the
// sequence guard and produces exactly one response. Duplicates produce
// none.
type Dispatcher struct {
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu      sync.Mutex
	queue   []pending
	stopped bool

	// lastSeq is owned by the worker goroutine.
	lastSeq int64
}

// New starts a Dispatcher worker.
func New(opts Options) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:   opts,
		log:    logger.OrNop(opts.Logger),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go d.run()
	return d
}

// Submit enqueues a raw command. It never waits for execution.
func (d *Dispatcher) Submit(raw []byte) {
	now := time.Now()

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.opts.Metrics.Dropped(metrics.DropCancelled)
		return
	}
	d.queue = append(d.queue, pending{raw: raw, submittedAt: now})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop cancels a pending wait, discards queued commands and waits for the
// worker to exit. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for range d.queue {
			d.opts.Metrics.Dropped(metrics.DropCancelled)
		}
		if n := len(d.queue); n > 0 {
			d.log.Debug("discarding queued commands", zap.Int("count", n))
		}
		d.queue = nil
	}
	d.mu.Unlock()

	d.cancel()
	<-d.done
}

func (d *Dispatcher) next() (pending, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			p := d.queue[0]
			d.queue[0] = pending{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return p, true
		}
		d.mu.Unlock()

		select {
		case <-d.wake:
		case <-d.ctx.Done():
			return pending{}, false
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		p, ok := d.next()
		if !ok {
			return
		}

		if wait := time.Until(p.submittedAt.Add(d.opts.Delay)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-d.ctx.Done():
				timer.Stop()
				d.opts.Metrics.Dropped(metrics.DropCancelled)
				return
			}
		}
		if d.ctx.Err() != nil {
			return
		}

		d.handle(p.raw)
	}
}

func (d *Dispatcher) handle(raw []byte) {
	cmd, err := domain.DecodeCommand(raw)

	if cmd.Sequence > 0 && cmd.Sequence <= d.lastSeq {
		d.log.Debug("dropping duplicate command",
			zap.Int64("sequence", cmd.Sequence),
			zap.Int64("last", d.lastSeq),
		)
		d.opts.Metrics.Dropped(metrics.DropDuplicate)
		return
	}

	if err != nil {
		d.log.Warn("rejecting command", zap.String("action", string(cmd.Action)), zap.Error(err))
		d.opts.Metrics.Dropped(metrics.DropMalformed)
		d.respond(domain.NewCommandResponse(cmd, false, err.Error()))
		return
	}

	if cmd.Sequence > 0 {
		d.lastSeq = cmd.Sequence
	}

	msg, err := d.execute(cmd)
	if err != nil {
		err = domain.NewError(domain.KindExecution, string(cmd.Action), err)
		d.log.Warn("command failed", zap.String("action", string(cmd.Action)), zap.Int64("sequence", cmd.Sequence), zap.Error(err))
		d.opts.Metrics.CommandExecuted(cmd.Action, false)
		d.respond(domain.NewCommandResponse(cmd, false, err.Error()))
		return
	}

	d.opts.Metrics.CommandExecuted(cmd.Action, true)
	d.respond(domain.NewCommandResponse(cmd, true, msg))
}

func (d *Dispatcher) execute(cmd domain.ControlCommand) (string, error) {
	in := d.opts.Injector
	ctx := d.ctx

	switch cmd.Action {
	case domain.ActionTap:
		return fmt.Sprintf("tap at (%d, %d)", cmd.X, cmd.Y), in.Tap(ctx, cmd.X, cmd.Y)
	case domain.ActionSwipe:
		return fmt.Sprintf("swipe (%d, %d) to (%d, %d)", cmd.StartX, cmd.StartY, cmd.EndX, cmd.EndY),
			in.Swipe(ctx, cmd.StartX, cmd.StartY, cmd.EndX, cmd.EndY, cmd.Duration)
	case domain.ActionKey:
		return fmt.Sprintf("key %d", cmd.KeyCode), in.Key(ctx, cmd.KeyCode)
	case domain.ActionText:
		return "text entered", in.Text(ctx, cmd.Text)
	case domain.ActionGlobalAction:
		if required := cmd.Global.MinLevel(); required > 0 && d.opts.OSLevel > 0 && d.opts.OSLevel < required {
			d.log.Info("global action unsupported on this OS level",
				zap.String("global", string(cmd.Global)),
				zap.Int("required", required),
				zap.Int("level", d.opts.OSLevel),
			)
			return fmt.Sprintf("%s requires OS level %d, device is %d; ignored", cmd.Global, required, d.opts.OSLevel), nil
		}
		return string(cmd.Global), in.GlobalAction(ctx, cmd.Global)
	case domain.ActionLaunchApp:
		return "launched " + cmd.Package, in.LaunchApp(ctx, cmd.Package)
	case domain.ActionClickNode:
		return "clicked " + firstNonEmpty(cmd.ViewID, cmd.Text), in.ClickNode(ctx, cmd.ViewID, cmd.Text)
	case domain.ActionSetText:
		return "text set on " + cmd.ViewID, in.SetText(ctx, cmd.ViewID, cmd.Text)
	case domain.ActionKeepAlive:
		return "alive", nil
	}
	return "", fmt.Errorf("unsupported action %q", cmd.Action)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (d *Dispatcher) respond(resp domain.CommandResponse) {
	if d.opts.Responder == nil {
		return
	}
	if err := d.opts.Responder.Respond(resp); err != nil {
		d.log.Warn("response not delivered",
			zap.String("action", string(resp.Action)),
			zap.Int64("sequence", resp.Sequence),
			zap.Error(err),
		)
	}
}
