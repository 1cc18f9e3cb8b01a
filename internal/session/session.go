// Package session negotiates and runs one controller session: relay
// registration, the SDP/ICE exchange, the control channel and command
// dispatch. All session state is owned by the goroutine running Run.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noadb/agent/internal/control"
	"noadb/agent/internal/dispatch"
	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
	"noadb/agent/internal/metrics"
)

const eventQueueSize = 256

var errSignalingClosed = errors.New("signaling connection closed")

// Deps are the collaborators a session drives.
type Deps struct {
	Signaler domain.Signaler
	NewPeer  domain.PeerFactory
	Capture  domain.CaptureSource
	Injector domain.Injector

	Register   domain.RegisterPayload
	DeviceInfo domain.DeviceInfo

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Session is one registration-to-teardown lifetime against the relay.
type Session struct {
	deps Deps
	cfg  domain.SessionConfig
	log  *zap.Logger

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	stopping atomic.Bool

	state      atomic.Int32
	registered atomic.Bool
	opened     atomic.Bool

	idMu      sync.RWMutex
	id        string
	createdAt time.Time

	// Owned by the Run goroutine.
	peer          domain.Peer
	sink          domain.SampleSink
	router        *control.Router
	dispatcher    *dispatch.Dispatcher
	channel       *control.Channel
	offerInFlight bool
	renegotiating bool
	remoteDescSet bool
	captureOpen   bool
	localCands    []domain.ICECandidatePayload
	remoteCands   []domain.ICECandidatePayload
}

// New creates an idle session. cfg is used as given for the session's
// whole lifetime.
func New(deps Deps, cfg domain.SessionConfig) *Session {
	id := uuid.NewString()
	s := &Session{
		deps:   deps,
		cfg:    cfg,
		log:    logger.OrNop(deps.Logger).With(zap.String("session", id)),
		events: make(chan event, eventQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		id:     id,

		createdAt: time.Now(),
	}
	s.state.Store(int32(domain.StateIdle))
	return s
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// SessionID returns the session id, which the relay may reassign on
// registration.
func (s *Session) SessionID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Registered reports whether the relay acknowledged the registration.
func (s *Session) Registered() bool {
	return s.registered.Load()
}

// Opened reports whether the session ever reached StateOpen.
func (s *Session) Opened() bool {
	return s.opened.Load()
}

// RequestRenegotiation asks for a fresh offer. Requests made while an
// offer is outstanding are absorbed by that offer.
func (s *Session) RequestRenegotiation() {
	s.push(renegotiate{})
}

// Stop ends the session. Pending commands are cancelled and the peer,
// control channel and relay connection are closed without sending
// anything. Stop is idempotent and waits for Run to return.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	if s.started.Load() {
		<-s.done
	}
}

// Run registers with the relay and processes events until the session
// ends. It returns nil after Stop or ctx cancellation and an error
// classified by domain.ErrorKind otherwise.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started")
	}
	defer close(s.done)
	defer func() {
		s.teardown()
		if !s.State().Terminal() {
			s.setState(domain.StateClosed)
		}
	}()

	select {
	case <-s.quit:
		return nil
	default:
	}

	if err := s.start(ctx); err != nil {
		if !domain.IsKind(err, domain.KindTransport) {
			s.setState(domain.StateFailed)
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.setState(domain.StateClosing)
			return nil
		case <-s.quit:
			s.setState(domain.StateClosing)
			return nil
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				s.log.Warn("session ended", zap.Error(err), zap.Stringer("state", s.State()))
				return err
			}
		}
	}
}

func (s *Session) start(ctx context.Context) error {
	s.setState(domain.StateRegistering)

	in, err := s.deps.Signaler.Connect(ctx, s.cfg.RelayURL)
	if err != nil {
		return domain.NewError(domain.KindTransport, "connect", err)
	}
	go s.forward(in)

	s.router = control.NewRouter(s.deps.Signaler, s.log)
	s.router.SetSessionID(s.SessionID())
	s.dispatcher = dispatch.New(dispatch.Options{
		Injector:  s.deps.Injector,
		Responder: s.router,
		Delay:     s.cfg.ControlDelay,
		OSLevel:   s.cfg.OSLevel,
		Logger:    s.log.Named("dispatch"),
		Metrics:   s.deps.Metrics,
	})

	peer, err := s.deps.NewPeer(func(ev domain.PeerEvent) { s.push(peerEvent{ev: ev}) })
	if err != nil {
		return domain.NewError(domain.KindNegotiation, "create peer", err)
	}
	s.peer = peer

	if s.sink, err = peer.AddVideoTrack(); err != nil {
		return domain.NewError(domain.KindNegotiation, "add video track", err)
	}
	dc, err := peer.CreateDataChannel(control.Label)
	if err != nil {
		return domain.NewError(domain.KindNegotiation, "create control channel", err)
	}
	s.attachChannel(dc)

	if err := s.send(domain.TypeRegister, s.deps.Register); err != nil {
		return err
	}
	if err := s.send(domain.TypeDeviceInfo, s.deps.DeviceInfo); err != nil {
		return err
	}
	s.log.Info("registering", zap.String("deviceId", s.deps.Register.DeviceID))
	return nil
}

// forward moves inbound envelopes onto the event queue.
func (s *Session) forward(in <-chan domain.Envelope) {
	for env := range in {
		s.push(envelopeEvent{env: env})
	}
	s.push(signalingClosed{})
}

func (s *Session) push(ev event) {
	if s.stopping.Load() {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) handle(ev event) error {
	switch ev := ev.(type) {
	case envelopeEvent:
		return s.handleEnvelope(ev.env)
	case signalingClosed:
		s.setState(domain.StateClosing)
		cause := s.deps.Signaler.Err()
		if cause == nil {
			cause = errSignalingClosed
		}
		return domain.NewError(domain.KindTransport, "signaling", cause)
	case peerEvent:
		return s.handlePeer(ev.ev)
	case channelState:
		if ev.ch == s.channel {
			s.log.Info("control channel", zap.Stringer("state", ev.state))
		}
		return nil
	case renegotiate:
		s.startRenegotiation()
		return nil
	}
	return nil
}

func (s *Session) handleEnvelope(env domain.Envelope) error {
	if env.Type != domain.TypeRegistered && env.SessionID != "" && env.SessionID != s.SessionID() {
		s.drop(env, metrics.DropForeignSession, nil)
		return nil
	}

	switch env.Type {
	case domain.TypeRegistered:
		return s.onRegistered(env)
	case domain.TypeAnswer:
		return s.onAnswer(env)
	case domain.TypeOffer:
		return s.onRemoteOffer(env)
	case domain.TypeICECandidate:
		s.onRemoteCandidate(env)
		return nil
	case domain.TypeRemoteControl:
		if len(env.Payload) == 0 {
			s.drop(env, metrics.DropMalformed, nil)
			return nil
		}
		s.dispatcher.Submit(append([]byte(nil), env.Payload...))
		return nil
	case domain.TypeError:
		var rerr domain.RelayError
		if err := env.Decode(&rerr); err != nil {
			s.drop(env, metrics.DropMalformed, err)
			return nil
		}
		if s.State() == domain.StateRegistering {
			s.setState(domain.StateFailed)
			return domain.NewError(domain.KindProtocol, "register",
				fmt.Errorf("relay rejected registration (code=%d): %s", rerr.Code, rerr.Message))
		}
		s.log.Warn("relay error", zap.Int("code", rerr.Code), zap.String("message", rerr.Message))
		return nil
	case domain.TypeKeepAlive:
		return nil
	}
	s.drop(env, metrics.DropUnexpectedState, nil)
	return nil
}

func (s *Session) onRegistered(env domain.Envelope) error {
	if s.State() != domain.StateRegistering || s.registered.Load() {
		s.drop(env, metrics.DropUnexpectedState, nil)
		return nil
	}

	var ack domain.RegisteredPayload
	if len(env.Payload) > 0 {
		if err := env.Decode(&ack); err != nil {
			s.log.Debug("registered ack without payload", zap.Error(err))
		}
	}
	if id := firstNonEmpty(ack.SessionID, env.SessionID); id != "" && id != s.SessionID() {
		s.idMu.Lock()
		s.id = id
		s.idMu.Unlock()
		s.router.SetSessionID(id)
		s.log = s.log.With(zap.String("relaySession", id))
	}
	s.registered.Store(true)
	s.log.Info("registered")

	if err := s.sendOffer(); err != nil {
		s.setState(domain.StateFailed)
		return err
	}
	s.setState(domain.StateOffering)
	return nil
}

func (s *Session) onAnswer(env domain.Envelope) error {
	if !s.offerInFlight {
		s.drop(env, metrics.DropUnexpectedState, nil)
		return nil
	}
	var answer domain.SDPPayload
	if err := env.Decode(&answer); err != nil {
		s.drop(env, metrics.DropMalformed, err)
		return nil
	}
	if err := answer.Validate("answer"); err != nil {
		s.drop(env, metrics.DropMalformed, err)
		return nil
	}

	s.offerInFlight = false
	if err := s.peer.SetRemoteDescription(answer); err != nil {
		return s.negotiationFailed("apply answer", err)
	}
	s.remoteDescSet = true
	s.flushCandidates()

	if s.renegotiating {
		s.renegotiating = false
		s.setState(domain.StateOpen)
	} else {
		s.setState(domain.StateNegotiating)
	}
	return nil
}

func (s *Session) onRemoteOffer(env domain.Envelope) error {
	if s.offerInFlight {
		s.log.Info("dropping remote offer, local offer in flight")
		s.drop(env, metrics.DropUnexpectedState, nil)
		return nil
	}
	switch s.State() {
	case domain.StateRegistering, domain.StateNegotiating, domain.StateOpen:
	default:
		s.drop(env, metrics.DropUnexpectedState, nil)
		return nil
	}

	var offer domain.SDPPayload
	if err := env.Decode(&offer); err != nil {
		s.drop(env, metrics.DropMalformed, err)
		return nil
	}
	if err := offer.Validate("offer"); err != nil {
		s.drop(env, metrics.DropMalformed, err)
		return nil
	}

	if err := s.peer.SetRemoteDescription(offer); err != nil {
		return s.negotiationFailed("apply offer", err)
	}
	answer, err := s.peer.CreateAnswer()
	if err != nil {
		return s.negotiationFailed("create answer", err)
	}
	if err := s.send(domain.TypeAnswer, domain.SDPPayload{Type: "answer", SDP: answer}); err != nil {
		return err
	}
	s.remoteDescSet = true
	s.flushCandidates()

	if s.State() == domain.StateRegistering {
		s.registered.Store(true)
		s.setState(domain.StateNegotiating)
	}
	return nil
}

func (s *Session) onRemoteCandidate(env domain.Envelope) {
	var c domain.ICECandidatePayload
	if err := env.Decode(&c); err != nil {
		s.drop(env, metrics.DropMalformed, err)
		return
	}
	if c.Candidate == "" {
		s.drop(env, metrics.DropMalformed, errors.New("empty candidate"))
		return
	}
	if !s.remoteDescSet {
		s.remoteCands = append(s.remoteCands, c)
		return
	}
	if err := s.peer.AddRemoteICECandidate(c); err != nil {
		s.log.Warn("remote candidate rejected", zap.Error(domain.NewError(domain.KindNegotiation, "add candidate", err)))
	}
}

// negotiationFailed fails the session before Open. A failed renegotiation
// only abandons the attempt.
func (s *Session) negotiationFailed(op string, err error) error {
	nerr := domain.NewError(domain.KindNegotiation, op, err)
	if s.renegotiating || s.State() == domain.StateOpen {
		s.log.Warn("renegotiation failed", zap.Error(nerr))
		s.renegotiating = false
		s.offerInFlight = false
		s.setState(domain.StateOpen)
		return nil
	}
	s.setState(domain.StateFailed)
	return nerr
}

func (s *Session) handlePeer(ev domain.PeerEvent) error {
	switch ev := ev.(type) {
	case domain.CandidateGathered:
		if !s.remoteDescSet {
			s.localCands = append(s.localCands, ev.Candidate)
			return nil
		}
		return s.send(domain.TypeICECandidate, ev.Candidate)
	case domain.GatheringComplete:
		s.log.Debug("ICE gathering complete")
	case domain.ConnectionStateChanged:
		return s.onPeerState(ev.State)
	case domain.NegotiationNeeded:
		// The initial offer covers changes made before Open.
		if s.renegotiating || s.State() == domain.StateOpen {
			s.startRenegotiation()
		}
	case domain.DataChannelReceived:
		if ev.Channel.Label() == control.Label {
			s.attachChannel(ev.Channel)
		} else {
			s.log.Debug("ignoring data channel", zap.String("label", ev.Channel.Label()))
		}
	}
	return nil
}

func (s *Session) onPeerState(state domain.PeerState) error {
	switch state {
	case domain.PeerConnected:
		if s.State() != domain.StateNegotiating || s.renegotiating {
			return nil
		}
		s.setState(domain.StateOpen)
		if s.deps.Capture != nil && !s.captureOpen {
			if err := s.deps.Capture.OnSessionOpen(s.sink, s.cfg.Profile, s.cfg.BitrateBps); err != nil {
				s.log.Error("capture failed to start", zap.Error(err))
			} else {
				s.captureOpen = true
			}
		}
	case domain.PeerDisconnected:
		s.log.Warn("peer disconnected, waiting for ICE to recover")
	case domain.PeerFailed, domain.PeerClosed:
		s.setState(domain.StateClosing)
		return domain.NewError(domain.KindTransport, "peer connection", fmt.Errorf("peer %s", state))
	}
	return nil
}

// startRenegotiation sends a new offer from Open. Requests made while an
// offer is outstanding, or before Open, are absorbed by that offer.
func (s *Session) startRenegotiation() {
	switch st := s.State(); {
	case s.offerInFlight, st == domain.StateOffering, st == domain.StateNegotiating:
		s.log.Debug("renegotiation absorbed by pending offer", zap.Stringer("state", st))
		return
	case st != domain.StateOpen:
		s.log.Debug("renegotiation ignored", zap.Stringer("state", st))
		return
	}
	s.renegotiating = true
	s.setState(domain.StateNegotiating)
	if err := s.sendOffer(); err != nil {
		s.log.Warn("renegotiation failed", zap.Error(err))
		s.renegotiating = false
		s.setState(domain.StateOpen)
	}
}

func (s *Session) sendOffer() error {
	sdp, err := s.peer.CreateOffer()
	if err != nil {
		return domain.NewError(domain.KindNegotiation, "create offer", err)
	}
	if err := s.send(domain.TypeOffer, domain.SDPPayload{Type: "offer", SDP: sdp}); err != nil {
		return err
	}
	s.offerInFlight = true
	s.deps.Metrics.OfferSent()
	return nil
}

func (s *Session) flushCandidates() {
	for _, c := range s.remoteCands {
		if err := s.peer.AddRemoteICECandidate(c); err != nil {
			s.log.Warn("buffered remote candidate rejected", zap.Error(err))
		}
	}
	s.remoteCands = nil

	for _, c := range s.localCands {
		if err := s.send(domain.TypeICECandidate, c); err != nil {
			s.log.Warn("local candidate not sent", zap.Error(err))
		}
	}
	s.localCands = nil
}

func (s *Session) attachChannel(dc domain.DataChannel) {
	ch := control.NewChannel(dc, control.Handlers{
		OnState: func(c *control.Channel, st control.State) {
			s.push(channelState{ch: c, state: st})
		},
		OnMessage: func(data []byte) {
			s.dispatcher.Submit(append([]byte(nil), data...))
		},
	})
	if s.channel != nil && s.channel != ch {
		s.channel.Close()
	}
	s.channel = ch
	s.router.SetChannel(ch)
}

func (s *Session) send(typ domain.EnvelopeType, payload any) error {
	env, err := domain.NewEnvelope(typ, s.SessionID(), payload)
	if err != nil {
		return domain.NewError(domain.KindProtocol, "encode "+string(typ), err)
	}
	if err := s.deps.Signaler.Send(env); err != nil {
		return domain.NewError(domain.KindTransport, "send "+string(typ), err)
	}
	return nil
}

func (s *Session) drop(env domain.Envelope, reason string, err error) {
	fields := []zap.Field{
		zap.String("type", string(env.Type)),
		zap.String("reason", reason),
		zap.Stringer("state", s.State()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.log.Warn("dropping envelope", fields...)
	s.deps.Metrics.Dropped(reason)
}

func (s *Session) setState(st domain.SessionState) {
	prev := domain.SessionState(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	if st == domain.StateOpen {
		s.opened.Store(true)
	}
	s.log.Info("state", zap.Stringer("from", prev), zap.Stringer("to", st))
	s.deps.Metrics.SessionState(st)
}

// teardown releases everything the session created. It sends nothing.
func (s *Session) teardown() {
	s.stopping.Store(true)
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.captureOpen {
		s.deps.Capture.OnSessionClose()
		s.captureOpen = false
	}
	if s.router != nil {
		s.router.SetChannel(nil)
	}
	if s.channel != nil {
		s.channel.Close()
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			s.log.Debug("peer close", zap.Error(err))
		}
	}
	s.deps.Signaler.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
