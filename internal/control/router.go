package control

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"noadb/agent/internal/domain"
	"noadb/agent/internal/logger"
)

// Router delivers command responses over the control channel while it is
// open and over the signaling relay otherwise. It is safe for concurrent
// use.
type Router struct {
	signaler domain.Signaler
	log      *zap.Logger

	mu        sync.RWMutex
	ch        *Channel
	sessionID string
}

// NewRouter creates a Router falling back to signaler.
func NewRouter(signaler domain.Signaler, log *zap.Logger) *Router {
	return &Router{signaler: signaler, log: logger.OrNop(log)}
}

// SetChannel swaps the active control channel. nil detaches it.
func (r *Router) SetChannel(ch *Channel) {
	r.mu.Lock()
	r.ch = ch
	r.mu.Unlock()
}

// SetSessionID sets the session id stamped on fallback envelopes.
func (r *Router) SetSessionID(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// Respond sends resp to the controller.
func (r *Router) Respond(resp domain.CommandResponse) error {
	r.mu.RLock()
	ch, sessionID := r.ch, r.sessionID
	r.mu.RUnlock()

	if ch != nil && ch.State() == StateOpen {
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		err = ch.Send(data)
		if err == nil {
			return nil
		}
		r.log.Debug("control channel send failed, using signaling", zap.Error(err))
	}

	env, err := domain.NewEnvelope(domain.TypeControlResponse, sessionID, resp)
	if err != nil {
		return err
	}
	return r.signaler.Send(env)
}
