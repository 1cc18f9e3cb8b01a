package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noadb/agent/internal/domain"
)

// Drop reasons for messages discarded without execution.
const (
	DropMalformed       = "malformed"
	DropDuplicate       = "duplicate"
	DropForeignSession  = "foreign_session"
	DropUnexpectedState = "unexpected_state"
	DropCancelled       = "cancelled"
)

// Metrics holds the agent's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	commands   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	envelopes  *prometheus.CounterVec
	reconnects prometheus.Counter
	offers     prometheus.Counter
	state      *prometheus.GaugeVec
	gatherer   prometheus.Gatherer
}

// New registers the collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noadb",
			Name:      "commands_total",
			Help:      "Control commands executed, by action and outcome.",
		}, []string{"action", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noadb",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages discarded without effect, by reason.",
		}, []string{"reason"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noadb",
			Name:      "signaling_envelopes_total",
			Help:      "Signaling envelopes by direction and type.",
		}, []string{"direction", "type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noadb",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts made by the supervisor.",
		}),
		offers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "noadb",
			Name:      "offers_total",
			Help:      "SDP offers sent.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "noadb",
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		gatherer: reg,
	}
	reg.MustRegister(m.commands, m.dropped, m.envelopes, m.reconnects, m.offers, m.state)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandExecuted(action domain.Action, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.commands.WithLabelValues(string(action), outcome).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) EnvelopeSent(typ domain.EnvelopeType) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues("out", string(typ)).Inc()
}

func (m *Metrics) EnvelopeReceived(typ domain.EnvelopeType) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues("in", string(typ)).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) OfferSent() {
	if m == nil {
		return
	}
	m.offers.Inc()
}

// SessionState marks s as the current state.
func (m *Metrics) SessionState(s domain.SessionState) {
	if m == nil {
		return
	}
	for _, st := range domain.AllSessionStates() {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}
