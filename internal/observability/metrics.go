package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection states reported by the session gauge.
var sessionStates = []string{"disconnected", "connecting", "connected"}

// Metrics bundles Prometheus collectors for the agent daemon. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Protocols      *prometheus.CounterVec
	FailedSteps    *prometheus.CounterVec
	Events         *prometheus.CounterVec
	SessionState   *prometheus.GaugeVec
	Danger         prometheus.Gauge
	ChatEntries    prometheus.Counter
	Requests       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxagent_actions_total",
		Help: "Executor actions by operation, source and outcome code",
	}, []string{"op", "source", "outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxagent_action_duration_seconds",
		Help:    "Executor action duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	protocols := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxagent_reflex_protocols_total",
		Help: "Reflex protocol runs by protocol and outcome",
	}, []string{"protocol", "outcome"})

	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxagent_reflex_failed_steps_total",
		Help: "Failed best-effort reflex steps by protocol and step",
	}, []string{"protocol", "step"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxagent_world_events_total",
		Help: "World events received by kind",
	}, []string{"kind"})

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxagent_session_state",
		Help: "1 for the current connection state, 0 otherwise",
	}, []string{"state"})

	danger := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voxagent_danger",
		Help: "1 while the danger flag is set",
	})

	chat := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxagent_chat_entries_total",
		Help: "Chat lines appended to the chat buffer",
	})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxagent_http_requests_total",
		Help: "Control API requests by route and status code",
	}, []string{"route", "code"})

	reg.MustRegister(actions, durs, protocols, failed, events, state, danger, chat, requests)

	m := &Metrics{
		registry:       reg,
		Actions:        actions,
		ActionDuration: durs,
		Protocols:      protocols,
		FailedSteps:    failed,
		Events:         events,
		SessionState:   state,
		Danger:         danger,
		ChatEntries:    chat,
		Requests:       requests,
	}
	m.SetSessionState("disconnected")
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAction counts one executor outcome. An empty outcome means success.
func (m *Metrics) RecordAction(op, source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.Actions.WithLabelValues(op, source, outcome).Inc()
	m.ActionDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordProtocol counts a reflex protocol run and its failed steps.
func (m *Metrics) RecordProtocol(protocol, outcome string, failedSteps []string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.Protocols.WithLabelValues(protocol, outcome).Inc()
	for _, step := range failedSteps {
		m.FailedSteps.WithLabelValues(protocol, step).Inc()
	}
}

func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordChat() {
	if m == nil {
		return
	}
	m.ChatEntries.Inc()
}

// SetSessionState marks state as the current connection state.
func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetDanger(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Danger.Set(1)
	} else {
		m.Danger.Set(0)
	}
}

func (m *Metrics) RecordRequest(route string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
