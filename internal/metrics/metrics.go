// Package metrics exposes Prometheus instrumentation for voice sessions
// and the campaign orchestrator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dialer.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioScheduledSeconds prometheus.Counter
	BargeInsTotal         prometheus.Counter

	// Conversation metrics
	TurnsTotal *prometheus.CounterVec

	// Tool metrics
	ToolCallsTotal *prometheus.CounterVec

	// Campaign metrics
	CallsCompletedTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "omnidial"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active voice sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of voice sessions by terminal state",
		},
		[]string{"state"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	audioScheduledSeconds := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_scheduled_seconds_total",
			Help:      "Total playback audio scheduled, in seconds",
		},
	)

	bargeInsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of interruptions that flushed playback",
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total finalized transcript turns by speaker",
		},
		[]string{"speaker"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool invocations by tool name",
		},
		[]string{"tool"},
	)

	callsCompletedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_calls_completed_total",
			Help:      "Total campaign calls completed by disposition",
		},
		[]string{"disposition"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioScheduledSeconds,
		bargeInsTotal,
		turnsTotal,
		toolCallsTotal,
		callsCompletedTotal,
	)

	return &Metrics{
		registry:              registry,
		SessionsActive:        sessionsActive,
		SessionsTotal:         sessionsTotal,
		SessionDuration:       sessionDuration,
		AudioScheduledSeconds: audioScheduledSeconds,
		BargeInsTotal:         bargeInsTotal,
		TurnsTotal:            turnsTotal,
		ToolCallsTotal:        toolCallsTotal,
		CallsCompletedTotal:   callsCompletedTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a new voice session starting.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded records a voice session reaching a terminal state.
func (m *Metrics) SessionEnded(state string, elapsed time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(name string) {
	m.ToolCallsTotal.WithLabelValues(name).Inc()
}

// BargeIn records an interruption that flushed scheduled playback.
func (m *Metrics) BargeIn() {
	m.BargeInsTotal.Inc()
}

// TurnCompleted records one finalized transcript turn.
func (m *Metrics) TurnCompleted(speaker string) {
	m.TurnsTotal.WithLabelValues(speaker).Inc()
}

// AudioScheduled records playback audio handed to the scheduler.
func (m *Metrics) AudioScheduled(playback time.Duration) {
	m.AudioScheduledSeconds.Add(playback.Seconds())
}

// CallCompleted records a finished campaign call.
func (m *Metrics) CallCompleted(disposition string) {
	if disposition == "" {
		disposition = "unlogged"
	}
	m.CallsCompletedTotal.WithLabelValues(disposition).Inc()
}
