// Package metrics exposes Prometheus instrumentation for a voice session:
// connection lifecycle, audio throughput, control-message traffic, and
// errors by kind.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a client session.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	ConnectDuration prometheus.Histogram
	ReconnectsTotal prometheus.Counter

	// Audio
	AudioBytesTotal    *prometheus.CounterVec
	FramesDroppedTotal *prometheus.CounterVec

	// Control messages
	MessagesTotal *prometheus.CounterVec

	// Errors
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vocalis"
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
			Help:      "Total number of voice sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	connectDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from connect call to established connection",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes by direction",
		},
		[]string{"direction"},
	)

	framesDroppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Captured audio frames dropped before transmission",
		},
		[]string{"reason"},
	)

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Control messages by type and direction",
		},
		[]string{"type", "direction"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		connectDuration,
		reconnectsTotal,
		audioBytesTotal,
		framesDroppedTotal,
		messagesTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:           registry,
		SessionsActive:     sessionsActive,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		ConnectDuration:    connectDuration,
		ReconnectsTotal:    reconnectsTotal,
		AudioBytesTotal:    audioBytesTotal,
		FramesDroppedTotal: framesDroppedTotal,
		MessagesTotal:      messagesTotal,
		ErrorsTotal:        errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a session becoming active.
func (m *Metrics) RecordSessionStart(connectDelay time.Duration) {
	m.SessionsActive.Inc()
	m.ConnectDuration.Observe(connectDelay.Seconds())
}

// RecordSessionEnd records a session ending with the given status.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordReconnect records one reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.ReconnectsTotal.Inc()
}

// RecordAudio records audio bytes moving in the given direction ("sent" or
// "received").
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordFrameDropped records a captured frame dropped before transmission.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordMessage records a control message by type and direction ("inbound"
// or "outbound").
func (m *Metrics) RecordMessage(messageType, direction string) {
	m.MessagesTotal.WithLabelValues(messageType, direction).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}
