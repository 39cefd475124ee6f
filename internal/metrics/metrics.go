// Package metrics holds the Prometheus instrumentation for tutorcore.
// All record methods are nil-safe so components can run unmetered.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	// External call metrics
	ExternalCallDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesTotal    *prometheus.CounterVec
	SynthesisCacheHits prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with everything registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tutorcore"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of chat turns",
		},
		[]string{"status"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Chat turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	externalCallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "External service call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open tutoring sessions",
		},
	)

	sessionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of tutoring sessions started",
		},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Tutoring session duration in seconds",
			Buckets:   []float64{30, 60, 300, 600, 1800, 3600},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes captured and synthesized",
		},
		[]string{"direction"},
	)

	synthesisCacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_cache_hits_total",
			Help:      "Playback requests served from the synthesis cache",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		turnsTotal,
		turnDuration,
		externalCallDuration,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioBytesTotal,
		synthesisCacheHits,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		TurnsTotal:           turnsTotal,
		TurnDuration:         turnDuration,
		ExternalCallDuration: externalCallDuration,
		SessionsActive:       sessionsActive,
		SessionsTotal:        sessionsTotal,
		SessionDuration:      sessionDuration,
		AudioBytesTotal:      audioBytesTotal,
		SynthesisCacheHits:   synthesisCacheHits,
		ErrorsTotal:          errorsTotal,
	}
}

// Handler returns the metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a completed chat turn.
func (m *Metrics) RecordTurn(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordExternalCall records the duration of one external service call.
func (m *Metrics) RecordExternalCall(service string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordSessionStart records a tutoring session opening.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionEnd records a tutoring session closing.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAudio records audio bytes moving through capture or playback.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSynthesisCacheHit records a playback served without synthesis.
func (m *Metrics) RecordSynthesisCacheHit() {
	if m == nil {
		return
	}
	m.SynthesisCacheHits.Inc()
}

// RecordError records an error by taxonomy type.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
