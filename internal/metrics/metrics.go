// Package metrics holds the Prometheus collectors for the coordinator and
// the token proxy.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/signally/schema"
)

// Metrics holds all Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Coordinator events
	EventsTotal        *prometheus.CounterVec
	EventsDroppedTotal *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	SummariesTotal     *prometheus.CounterVec

	// Sessions
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Surfaces
	SurfacesAttached *prometheus.GaugeVec

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Token proxy
	TokensTotal *prometheus.CounterVec

	mu             sync.Mutex
	recordingSince time.Time
}

// NewMetrics creates a Metrics instance with every collector registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "signally"
	}
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events fanned out to surfaces",
		},
		[]string{"type"},
	)
	eventsDroppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of event deliveries dropped on full subscribers",
		},
		[]string{"kind"},
	)
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of recording state transitions by target state",
		},
		[]string{"state"},
	)
	summariesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of summarization outcomes",
		},
		[]string{"status"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recording sessions in progress",
		},
	)
	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Recording session duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		},
	)
	surfacesAttached := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "surfaces_attached",
			Help:      "Number of attached presentation surfaces",
		},
		[]string{"kind"},
	)
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route", "method"},
	)
	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of client secret requests by outcome",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		eventsTotal,
		eventsDroppedTotal,
		transitionsTotal,
		summariesTotal,
		sessionsActive,
		sessionDuration,
		surfacesAttached,
		requestsTotal,
		requestDuration,
		tokensTotal,
	)

	return &Metrics{
		registry:           registry,
		EventsTotal:        eventsTotal,
		EventsDroppedTotal: eventsDroppedTotal,
		TransitionsTotal:   transitionsTotal,
		SummariesTotal:     summariesTotal,
		SessionsActive:     sessionsActive,
		SessionDuration:    sessionDuration,
		SurfacesAttached:   surfacesAttached,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
		TokensTotal:        tokensTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnEvent records a coordinator event.
func (m *Metrics) OnEvent(event schema.Event) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case schema.EventStateChanged:
		m.TransitionsTotal.WithLabelValues(string(event.State)).Inc()
		m.observeState(event.State, event.Timestamp)
	case schema.EventSummaryGenerated:
		m.SummariesTotal.WithLabelValues("ok").Inc()
	case schema.EventSummaryError:
		m.SummariesTotal.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) observeState(state schema.SessionState, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case state == schema.StateRecording && m.recordingSince.IsZero():
		m.recordingSince = at
		m.SessionsActive.Inc()
	case state != schema.StateRecording && !m.recordingSince.IsZero():
		m.SessionDuration.Observe(at.Sub(m.recordingSince).Seconds())
		m.recordingSince = time.Time{}
		m.SessionsActive.Dec()
	}
}

// RecordDrop records dropped deliveries for a surface kind.
func (m *Metrics) RecordDrop(kind schema.SurfaceKind, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(string(kind)).Add(float64(count))
}

// RecordSurfaceAttach records a surface subscribing.
func (m *Metrics) RecordSurfaceAttach(kind schema.SurfaceKind) {
	if m == nil {
		return
	}
	m.SurfacesAttached.WithLabelValues(string(kind)).Inc()
}

// RecordSurfaceDetach records a surface unsubscribing.
func (m *Metrics) RecordSurfaceDetach(kind schema.SurfaceKind) {
	if m == nil {
		return
	}
	m.SurfacesAttached.WithLabelValues(string(kind)).Dec()
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordToken records a client secret request outcome.
func (m *Metrics) RecordToken(status string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(status).Inc()
}
