package observe

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the request logger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsTotal      *prometheus.CounterVec
	SessionDuration    *prometheus.HistogramVec
	SessionsInFlight   prometheus.Gauge
	AdapterFailures    *prometheus.CounterVec
	TasksDropped       *prometheus.CounterVec
	TasksOverflowed    *prometheus.CounterVec
	BodyParseFallbacks prometheus.Counter
}

// NewMetrics creates and registers all request logger metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqlog_sessions_total",
				Help: "Logging sessions completed, by outcome and response status class.",
			},
			[]string{"outcome", "status_class"},
		),
		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "reqlog_session_duration_seconds",
				Help: "Time from request snapshot to response completion.",
				// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		SessionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reqlog_sessions_in_flight",
				Help: "Sessions whose response has not completed yet.",
			},
		),
		AdapterFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqlog_adapter_failures_total",
				Help: "Adapter calls that returned an error or panicked.",
			},
			[]string{"call"},
		),
		TasksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqlog_tasks_dropped_total",
				Help: "Adapter calls dropped because the dispatch queue was full or closed.",
			},
			[]string{"call"},
		),
		TasksOverflowed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqlog_tasks_overflowed_total",
				Help: "Adapter calls run outside the workers because the dispatch queue was full or closed.",
			},
			[]string{"call"},
		),
		BodyParseFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reqlog_body_parse_fallbacks_total",
				Help: "JSON-typed bodies that did not parse and were logged as raw strings.",
			},
		),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.SessionDuration,
		m.SessionsInFlight,
		m.AdapterFailures,
		m.TasksDropped,
		m.TasksOverflowed,
		m.BodyParseFallbacks,
	)

	return m
}

// SessionStarted marks a session as in flight.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsInFlight.Inc()
}

// SessionFinished records the end of a session.
func (m *Metrics) SessionFinished(method, outcome string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionsInFlight.Dec()
	m.SessionsTotal.WithLabelValues(outcome, StatusClass(status)).Inc()
	m.SessionDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// AdapterFailed counts a failed adapter call.
func (m *Metrics) AdapterFailed(call string) {
	if m == nil {
		return
	}
	m.AdapterFailures.WithLabelValues(call).Inc()
}

// TaskDropped counts an adapter call that never ran.
func (m *Metrics) TaskDropped(call string) {
	if m == nil {
		return
	}
	m.TasksDropped.WithLabelValues(call).Inc()
}

// TaskOverflowed counts an adapter call that ran on its own goroutine.
func (m *Metrics) TaskOverflowed(call string) {
	if m == nil {
		return
	}
	m.TasksOverflowed.WithLabelValues(call).Inc()
}

// BodyParseFallback counts a JSON body logged as a raw string.
func (m *Metrics) BodyParseFallback() {
	if m == nil {
		return
	}
	m.BodyParseFallbacks.Inc()
}

// StatusClass returns "2xx" style labels; 0 and out-of-range codes are "none".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Handler returns the HTTP handler for the /metrics endpoint of reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
