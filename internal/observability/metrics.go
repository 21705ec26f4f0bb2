package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	appendRejected  *prometheus.CounterVec
	hubSessions     prometheus.Gauge
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	framesDropped   prometheus.Counter
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_channel_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticket_channel_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		httpErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_channel_http_errors_total",
				Help: "HTTP requests answered with a domain error",
			},
			[]string{"method", "path", "code"},
		),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_channel_messages_appended_total",
				Help: "Messages appended to ticket threads",
			},
			[]string{"sender_role"},
		),
		appendRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_channel_append_rejected_total",
				Help: "Append attempts rejected",
			},
			[]string{"code"},
		),
		hubSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticket_channel_hub_sessions",
				Help: "Live channel sessions",
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticket_channel_hub_events_published_total",
				Help: "Events accepted by the hub",
			},
			[]string{"type"},
		),
		eventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ticket_channel_hub_events_dropped_total",
				Help: "Events dropped because the hub queue was full",
			},
		),
		framesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ticket_channel_hub_frames_dropped_total",
				Help: "Frames dropped because a subscriber buffer was full",
			},
		),
	}
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, path, code).Inc()
}

// RecordMessage counts an accepted append.
func (m *Metrics) RecordMessage(role string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role).Inc()
}

// RecordAppendRejected counts a rejected append by error code.
func (m *Metrics) RecordAppendRejected(code string) {
	if m == nil {
		return
	}
	m.appendRejected.WithLabelValues(code).Inc()
}

// SessionOpened and SessionClosed track live channel sessions.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.hubSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.hubSessions.Dec()
}

// RecordEventPublished counts an event accepted by the hub queue.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event rejected by a full hub queue.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// RecordFrameDropped counts a frame dropped for one slow subscriber.
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}
