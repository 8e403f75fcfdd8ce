package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the admin API, the tick loop
// and the inbound worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	packetsSentTotal        *prometheus.CounterVec
	transportFailuresTotal  *prometheus.CounterVec
	flushDuration           prometheus.Histogram
	flushedMessagesTotal    *prometheus.CounterVec
	rateLimitDecisionsTotal *prometheus.CounterVec
	handlerFailuresTotal    *prometheus.CounterVec
	inboundMessagesTotal    *prometheus.CounterVec
	inboundDroppedTotal     *prometheus.CounterVec
	callsPending            prometheus.Gauge
	callsCompletedTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "http_requests_total",
				Help:      "Total number of admin HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "netevents",
				Name:      "http_request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		packetsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "packets_sent_total",
				Help:      "Total number of packets handed to the transport successfully.",
			},
			[]string{"namespace", "channel", "mode"},
		),
		transportFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "transport_failures_total",
				Help:      "Total number of failed transport sends.",
			},
			[]string{"namespace", "channel", "mode"},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "netevents",
				Name:      "flush_duration_seconds",
				Help:      "Duration of one batch flush in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		flushedMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "flushed_messages_total",
				Help:      "Total number of buffered messages flushed by outcome.",
			},
			[]string{"namespace", "outcome"},
		),
		rateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of inbound rate-limit decisions.",
			},
			[]string{"namespace", "decision"},
		),
		handlerFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "handler_failures_total",
				Help:      "Total number of event handler invocations that failed or panicked.",
			},
			[]string{"namespace", "event"},
		),
		inboundMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "inbound_messages_total",
				Help:      "Total number of inbound messages routed to a namespace.",
			},
			[]string{"namespace", "kind"},
		),
		inboundDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "inbound_dropped_total",
				Help:      "Total number of inbound messages dropped before reaching a handler.",
			},
			[]string{"reason"},
		),
		callsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "netevents",
				Name:      "calls_pending",
				Help:      "Current number of outstanding calls awaiting a response.",
			},
		),
		callsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "netevents",
				Name:      "calls_completed_total",
				Help:      "Total number of calls settled by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.packetsSentTotal,
		m.transportFailuresTotal,
		m.flushDuration,
		m.flushedMessagesTotal,
		m.rateLimitDecisionsTotal,
		m.handlerFailuresTotal,
		m.inboundMessagesTotal,
		m.inboundDroppedTotal,
		m.callsPending,
		m.callsCompletedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncPacketSent(namespace, channel, mode string) {
	if m == nil {
		return
	}
	m.packetsSentTotal.WithLabelValues(normalizeLabel(namespace), normalizeLabel(channel), normalizeLabel(mode)).Inc()
}

func (m *Metrics) IncTransportFailure(namespace, channel, mode string) {
	if m == nil {
		return
	}
	m.transportFailuresTotal.WithLabelValues(normalizeLabel(namespace), normalizeLabel(channel), normalizeLabel(mode)).Inc()
}

func (m *Metrics) ObserveFlushDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.flushDuration.Observe(seconds)
}

// AddFlushedMessages records messages leaving a namespace buffer; outcome is
// "sent" or "dropped".
func (m *Metrics) AddFlushedMessages(namespace, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.flushedMessagesTotal.WithLabelValues(normalizeLabel(namespace), normalizeLabel(outcome)).Add(float64(count))
}

func (m *Metrics) IncRateLimitDecision(namespace string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.rateLimitDecisionsTotal.WithLabelValues(normalizeLabel(namespace), decision).Inc()
}

func (m *Metrics) IncHandlerFailure(namespace, event string) {
	if m == nil {
		return
	}
	m.handlerFailuresTotal.WithLabelValues(normalizeLabel(namespace), normalizeLabel(event)).Inc()
}

func (m *Metrics) IncInboundMessage(namespace, kind string) {
	if m == nil {
		return
	}
	m.inboundMessagesTotal.WithLabelValues(normalizeLabel(namespace), normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncInboundDropped(reason string) {
	if m == nil {
		return
	}
	m.inboundDroppedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncCallsPending() {
	if m == nil {
		return
	}
	m.callsPending.Inc()
}

// CallSettled moves one call out of the pending gauge; outcome is one of
// "fulfilled", "rejected" or "timed_out".
func (m *Metrics) CallSettled(outcome string) {
	if m == nil {
		return
	}
	m.callsPending.Dec()
	m.callsCompletedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
