package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Metrics stores Prometheus collectors used by the HTTP surface and the
// tracking services.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	webhookEventsTotal  *prometheus.CounterVec
	sendsTotal          *prometheus.CounterVec
	sendDuration        prometheus.Histogram
	resendOutcomesTotal *prometheus.CounterVec
	purgedMessagesTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailtrack",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mailtrack",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		webhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailtrack",
				Name:      "webhook_events_total",
				Help:      "Provider webhook events grouped by kind and correlation outcome.",
			},
			[]string{"kind", "outcome"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailtrack",
				Name:      "sends_total",
				Help:      "Outbound submissions grouped by outcome.",
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mailtrack",
				Name:      "send_duration_seconds",
				Help:      "Provider submission duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		resendOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mailtrack",
				Name:      "resend_outcomes_total",
				Help:      "Bounce resend outcomes grouped by result and reason.",
			},
			[]string{"result", "reason"},
		),
		purgedMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mailtrack",
				Name:      "purged_messages_total",
				Help:      "Total number of messages removed by retention purges.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.webhookEventsTotal,
		m.sendsTotal,
		m.sendDuration,
		m.resendOutcomesTotal,
		m.purgedMessagesTotal,
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
		if path == metricsPath {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncWebhookEvent(kind string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSend(outcome string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.Observe(seconds)
}

func (m *Metrics) IncResendOutcome(result string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "none"
	}
	m.resendOutcomesTotal.WithLabelValues(normalizeLabel(result), reasonLabel).Inc()
}

func (m *Metrics) AddPurgedMessages(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purgedMessagesTotal.Add(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, path).Observe(duration.Seconds())
}

// routePath returns the route template, so webhook secrets and message ids
// never become label values.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
		return route.Path
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
