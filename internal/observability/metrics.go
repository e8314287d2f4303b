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

// Metrics stores Prometheus collectors for the API surface and dispatch flow.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	dispatchOutcomesTotal *prometheus.CounterVec
	providerSendDuration  *prometheus.HistogramVec
	dispatchInflight      *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_gateway",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_gateway",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notify_gateway",
				Name:      "dispatch_outcomes_total",
				Help:      "Total number of per-channel dispatch outcomes by terminal status.",
			},
			[]string{"channel", "status"},
		),
		providerSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notify_gateway",
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notify_gateway",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight provider calls grouped by channel.",
			},
			[]string{"channel"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchOutcomesTotal,
		m.providerSendDuration,
		m.dispatchInflight,
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

func (m *Metrics) IncDispatchOutcome(channel string, status string) {
	if m == nil {
		return
	}
	statusLabel := strings.TrimSpace(strings.ToLower(status))
	if statusLabel == "" {
		statusLabel = "unknown"
	}
	m.dispatchOutcomesTotal.WithLabelValues(normalizeChannel(channel), statusLabel).Inc()
}

func (m *Metrics) ObserveProviderSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeChannel(channel)).Dec()
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

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
