package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	relayMetricsOnce sync.Once
	relayRegistry    *RelayMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditnet",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditnet",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditnet",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditnet",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected before dispatch, segmented by reason.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// stay consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RelayMetrics wraps collectors tracking webhook relay health.
type RelayMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	dropped    *prometheus.CounterVec
	backlog    *prometheus.GaugeVec
}

// Relay exposes the metrics registry for the event relay.
func Relay() *RelayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditnet",
				Subsystem: "relay",
				Name:      "deliveries_total",
				Help:      "Count of webhook delivery attempts segmented by target and outcome.",
			}, []string{"target", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditnet",
				Subsystem: "relay",
				Name:      "delivery_duration_seconds",
				Help:      "Latency distribution for webhook deliveries per target.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"target"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditnet",
				Subsystem: "relay",
				Name:      "dropped_total",
				Help:      "Count of envelopes abandoned after exhausting delivery attempts.",
			}, []string{"target"}),
			backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditnet",
				Subsystem: "relay",
				Name:      "backlog",
				Help:      "Envelopes recorded in the journal but not yet acked per target.",
			}, []string{"target"}),
		}
		prometheus.MustRegister(
			relayRegistry.deliveries,
			relayRegistry.latency,
			relayRegistry.dropped,
			relayRegistry.backlog,
		)
	})
	return relayRegistry
}

// ObserveDelivery records a single delivery attempt for a target.
func (m *RelayMetrics) ObserveDelivery(target string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	target = labelOrUnknown(target)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.deliveries.WithLabelValues(target, outcome).Inc()
	m.latency.WithLabelValues(target).Observe(duration.Seconds())
}

// IncDropped counts an envelope abandoned after the retry budget ran out.
func (m *RelayMetrics) IncDropped(target string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelOrUnknown(target)).Inc()
}

// SetBacklog publishes the journal backlog depth for a target.
func (m *RelayMetrics) SetBacklog(target string, depth uint64) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues(labelOrUnknown(target)).Set(float64(depth))
}

func labelOrUnknown(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return label
}
