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

// ClearingMetrics tracks engine operations, open bucket depth and fees.
type ClearingMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	openBuckets *prometheus.GaugeVec
	fees        *prometheus.CounterVec
	events      *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	clearingMetricsOnce sync.Once
	clearingRegistry    *ClearingMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clearing",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
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
// reason. Reasons should be stable strings such as "rate_limit".
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

// Clearing returns the singleton metrics registry for the clearing engine.
func Clearing() *ClearingMetrics {
	clearingMetricsOnce.Do(func() {
		clearingRegistry = &ClearingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of clearing operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clearing",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for clearing operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			openBuckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "clearing",
				Subsystem: "engine",
				Name:      "open_buckets",
				Help:      "Number of buckets with unexercised collateral per option type.",
			}, []string{"option"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "engine",
				Name:      "fees_accrued_total",
				Help:      "Fees accrued per asset in base units.",
			}, []string{"asset"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clearing",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Committed clearing events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			clearingRegistry.operations,
			clearingRegistry.latency,
			clearingRegistry.openBuckets,
			clearingRegistry.fees,
			clearingRegistry.events,
		)
	})
	return clearingRegistry
}

// ObserveOperation records the outcome label and latency of one operation.
// Outcome is "success" or the error category.
func (m *ClearingMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "success"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetOpenBuckets publishes the open bucket count of an option type.
func (m *ClearingMetrics) SetOpenBuckets(option string, count int) {
	if m == nil {
		return
	}
	m.openBuckets.WithLabelValues(option).Set(float64(count))
}

// AddFees adds accrued fee units for an asset. Amounts beyond float64
// precision are approximated.
func (m *ClearingMetrics) AddFees(asset string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.fees.WithLabelValues(strings.ToLower(strings.TrimSpace(asset))).Add(amount)
}

// RecordEvent counts a committed event.
func (m *ClearingMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}
