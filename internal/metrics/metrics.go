// Package metrics provides Prometheus metrics instrumentation for the controller.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
//
//nolint:interfacebloat // All methods are needed for comprehensive metrics coverage
type Collector interface {
	// Reconcile metrics
	RecordReconcile(ctx context.Context, controller, operation, status string, duration time.Duration)
	RecordReconcileError(ctx context.Context, controller, errorType string)
	RecordPullSecrets(ctx context.Context, registry string, count int)

	// Kubernetes API metrics
	RecordAPICall(ctx context.Context, method, resource, status string, duration time.Duration)
	RecordAPIError(ctx context.Context, method, errorType string)

	// Dispatch metrics
	RecordQueueDepth(ctx context.Context, controller string, depth int)
	RecordWatchRestart(ctx context.Context, kind string)
	RecordSweep(ctx context.Context, kind string, items int, duration time.Duration)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Reconcile metrics
	reconcileDuration    *prometheus.HistogramVec
	reconcileTotal       *prometheus.CounterVec
	reconcileErrorsTotal *prometheus.CounterVec
	pullSecrets          *prometheus.GaugeVec

	// Kubernetes API metrics
	apiDuration    *prometheus.HistogramVec
	apiCallsTotal  *prometheus.CounterVec
	apiErrorsTotal *prometheus.CounterVec

	// Dispatch metrics
	queueDepth         *prometheus.GaugeVec
	watchRestartsTotal *prometheus.CounterVec
	sweepDuration      *prometheus.HistogramVec
	sweepItems         *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initAPIMetrics()
	c.initDispatchMetrics()
	c.register(reg)

	return c
}

// RecordReconcile records a finished reconcile or retract.
func (c *prometheusCollector) RecordReconcile(
	_ context.Context,
	controller, operation, status string,
	duration time.Duration,
) {
	c.reconcileDuration.WithLabelValues(controller, operation).Observe(duration.Seconds())
	c.reconcileTotal.WithLabelValues(controller, operation, status).Inc()
}

// RecordReconcileError records a reconcile error by type.
func (c *prometheusCollector) RecordReconcileError(_ context.Context, controller, errorType string) {
	c.reconcileErrorsTotal.WithLabelValues(controller, errorType).Inc()
}

// RecordPullSecrets records the number of namespaces holding a registry's pull secret.
func (c *prometheusCollector) RecordPullSecrets(_ context.Context, registry string, count int) {
	c.pullSecrets.WithLabelValues(registry).Set(float64(count))
}

// RecordAPICall records a Kubernetes API call.
func (c *prometheusCollector) RecordAPICall(
	_ context.Context,
	method, resource, status string,
	duration time.Duration,
) {
	c.apiDuration.WithLabelValues(method, resource).Observe(duration.Seconds())
	c.apiCallsTotal.WithLabelValues(method, resource, status).Inc()
}

// RecordAPIError records a Kubernetes API error.
func (c *prometheusCollector) RecordAPIError(_ context.Context, method, errorType string) {
	c.apiErrorsTotal.WithLabelValues(method, errorType).Inc()
}

// RecordQueueDepth records the number of pending work items of a controller.
func (c *prometheusCollector) RecordQueueDepth(_ context.Context, controller string, depth int) {
	c.queueDepth.WithLabelValues(controller).Set(float64(depth))
}

// RecordWatchRestart records a resubscription of a watch stream.
func (c *prometheusCollector) RecordWatchRestart(_ context.Context, kind string) {
	c.watchRestartsTotal.WithLabelValues(kind).Inc()
}

// RecordSweep records a periodic full resync.
func (c *prometheusCollector) RecordSweep(_ context.Context, kind string, items int, duration time.Duration) {
	c.sweepDuration.WithLabelValues(kind).Observe(duration.Seconds())
	c.sweepItems.WithLabelValues(kind).Set(float64(items))
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regcred_reconcile_duration_seconds",
			Help:    "Duration of reconcile and retract operations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"controller", "operation"},
	)
	c.reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcred_reconcile_total",
			Help: "Total reconcile and retract operations",
		},
		[]string{"controller", "operation", "status"},
	)
	c.reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcred_reconcile_errors_total",
			Help: "Total reconcile errors by type",
		},
		[]string{"controller", "error_type"},
	)
	c.pullSecrets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regcred_pull_secrets",
			Help: "Number of namespaces holding the image pull secret of a registry",
		},
		[]string{"registry"},
	)
}

func (c *prometheusCollector) initAPIMetrics() {
	c.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regcred_kubernetes_api_duration_seconds",
			Help:    "Duration of Kubernetes API calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "resource"},
	)
	c.apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcred_kubernetes_api_calls_total",
			Help: "Total Kubernetes API calls",
		},
		[]string{"method", "resource", "status"},
	)
	c.apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcred_kubernetes_api_errors_total",
			Help: "Total Kubernetes API errors by type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) initDispatchMetrics() {
	c.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regcred_queue_depth",
			Help: "Pending work items per controller",
		},
		[]string{"controller"},
	)
	c.watchRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcred_watch_restarts_total",
			Help: "Total watch stream resubscriptions",
		},
		[]string{"kind"},
	)
	c.sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regcred_sweep_duration_seconds",
			Help:    "Duration of periodic full resync listings",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)
	c.sweepItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regcred_sweep_items",
			Help: "Resources submitted by the last periodic resync",
		},
		[]string{"kind"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileDuration,
		c.reconcileTotal,
		c.reconcileErrorsTotal,
		c.pullSecrets,
		c.apiDuration,
		c.apiCallsTotal,
		c.apiErrorsTotal,
		c.queueDepth,
		c.watchRestartsTotal,
		c.sweepDuration,
		c.sweepItems,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcile is a no-op.
func (c *NoopCollector) RecordReconcile(_ context.Context, _, _, _ string, _ time.Duration) {}

// RecordReconcileError is a no-op.
func (c *NoopCollector) RecordReconcileError(_ context.Context, _, _ string) {}

// RecordPullSecrets is a no-op.
func (c *NoopCollector) RecordPullSecrets(_ context.Context, _ string, _ int) {}

// RecordAPICall is a no-op.
func (c *NoopCollector) RecordAPICall(_ context.Context, _, _, _ string, _ time.Duration) {}

// RecordAPIError is a no-op.
func (c *NoopCollector) RecordAPIError(_ context.Context, _, _ string) {}

// RecordQueueDepth is a no-op.
func (c *NoopCollector) RecordQueueDepth(_ context.Context, _ string, _ int) {}

// RecordWatchRestart is a no-op.
func (c *NoopCollector) RecordWatchRestart(_ context.Context, _ string) {}

// RecordSweep is a no-op.
func (c *NoopCollector) RecordSweep(_ context.Context, _ string, _ int, _ time.Duration) {}
