package prometheus

import (
	"time"

	"github.com/VictorHugoLeme/multitenancy/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Tenant lifecycle metrics
	TenantOperationsCounter prometheus.CounterVec

	// Tenant context metrics
	TenantContextMissingCounter  prometheus.Counter
	TenantContextRejectedCounter prometheus.Counter

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec

	// Product metrics
	ProductOperationsCounter prometheus.CounterVec

	metricPrefix string
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	// Use metric prefix from configuration
	metricPrefix = config.Metrics.Prefix

	// HTTP request metrics
	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration
	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Tenant lifecycle metrics
	TenantOperationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "_tenant_operations_total",
			Help: "Total number of tenant lifecycle operations",
		},
		[]string{"operation"},
	)

	// Tenant context metrics
	TenantContextMissingCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "_tenant_context_missing_total",
			Help: "Total number of requests without a tenant code header",
		},
	)

	TenantContextRejectedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "_tenant_context_rejected_total",
			Help: "Total number of requests rejected for an unknown or inactive tenant",
		},
	)

	// Database operation metrics
	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	// Product metrics
	ProductOperationsCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "_product_operations_total",
			Help: "Total number of product operations",
		},
		[]string{"operation"},
	)
}

// RegisterTenantPoolsGauge exposes the current number of live tenant
// connection pools through a gauge backed by the provided callback.
func RegisterTenantPoolsGauge(f func() float64) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "_tenant_pools",
			Help: "Number of live tenant connection pools",
		},
		f,
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordTenantOperation increments the counter for tenant lifecycle operations
func RecordTenantOperation(operation string) {
	TenantOperationsCounter.WithLabelValues(operation).Inc()
}

// RecordProductOperation increments the counter for product operations
func RecordProductOperation(operation string) {
	ProductOperationsCounter.WithLabelValues(operation).Inc()
}
