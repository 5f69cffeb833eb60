package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ProviderRequests counts live routing-provider calls by outcome
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traveltime_provider_requests_total", Help: "Routing provider calls by outcome."},
		[]string{"provider", "outcome"},
	)
	// Fallbacks counts per-pair fallback estimates by reason code
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traveltime_fallbacks_total", Help: "Fallback travel-time estimates by reason."},
		[]string{"reason"},
	)
	// CacheLookups counts travel-time cache hits and misses
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traveltime_cache_lookups_total", Help: "Travel-time cache lookups by result."},
		[]string{"result"},
	)
	// MatrixDuration records end-to-end matrix build time in seconds
	MatrixDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "traveltime_matrix_build_seconds", Help: "Travel matrix build duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	// Applies counts plan reconciliations by outcome
	Applies = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_applies_total", Help: "Plan apply operations by outcome."},
		[]string{"outcome"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ProviderRequests)
		Registry.MustRegister(Fallbacks)
		Registry.MustRegister(CacheLookups)
		Registry.MustRegister(MatrixDuration)
		Registry.MustRegister(Applies)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
