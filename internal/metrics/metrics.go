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

	// WSConnections gauges the number of registered websocket connections
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ws_connections", Help: "Currently registered websocket connections."},
	)
	// EventsPublished counts events handed to the hub by event type
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_published_total", Help: "Events published, by type."},
		[]string{"type"},
	)
	// EventsDelivered counts per-connection deliveries by event type
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_delivered_total", Help: "Per-connection event deliveries, by type."},
		[]string{"type"},
	)
	// DeliveryFailures counts connections dropped on a failed write
	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "event_delivery_failures_total", Help: "Deliveries that failed and dropped the connection."},
	)
	// CronRuns counts scheduled producer executions by job and outcome
	CronRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cron_runs_total", Help: "Scheduled producer runs by job and outcome."},
		[]string{"job", "outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WSConnections)
		Registry.MustRegister(EventsPublished)
		Registry.MustRegister(EventsDelivered)
		Registry.MustRegister(DeliveryFailures)
		Registry.MustRegister(CronRuns)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
