package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
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

    // MatrixBuilds counts distance matrices by the strategy that produced them
    MatrixBuilds = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "matrix_builds_total", Help: "Distance matrices built, by method."},
        []string{"method"},
    )
    // CacheLookups counts matrix/pair cache lookups by kind and result (hit, miss, error)
    CacheLookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "matrix_cache_lookups_total", Help: "Distance cache lookups by kind and result."},
        []string{"kind", "result"},
    )
    // RoadRequests counts road network API calls by endpoint and outcome
    RoadRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "roadnet_requests_total", Help: "Road network API requests by endpoint and outcome."},
        []string{"endpoint", "outcome"},
    )
    // OptimizeDuration tracks optimizer wall time by algorithm
    OptimizeDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Optimizer run time in seconds.", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}},
        []string{"algorithm"},
    )

    SimTicks = prometheus.NewCounter(prometheus.CounterOpts{Name: "sim_ticks_total", Help: "Simulation ticks processed."})
    // SimReoptimizations counts re-optimization attempts by outcome (applied, stale, empty, no_vehicles, error)
    SimReoptimizations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "sim_reoptimizations_total", Help: "Simulation re-optimizations by outcome."},
        []string{"outcome"},
    )
    SimQueueLength = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "sim_queue_length", Help: "Queued tickets per simulation session."},
        []string{"session"},
    )
    // WebhookDeliveries counts webhook POST attempts by outcome (delivered, retry, failed)
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by outcome."},
        []string{"outcome"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(MatrixBuilds)
        Registry.MustRegister(CacheLookups)
        Registry.MustRegister(RoadRequests)
        Registry.MustRegister(OptimizeDuration)
        Registry.MustRegister(SimTicks)
        Registry.MustRegister(SimReoptimizations)
        Registry.MustRegister(SimQueueLength)
        Registry.MustRegister(WebhookDeliveries)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
