package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_indexer_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"error_type"},
	)

	// Indexing metrics
	LastSyncedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_indexer_last_synced_block",
			Help: "The last block number durably synced per chain",
		},
		[]string{"chain"},
	)

	ChainHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_indexer_chain_head",
			Help: "The latest head block reported by the RPC per chain",
		},
		[]string{"chain"},
	)

	EventsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_events_indexed_total",
			Help: "Total number of events indexed",
		},
		[]string{"chain", "event_type"},
	)

	DuplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_duplicate_events_total",
			Help: "Total number of duplicate events skipped by the store",
		},
		[]string{"chain"},
	)

	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_polls_total",
			Help: "Total number of poll iterations per chain",
		},
		[]string{"chain"},
	)

	ChainLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_indexer_chain_lag_blocks",
			Help: "Blocks between the chain head and the sync cursor",
		},
		[]string{"chain"},
	)

	IndexerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_restarts_total",
			Help: "Total number of supervisor restarts per chain",
		},
		[]string{"chain"},
	)

	// RPC provider metrics
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_rpc_requests_total",
			Help: "Total number of upstream RPC requests",
		},
		[]string{"chain", "outcome"},
	)

	rpcLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_indexer_rpc_request_duration_seconds",
			Help:    "Duration of upstream RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	providerHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_indexer_provider_healthy",
			Help: "Provider health status (1=healthy, 0=unhealthy)",
		},
		[]string{"chain", "provider"},
	)

	providerRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_indexer_provider_rotations_total",
			Help: "Total number of provider rotations",
		},
		[]string{"chain", "reason"},
	)

	// Broadcast bus metrics
	BusPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_indexer_bus_published_total",
			Help: "Total number of events published on the broadcast bus",
		},
	)

	BusDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_indexer_bus_dropped_total",
			Help: "Total number of events dropped for lagging subscribers",
		},
	)

	BusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_indexer_bus_subscribers",
			Help: "Current number of broadcast bus subscribers",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_indexer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_indexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_indexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(operation string) {
	dbQueries.WithLabelValues(operation).Inc()
}

func DBQueryDuration(operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func DBErrorsInc(errorType string) {
	dbErrors.WithLabelValues(errorType).Inc()
}

func RPCRequestInc(chain string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	rpcRequests.WithLabelValues(chain, outcome).Inc()
}

func RPCRequestDuration(chain string, duration time.Duration) {
	rpcLatency.WithLabelValues(chain).Observe(duration.Seconds())
}

func ProviderHealthySet(chain, provider string, healthy bool) {
	v := float64(1)
	if !healthy {
		v = 0
	}
	providerHealthy.WithLabelValues(chain, provider).Set(v)
}

func ProviderRotationInc(chain, reason string) {
	providerRotations.WithLabelValues(chain, reason).Inc()
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
