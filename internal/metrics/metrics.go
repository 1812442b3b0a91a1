package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Conversion store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_db_queries_total",
			Help: "Total number of conversion store queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_db_query_duration_seconds",
			Help:    "Conversion store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_db_transaction_duration_seconds",
			Help:    "Upsert transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"type"}, // "commit" or "rollback"
	)
)

// Converter metrics
var (
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_conversions_total",
			Help: "Total number of conversion attempts",
		},
		[]string{"format", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_conversion_duration_seconds",
			Help:    "Single-format conversion duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"format"},
	)

	ConversionSavingsPct = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_optimizer_conversion_savings_percent",
			Help:    "Achieved savings of retained candidates relative to the original",
			Buckets: []float64{0, 5, 10, 20, 30, 40, 50, 60, 70, 80, 90},
		},
		[]string{"format"},
	)
)

// Batch scheduler metrics
var (
	BatchRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_optimizer_batch_runs_total",
			Help: "Total number of batch optimization runs started",
		},
	)

	BatchIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_batch_running",
			Help: "Whether a batch run is currently active (1 = running, 0 = idle)",
		},
	)

	BatchAssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_batch_assets_processed_total",
			Help: "Total number of assets processed by batch runs",
		},
		[]string{"status"}, // "optimized", "skipped", "failed"
	)

	BatchLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_batch_last_run_duration_seconds",
			Help: "Duration of the last completed batch run in seconds",
		},
	)

	BatchLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_batch_last_run_timestamp",
			Help: "Unix timestamp of the last completed batch run",
		},
	)
)

// Library-wide optimization state, published by the Collector
var (
	AssetsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_optimizer_assets_by_status",
			Help: "Number of evaluated assets by conversion status",
		},
		[]string{"status"},
	)

	CandidatesByFormat = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_optimizer_candidates_by_format",
			Help: "Number of retained candidate encodings by format",
		},
		[]string{"format"},
	)

	BytesSavedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_bytes_saved_total",
			Help: "Total bytes saved across all optimized assets (best candidate vs original)",
		},
	)

	AverageSavingsPct = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_average_savings_percent",
			Help: "Average savings percentage across optimized assets",
		},
	)

	PendingAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_pending_assets",
			Help: "Number of catalog assets still eligible for optimization",
		},
	)
)

// Negotiator metrics
var (
	NegotiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_optimizer_negotiations_total",
			Help: "Total number of serve-time format negotiations by chosen format",
		},
		[]string{"format"}, // "avif", "webp", or "original"
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_memory_usage_ratio",
			Help: "Current heap usage as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_optimizer_memory_paused",
			Help: "Whether conversion work is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_optimizer_memory_gc_pauses_total",
			Help: "Number of times memory pressure forced a GC and paused conversions",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "image_optimizer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
