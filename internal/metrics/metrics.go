package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verticut_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	SourceUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verticut_source_uploads_total",
			Help: "Total number of source video uploads",
		},
	)

	SourceUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verticut_source_upload_size_bytes",
			Help:    "Size of uploaded source videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 13), // 1MB to 4GB
		},
	)

	// Export Metrics
	ExportsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_exports_created_total",
			Help: "Total number of export jobs created",
		},
		[]string{"platform"},
	)

	ExportsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_exports_completed_total",
			Help: "Total number of finished export jobs",
		},
		[]string{"status"},
	)

	ExportsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verticut_exports_in_progress",
			Help: "Number of exports currently rendering",
		},
	)

	ExportsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verticut_exports_queue_depth",
			Help: "Number of exports waiting in queue",
		},
	)

	ExportsDeadLettered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verticut_exports_dead_lettered",
			Help: "Number of export messages parked in the dead letter queue",
		},
	)

	ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verticut_export_duration_seconds",
			Help:    "Export rendering duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"platform", "caption_strategy"},
	)

	ExportQueueTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verticut_export_queue_time_seconds",
			Help:    "Time exports spend waiting in queue",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	ExportProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verticut_export_progress_percent",
			Help: "Progress of the export currently rendering",
		},
	)

	ExportStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_export_state_transitions_total",
			Help: "Total number of exporter state transitions",
		},
		[]string{"state"},
	)

	ExportOutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verticut_export_output_bytes",
			Help:    "Size of rendered clips in bytes",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 12), // 256KB to 512MB
		},
	)

	RenderSpeed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verticut_render_speed_ratio",
			Help:    "Render speed ratio (clip duration / processing time)",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
		},
		[]string{"caption_strategy"},
	)

	// Caption Metrics
	CaptionRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_caption_renders_total",
			Help: "Total number of exports with burned-in captions by strategy",
		},
		[]string{"strategy"},
	)

	CaptionFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_caption_fallbacks_total",
			Help: "Total number of exports that retried without captions",
		},
		[]string{"reason"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verticut_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verticut_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_webhook_deliveries_total",
			Help: "Total number of webhook deliveries",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verticut_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Business Metrics
	ClipSecondsRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verticut_clip_seconds_rendered_total",
			Help: "Total duration of rendered clips in seconds",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordSourceUpload records an uploaded source video
func RecordSourceUpload(size int64) {
	SourceUploadsTotal.Inc()
	SourceUploadSizeBytes.Observe(float64(size))
}

// RecordExportCreated records an export job creation
func RecordExportCreated(platform string) {
	ExportsCreatedTotal.WithLabelValues(platform).Inc()
}

// RecordExportCompleted records a finished export. Successful exports also
// record render duration, speed and output size.
func RecordExportCompleted(status, platform, strategy string, duration, clipSeconds float64, outputBytes int) {
	ExportsCompletedTotal.WithLabelValues(status).Inc()
	if status != "succeeded" {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	ExportDuration.WithLabelValues(platform, strategy).Observe(duration)
	if duration > 0 {
		RenderSpeed.WithLabelValues(strategy).Observe(clipSeconds / duration)
	}
	ExportOutputBytes.Observe(float64(outputBytes))
	ClipSecondsRendered.Add(clipSeconds)
}

// UpdateExportMetrics updates current export gauges
func UpdateExportMetrics(inProgress, queueDepth int) {
	ExportsInProgress.Set(float64(inProgress))
	ExportsQueueDepth.Set(float64(queueDepth))
}

// UpdateDeadLetterDepth sets the dead letter queue gauge
func UpdateDeadLetterDepth(depth int) {
	ExportsDeadLettered.Set(float64(depth))
}

// RecordQueueTime records how long an export waited before a worker took it
func RecordQueueTime(seconds float64) {
	ExportQueueTime.Observe(seconds)
}

// SetExportProgress publishes the running export's progress
func SetExportProgress(pct float64) {
	ExportProgress.Set(pct)
}

// RecordStateTransition records an exporter entering state
func RecordStateTransition(state string) {
	ExportStateTransitions.WithLabelValues(state).Inc()
}

// RecordCaptionRender records captions burned in with strategy
func RecordCaptionRender(strategy string) {
	CaptionRendersTotal.WithLabelValues(strategy).Inc()
}

// RecordCaptionFallback records a retry without captions
func RecordCaptionFallback(reason string) {
	CaptionFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery outcome
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
