package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CatalogRequestsTotal tracks catalog lookups by operation and cache outcome
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offtrack_catalog_requests_total",
			Help: "Total number of catalog lookups",
		},
		[]string{"operation", "cache"},
	)

	// CatalogRemoteDuration tracks remote catalog call duration
	CatalogRemoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offtrack_catalog_remote_duration_seconds",
			Help:    "Remote catalog call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DownloadsTotal tracks finished downloads by status
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offtrack_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	// DownloadDuration tracks download duration in seconds
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offtrack_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		},
	)

	// QueueSize tracks current play list plus background list size
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offtrack_queue_size",
			Help: "Current queue size",
		},
	)

	// ActiveDownloads tracks number of active downloads
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offtrack_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offtrack_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// ProxySessionsTotal tracks proxy sessions by outcome
	ProxySessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offtrack_proxy_sessions_total",
			Help: "Total number of streaming proxy sessions",
		},
		[]string{"outcome"},
	)

	// ProxyBytesServed tracks bytes written to the local player
	ProxyBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offtrack_proxy_bytes_served_total",
			Help: "Total bytes served by the streaming proxy",
		},
	)

	// CleanerFilesDeleted tracks files removed by the cache cleaner
	CleanerFilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offtrack_cleaner_files_deleted_total",
			Help: "Total number of files deleted by the cache cleaner",
		},
		[]string{"sweep"},
	)

	// CleanerBytesDeleted tracks bytes freed by the cache cleaner
	CleanerBytesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offtrack_cleaner_bytes_deleted_total",
			Help: "Total bytes freed by the cache cleaner",
		},
	)

	// CacheBytesUsed tracks the size of cache artifacts on disk
	CacheBytesUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offtrack_cache_bytes_used",
			Help: "Bytes used by cached tracks",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offtrack_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordCatalogHit records a lookup answered from cache
func RecordCatalogHit(operation string) {
	CatalogRequestsTotal.WithLabelValues(operation, "hit").Inc()
}

// RecordCatalogMiss records a lookup that reached the remote client
func RecordCatalogMiss(operation string, duration time.Duration, err error) {
	CatalogRequestsTotal.WithLabelValues(operation, "miss").Inc()
	CatalogRemoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		ErrorsTotal.WithLabelValues("catalog").Inc()
	}
}

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed").Inc()
	DownloadDuration.Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed download
func RecordDownloadFailed(errorType string) {
	DownloadsTotal.WithLabelValues("failed").Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// RecordDownloadCancelled records a download stopped by the user or a queue change
func RecordDownloadCancelled() {
	DownloadsTotal.WithLabelValues("cancelled").Inc()
	ActiveDownloads.Dec()
}

// UpdateQueueSize updates the queue size metric
func UpdateQueueSize(size int) {
	QueueSize.Set(float64(size))
}

// RecordProxySession records the end of a proxy session
func RecordProxySession(outcome string, bytes int64) {
	ProxySessionsTotal.WithLabelValues(outcome).Inc()
	ProxyBytesServed.Add(float64(bytes))
}

// RecordCleanerSweep records the outcome of one cleaner sweep
func RecordCleanerSweep(sweep string, files int, bytes int64, used int64) {
	CleanerFilesDeleted.WithLabelValues(sweep).Add(float64(files))
	CleanerBytesDeleted.Add(float64(bytes))
	CacheBytesUsed.Set(float64(used))
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
