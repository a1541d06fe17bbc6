package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zip-drop/internal/artifact"
)

const metricsNamespace = "zipdrop"

// Metrics holds application metrics
type Metrics struct {
	// Upload metrics
	uploadsTotal      prometheus.Counter
	uploadBytesTotal  prometheus.Counter
	uploadErrorsTotal *prometheus.CounterVec
	uploadDuration    prometheus.Histogram

	// Download metrics
	downloadsTotal      prometheus.Counter
	downloadBytesTotal  prometheus.Counter
	downloadErrorsTotal prometheus.Counter
	downloadDuration    prometheus.Histogram

	// Current archive
	archiveBytes    prometheus.Gauge
	archiveUploaded prometheus.Gauge

	// System metrics
	requestsTotal *prometheus.CounterVec
}

// NewMetrics registers the service metrics, plus the Go and process
// collectors, on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		uploadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Total number of archives promoted",
		}),
		uploadBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes of promoted archives",
		}),
		uploadErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_errors_total",
			Help:      "Failed upload attempts by outcome",
		}, []string{"outcome"}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from request start to promotion",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
		}),
		downloadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloads_total",
			Help:      "Total number of downloads served",
		}),
		downloadBytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "download_bytes_total",
			Help:      "Total archive bytes offered to downloads",
		}),
		downloadErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "download_errors_total",
			Help:      "Downloads that failed on a missing or inconsistent archive",
		}),
		downloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent serving a download",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
		}),
		archiveBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "archive_size_bytes",
			Help:      "Size of the current archive, 0 when none",
		}),
		archiveUploaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "archive_uploaded_timestamp_seconds",
			Help:      "Unix time the current archive was uploaded, 0 when none",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code",
		}, []string{"code"}),
	}
}

// RecordUpload records a successful upload
func (m *Metrics) RecordUpload(bytes int64, duration time.Duration) {
	m.uploadsTotal.Inc()
	m.uploadBytesTotal.Add(float64(bytes))
	m.uploadDuration.Observe(duration.Seconds())
}

// RecordUploadError records an upload error
func (m *Metrics) RecordUploadError(outcome string) {
	m.uploadErrorsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload records a successful download
func (m *Metrics) RecordDownload(bytes int64, duration time.Duration) {
	m.downloadsTotal.Inc()
	m.downloadBytesTotal.Add(float64(bytes))
	m.downloadDuration.Observe(duration.Seconds())
}

// RecordDownloadError records a download error
func (m *Metrics) RecordDownloadError() {
	m.downloadErrorsTotal.Inc()
}

// RecordRequest records an HTTP request by status
func (m *Metrics) RecordRequest(status int) {
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// SetCurrentArchive publishes the promoted archive's size and upload time.
func (m *Metrics) SetCurrentArchive(meta artifact.Metadata) {
	if !meta.HasFile {
		m.archiveBytes.Set(0)
		m.archiveUploaded.Set(0)
		return
	}
	m.archiveBytes.Set(float64(meta.Size))
	m.archiveUploaded.Set(float64(meta.UploadedAt.Unix()))
}
