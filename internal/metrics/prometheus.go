package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription relay
type Metrics struct {
	// Upload metrics
	UploadsStarted   prometheus.Counter
	UploadsSucceeded prometheus.Counter
	UploadsFailed    prometheus.Counter
	SlicesUploaded   prometheus.Counter
	UploadedBytes    prometheus.Counter
	UploadDuration   prometheus.Histogram

	// Poll metrics
	PollRequests *prometheus.CounterVec
	WaitDuration prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Media pre-processing metrics
	ExtractionsStarted prometheus.Counter
	ExtractionsFailed  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Upload metrics
		UploadsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_uploads_started_total",
			Help: "Total number of upload submissions started",
		}),
		UploadsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_uploads_succeeded_total",
			Help: "Total number of upload submissions that produced a job id",
		}),
		UploadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_uploads_failed_total",
			Help: "Total number of failed upload submissions",
		}),
		SlicesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_slices_uploaded_total",
			Help: "Total number of chunked upload pieces sent",
		}),
		UploadedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_uploaded_bytes_total",
			Help: "Total media bytes sent to the remote service",
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lfasr_upload_duration_seconds",
			Help:    "Duration of complete upload submissions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8.5 minutes
		}),

		// Poll metrics
		PollRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lfasr_poll_requests_total",
			Help: "Total number of status polls by resulting status",
		}, []string{"status"}),
		WaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lfasr_wait_duration_seconds",
			Help:    "Time from first poll to a terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_cache_hits_total",
			Help: "Total number of result cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_cache_misses_total",
			Help: "Total number of result cache misses",
		}),

		// Media pre-processing metrics
		ExtractionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_audio_extractions_started_total",
			Help: "Total number of video-to-audio extractions started",
		}),
		ExtractionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lfasr_audio_extractions_failed_total",
			Help: "Total number of failed video-to-audio extractions",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lfasr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lfasr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lfasr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUploadStarted increments the uploads started counter
func (m *Metrics) RecordUploadStarted() {
	m.UploadsStarted.Inc()
}

// RecordUploadSucceeded records a completed submission and its duration
func (m *Metrics) RecordUploadSucceeded(durationSeconds float64) {
	m.UploadsSucceeded.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailed records a failed submission and its duration
func (m *Metrics) RecordUploadFailed(durationSeconds float64) {
	m.UploadsFailed.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordSliceUploaded records one chunked piece sent
func (m *Metrics) RecordSliceUploaded(sizeBytes int) {
	m.SlicesUploaded.Inc()
	m.UploadedBytes.Add(float64(sizeBytes))
}

// RecordPoll increments the poll counter for a resulting status
func (m *Metrics) RecordPoll(status string) {
	m.PollRequests.WithLabelValues(status).Inc()
}

// RecordWaitFinished records the time a wait loop took to reach a
// terminal status
func (m *Metrics) RecordWaitFinished(durationSeconds float64) {
	m.WaitDuration.Observe(durationSeconds)
}

// RecordCacheHit increments the cache hit counter
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordExtractionStarted increments the extractions started counter
func (m *Metrics) RecordExtractionStarted() {
	m.ExtractionsStarted.Inc()
}

// RecordExtractionFailed increments the extractions failed counter
func (m *Metrics) RecordExtractionFailed() {
	m.ExtractionsFailed.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
