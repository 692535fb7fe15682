package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives named samples from the processing pipeline.
type Sink interface {
	Publish(name string, value float64)
}

// Metrics contains all Prometheus metrics for the transcription service.
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthFailures      prometheus.Counter

	// Streaming metrics
	FramesReceived     prometheus.Counter
	TranscriptsEmitted prometheus.Counter
	OverloadDrops      prometheus.Counter

	// Named pipeline samples (chunk timing, throughput, GPU state)
	Samples *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "awaaz_active_connections",
			Help: "Current number of open WebSocket connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "awaaz_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "awaaz_auth_failures_total",
			Help: "Total number of connections rejected for bad credentials",
		}),

		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "awaaz_audio_frames_received_total",
			Help: "Total number of binary audio frames received",
		}),
		TranscriptsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "awaaz_transcripts_emitted_total",
			Help: "Total number of transcript messages sent to clients",
		}),
		OverloadDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "awaaz_overload_drops_total",
			Help: "Total number of chunks dropped while all engines were busy",
		}),

		Samples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "awaaz_pipeline_sample",
			Help: "Latest value of a named pipeline measurement",
		}, []string{"name"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "awaaz_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "awaaz_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Publish records a named sample. Implements Sink.
func (m *Metrics) Publish(name string, value float64) {
	m.Samples.WithLabelValues(name).Set(value)
}

// RecordConnectionOpened tracks a newly accepted connection.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed tracks a closed connection.
func (m *Metrics) RecordConnectionClosed() {
	m.ActiveConnections.Dec()
}

// RecordAuthFailure increments the rejected connection counter.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordFrameReceived increments the audio frame counter.
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordTranscriptEmitted increments the transcript counter.
func (m *Metrics) RecordTranscriptEmitted() {
	m.TranscriptsEmitted.Inc()
}

// RecordOverloadDrop increments the dropped chunk counter.
func (m *Metrics) RecordOverloadDrop() {
	m.OverloadDrops.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
