package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing, so callers never need to check.
type Metrics struct {
	Segments        *prometheus.CounterVec
	InFlight        prometheus.Gauge
	SegmentDuration prometheus.Histogram

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UploadSize      prometheus.Histogram
	Retries         prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Segments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parole_segments_total",
			Help: "Recorded segments by outcome (submitted, dropped, filtered, ok, empty, failed)",
		}, []string{"status"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "parole_segments_in_flight",
			Help: "Segments currently being transcribed",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parole_segment_audio_seconds",
			Help:    "Audio duration of submitted segments",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parole_transcription_requests_total",
			Help: "Transcription calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parole_transcription_duration_seconds",
			Help:    "Wall time of a transcription call including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		UploadSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parole_upload_bytes",
			Help:    "Size of uploaded audio payloads",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 12),
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "parole_transcription_retries_total",
			Help: "Retried transcription attempts",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parole_http_requests_total",
			Help: "Requests served by the /api/voxtral route",
		}, []string{"status_code"}),
		HTTPRequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parole_http_request_duration_seconds",
			Help:    "Duration of /api/voxtral requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Segment(status string) {
	if m == nil {
		return
	}
	m.Segments.WithLabelValues(status).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

func (m *Metrics) ObserveSegment(seconds float64) {
	if m == nil {
		return
	}
	m.SegmentDuration.Observe(seconds)
}

func (m *Metrics) ObserveRequest(provider, outcome string, elapsed time.Duration, uploadBytes, retries int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(provider, outcome).Inc()
	m.RequestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	m.UploadSize.Observe(float64(uploadBytes))
	m.Retries.Add(float64(retries))
}

func (m *Metrics) ObserveHTTP(status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
