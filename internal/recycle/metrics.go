package recycle

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/bluebin/internal/detection"
)

// Metrics holds the Prometheus collectors for capture cycles and feedback.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	detections      *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	detectorErrors  *prometheus.CounterVec
	feedbackSaved   *prometheus.CounterVec
	detectLatency   prometheus.Histogram
	sessionsCurrent prometheus.GaugeFunc
}

// NewMetrics creates Metrics on a private registry. sessions may be nil.
func NewMetrics(sessions *Sessions) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluebin_capture_cycles_total",
			Help: "Capture cycles by outcome",
		}, []string{"outcome"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluebin_detections_total",
			Help: "Validated detections by recyclability",
		}, []string{"recyclable"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluebin_rejected_candidates_total",
			Help: "Reply elements dropped by the normalizer",
		}, []string{"reason"}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluebin_detector_errors_total",
			Help: "Detector failures by kind",
		}, []string{"kind"}),
		feedbackSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluebin_feedback_saved_total",
			Help: "Feedback records saved",
		}, []string{"correct"}),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bluebin_detect_duration_seconds",
			Help:    "Time spent waiting on the vision endpoint",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
	}

	m.registry.MustRegister(m.cycles, m.detections, m.rejections, m.detectorErrors, m.feedbackSaved, m.detectLatency)

	if sessions != nil {
		m.sessionsCurrent = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bluebin_sessions",
			Help: "Live browser sessions",
		}, func() float64 {
			return float64(sessions.Len())
		})
		m.registry.MustRegister(m.sessionsCurrent)
	}

	return m
}

// Handler returns the /metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeCycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDetect(d time.Duration) {
	if m == nil {
		return
	}
	m.detectLatency.Observe(d.Seconds())
}

func (m *Metrics) observeReport(report detection.NormalizeResult) {
	if m == nil {
		return
	}
	recyclable := report.Batch.RecyclableCount()
	m.detections.WithLabelValues("true").Add(float64(recyclable))
	m.detections.WithLabelValues("false").Add(float64(len(report.Batch) - recyclable))
	for _, r := range report.Rejections {
		m.rejections.WithLabelValues(string(r.Reason)).Inc()
	}
	if report.Malformed() {
		m.rejections.WithLabelValues("malformed_reply").Inc()
	}
}

func (m *Metrics) observeError(err error) {
	if m == nil {
		return
	}
	m.detectorErrors.WithLabelValues(errorKind(err)).Inc()
}

func (m *Metrics) observeFeedback(correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.feedbackSaved.WithLabelValues(label).Inc()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, detection.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, detection.ErrConfiguration):
		return "configuration"
	case detection.IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}
