// Package metrics provides Prometheus metrics for the capture pipeline, the
// notification sinks and the HTTP front end.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchpost"

// Pipeline holds all application metrics on its own registry.
type Pipeline struct {
	FramesCaptured     prometheus.Counter
	FramesAdmitted     prometheus.Counter
	DetectorRuns       prometheus.Counter
	DetectorErrors     prometheus.Counter
	DetectorLatency    prometheus.Histogram
	Confirmed          *prometheus.CounterVec // by class
	CaptureReconnects  prometheus.Counter
	CaptureAvailable   prometheus.Gauge
	MotionChange       prometheus.Gauge
	NotificationsSent  *prometheus.CounterVec // by sink
	NotificationsError *prometheus.CounterVec // by sink
	HTTPRequests       *prometheus.CounterVec // by command, outcome

	registry *prometheus.Registry
}

// New creates the metrics and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Pipeline {
	m := &Pipeline{registry: prometheus.NewRegistry()}

	m.FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_captured_total",
		Help:      "Frames read from the camera",
	})
	m.FramesAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_admitted_total",
		Help:      "Frames admitted by the motion gate",
	})
	m.DetectorRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_runs_total",
		Help:      "Detector invocations",
	})
	m.DetectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_errors_total",
		Help:      "Detector invocations that returned an error",
	})
	m.DetectorLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detector_duration_seconds",
		Help:      "Detector inference latency",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	m.Confirmed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmed_detections_total",
		Help:      "Detections confirmed by the stabilizer",
	}, []string{"class"})
	m.CaptureReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_reconnects_total",
		Help:      "Camera reopen attempts after read failures",
	})
	m.CaptureAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capture_available",
		Help:      "1 when the camera is delivering frames, 0 otherwise",
	})
	m.MotionChange = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "motion_change_percent",
		Help:      "Edge-map change computed for the last frame",
	})
	m.NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Alerts delivered by sink",
	}, []string{"sink"})
	m.NotificationsError = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_failed_total",
		Help:      "Alerts that exhausted their retries by sink",
	}, []string{"sink"})
	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Remote commands by command and outcome",
	}, []string{"command", "outcome"})

	m.registry.MustRegister(
		m.FramesCaptured,
		m.FramesAdmitted,
		m.DetectorRuns,
		m.DetectorErrors,
		m.DetectorLatency,
		m.Confirmed,
		m.CaptureReconnects,
		m.CaptureAvailable,
		m.MotionChange,
		m.NotificationsSent,
		m.NotificationsError,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Pipeline) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NotificationSent records a delivered alert.
func (m *Pipeline) NotificationSent(sink string) {
	m.NotificationsSent.WithLabelValues(sink).Inc()
}

// NotificationFailed records an alert that could not be delivered.
func (m *Pipeline) NotificationFailed(sink string) {
	m.NotificationsError.WithLabelValues(sink).Inc()
}

// SetCaptureAvailable sets the capture availability gauge.
func (m *Pipeline) SetCaptureAvailable(ok bool) {
	if ok {
		m.CaptureAvailable.Set(1)
		return
	}
	m.CaptureAvailable.Set(0)
}

// ObserveRequest counts one remote command.
func (m *Pipeline) ObserveRequest(command, outcome string) {
	m.HTTPRequests.WithLabelValues(command, outcome).Inc()
}
