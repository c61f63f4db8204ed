// Package metrics exposes Prometheus instrumentation for trigger detection
// and cutting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VideosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triggercut_videos_total",
		Help: "Total number of videos that reached a terminal state, by state",
	}, []string{"state"})

	FramesScannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triggercut_frames_scanned_total",
		Help: "Total number of frames scored against triggers",
	})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triggercut_detections_total",
		Help: "Total number of detection passes, by result",
	}, []string{"result"})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggercut_detection_duration_seconds",
		Help:    "Duration of a detection pass",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	})

	TranscodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triggercut_transcode_duration_seconds",
		Help:    "Duration of ffmpeg stream copies",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triggercut_active_workers",
		Help: "Number of videos currently being processed",
	})
)

// Observer records pipeline events into the package metrics.
type Observer struct{}

// NewObserver returns an Observer backed by the default registry.
func NewObserver() *Observer {
	return &Observer{}
}

func (o *Observer) ObserveState(state string) {
	VideosTotal.WithLabelValues(state).Inc()
}

func (o *Observer) ObserveFrames(n int) {
	if n > 0 {
		FramesScannedTotal.Add(float64(n))
	}
}

func (o *Observer) ObserveDetection(found bool, seconds float64) {
	result := "not_found"
	if found {
		result = "found"
	}
	DetectionsTotal.WithLabelValues(result).Inc()
	DetectionDuration.Observe(seconds)
}

func (o *Observer) ObserveTranscode(success bool, seconds float64) {
	status := "failed"
	if success {
		status = "success"
	}
	TranscodeDuration.WithLabelValues(status).Observe(seconds)
}

func (o *Observer) ObserveActive(delta int) {
	ActiveWorkers.Add(float64(delta))
}
