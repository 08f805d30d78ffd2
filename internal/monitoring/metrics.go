package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Subsystem: "pipeline",
		Name:      "frames_processed_total",
		Help:      "Frames fully processed through detection, tracking and occupancy.",
	}, []string{"camera"})

	framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Subsystem: "pipeline",
		Name:      "frames_dropped_total",
		Help:      "Frames skipped before tracking, partitioned by reason.",
	}, []string{"camera", "reason"})

	detectionsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Subsystem: "pipeline",
		Name:      "detections_dropped_total",
		Help:      "Malformed detections rejected before association.",
	}, []string{"camera"})

	activeTracks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "presence",
		Subsystem: "tracking",
		Name:      "active_tracks",
		Help:      "Currently live tracks by lifecycle state.",
	}, []string{"camera", "state"})

	alertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Subsystem: "occupancy",
		Name:      "alerts_total",
		Help:      "Alerts emitted by the occupancy engine, by kind.",
	}, []string{"camera", "kind"})

	trackStarvation = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "presence",
		Subsystem: "tracking",
		Name:      "track_starvation",
		Help:      "1 when a camera has had no confirmed tracks for the starvation window.",
	}, []string{"camera"})
)

func init() {
	prometheus.MustRegister(
		framesProcessed,
		framesDropped,
		detectionsDropped,
		activeTracks,
		alertsEmitted,
		trackStarvation,
	)
}

// RecordFrame counts a frame processed end to end for a camera.
func RecordFrame(camera string) {
	framesProcessed.WithLabelValues(camera).Inc()
}

// RecordFrameDrop counts a skipped frame with its reason ("timeout",
// "source_error", ...).
func RecordFrameDrop(camera, reason string) {
	framesDropped.WithLabelValues(camera, reason).Inc()
}

// RecordDetectionDrop counts malformed detections rejected for a camera.
func RecordDetectionDrop(camera string, n int) {
	if n > 0 {
		detectionsDropped.WithLabelValues(camera).Add(float64(n))
	}
}

// SetActiveTracks publishes the tracker's per-state population for a camera.
func SetActiveTracks(camera string, tentative, confirmed int) {
	activeTracks.WithLabelValues(camera, "tentative").Set(float64(tentative))
	activeTracks.WithLabelValues(camera, "confirmed").Set(float64(confirmed))
}

// RecordAlert counts an emitted alert by kind.
func RecordAlert(camera, kind string) {
	alertsEmitted.WithLabelValues(camera, kind).Inc()
}

// SetTrackStarvation flags or clears the starvation health signal for a
// camera. Starvation is a health signal, not an error: the pipeline keeps
// running.
func SetTrackStarvation(camera string, starved bool) {
	v := 0.0
	if starved {
		v = 1.0
	}
	trackStarvation.WithLabelValues(camera).Set(v)
}
