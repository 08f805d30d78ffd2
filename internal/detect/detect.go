// Package detect defines the detection boundary of the pipeline: the
// per-frame observations handed over by an external person detector, plus
// the Source abstraction the per-camera pipelines consume. Model inference
// itself lives outside this process; detections arrive as data.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/atrium-data/presence.report/internal/geom"
)

// ErrSourceClosed is returned by Next once a source has delivered its last
// frame. The camera pipeline treats it as a clean end of stream.
var ErrSourceClosed = errors.New("detect: source closed")

// Detection is a single person observation in one frame: a pixel-space
// bounding box with a confidence score. Ephemeral; consumed within one
// frame cycle.
type Detection struct {
	CameraID   string    `json:"camera_id"`
	Box        geom.Box  `json:"box"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Valid reports whether the detection is well-formed: finite, positive box
// geometry and a confidence inside [0, 1]. Malformed detections are dropped
// before association and never reach the tracker.
func (d Detection) Valid() bool {
	return d.Box.Valid() && d.Confidence >= 0 && d.Confidence <= 1
}

// Frame is the full set of detections for one camera frame.
type Frame struct {
	CameraID   string      `json:"camera_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// Source produces the detection frames for one camera. Implementations must
// honour ctx cancellation; Next blocks until a frame is ready, the source is
// exhausted (ErrSourceClosed), or ctx is done.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Filter partitions a frame's detections into the well-formed ones and a
// count of rejects. Rejects are reported, never propagated.
func Filter(dets []Detection) (valid []Detection, dropped int) {
	valid = make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Valid() {
			valid = append(valid, d)
		} else {
			dropped++
		}
	}
	return valid, dropped
}
