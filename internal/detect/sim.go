package detect

import (
	"context"
	"time"

	"github.com/golang/geo/r2"

	"github.com/atrium-data/presence.report/internal/geom"
	"github.com/atrium-data/presence.report/internal/timeutil"
)

// Walker is a scripted person for the simulated source. It moves along its
// waypoints at a fixed per-frame step, holding position at the final
// waypoint until the simulation ends.
type Walker struct {
	Waypoints []r2.Point // centroid path, visited in order
	StepPx    float64    // centroid movement per frame along the path
	BoxW      float64    // emitted box width
	BoxH      float64    // emitted box height
	Conf      float64    // emitted confidence
	StartAt   int        // frame index at which the walker appears
	LeaveAt   int        // frame index at which the walker disappears (0 = never)
}

// SimulatedSource replays scripted walkers as detection frames. It exists
// for cameras configured in simulation mode and for offline pipeline tests;
// output is fully deterministic.
type SimulatedSource struct {
	CameraID      string
	Walkers       []Walker
	FrameInterval time.Duration
	MaxFrames     int // 0 means unbounded
	Clock         timeutil.Clock

	frame int
}

// Next produces the next simulated frame. Pacing is left to the caller; Next
// never sleeps.
func (s *SimulatedSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.MaxFrames > 0 && s.frame >= s.MaxFrames {
		return Frame{}, ErrSourceClosed
	}

	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()

	out := Frame{CameraID: s.CameraID, Timestamp: now}
	for _, w := range s.Walkers {
		if s.frame < w.StartAt {
			continue
		}
		if w.LeaveAt > 0 && s.frame >= w.LeaveAt {
			continue
		}
		c := w.positionAt(s.frame - w.StartAt)
		out.Detections = append(out.Detections, Detection{
			CameraID:   s.CameraID,
			Box:        geom.Box{X: c.X - w.BoxW/2, Y: c.Y - w.BoxH/2, Width: w.BoxW, Height: w.BoxH},
			Confidence: w.Conf,
			Timestamp:  now,
		})
	}

	s.frame++
	return out, nil
}

// positionAt walks distance step*frames along the waypoint polyline.
func (w Walker) positionAt(frames int) r2.Point {
	if len(w.Waypoints) == 0 {
		return r2.Point{}
	}
	pos := w.Waypoints[0]
	remaining := w.StepPx * float64(frames)
	for i := 1; i < len(w.Waypoints) && remaining > 0; i++ {
		seg := w.Waypoints[i].Sub(pos)
		segLen := seg.Norm()
		if segLen <= remaining {
			pos = w.Waypoints[i]
			remaining -= segLen
			continue
		}
		pos = pos.Add(seg.Mul(remaining / segLen))
		remaining = 0
	}
	return pos
}
