// Package pipeline runs one camera's processing loop: pull a detection
// frame, update the tracker, resolve zones and occupancy, and fan alerts
// out to the sinks. Each camera gets its own Pipeline on its own goroutine;
// frames for one camera are strictly sequential.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/monitoring"
	"github.com/atrium-data/presence.report/internal/notify"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/timeutil"
	"github.com/atrium-data/presence.report/internal/track"
)

// starvationWindow is how many consecutive frames a camera may go without a
// confirmed track before the starvation health signal raises.
const starvationWindow = 50

// Config holds the pipeline dependencies for one camera.
type Config struct {
	CameraID string
	Source   detect.Source
	Tracker  *track.Tracker
	Engine   *occupancy.Engine

	// Sink receives alerts; nil drops them.
	Sink notify.Sink

	// DetectorTimeout bounds one Next call. On expiry the frame counts as
	// dropped and the tracker ages instead of stalling.
	DetectorTimeout time.Duration

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Pipeline is the per-camera processing loop.
type Pipeline struct {
	cameraID        string
	source          detect.Source
	tracker         *track.Tracker
	engine          *occupancy.Engine
	sink            notify.Sink
	detectorTimeout time.Duration
	clock           timeutil.Clock

	mu              sync.Mutex
	running         bool
	framesProcessed int
	framesDropped   int
	starvedFrames   int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Pipeline{
		cameraID:        cfg.CameraID,
		source:          cfg.Source,
		tracker:         cfg.Tracker,
		engine:          cfg.Engine,
		sink:            cfg.Sink,
		detectorTimeout: timeout,
		clock:           clock,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Run executes the frame loop. It blocks until the context is cancelled,
// Stop is called, or the source reports end of stream. Open occupancy
// records are flushed on every exit path so no dwell time is lost.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	defer func() {
		p.engine.Flush(p.clock.Now())
		close(p.doneCh)
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	monitoring.Logf("pipeline[%s]: started", p.cameraID)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("pipeline[%s]: stopping, context cancelled", p.cameraID)
			return nil
		case <-p.stopCh:
			monitoring.Logf("pipeline[%s]: stopping, Stop() called", p.cameraID)
			return nil
		default:
		}

		frame, err := p.nextFrame(ctx)
		switch {
		case err == nil:
			p.processFrame(ctx, frame)
		case errors.Is(err, detect.ErrSourceClosed):
			monitoring.Logf("pipeline[%s]: source closed after %d frames", p.cameraID, p.FramesProcessed())
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			// Detector missed its deadline. Age the tracker so stale
			// tracks expire on schedule instead of freezing.
			p.dropFrame("timeout")
		case ctx.Err() != nil:
			return nil
		default:
			monitoring.Logf("pipeline[%s]: source error: %v", p.cameraID, err)
			p.dropFrame("source_error")
		}
	}
}

// Stop requests the pipeline to stop and waits for the final flush. Safe
// to call multiple times.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.mu.Unlock()

	<-p.doneCh
}

func (p *Pipeline) nextFrame(ctx context.Context) (detect.Frame, error) {
	frameCtx, cancel := context.WithTimeout(ctx, p.detectorTimeout)
	defer cancel()
	return p.source.Next(frameCtx)
}

func (p *Pipeline) processFrame(ctx context.Context, frame detect.Frame) {
	now := frame.Timestamp
	if now.IsZero() {
		now = p.clock.Now()
	}

	rejected := p.tracker.Update(frame.Detections, now)
	monitoring.RecordDetectionDrop(p.cameraID, rejected)

	confirmed := p.tracker.ConfirmedTracks()
	alerts := p.engine.ObserveFrame(confirmed, now)
	for _, a := range alerts {
		monitoring.RecordAlert(p.cameraID, string(a.Kind))
		if p.sink != nil {
			if err := p.sink.Notify(ctx, a); err != nil {
				monitoring.Logf("pipeline[%s]: alert sink error: %v", p.cameraID, err)
			}
		}
	}

	tentative, live := p.tracker.Counts()
	monitoring.SetActiveTracks(p.cameraID, tentative, live)
	monitoring.RecordFrame(p.cameraID)

	p.mu.Lock()
	p.framesProcessed++
	if live == 0 {
		p.starvedFrames++
	} else {
		p.starvedFrames = 0
	}
	starved := p.starvedFrames >= starvationWindow
	p.mu.Unlock()

	monitoring.SetTrackStarvation(p.cameraID, starved)
}

// dropFrame accounts a skipped frame and ages the tracker one step, exactly
// as an empty frame would.
func (p *Pipeline) dropFrame(reason string) {
	p.tracker.AdvanceMisses()
	p.engine.ObserveFrame(p.tracker.ConfirmedTracks(), p.clock.Now())
	monitoring.RecordFrameDrop(p.cameraID, reason)

	p.mu.Lock()
	p.framesDropped++
	p.mu.Unlock()
}

// CameraID returns the camera this pipeline serves.
func (p *Pipeline) CameraID() string { return p.cameraID }

// FramesProcessed returns the count of fully processed frames.
func (p *Pipeline) FramesProcessed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesProcessed
}

// FramesDropped returns the count of frames skipped on timeout or error.
func (p *Pipeline) FramesDropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesDropped
}

// IsRunning reports whether the loop is active.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Tracker exposes the camera's tracker for status endpoints.
func (p *Pipeline) Tracker() *track.Tracker { return p.tracker }

// Engine exposes the camera's occupancy engine for status endpoints.
func (p *Pipeline) Engine() *occupancy.Engine { return p.engine }
