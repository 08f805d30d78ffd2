// Package track owns multi-object tracking for a single camera: turning
// per-frame detections into persistent identities with explicit lifecycle
// states (tentative, confirmed, lost). Association is IOU-based with a
// constant-velocity motion estimate; there is deliberately no appearance
// model, so identities are only as stable as frame-to-frame overlap.
package track

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/geom"
)

// State represents the lifecycle state of a track.
type State string

const (
	Tentative State = "tentative" // new track, needs confirmation
	Confirmed State = "confirmed" // stable track with sufficient history
	Lost      State = "lost"      // aged out, removed from the active set
)

// Config holds the tracker's association and lifecycle parameters.
type Config struct {
	IOUThreshold float64 // minimum IOU to accept a detection-track pairing
	MaxAge       int     // consecutive unmatched frames before a track is lost
	MinHits      int     // consecutive hits needed for confirmation
	MaxTracks    int     // cap on concurrent tracks per camera
}

// DefaultConfig returns the tracker parameters used when the configuration
// file leaves them unset.
func DefaultConfig() Config {
	return Config{
		IOUThreshold: 0.3,
		MaxAge:       30,
		MinHits:      3,
		MaxTracks:    128,
	}
}

// Track is a persistent tracked-person identity. IDs are monotonic per
// tracker and never reused within a process lifetime.
type Track struct {
	ID       int64  `json:"id"`
	CameraID string `json:"camera_id"`
	State    State  `json:"state"`

	Box        geom.Box `json:"box"`
	Confidence float64  `json:"confidence"`

	// Centroid velocity in pixels per frame, used to extrapolate the box
	// for association on the next frame.
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`

	Hits            int `json:"hits"`              // consecutive frames matched
	Age             int `json:"age"`               // frames since creation
	TimeSinceUpdate int `json:"time_since_update"` // frames since last match

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Centroid returns the track's current box centre.
func (t *Track) Centroid() r2.Point {
	return t.Box.Centroid()
}

// predictedBox extrapolates the box forward along the velocity estimate. A
// plain constant-velocity step, scaled by the frames coasted since the last
// match so that a briefly occluded mover is still found where it should be.
func (t *Track) predictedBox() geom.Box {
	steps := float64(t.TimeSinceUpdate + 1)
	return geom.Box{
		X:      t.Box.X + t.VX*steps,
		Y:      t.Box.Y + t.VY*steps,
		Width:  t.Box.Width,
		Height: t.Box.Height,
	}
}

// Tracker manages the tracks of one camera. A Tracker is never shared
// between cameras: each camera pipeline owns exactly one.
type Tracker struct {
	mu sync.RWMutex

	cameraID string
	cfg      Config

	tracks map[int64]*Track
	nextID int64

	// Lifecycle counters since construction, for health reporting.
	TracksCreated   int
	TracksConfirmed int
	TracksLost      int
}

// NewTracker creates a tracker for one camera.
func NewTracker(cameraID string, cfg Config) *Tracker {
	return &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
		tracks:   make(map[int64]*Track),
		nextID:   1,
	}
}

// candidate is one admissible detection-track pairing.
type candidate struct {
	detIdx  int
	trackID int64
	iou     float64
}

// Update processes one frame of detections. Malformed detections are
// dropped before association and reported in the return value. Given the
// same detections in the same order, the result is deterministic.
func (t *Tracker) Update(dets []detect.Detection, now time.Time) (dropped int) {
	dets, dropped = detect.Filter(dets)

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ordered track list so association is reproducible across runs.
	ids := t.sortedIDs()

	// Score every admissible pairing against the predicted boxes.
	var cands []candidate
	for _, id := range ids {
		tr := t.tracks[id]
		pred := tr.predictedBox()
		for di, d := range dets {
			if v := geom.IOU(pred, d.Box); v >= t.cfg.IOUThreshold {
				cands = append(cands, candidate{detIdx: di, trackID: id, iou: v})
			}
		}
	}

	// Greedy highest-IOU-first assignment. Ties break by ascending track
	// ID, then ascending detection index, for reproducibility.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].iou != cands[j].iou {
			return cands[i].iou > cands[j].iou
		}
		if cands[i].trackID != cands[j].trackID {
			return cands[i].trackID < cands[j].trackID
		}
		return cands[i].detIdx < cands[j].detIdx
	})

	matchedDet := make(map[int]bool, len(dets))
	matchedTrack := make(map[int64]bool, len(ids))
	for _, c := range cands {
		if matchedDet[c.detIdx] || matchedTrack[c.trackID] {
			continue
		}
		matchedDet[c.detIdx] = true
		matchedTrack[c.trackID] = true
		t.applyMatch(t.tracks[c.trackID], dets[c.detIdx], now)
	}

	// Unmatched tracks age and may be lost.
	for _, id := range ids {
		if !matchedTrack[id] {
			t.applyMiss(t.tracks[id])
		}
	}

	// Unmatched detections spawn tentative tracks.
	for di, d := range dets {
		if !matchedDet[di] && len(t.tracks) < t.cfg.MaxTracks {
			t.initTrack(d, now)
		}
	}

	return dropped
}

// AdvanceMisses ages every track by one unmatched frame. Called when a
// frame is skipped (detector timeout, source fault) so dropped frames
// extend time-since-update exactly like an empty detection set.
func (t *Tracker) AdvanceMisses() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.sortedIDs() {
		t.applyMiss(t.tracks[id])
	}
}

func (t *Tracker) applyMatch(tr *Track, d detect.Detection, now time.Time) {
	oldC := tr.Box.Centroid()
	newC := d.Box.Centroid()

	// The velocity estimate spans the whole unmatched gap, so normalise by
	// the number of frames elapsed since the last match.
	frames := float64(tr.TimeSinceUpdate + 1)
	tr.VX = (newC.X - oldC.X) / frames
	tr.VY = (newC.Y - oldC.Y) / frames

	tr.Box = d.Box
	tr.Confidence = d.Confidence
	tr.Hits++
	tr.Age++
	tr.TimeSinceUpdate = 0
	tr.LastSeen = now

	if tr.State == Tentative && tr.Hits >= t.cfg.MinHits {
		tr.State = Confirmed
		t.TracksConfirmed++
	}
}

func (t *Tracker) applyMiss(tr *Track) {
	tr.Hits = 0
	tr.Age++
	tr.TimeSinceUpdate++
	if tr.TimeSinceUpdate >= t.cfg.MaxAge {
		tr.State = Lost
		t.TracksLost++
		delete(t.tracks, tr.ID)
	}
}

func (t *Tracker) initTrack(d detect.Detection, now time.Time) {
	tr := &Track{
		ID:         t.nextID,
		CameraID:   t.cameraID,
		State:      Tentative,
		Box:        d.Box,
		Confidence: d.Confidence,
		Hits:       1,
		Age:        1,
		FirstSeen:  now,
		LastSeen:   now,
	}
	t.nextID++
	t.tracks[tr.ID] = tr
	t.TracksCreated++

	// A single-hit tracker exposes tracks immediately.
	if t.cfg.MinHits <= 1 {
		tr.State = Confirmed
		t.TracksConfirmed++
	}
}

// sortedIDs returns active track IDs in ascending order. Callers must hold
// the lock.
func (t *Tracker) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ConfirmedTracks returns copies of the confirmed tracks, sorted by ID.
// Only confirmed tracks are exposed downstream; tentative ones are noise
// until they survive MinHits frames.
func (t *Tracker) ConfirmedTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Track, 0, len(t.tracks))
	for _, id := range t.sortedIDs() {
		if tr := t.tracks[id]; tr.State == Confirmed {
			out = append(out, *tr)
		}
	}
	return out
}

// ActiveTracks returns copies of every live track, sorted by ID.
func (t *Tracker) ActiveTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Track, 0, len(t.tracks))
	for _, id := range t.sortedIDs() {
		out = append(out, *t.tracks[id])
	}
	return out
}

// Counts returns the current track population by state.
func (t *Tracker) Counts() (tentative, confirmed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tr := range t.tracks {
		switch tr.State {
		case Tentative:
			tentative++
		case Confirmed:
			confirmed++
		}
	}
	return tentative, confirmed
}

// Speed returns the track's centroid speed in pixels per frame.
func (t *Track) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}
