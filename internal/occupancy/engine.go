// Package occupancy turns per-frame zone membership into dwell-time
// records, idle and unauthorized-access detection, and alerts. One Engine
// serves one camera; the zone registry it reads is shared and immutable.
package occupancy

import (
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

// Config holds the occupancy thresholds.
type Config struct {
	// IdleThreshold is how long a centroid must stay within the jitter
	// tolerance before the track is idle.
	IdleThreshold time.Duration

	// IdleJitterPx is the centroid movement (pixels) below which the
	// person counts as stationary. Absorbs detector box wobble.
	IdleJitterPx float64

	// UnauthorizedThreshold is how long an unauthorized person may dwell
	// in a restricted zone before the alert fires.
	UnauthorizedThreshold time.Duration
}

// IdentityResolver maps a track to a person identity, when one is known
// (badge system, face recognition adapter). Returning "" means unknown;
// unknown identities are never authorized for restricted zones.
type IdentityResolver func(trackID int64) string

// trackState is the per-track occupancy state machine.
type trackState struct {
	zoneID   string // current zone, "" = unassigned
	personID string
	open     *Record // open record for zoneID, nil when unassigned

	// Idle detection: the anchor is the last position the track moved
	// away from. idleAlerted re-arms only after movement resumes.
	anchor      r2.Point
	anchorSince time.Time
	idleAlerted bool

	// Unauthorized episode: armed per continuous restricted dwell.
	unauthorizedAlerted bool
}

// Engine runs the occupancy state machine for one camera. Callers feed it
// the confirmed track set each frame, strictly in frame order.
type Engine struct {
	mu sync.RWMutex

	cameraID string
	cfg      Config
	registry *zones.Registry
	identify IdentityResolver

	states map[int64]*trackState
	closed []Record // closed since the last Drain

	// Capacity alert re-arm state, per zone.
	capacityAlerted map[string]bool

	alertCounts map[AlertKind]int
}

// NewEngine creates an occupancy engine for one camera. identify may be
// nil when no identity source is wired.
func NewEngine(cameraID string, registry *zones.Registry, cfg Config, identify IdentityResolver) *Engine {
	if identify == nil {
		identify = func(int64) string { return "" }
	}
	return &Engine{
		cameraID:        cameraID,
		cfg:             cfg,
		registry:        registry,
		identify:        identify,
		states:          make(map[int64]*trackState),
		capacityAlerted: make(map[string]bool),
		alertCounts:     make(map[AlertKind]int),
	}
}

// ObserveFrame advances the state machine by one frame of confirmed tracks
// and returns the alerts this frame raised. Tracks absent from the set are
// treated as lost: their open records close at now.
func (e *Engine) ObserveFrame(tracks []track.Track, now time.Time) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alerts []Alert
	seen := make(map[int64]bool, len(tracks))

	for i := range tracks {
		tr := &tracks[i]
		seen[tr.ID] = true
		alerts = append(alerts, e.observeTrack(tr, now)...)
	}

	// Lost tracks: close their records at the current timestamp.
	for id, st := range e.states {
		if !seen[id] {
			e.closeRecord(st, now)
			delete(e.states, id)
		}
	}

	// Capacity checks run on the post-frame population.
	alerts = append(alerts, e.checkCapacity(now)...)

	for _, a := range alerts {
		e.alertCounts[a.Kind]++
	}
	return alerts
}

func (e *Engine) observeTrack(tr *track.Track, now time.Time) []Alert {
	st, ok := e.states[tr.ID]
	if !ok {
		st = &trackState{personID: e.identify(tr.ID)}
		e.states[tr.ID] = st
	}

	centroid := tr.Centroid()
	zoneID := e.registry.Resolve(centroid)

	if zoneID != st.zoneID {
		// Zone change: supersede the outgoing record. Dwell is finalized
		// as last-seen minus entry; the new record opens at now.
		e.closeRecord(st, now)
		st.zoneID = zoneID
		if zoneID != "" {
			st.open = &Record{
				CameraID:       e.cameraID,
				TrackID:        tr.ID,
				PersonID:       st.personID,
				ZoneID:         zoneID,
				EnteredAt:      now,
				LastSeen:       now,
				Classification: ClassActive,
			}
		}
		// Idle and unauthorized episodes do not span zones.
		st.anchor = centroid
		st.anchorSince = now
		st.idleAlerted = false
		st.unauthorizedAlerted = false
	} else if st.open != nil {
		st.open.LastSeen = now
	}

	if st.open == nil {
		// Unassigned: idle/unauthorized detection only applies in a zone.
		st.anchor = centroid
		st.anchorSince = now
		st.idleAlerted = false
		return nil
	}

	var alerts []Alert

	// Idle detection with jitter tolerance.
	if centroid.Sub(st.anchor).Norm() > e.cfg.IdleJitterPx {
		// Movement: re-anchor and re-arm the idle alert.
		st.anchor = centroid
		st.anchorSince = now
		st.idleAlerted = false
	} else if e.cfg.IdleThreshold > 0 && now.Sub(st.anchorSince) >= e.cfg.IdleThreshold {
		if !st.idleAlerted {
			st.idleAlerted = true
			alerts = append(alerts, Alert{
				ID:        uuid.NewString(),
				Kind:      AlertIdleTimeout,
				CameraID:  e.cameraID,
				TrackID:   tr.ID,
				PersonID:  st.personID,
				ZoneID:    st.zoneID,
				Timestamp: now,
				Dwell:     now.Sub(st.anchorSince),
			})
		}
	}
	idle := st.idleAlerted || (e.cfg.IdleThreshold > 0 && now.Sub(st.anchorSince) >= e.cfg.IdleThreshold)

	// Unauthorized dwell in a restricted zone.
	unauthorized := !e.registry.IsAuthorized(st.zoneID, st.personID)
	if unauthorized {
		if !st.unauthorizedAlerted && st.open.Dwell() >= e.cfg.UnauthorizedThreshold {
			st.unauthorizedAlerted = true
			alerts = append(alerts, Alert{
				ID:        uuid.NewString(),
				Kind:      AlertUnauthorizedAccess,
				CameraID:  e.cameraID,
				TrackID:   tr.ID,
				PersonID:  st.personID,
				ZoneID:    st.zoneID,
				Timestamp: now,
				Dwell:     st.open.Dwell(),
			})
		}
	}

	// Unauthorized outranks Idle when both hold.
	switch {
	case unauthorized:
		st.open.Classification = ClassUnauthorized
	case idle:
		st.open.Classification = ClassIdle
	default:
		st.open.Classification = ClassActive
	}

	return alerts
}

// checkCapacity emits one OverCapacity alert per breach episode: it re-arms
// only after the zone population drops back within its limit.
func (e *Engine) checkCapacity(now time.Time) []Alert {
	counts := e.occupantCountsLocked()

	var alerts []Alert
	for _, z := range e.registry.Zones() {
		if z.MaxCapacity <= 0 {
			continue
		}
		n := counts[z.ID]
		if n > z.MaxCapacity {
			if !e.capacityAlerted[z.ID] {
				e.capacityAlerted[z.ID] = true
				alerts = append(alerts, Alert{
					ID:            uuid.NewString(),
					Kind:          AlertOverCapacity,
					CameraID:      e.cameraID,
					ZoneID:        z.ID,
					Timestamp:     now,
					OccupantCount: n,
				})
			}
		} else {
			e.capacityAlerted[z.ID] = false
		}
	}
	return alerts
}

func (e *Engine) closeRecord(st *trackState, now time.Time) {
	if st.open == nil {
		return
	}
	st.open.Closed = true
	st.open.ClosedAt = now
	e.closed = append(e.closed, *st.open)
	st.open = nil
}

// Flush closes every open record at the given timestamp. Called when the
// camera pipeline stops so no dwell time is silently lost.
func (e *Engine) Flush(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, st := range e.states {
		if st.open != nil {
			st.open.LastSeen = now
		}
		e.closeRecord(st, now)
		delete(e.states, id)
	}
}

// DrainClosed returns the records closed since the previous drain and
// clears the buffer. The aggregator is the single consumer.
func (e *Engine) DrainClosed() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.closed
	e.closed = nil
	return out
}

// OpenRecords returns copies of the currently open records. Order is
// unspecified.
func (e *Engine) OpenRecords() []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Record
	for _, st := range e.states {
		if st.open != nil {
			out = append(out, *st.open)
		}
	}
	return out
}

// OccupantCounts returns the current per-zone occupant population.
func (e *Engine) OccupantCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.occupantCountsLocked()
}

func (e *Engine) occupantCountsLocked() map[string]int {
	counts := make(map[string]int)
	for _, st := range e.states {
		if st.zoneID != "" {
			counts[st.zoneID]++
		}
	}
	return counts
}

// AlertCounts returns cumulative alert counts by kind since construction.
func (e *Engine) AlertCounts() map[AlertKind]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[AlertKind]int, len(e.alertCounts))
	for k, v := range e.alertCounts {
		out[k] = v
	}
	return out
}

// CameraID returns the camera this engine serves.
func (e *Engine) CameraID() string {
	return e.cameraID
}
