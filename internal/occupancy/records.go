package occupancy

import (
	"time"
)

// Classification labels what a tracked person is doing inside a zone.
// Unauthorized takes precedence over Idle when both conditions hold.
type Classification string

const (
	ClassActive       Classification = "active"
	ClassIdle         Classification = "idle"
	ClassUnauthorized Classification = "unauthorized"
)

// AlertKind identifies the alert families the engine can emit.
type AlertKind string

const (
	AlertIdleTimeout        AlertKind = "idle_timeout"
	AlertUnauthorizedAccess AlertKind = "unauthorized_access"
	AlertOverCapacity       AlertKind = "over_capacity"
)

// Alert is an event record handed to external sinks. The engine emits
// alerts; it never persists them.
type Alert struct {
	ID            string        `json:"id"`
	Kind          AlertKind     `json:"kind"`
	CameraID      string        `json:"camera_id"`
	TrackID       int64         `json:"track_id"`
	PersonID      string        `json:"person_id,omitempty"`
	ZoneID        string        `json:"zone_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Dwell         time.Duration `json:"dwell_ns,omitempty"`
	OccupantCount int           `json:"occupant_count,omitempty"` // capacity alerts only
}

// Record is one continuous zone visit by one track. A record is opened
// when the track enters a zone and superseded (closed, never mutated
// further) when the track leaves, changes zone, or is lost.
type Record struct {
	CameraID string `json:"camera_id"`
	TrackID  int64  `json:"track_id"`
	PersonID string `json:"person_id,omitempty"`
	ZoneID   string `json:"zone_id"`

	EnteredAt time.Time `json:"entered_at"`
	LastSeen  time.Time `json:"last_seen"`

	Classification Classification `json:"classification"`

	Closed   bool      `json:"closed"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// Dwell returns the accumulated dwell time: last-seen minus entry. It
// never decreases while the record is open and never changes after close.
func (r Record) Dwell() time.Duration {
	return r.LastSeen.Sub(r.EnteredAt)
}
