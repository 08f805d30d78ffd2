// Package zones holds the immutable zone registry: named polygons grouped
// by category (desks, meeting rooms, break areas) with optional capacity
// limits and authorization lists. The registry is built once at startup,
// validated fatally, and then shared read-only across all camera pipelines.
package zones

import (
	"fmt"

	"github.com/golang/geo/r2"

	"github.com/atrium-data/presence.report/internal/geom"
)

// Category classifies what a zone is for. Productive and collaborative
// time both count toward a person's productive total.
type Category string

const (
	CategoryProductive    Category = "productive"
	CategoryCollaborative Category = "collaborative"
	CategoryBreak         Category = "break"
)

// Zone is a named polygon region. Immutable after configuration load;
// referenced, never owned, by tracks.
type Zone struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    Category     `json:"category"`
	Polygon     geom.Polygon `json:"polygon"`
	MaxCapacity int          `json:"max_capacity,omitempty"` // 0 = unlimited
	Restricted  bool         `json:"restricted,omitempty"`

	// Authorized lists the person identities allowed in a restricted
	// zone. Empty with Restricted=true means nobody is authorized.
	Authorized []string `json:"authorized,omitempty"`
}

// Registry resolves points to zones. Zones keep their declaration order:
// when polygons overlap, the first declared zone wins. That tie-break is
// deliberate and documented, not an error.
type Registry struct {
	zones []Zone
	byID  map[string]int
}

// NewRegistry validates the zone set and builds a registry. Degenerate
// polygons and duplicate IDs are configuration faults: they would silently
// corrupt every downstream dwell computation, so loading fails instead.
func NewRegistry(zs []Zone) (*Registry, error) {
	r := &Registry{
		zones: make([]Zone, len(zs)),
		byID:  make(map[string]int, len(zs)),
	}
	copy(r.zones, zs)

	for i, z := range r.zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zone %d (%q): empty id", i, z.Name)
		}
		if _, dup := r.byID[z.ID]; dup {
			return nil, fmt.Errorf("zone %q: duplicate id", z.ID)
		}
		if z.Polygon.Degenerate() {
			return nil, fmt.Errorf("zone %q: degenerate polygon (%d vertices, area %.3f)",
				z.ID, len(z.Polygon), z.Polygon.Area())
		}
		if z.MaxCapacity < 0 {
			return nil, fmt.Errorf("zone %q: negative capacity %d", z.ID, z.MaxCapacity)
		}
		r.byID[z.ID] = i
	}
	return r, nil
}

// Resolve returns the ID of the first declared zone containing the point,
// or "" when no zone contains it. Deterministic across repeated calls.
func (r *Registry) Resolve(pt r2.Point) string {
	for _, z := range r.zones {
		if z.Polygon.Contains(pt) {
			return z.ID
		}
	}
	return ""
}

// Zone returns the zone with the given ID.
func (r *Registry) Zone(id string) (Zone, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Zone{}, false
	}
	return r.zones[i], true
}

// Zones returns the zones in declaration order. The returned slice is a
// copy; the registry stays immutable.
func (r *Registry) Zones() []Zone {
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// CapacityOf returns the capacity limit for a zone. Zero means the zone is
// unrestricted in size, including for unknown IDs.
func (r *Registry) CapacityOf(id string) int {
	if z, ok := r.Zone(id); ok {
		return z.MaxCapacity
	}
	return 0
}

// IsRestricted reports whether the zone requires authorization.
func (r *Registry) IsRestricted(id string) bool {
	z, ok := r.Zone(id)
	return ok && z.Restricted
}

// IsAuthorized reports whether the given person identity may dwell in the
// zone. Unrestricted zones admit everyone; an unknown identity ("") is
// never authorized for a restricted zone.
func (r *Registry) IsAuthorized(zoneID, personID string) bool {
	z, ok := r.Zone(zoneID)
	if !ok || !z.Restricted {
		return true
	}
	if personID == "" {
		return false
	}
	for _, p := range z.Authorized {
		if p == personID {
			return true
		}
	}
	return false
}

// AuthorizedZones returns the IDs of every zone the person may dwell in,
// in declaration order.
func (r *Registry) AuthorizedZones(personID string) []string {
	var out []string
	for _, z := range r.zones {
		if r.IsAuthorized(z.ID, personID) {
			out = append(out, z.ID)
		}
	}
	return out
}
