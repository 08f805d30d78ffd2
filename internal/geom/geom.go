// Package geom provides the planar primitives used by the tracking and zone
// layers: axis-aligned bounding boxes, polygon containment, and
// intersection-over-union. All coordinates are pixel-space floats in the
// camera frame.
package geom

import (
	"math"

	"github.com/golang/geo/r2"
)

// onEdgeEpsilon is the tolerance for treating a point as lying on a polygon
// edge. Boundary points count as inside so a centroid sitting exactly on a
// zone border does not flicker between zones frame to frame.
const onEdgeEpsilon = 1e-9

// Box is an axis-aligned bounding box with its origin at the top-left
// corner, matching detector output conventions.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Valid reports whether the box has finite coordinates and strictly
// positive dimensions. Detections failing this test are dropped before
// association.
func (b Box) Valid() bool {
	for _, v := range [4]float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width > 0 && b.Height > 0
}

// Centroid returns the geometric centre of the box. Zone assignment uses the
// centroid rather than the full extent so a box overlapping two zones
// resolves to exactly one.
func (b Box) Centroid() r2.Point {
	return r2.Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// IOU computes intersection-over-union between two axis-aligned boxes.
// The result is in [0, 1]; disjoint boxes score 0.
func IOU(a, b Box) float64 {
	ix1 := math.Max(a.X, b.X)
	iy1 := math.Max(a.Y, b.Y)
	ix2 := math.Min(a.X+a.Width, b.X+b.Width)
	iy2 := math.Min(a.Y+a.Height, b.Y+b.Height)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Polygon is an ordered ring of vertices. The ring is implicitly closed:
// the last vertex connects back to the first.
type Polygon []r2.Point

// Area returns the absolute polygon area via the shoelace formula.
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i, v := range p {
		w := p[(i+1)%len(p)]
		sum += v.X*w.Y - w.X*v.Y
	}
	return math.Abs(sum) / 2
}

// Degenerate reports whether the polygon cannot enclose any area: fewer
// than three vertices, or collinear vertices yielding zero area.
func (p Polygon) Degenerate() bool {
	return len(p) < 3 || p.Area() == 0
}

// Contains reports whether pt lies inside the polygon using the even-odd
// ray-casting rule. Points on an edge or vertex are inside.
func (p Polygon) Contains(pt r2.Point) bool {
	if len(p) < 3 {
		return false
	}

	// Boundary check first: ray casting is unstable exactly on edges.
	for i, v := range p {
		w := p[(i+1)%len(p)]
		if onSegment(pt, v, w) {
			return true
		}
	}

	inside := false
	for i, v := range p {
		w := p[(i+1)%len(p)]
		// Does the horizontal ray from pt cross edge (v, w)?
		if (v.Y > pt.Y) != (w.Y > pt.Y) {
			xCross := v.X + (pt.Y-v.Y)/(w.Y-v.Y)*(w.X-v.X)
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment reports whether pt lies on the segment from a to b.
func onSegment(pt, a, b r2.Point) bool {
	ab := b.Sub(a)
	ap := pt.Sub(a)
	cross := ab.X*ap.Y - ab.Y*ap.X
	if math.Abs(cross) > onEdgeEpsilon*math.Max(1, ab.Norm()*ap.Norm()) {
		return false
	}
	dot := ap.X*ab.X + ap.Y*ab.Y
	return dot >= 0 && dot <= ab.X*ab.X+ab.Y*ab.Y
}
