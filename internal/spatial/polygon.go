package spatial

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidGeometry is returned for rings that cannot form a simple polygon.
var ErrInvalidGeometry = eris.New("invalid geometry")

// boundaryEpsilon is the tolerance, in coordinate units, for boundary hits.
const boundaryEpsilon = 1e-12

// Polygon is an outer ring of lon/lat vertices. The ring is implicitly closed;
// a repeated first vertex at the end is tolerated and ignored.
type Polygon []Point

// Normalize drops the closing vertex and consecutive duplicate vertices
func (poly Polygon) Normalize() Polygon {
	out := make(Polygon, 0, len(poly))
	for _, p := range poly {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// BBox returns the bounding box of the ring
func (poly Polygon) BBox() BBox {
	return BoundingBox(poly)
}

// Validate checks that the ring has at least three distinct vertices, valid
// coordinates, non-zero area and no self intersections.
func (poly Polygon) Validate() error {
	ring := poly.Normalize()
	if len(ring) < 3 {
		return eris.Wrapf(ErrInvalidGeometry, "ring has %d distinct vertices, need at least 3", len(ring))
	}
	for i, p := range ring {
		if !p.Valid() {
			return eris.Wrapf(ErrInvalidGeometry, "vertex %d (%f, %f) out of range", i, p.Lat, p.Lon)
		}
	}
	if PlanarArea(ring) <= 0 {
		return eris.Wrap(ErrInvalidGeometry, "ring has zero area")
	}

	n := len(ring)
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex by construction
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a1.Lon, a1.Lat, a2.Lon, a2.Lat, b1.Lon, b1.Lat, b2.Lon, b2.Lat) {
				return eris.Wrapf(ErrInvalidGeometry, "ring self-intersects between edges %d and %d", i, j)
			}
		}
	}
	return nil
}

// Contains reports whether point lies inside the polygon. Points on the
// boundary are contained.
func Contains(poly Polygon, point Point) bool {
	ring := poly.Normalize()
	if len(ring) < 3 {
		return false
	}
	xs := make([]float64, len(ring))
	ys := make([]float64, len(ring))
	for i, p := range ring {
		xs[i], ys[i] = p.Lon, p.Lat
	}
	return ringContains(xs, ys, point.Lon, point.Lat)
}

// ringContains is a crossing-number test with closed boundary semantics.
func ringContains(xs, ys []float64, x, y float64) bool {
	n := len(xs)
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		if onSegment(xs[j], ys[j], xs[i], ys[i], x, y) {
			return true
		}
		if (ys[i] > y) != (ys[j] > y) &&
			x < (xs[j]-xs[i])*(y-ys[i])/(ys[j]-ys[i])+xs[i] {
			inside = !inside
		}
		j = i
	}
	return inside
}

func onSegment(x1, y1, x2, y2, px, py float64) bool {
	cross := (x2-x1)*(py-y1) - (y2-y1)*(px-x1)
	scale := math.Max(math.Abs(x2-x1), math.Abs(y2-y1))
	if math.Abs(cross) > boundaryEpsilon*math.Max(scale, 1) {
		return false
	}
	return px >= math.Min(x1, x2)-boundaryEpsilon && px <= math.Max(x1, x2)+boundaryEpsilon &&
		py >= math.Min(y1, y2)-boundaryEpsilon && py <= math.Max(y1, y2)+boundaryEpsilon
}

func orientation(ax, ay, bx, by, cx, cy float64) int {
	v := (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
	switch {
	case v > boundaryEpsilon:
		return 1
	case v < -boundaryEpsilon:
		return -1
	}
	return 0
}

// segmentsIntersect reports whether segments p1p2 and q1q2 share any point.
func segmentsIntersect(p1x, p1y, p2x, p2y, q1x, q1y, q2x, q2y float64) bool {
	o1 := orientation(p1x, p1y, p2x, p2y, q1x, q1y)
	o2 := orientation(p1x, p1y, p2x, p2y, q2x, q2y)
	o3 := orientation(q1x, q1y, q2x, q2y, p1x, p1y)
	o4 := orientation(q1x, q1y, q2x, q2y, p2x, p2y)

	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && onSegment(p1x, p1y, p2x, p2y, q1x, q1y):
		return true
	case o2 == 0 && onSegment(p1x, p1y, p2x, p2y, q2x, q2y):
		return true
	case o3 == 0 && onSegment(q1x, q1y, q2x, q2y, p1x, p1y):
		return true
	case o4 == 0 && onSegment(q1x, q1y, q2x, q2y, p2x, p2y):
		return true
	}
	return false
}

// PolygonCentroid returns the area-weighted centroid of the polygon, computed
// in the local planar frame. Degenerate rings fall back to the vertex mean.
func PolygonCentroid(poly Polygon) Point {
	ring := poly.Normalize()
	if len(ring) < 3 {
		return Centroid(ring)
	}
	proj := NewProjection(ring.BBox().Center())
	var a, cx, cy float64
	n := len(ring)
	for i := 0; i < n; i++ {
		x1, y1 := proj.Forward(ring[i])
		x2, y2 := proj.Forward(ring[(i+1)%n])
		f := x1*y2 - x2*y1
		a += f
		cx += (x1 + x2) * f
		cy += (y1 + y2) * f
	}
	if math.Abs(a) < boundaryEpsilon {
		return Centroid(ring)
	}
	return proj.Inverse(cx/(3*a), cy/(3*a))
}
