package spatial

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

// IntersectionLength returns the length in meters of the part of the polyline
// that lies inside the polygon. Both geometries are projected into the
// polygon's local frame; boundary overlap counts as inside.
func IntersectionLength(line []Point, poly Polygon) float64 {
	if len(line) < 2 || len(poly.Normalize()) < 3 {
		return 0
	}
	if !BoundingBox(line).Intersects(poly.BBox()) {
		return 0
	}

	projected, proj := ProjectToPlanar(poly)
	ls := proj.ProjectLine(line)
	xs, ys := ringXY(projected.LinearRing(0))

	var total float64
	coords := ls.Coords()
	for i := 1; i < len(coords); i++ {
		total += insideLength(coords[i-1], coords[i], xs, ys)
	}
	return total
}

// LineIntersects reports whether any part of the polyline touches the polygon
func LineIntersects(line []Point, poly Polygon) bool {
	ring := poly.Normalize()
	if len(line) == 0 || len(ring) < 3 {
		return false
	}
	if !BoundingBox(line).Intersects(ring.BBox()) {
		return false
	}
	for _, p := range line {
		if Contains(ring, p) {
			return true
		}
	}
	n := len(ring)
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		for j := 0; j < n; j++ {
			c, d := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a.Lon, a.Lat, b.Lon, b.Lat, c.Lon, c.Lat, d.Lon, d.Lat) {
				return true
			}
		}
	}
	return false
}

// ringXY splits a closed ring into coordinate slices without the closing vertex
func ringXY(ring *geom.LinearRing) ([]float64, []float64) {
	coords := ring.Coords()
	if n := len(coords); n > 1 && coords[0].Equal(geom.XY, coords[n-1]) {
		coords = coords[:n-1]
	}
	xs := make([]float64, len(coords))
	ys := make([]float64, len(coords))
	for i, c := range coords {
		xs[i], ys[i] = c.X(), c.Y()
	}
	return xs, ys
}

// insideLength clips segment ab against the ring and sums the inside pieces.
func insideLength(a, b geom.Coord, xs, ys []float64) float64 {
	ax, ay, bx, by := a.X(), a.Y(), b.X(), b.Y()
	segLen := math.Hypot(bx-ax, by-ay)
	if segLen == 0 {
		return 0
	}

	ts := []float64{0, 1}
	n := len(xs)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		if t, ok := segmentParam(ax, ay, bx, by, xs[i], ys[i], xs[j], ys[j]); ok {
			ts = append(ts, t)
		}
	}
	sort.Float64s(ts)

	var inside float64
	for i := 1; i < len(ts); i++ {
		t0, t1 := ts[i-1], ts[i]
		if t1-t0 <= 0 {
			continue
		}
		tm := (t0 + t1) / 2
		if ringContains(xs, ys, ax+(bx-ax)*tm, ay+(by-ay)*tm) {
			inside += (t1 - t0) * segLen
		}
	}
	return inside
}

// segmentParam returns the parameter along ab where it crosses cd.
// Parallel segments yield no crossing; their overlap is handled by the
// midpoint test in insideLength.
func segmentParam(ax, ay, bx, by, cx, cy, dx, dy float64) (float64, bool) {
	rx, ry := bx-ax, by-ay
	sx, sy := dx-cx, dy-cy
	denom := rx*sy - ry*sx
	if denom == 0 {
		return 0, false
	}
	qx, qy := cx-ax, cy-ay
	t := (qx*sy - qy*sx) / denom
	u := (qx*ry - qy*rx) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}
