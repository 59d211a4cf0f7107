package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Projection is a local equirectangular frame centred on an origin. X grows
// east and Y grows north, both in meters. Accuracy degrades with distance from
// the origin, so frames are built per geometry.
type Projection struct {
	origin Point
	kx, ky float64
}

// NewProjection creates a planar frame centred on origin
func NewProjection(origin Point) Projection {
	return Projection{
		origin: origin,
		kx:     EarthRadiusMeters * degToRad * math.Cos(origin.Lat*degToRad),
		ky:     EarthRadiusMeters * degToRad,
	}
}

// Forward maps a coordinate to planar meters
func (p Projection) Forward(pt Point) (x, y float64) {
	return (pt.Lon - p.origin.Lon) * p.kx, (pt.Lat - p.origin.Lat) * p.ky
}

// Inverse maps planar meters back to a coordinate
func (p Projection) Inverse(x, y float64) Point {
	lon := p.origin.Lon
	if p.kx != 0 {
		lon += x / p.kx
	}
	return Point{Lat: p.origin.Lat + y/p.ky, Lon: lon}
}

// ProjectPolygon maps the ring into the frame as a closed go-geom polygon
func (p Projection) ProjectPolygon(poly Polygon) *geom.Polygon {
	ring := poly.Normalize()
	flat := make([]float64, 0, 2*(len(ring)+1))
	for _, pt := range ring {
		x, y := p.Forward(pt)
		flat = append(flat, x, y)
	}
	if len(ring) > 0 {
		flat = append(flat, flat[0], flat[1])
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// ProjectLine maps a polyline into the frame
func (p Projection) ProjectLine(points []Point) *geom.LineString {
	flat := make([]float64, 0, 2*len(points))
	for _, pt := range points {
		x, y := p.Forward(pt)
		flat = append(flat, x, y)
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}

// ProjectToPlanar projects a polygon into a frame centred on its bounding box
func ProjectToPlanar(poly Polygon) (*geom.Polygon, Projection) {
	proj := NewProjection(poly.BBox().Center())
	return proj.ProjectPolygon(poly), proj
}

// PlanarArea returns the area of the polygon in square meters
func PlanarArea(poly Polygon) float64 {
	if len(poly.Normalize()) < 3 {
		return 0
	}
	projected, _ := ProjectToPlanar(poly)
	return math.Abs(projected.Area())
}

// PlanarLength returns the projected length of a polyline in meters
func PlanarLength(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	proj := NewProjection(BoundingBox(points).Center())
	return proj.ProjectLine(points).Length()
}
