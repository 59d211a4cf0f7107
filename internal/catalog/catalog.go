// Package catalog loads the region catalog from GeoJSON files or the region
// table.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// Provider supplies the full region set
type Provider interface {
	Regions(ctx context.Context) ([]models.Region, error)
}

var areaCategories = map[string]struct{}{
	models.CategoryForest:             {},
	models.CategoryRiverBasin:         {},
	models.CategoryValley:             {},
	models.CategoryNationalPark:       {},
	models.CategoryFarmland:           {},
	models.CategoryMountainRange:      {},
	models.CategoryLake:               {},
	models.CategoryCoastal:            {},
	models.CategoryRuralSettlement:    {},
	models.CategoryInfrastructureArea: {},
}

// FileProvider reads a GeoJSON FeatureCollection from disk on every call
type FileProvider struct {
	Path string
}

// Regions implements Provider
func (p FileProvider) Regions(_ context.Context) ([]models.Region, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", p.Path)
	}
	defer f.Close()
	return LoadGeoJSON(f)
}

// LoadGeoJSON decodes a FeatureCollection of Polygon or MultiPolygon features.
// Recognised properties are id, name, kind, category, area_square_meters and
// is_active. Geometry is not validated here; see Validate.
func LoadGeoJSON(r io.Reader) ([]models.Region, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "catalog: decode feature collection")
	}

	regions := make([]models.Region, 0, len(fc.Features))
	for i, f := range fc.Features {
		region, err := featureRegion(f)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: feature %d", i)
		}
		regions = append(regions, region)
	}
	return regions, nil
}

// Validate prepares every region the way the index does and splits out the
// ones with unusable geometry or duplicate IDs.
func Validate(regions []models.Region) ([]models.Region, []aspatial.RegionLoadError) {
	var (
		valid    []models.Region
		rejected []aspatial.RegionLoadError
	)
	seen := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		if _, dup := seen[r.ID]; dup {
			rejected = append(rejected, aspatial.RegionLoadError{RegionID: r.ID, Err: eris.New("duplicate region id")})
			continue
		}
		prepared, err := aspatial.PrepareRegion(r)
		if err != nil {
			zap.L().Warn("catalog: invalid region geometry", zap.String("region_id", r.ID), zap.Error(err))
			rejected = append(rejected, aspatial.RegionLoadError{RegionID: r.ID, Err: err})
			continue
		}
		seen[r.ID] = struct{}{}
		valid = append(valid, prepared)
	}
	return valid, rejected
}

func featureRegion(f *geojson.Feature) (models.Region, error) {
	props := f.Properties
	region := models.Region{
		ID:       stringProp(props, "id"),
		Name:     stringProp(props, "name"),
		Category: stringProp(props, "category"),
		IsActive: true,
	}
	if region.ID == "" {
		region.ID = f.ID
	}
	if region.Name == "" {
		region.Name = region.ID
	}
	if active, ok := props["is_active"].(bool); ok {
		region.IsActive = active
	}
	if area, ok := props["area_square_meters"].(float64); ok && area > 0 {
		region.AreaSquareMeters = &area
	}

	switch kind := models.RegionKind(stringProp(props, "kind")); kind {
	case models.RegionKindSimple, models.RegionKindArea:
		region.Kind = kind
	case "":
		region.Kind = KindForCategory(region.Category)
	default:
		return region, eris.Errorf("unknown region kind %q", kind)
	}

	ring, err := exteriorRing(f.Geometry)
	if err != nil {
		return region, eris.Wrapf(err, "region %s", region.ID)
	}
	region.Polygon = ring
	return region, nil
}

// KindForCategory maps the area categories to area regions and everything
// else to simple regions
func KindForCategory(category string) models.RegionKind {
	if _, ok := areaCategories[category]; ok {
		return models.RegionKindArea
	}
	return models.RegionKindSimple
}

// exteriorRing keeps the outer ring of a polygon. Of a multipolygon the part
// with the largest planar area wins.
func exteriorRing(g geom.T) (spatial.Polygon, error) {
	switch g := g.(type) {
	case *geom.Polygon:
		return ringPolygon(g), nil
	case *geom.MultiPolygon:
		var best spatial.Polygon
		bestArea := -1.0
		for i := 0; i < g.NumPolygons(); i++ {
			ring := ringPolygon(g.Polygon(i))
			if a := spatial.PlanarArea(ring); a > bestArea {
				best, bestArea = ring, a
			}
		}
		if g.NumPolygons() > 1 {
			zap.L().Warn("catalog: multipolygon reduced to its largest part", zap.Int("parts", g.NumPolygons()))
		}
		return best, nil
	case nil:
		return nil, eris.Wrap(spatial.ErrInvalidGeometry, "missing geometry")
	}
	return nil, eris.Wrapf(spatial.ErrInvalidGeometry, "unsupported geometry %T", g)
}

func ringPolygon(p *geom.Polygon) spatial.Polygon {
	if p.NumLinearRings() == 0 {
		return nil
	}
	coords := p.LinearRing(0).Coords()
	out := make(spatial.Polygon, 0, len(coords))
	for _, c := range coords {
		out = append(out, spatial.Point{Lat: c.Y(), Lon: c.X()})
	}
	return out.Normalize()
}

func stringProp(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}
