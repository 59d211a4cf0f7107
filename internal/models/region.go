package models

import (
	"time"

	"github.com/jengzang/geotrust/internal/spatial"
)

// RegionKind distinguishes visit-tracked regions from incrementally explored areas
type RegionKind string

// RegionKind constants
const (
	RegionKindSimple RegionKind = "simple"
	RegionKindArea   RegionKind = "area"
)

// Region categories. Simple regions use the geozone types, area regions the
// area types.
const (
	CategoryLandmark = "landmark"
	CategoryCity     = "city"
	CategoryRegion   = "region"
	CategoryCustom   = "custom"

	CategoryForest             = "forest_area"
	CategoryRiverBasin         = "river_basin"
	CategoryValley             = "valley"
	CategoryNationalPark       = "national_park"
	CategoryFarmland           = "farmland"
	CategoryMountainRange      = "mountain_range"
	CategoryLake               = "lake_area"
	CategoryCoastal            = "coastal_area"
	CategoryRuralSettlement    = "rural_settlement_area"
	CategoryInfrastructureArea = "infrastructure_area"
)

// Region is a named polygon supplied by the region catalog. The engine treats
// it as read-only.
type Region struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Kind             RegionKind      `json:"kind" db:"kind"`
	Category         string          `json:"category,omitempty" db:"category"`
	Polygon          spatial.Polygon `json:"polygon"`
	AreaSquareMeters *float64        `json:"area_square_meters,omitempty" db:"area_square_meters"`
	Centroid         spatial.Point   `json:"centroid"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsArea reports whether the region is tracked through area discovery
func (r Region) IsArea() bool {
	return r.Kind == RegionKindArea
}

// KnownArea returns the catalog area when it is present and positive
func (r Region) KnownArea() (float64, bool) {
	if r.AreaSquareMeters == nil || *r.AreaSquareMeters <= 0 {
		return 0, false
	}
	return *r.AreaSquareMeters, true
}
