package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// RegionRepository stores the region catalog. Polygons are kept as EWKB
// (SRID 4326, lon/lat order).
type RegionRepository struct {
	db *sql.DB
}

// NewRegionRepository creates a new region repository
func NewRegionRepository(db *sql.DB) *RegionRepository {
	return &RegionRepository{db: db}
}

// UpsertAll writes regions in a single transaction
func (r *RegionRepository) UpsertAll(ctx context.Context, regions []models.Region) error {
	query := `
		INSERT INTO regions (
			id, name, kind, category, geometry, area_square_meters,
			centroid_lat, centroid_lon, is_active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			category = excluded.category,
			geometry = excluded.geometry,
			area_square_meters = excluded.area_square_meters,
			centroid_lat = excluded.centroid_lat,
			centroid_lon = excluded.centroid_lon,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return eris.Wrap(err, "repository: prepare region upsert")
		}
		defer stmt.Close()

		for _, region := range regions {
			wkb, err := EncodePolygon(region.Polygon)
			if err != nil {
				return eris.Wrapf(err, "repository: region %s", region.ID)
			}
			updated := region.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			_, err = stmt.ExecContext(ctx,
				region.ID,
				region.Name,
				string(region.Kind),
				region.Category,
				wkb,
				nullFloat(region.AreaSquareMeters),
				region.Centroid.Lat,
				region.Centroid.Lon,
				region.IsActive,
				database.UnixNanos(updated),
			)
			if err != nil {
				return eris.Wrapf(err, "repository: upsert region %s", region.ID)
			}
		}
		return nil
	})
}

// List returns all regions, or only the active ones
func (r *RegionRepository) List(ctx context.Context, activeOnly bool) ([]models.Region, error) {
	query := `SELECT id, name, kind, category, geometry, area_square_meters,
		centroid_lat, centroid_lon, is_active, updated_at FROM regions`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list regions")
	}
	defer rows.Close()

	var out []models.Region
	for rows.Next() {
		var (
			region  models.Region
			kind    string
			wkb     []byte
			area    sql.NullFloat64
			updated int64
		)
		err := rows.Scan(&region.ID, &region.Name, &kind, &region.Category, &wkb, &area,
			&region.Centroid.Lat, &region.Centroid.Lon, &region.IsActive, &updated)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan region")
		}
		region.Kind = models.RegionKind(kind)
		region.AreaSquareMeters = floatPtr(area)
		region.UpdatedAt = database.FromUnixNanos(updated)
		if region.Polygon, err = DecodePolygon(wkb); err != nil {
			return nil, eris.Wrapf(err, "repository: region %s", region.ID)
		}
		out = append(out, region)
	}
	return out, eris.Wrap(rows.Err(), "repository: iterate regions")
}

// Regions returns the whole catalog, inactive regions included
func (r *RegionRepository) Regions(ctx context.Context) ([]models.Region, error) {
	return r.List(ctx, false)
}

// SetActive toggles a region, reporting whether it exists
func (r *RegionRepository) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE regions SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, database.UnixNanos(time.Now()), id)
	if err != nil {
		return false, eris.Wrapf(err, "repository: set region %s active", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "repository: rows affected")
	}
	return n > 0, nil
}

// EncodePolygon converts a region ring to EWKB
func EncodePolygon(poly spatial.Polygon) ([]byte, error) {
	ring := poly.Normalize()
	if len(ring) == 0 {
		return nil, eris.Wrap(spatial.ErrInvalidGeometry, "empty polygon")
	}
	flat := make([]float64, 0, (len(ring)+1)*2)
	for _, p := range ring {
		flat = append(flat, p.Lon, p.Lat)
	}
	flat = append(flat, ring[0].Lon, ring[0].Lat)

	g := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode EWKB")
	}
	return data, nil
}

// DecodePolygon reads the exterior ring of an EWKB polygon
func DecodePolygon(data []byte) (spatial.Polygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "decode EWKB")
	}
	poly, ok := g.(*geom.Polygon)
	if !ok || poly.NumLinearRings() == 0 {
		return nil, eris.Wrapf(spatial.ErrInvalidGeometry, "unexpected geometry %T", g)
	}
	coords := poly.LinearRing(0).Coords()
	out := make(spatial.Polygon, 0, len(coords))
	for _, c := range coords {
		out = append(out, spatial.Point{Lat: c.Y(), Lon: c.X()})
	}
	return out.Normalize(), nil
}
