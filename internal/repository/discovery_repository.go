package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// DiscoveryRepository handles database operations for area discoveries
type DiscoveryRepository struct {
	db *sql.DB
}

// NewDiscoveryRepository creates a new discovery repository
func NewDiscoveryRepository(db *sql.DB) *DiscoveryRepository {
	return &DiscoveryRepository{db: db}
}

const discoveryColumns = `user_id, region_id, status, progress_percent, time_seconds,
	area_covered_meters, first_seen_at, last_updated_at, last_reading_at`

// GetDiscovery returns the discovery of (user, region), or nil
func (r *DiscoveryRepository) GetDiscovery(ctx context.Context, userID int64, regionID string) (*models.AreaDiscovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM area_discoveries WHERE user_id = ? AND region_id = ?`
	d, err := scanDiscovery(r.db.QueryRowContext(ctx, query, userID, regionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "repository: get discovery")
	}
	return &d, nil
}

// SaveDiscovery inserts or replaces the discovery of (user, region)
func (r *DiscoveryRepository) SaveDiscovery(ctx context.Context, d models.AreaDiscovery) error {
	query := `
		INSERT INTO area_discoveries (` + discoveryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, region_id) DO UPDATE SET
			status = excluded.status,
			progress_percent = excluded.progress_percent,
			time_seconds = excluded.time_seconds,
			area_covered_meters = excluded.area_covered_meters,
			last_updated_at = excluded.last_updated_at,
			last_reading_at = excluded.last_reading_at
	`
	_, err := r.db.ExecContext(ctx, query,
		d.UserID,
		d.RegionID,
		string(d.Status),
		d.ProgressPercent,
		d.TimeSeconds,
		d.AreaCoveredMeters,
		database.UnixNanos(d.FirstSeenAt),
		database.UnixNanos(d.LastUpdatedAt),
		watermarkNanos(d.LastReadingAt),
	)
	return eris.Wrap(err, "repository: save discovery")
}

// ListByUser returns a page of a user's discoveries, most progressed first
func (r *DiscoveryRepository) ListByUser(ctx context.Context, userID int64, filter models.DiscoveryFilter) ([]models.AreaDiscovery, int64, error) {
	filter.Normalize()

	where := ` WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM area_discoveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "repository: count discoveries")
	}

	query := `SELECT ` + discoveryColumns + ` FROM area_discoveries` + where +
		` ORDER BY progress_percent DESC, region_id LIMIT ? OFFSET ?`
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	out, err := r.query(ctx, query, args...)
	return out, total, err
}

// ListByRegion returns every user's discovery of a region
func (r *DiscoveryRepository) ListByRegion(ctx context.Context, regionID string) ([]models.AreaDiscovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM area_discoveries WHERE region_id = ? ORDER BY progress_percent DESC, user_id`
	return r.query(ctx, query, regionID)
}

func (r *DiscoveryRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.AreaDiscovery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: query discoveries")
	}
	defer rows.Close()

	var out []models.AreaDiscovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan discovery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "repository: iterate discoveries")
}

func scanDiscovery(s scanner) (models.AreaDiscovery, error) {
	var (
		d                           models.AreaDiscovery
		status                      string
		firstSeen, updated, reading int64
	)
	err := s.Scan(&d.UserID, &d.RegionID, &status, &d.ProgressPercent, &d.TimeSeconds,
		&d.AreaCoveredMeters, &firstSeen, &updated, &reading)
	if err != nil {
		return d, err
	}
	d.Status = models.DiscoveryStatus(status)
	d.FirstSeenAt = database.FromUnixNanos(firstSeen)
	d.LastUpdatedAt = database.FromUnixNanos(updated)
	if reading != 0 {
		d.LastReadingAt = database.FromUnixNanos(reading)
	}
	return d, nil
}

// The zero watermark has no unix representation.
func watermarkNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return database.UnixNanos(t)
}
