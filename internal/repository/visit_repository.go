package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// VisitRepository handles database operations for visits
type VisitRepository struct {
	db *sql.DB
}

// NewVisitRepository creates a new visit repository
func NewVisitRepository(db *sql.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

const visitColumns = `id, user_id, region_id, started_at, last_seen_at, ended_at, duration_seconds`

// OpenVisit returns the open visit for (user, region), or nil
func (r *VisitRepository) OpenVisit(ctx context.Context, userID int64, regionID string) (*models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits
		WHERE user_id = ? AND region_id = ? AND ended_at IS NULL`
	v, err := scanVisit(r.db.QueryRowContext(ctx, query, userID, regionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "repository: open visit")
	}
	return &v, nil
}

// OpenVisits returns the open visits of a user
func (r *VisitRepository) OpenVisits(ctx context.Context, userID int64) ([]models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits
		WHERE user_id = ? AND ended_at IS NULL ORDER BY started_at, id`
	return r.query(ctx, query, userID)
}

// GetVisit returns a visit by ID, or nil
func (r *VisitRepository) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	v, err := scanVisit(r.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "repository: get visit")
	}
	return &v, nil
}

// SaveVisit inserts or updates a visit. A second open visit for the same
// (user, region) violates the partial unique index.
func (r *VisitRepository) SaveVisit(ctx context.Context, v models.Visit) error {
	query := `
		INSERT INTO visits (` + visitColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			ended_at = excluded.ended_at,
			duration_seconds = excluded.duration_seconds
	`
	var duration sql.NullInt64
	if v.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: *v.DurationSeconds, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		v.ID,
		v.UserID,
		v.RegionID,
		database.UnixNanos(v.StartedAt),
		database.UnixNanos(v.LastSeenAt),
		database.NullUnixNanos(v.EndedAt),
		duration,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(aspatial.ErrVisitAlreadyOpen, "user %d region %s", v.UserID, v.RegionID)
		}
		return eris.Wrap(err, "repository: save visit")
	}
	return nil
}

// IdleVisits returns open visits last seen before the cutoff
func (r *VisitRepository) IdleVisits(ctx context.Context, lastSeenBefore time.Time) ([]models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits
		WHERE ended_at IS NULL AND last_seen_at < ? ORDER BY started_at, id`
	return r.query(ctx, query, database.UnixNanos(lastSeenBefore))
}

// List returns a page of a user's visits, newest first, and the total count
func (r *VisitRepository) List(ctx context.Context, userID int64, filter models.VisitFilter) ([]models.Visit, int64, error) {
	filter.Normalize()

	where := ` WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.RegionID != "" {
		where += ` AND region_id = ?`
		args = append(args, filter.RegionID)
	}
	if filter.OpenOnly {
		where += ` AND ended_at IS NULL`
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "repository: count visits")
	}

	query := `SELECT ` + visitColumns + ` FROM visits` + where + ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	visits, err := r.query(ctx, query, args...)
	return visits, total, err
}

func (r *VisitRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Visit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: query visits")
	}
	defer rows.Close()

	var out []models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan visit")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "repository: iterate visits")
}

func scanVisit(s scanner) (models.Visit, error) {
	var (
		v                 models.Visit
		started, lastSeen int64
		ended, duration   sql.NullInt64
	)
	if err := s.Scan(&v.ID, &v.UserID, &v.RegionID, &started, &lastSeen, &ended, &duration); err != nil {
		return v, err
	}
	v.StartedAt = database.FromUnixNanos(started)
	v.LastSeenAt = database.FromUnixNanos(lastSeen)
	v.EndedAt = database.FromNullUnixNanos(ended)
	if duration.Valid {
		d := duration.Int64
		v.DurationSeconds = &d
	}
	return v, nil
}
