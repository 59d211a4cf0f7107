package repository

import (
	"context"
	"database/sql"

	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// EstimateRepository handles database operations for home/work estimates
type EstimateRepository struct {
	db *sql.DB
}

// NewEstimateRepository creates a new estimate repository
func NewEstimateRepository(db *sql.DB) *EstimateRepository {
	return &EstimateRepository{db: db}
}

const estimateColumns = `user_id, kind, latitude, longitude, radius_meters, confidence,
	visit_count, total_minutes, first_detected_at, last_updated_at, confirmed`

// UpsertEstimate merges candidate into the stored estimate of the same
// (user, kind) in a single statement and returns the stored result. The
// higher confidence wins, visits and minutes accumulate, the centre moves to
// the candidate; first detection and confirmation are never overwritten.
func (r *EstimateRepository) UpsertEstimate(ctx context.Context, candidate models.HomeWorkEstimate) (models.HomeWorkEstimate, error) {
	query := `
		INSERT INTO home_work_estimates (` + estimateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			radius_meters = excluded.radius_meters,
			confidence = max(confidence, excluded.confidence),
			visit_count = visit_count + excluded.visit_count,
			total_minutes = total_minutes + excluded.total_minutes,
			last_updated_at = max(last_updated_at, excluded.last_updated_at)
		RETURNING ` + estimateColumns

	stored, err := scanEstimate(r.db.QueryRowContext(ctx, query,
		candidate.UserID,
		string(candidate.Kind),
		candidate.Latitude,
		candidate.Longitude,
		candidate.RadiusMeters,
		candidate.Confidence,
		candidate.VisitCount,
		candidate.TotalMinutes,
		database.UnixNanos(candidate.FirstDetectedAt),
		database.UnixNanos(candidate.LastUpdatedAt),
	))
	if err != nil {
		return models.HomeWorkEstimate{}, eris.Wrap(err, "repository: upsert estimate")
	}
	return stored, nil
}

// ListEstimates returns the estimates of a user, home before work
func (r *EstimateRepository) ListEstimates(ctx context.Context, userID int64) ([]models.HomeWorkEstimate, error) {
	query := `SELECT ` + estimateColumns + ` FROM home_work_estimates
		WHERE user_id = ? ORDER BY CASE kind WHEN 'home' THEN 0 ELSE 1 END`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, eris.Wrap(err, "repository: query estimates")
	}
	defer rows.Close()

	var out []models.HomeWorkEstimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan estimate")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "repository: iterate estimates")
}

// Confirm marks an estimate as confirmed by the user. It reports false when
// no estimate of that kind exists.
func (r *EstimateRepository) Confirm(ctx context.Context, userID int64, kind models.LocationKind) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE home_work_estimates SET confirmed = 1 WHERE user_id = ? AND kind = ?`, userID, string(kind))
	if err != nil {
		return false, eris.Wrap(err, "repository: confirm estimate")
	}
	n, err := result.RowsAffected()
	return n > 0, eris.Wrap(err, "repository: confirm estimate rows")
}

func scanEstimate(s scanner) (models.HomeWorkEstimate, error) {
	var (
		e                 models.HomeWorkEstimate
		kind              string
		detected, updated int64
	)
	err := s.Scan(&e.UserID, &kind, &e.Latitude, &e.Longitude, &e.RadiusMeters, &e.Confidence,
		&e.VisitCount, &e.TotalMinutes, &detected, &updated, &e.Confirmed)
	if err != nil {
		return e, err
	}
	e.Kind = models.LocationKind(kind)
	e.FirstDetectedAt = database.FromUnixNanos(detected)
	e.LastUpdatedAt = database.FromUnixNanos(updated)
	return e, nil
}
