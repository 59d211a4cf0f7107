package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// ReadingRepository handles database operations for classified readings
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `id, user_id, session_id, latitude, longitude, accuracy_meters, speed_m_s,
	heading_degrees, timestamp, is_spoofed, spoof_score, spoof_reason`

// SaveReading inserts a classified reading and returns it with its ID
func (r *ReadingRepository) SaveReading(ctx context.Context, c models.ClassifiedReading) (models.ClassifiedReading, error) {
	query := `
		INSERT INTO readings (
			user_id, session_id, latitude, longitude, accuracy_meters, speed_m_s,
			heading_degrees, timestamp, is_spoofed, spoof_score, spoof_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		c.UserID,
		c.SessionID,
		c.Latitude,
		c.Longitude,
		nullFloat(c.AccuracyMeters),
		nullFloat(c.SpeedMPS),
		nullFloat(c.HeadingDegrees),
		database.UnixNanos(c.Timestamp),
		c.IsSpoofed,
		c.SpoofScore,
		c.SpoofReason,
		database.UnixNanos(time.Now()),
	)
	if err != nil {
		return c, eris.Wrap(err, "repository: insert reading")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return c, eris.Wrap(err, "repository: reading insert id")
	}
	c.ID = id
	return c, nil
}

// LastAccepted returns the newest accepted reading of a user, or nil
func (r *ReadingRepository) LastAccepted(ctx context.Context, userID int64) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings
		WHERE user_id = ? AND is_spoofed = 0
		ORDER BY timestamp DESC, id DESC LIMIT 1`

	c, err := scanReading(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "repository: last accepted reading")
	}
	return &c.Reading, nil
}

// AcceptedInWindow returns a user's accepted readings in [from, to), oldest first
func (r *ReadingRepository) AcceptedInWindow(ctx context.Context, userID int64, from, to time.Time) ([]models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings
		WHERE user_id = ? AND is_spoofed = 0 AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id`

	classified, err := r.query(ctx, query, userID, database.UnixNanos(from), database.UnixNanos(to))
	if err != nil {
		return nil, err
	}
	out := make([]models.Reading, len(classified))
	for i, c := range classified {
		out[i] = c.Reading
	}
	return out, nil
}

// SessionReadings returns every stored reading of a session, oldest first
func (r *ReadingRepository) SessionReadings(ctx context.Context, sessionID int64) ([]models.ClassifiedReading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE session_id = ? ORDER BY timestamp, id`
	return r.query(ctx, query, sessionID)
}

// UsersWithReadings lists users with accepted readings in [from, to)
func (r *ReadingRepository) UsersWithReadings(ctx context.Context, from, to time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM readings
		WHERE is_spoofed = 0 AND timestamp >= ? AND timestamp < ? ORDER BY user_id`,
		database.UnixNanos(from), database.UnixNanos(to))
	if err != nil {
		return nil, eris.Wrap(err, "repository: list users")
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "repository: scan user id")
		}
		users = append(users, id)
	}
	return users, eris.Wrap(rows.Err(), "repository: iterate users")
}

func (r *ReadingRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.ClassifiedReading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: query readings")
	}
	defer rows.Close()

	var out []models.ClassifiedReading
	for rows.Next() {
		c, err := scanReading(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan reading")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "repository: iterate readings")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(s scanner) (models.ClassifiedReading, error) {
	var (
		c                        models.ClassifiedReading
		accuracy, speed, heading sql.NullFloat64
		ts                       int64
	)
	err := s.Scan(
		&c.ID,
		&c.UserID,
		&c.SessionID,
		&c.Latitude,
		&c.Longitude,
		&accuracy,
		&speed,
		&heading,
		&ts,
		&c.IsSpoofed,
		&c.SpoofScore,
		&c.SpoofReason,
	)
	if err != nil {
		return c, err
	}
	c.AccuracyMeters = floatPtr(accuracy)
	c.SpeedMPS = floatPtr(speed)
	c.HeadingDegrees = floatPtr(heading)
	c.Timestamp = database.FromUnixNanos(ts)
	return c, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
