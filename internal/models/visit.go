package models

import "time"

// Visit is an interval during which a user was continuously inside a simple
// region. EndedAt and DurationSeconds are nil while the visit is open.
type Visit struct {
	ID              string     `json:"id" db:"id"`
	UserID          int64      `json:"user_id" db:"user_id"`
	RegionID        string     `json:"region_id" db:"region_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	LastSeenAt      time.Time  `json:"last_seen_at" db:"last_seen_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty" db:"duration_seconds"`
}

// IsOpen reports whether the visit has not been closed yet
func (v Visit) IsOpen() bool {
	return v.EndedAt == nil
}

// VisitFilter represents filter parameters for querying visits
type VisitFilter struct {
	RegionID string `form:"region_id"`
	OpenOnly bool   `form:"open_only"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
