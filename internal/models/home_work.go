package models

import "time"

// LocationKind labels an inferred significant place
type LocationKind string

// LocationKind constants
const (
	LocationKindHome LocationKind = "home"
	LocationKindWork LocationKind = "work"
)

// HomeWorkEstimate is the inferred home or work location of a user. There is
// at most one estimate per (user, kind).
type HomeWorkEstimate struct {
	UserID          int64        `json:"user_id" db:"user_id"`
	Kind            LocationKind `json:"kind" db:"kind"`
	Latitude        float64      `json:"latitude" db:"latitude"`
	Longitude       float64      `json:"longitude" db:"longitude"`
	RadiusMeters    float64      `json:"radius_meters" db:"radius_meters"`
	Confidence      float64      `json:"confidence" db:"confidence"`
	VisitCount      int          `json:"visit_count" db:"visit_count"`
	TotalMinutes    int          `json:"total_minutes" db:"total_minutes"`
	FirstDetectedAt time.Time    `json:"first_detected_at" db:"first_detected_at"`
	LastUpdatedAt   time.Time    `json:"last_updated_at" db:"last_updated_at"`
	Confirmed       bool         `json:"confirmed" db:"confirmed"`
}

// Merge folds a freshly detected candidate into an existing estimate. The
// higher confidence is kept, visits and minutes accumulate, the centre moves
// to the candidate, and the first detection time and confirmation survive.
func (e HomeWorkEstimate) Merge(candidate HomeWorkEstimate) HomeWorkEstimate {
	out := e
	if candidate.Confidence > out.Confidence {
		out.Confidence = candidate.Confidence
	}
	out.VisitCount += candidate.VisitCount
	out.TotalMinutes += candidate.TotalMinutes
	out.Latitude = candidate.Latitude
	out.Longitude = candidate.Longitude
	out.RadiusMeters = candidate.RadiusMeters
	if candidate.LastUpdatedAt.After(out.LastUpdatedAt) {
		out.LastUpdatedAt = candidate.LastUpdatedAt
	}
	return out
}
