package models

import (
	"time"

	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
)

// ErrReadingOutOfRange is returned for readings whose coordinates are not valid WGS84.
var ErrReadingOutOfRange = eris.New("reading coordinates out of range")

// Reading is a raw device location sample. Optional fields are nil when the
// device did not report them.
type Reading struct {
	UserID         int64     `json:"user_id" db:"user_id" binding:"required"`
	SessionID      int64     `json:"session_id" db:"session_id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty" db:"accuracy_meters"`
	SpeedMPS       *float64  `json:"speed_m_s,omitempty" db:"speed_m_s"`
	HeadingDegrees *float64  `json:"heading_degrees,omitempty" db:"heading_degrees"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp" binding:"required"`
}

// Point returns the reading's coordinate
func (r Reading) Point() spatial.Point {
	return spatial.Point{Lat: r.Latitude, Lon: r.Longitude}
}

// Validate rejects coordinates outside WGS84 ranges. Values are never clamped.
func (r Reading) Validate() error {
	if !r.Point().Valid() {
		return eris.Wrapf(ErrReadingOutOfRange, "latitude %v, longitude %v", r.Latitude, r.Longitude)
	}
	return nil
}

// ClassifiedReading is a reading with its plausibility verdict attached.
// It is produced once per reading and never recomputed.
type ClassifiedReading struct {
	Reading
	ID          int64   `json:"id,omitempty" db:"id"`
	IsSpoofed   bool    `json:"is_spoofed" db:"is_spoofed"`
	SpoofScore  float64 `json:"spoof_score" db:"spoof_score"`
	SpoofReason string  `json:"spoof_reason,omitempty" db:"spoof_reason"`
}

// Accepted reports whether the reading may feed downstream tracking
func (c ClassifiedReading) Accepted() bool {
	return !c.IsSpoofed
}

// Float64 returns a pointer to v, for optional reading fields.
func Float64(v float64) *float64 {
	return &v
}
