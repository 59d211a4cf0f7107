package models

import "time"

// DiscoveryStatus is the tiered progress label of an area discovery
type DiscoveryStatus string

// DiscoveryStatus constants, in forward order
const (
	DiscoveryStatusDiscovered DiscoveryStatus = "discovered"
	DiscoveryStatusExplored   DiscoveryStatus = "explored"
	DiscoveryStatusCompleted  DiscoveryStatus = "completed"
)

// Rank orders statuses so that transitions can be checked for regressions
func (s DiscoveryStatus) Rank() int {
	switch s {
	case DiscoveryStatusDiscovered:
		return 1
	case DiscoveryStatusExplored:
		return 2
	case DiscoveryStatusCompleted:
		return 3
	}
	return 0
}

// AreaDiscovery tracks one user's progressive exploration of one area region.
// Progress, time and covered area never decrease.
type AreaDiscovery struct {
	UserID            int64           `json:"user_id" db:"user_id"`
	RegionID          string          `json:"region_id" db:"region_id"`
	Status            DiscoveryStatus `json:"status" db:"status"`
	ProgressPercent   float64         `json:"progress_percent" db:"progress_percent"`
	TimeSeconds       int64           `json:"time_seconds" db:"time_seconds"`
	AreaCoveredMeters float64         `json:"area_covered_meters" db:"area_covered_meters"`
	FirstSeenAt       time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastUpdatedAt     time.Time       `json:"last_updated_at" db:"last_updated_at"`

	// Timestamp of the newest reading already credited to TimeSeconds.
	LastReadingAt time.Time `json:"last_reading_at" db:"last_reading_at"`
}

// DiscoveryEventType is the only event type emitted by area discovery
const DiscoveryEventType = "AREA_DISCOVERED"

// RewardHint is an informational reward suggestion for the caller. The engine
// never grants rewards itself.
type RewardHint struct {
	XP       int  `json:"xp"`
	Artifact bool `json:"artifact"`
}

// DiscoveryEvent is emitted on the first qualifying update of a (user, region)
// pair and on every status change afterwards.
type DiscoveryEvent struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	UserID         int64           `json:"user_id"`
	RegionID       string          `json:"region_id"`
	RegionName     string          `json:"region_name"`
	Category       string          `json:"category,omitempty"`
	Progress       float64         `json:"progress"`
	Status         DiscoveryStatus `json:"status"`
	PreviousStatus DiscoveryStatus `json:"previous_status,omitempty"`
	Reward         RewardHint      `json:"reward"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
