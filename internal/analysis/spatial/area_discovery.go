package spatial

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/geotrust/internal/analysis/behavior"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/jengzang/geotrust/internal/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Reward hint sizing. Area bonuses apply above 10 km² and 5 km².
const (
	baseRewardXP     = 50
	hugeAreaBonusXP  = 100
	largeAreaBonusXP = 50
	completedBonusXP = 100
	exploredBonusXP  = 50
	hugeAreaSquareM  = 10_000_000
	largeAreaSquareM = 5_000_000

	progressFloor   = 0.0
	progressCeiling = 100.0
)

// DiscoveryStore persists area discoveries. GetDiscovery returns nil without
// error when the pair has no record yet.
type DiscoveryStore interface {
	GetDiscovery(ctx context.Context, userID int64, regionID string) (*models.AreaDiscovery, error)
	SaveDiscovery(ctx context.Context, d models.AreaDiscovery) error
}

// Eligibility decides whether a region may be credited while the user moves
// in the given mode.
type Eligibility func(region models.Region, mode behavior.MovementMode) bool

// LargeScaleEligibility admits every region on foot. In transit only regions
// in the large-scale categories or above the large-area size qualify.
func LargeScaleEligibility(cfg config.DiscoveryConfig) Eligibility {
	allowed := make(map[string]struct{}, len(cfg.LargeScaleCategories))
	for _, c := range cfg.LargeScaleCategories {
		allowed[c] = struct{}{}
	}
	return func(region models.Region, mode behavior.MovementMode) bool {
		if mode != behavior.ModeTransit {
			return true
		}
		if _, ok := allowed[region.Category]; ok {
			return true
		}
		area, ok := region.KnownArea()
		return ok && area > cfg.LargeAreaSquareMeters
	}
}

// SegmentMeasure is what one trajectory contributes to one region
type SegmentMeasure struct {
	IntersectionLength float64
	// TimeInZone sums every eligible inside pair of the trajectory.
	TimeInZone int64
	// NewTimeInZone sums only inside pairs newer than the credited watermark.
	NewTimeInZone     int64
	AreaCoveredMeters float64
	ProgressPercent   float64
	LatestReadingAt   time.Time
}

// DiscoveryUpdate is the outcome of applying a trajectory to candidates
type DiscoveryUpdate struct {
	Events  []models.DiscoveryEvent `json:"events,omitempty"`
	Updated []models.AreaDiscovery  `json:"updated,omitempty"`
}

// AreaDiscoveryTracker advances the per (user, area region) discovery state
// machine. Status and progress only move forward.
type AreaDiscoveryTracker struct {
	cfg      config.DiscoveryConfig
	store    DiscoveryStore
	eligible Eligibility
	now      func() time.Time
	newID    func() string
}

// NewAreaDiscoveryTracker creates a tracker. A nil eligibility selects
// LargeScaleEligibility.
func NewAreaDiscoveryTracker(cfg config.DiscoveryConfig, store DiscoveryStore, eligible Eligibility) *AreaDiscoveryTracker {
	if eligible == nil {
		eligible = LargeScaleEligibility(cfg)
	}
	return &AreaDiscoveryTracker{
		cfg:      cfg,
		store:    store,
		eligible: eligible,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the wall clock used for LastUpdatedAt
func (t *AreaDiscoveryTracker) WithClock(now func() time.Time) *AreaDiscoveryTracker {
	t.now = now
	return t
}

// Update applies a session trajectory to each candidate area region and
// persists every accepted change. modes holds the movement mode at each
// reading of traj; missing entries count as pedestrian. A pair is credited to
// a region only when the region is eligible in the mode at the pair's end.
func (t *AreaDiscoveryTracker) Update(ctx context.Context, traj behavior.Trajectory, modes []behavior.MovementMode, candidates []models.Region) (DiscoveryUpdate, error) {
	var out DiscoveryUpdate
	if !traj.HasSegments() {
		return out, nil
	}

	for _, region := range candidates {
		if !region.IsArea() {
			continue
		}
		pairs := t.eligiblePairs(region, modes, len(traj.Readings))
		if pairs == nil {
			zap.L().Debug("discovery: region not eligible in mode",
				zap.String("region_id", region.ID), zap.String("mode", string(modeAt(modes, len(traj.Readings)-1))))
			continue
		}

		existing, err := t.store.GetDiscovery(ctx, traj.UserID, region.ID)
		if err != nil {
			return out, eris.Wrapf(err, "discovery: load user %d region %s", traj.UserID, region.ID)
		}

		m, ok := t.measure(region, traj, pairs, existing)
		if !ok {
			continue
		}
		next, event, changed := t.Advance(traj.UserID, region, existing, m)
		if !changed {
			continue
		}
		if err := t.store.SaveDiscovery(ctx, next); err != nil {
			return out, eris.Wrapf(err, "discovery: save user %d region %s", traj.UserID, region.ID)
		}
		out.Updated = append(out.Updated, next)
		if event != nil {
			out.Events = append(out.Events, *event)
			zap.L().Info("area discovery event",
				zap.Int64("user_id", traj.UserID),
				zap.String("region_id", region.ID),
				zap.String("status", string(event.Status)),
				zap.Float64("progress", event.Progress),
			)
		}
	}
	return out, nil
}

// Measure computes the trajectory's contribution to region under modes. It
// reports false when no eligible part of the trajectory intersects the
// polygon.
func (t *AreaDiscoveryTracker) Measure(region models.Region, traj behavior.Trajectory, modes []behavior.MovementMode, existing *models.AreaDiscovery) (SegmentMeasure, bool) {
	pairs := t.eligiblePairs(region, modes, len(traj.Readings))
	if pairs == nil {
		return SegmentMeasure{}, false
	}
	return t.measure(region, traj, pairs, existing)
}

func modeAt(modes []behavior.MovementMode, i int) behavior.MovementMode {
	if i < 0 || i >= len(modes) || modes[i] == "" {
		return behavior.ModePedestrian
	}
	return modes[i]
}

// eligiblePairs marks pair (i-1, i) at index i. It returns nil when no pair
// is eligible.
func (t *AreaDiscoveryTracker) eligiblePairs(region models.Region, modes []behavior.MovementMode, n int) []bool {
	if n < 2 {
		return nil
	}
	pairs := make([]bool, n)
	found := false
	for i := 1; i < n; i++ {
		pairs[i] = t.eligible(region, modeAt(modes, i))
		found = found || pairs[i]
	}
	if !found {
		return nil
	}
	return pairs
}

func (t *AreaDiscoveryTracker) measure(region models.Region, traj behavior.Trajectory, pairs []bool, existing *models.AreaDiscovery) (SegmentMeasure, bool) {
	points := traj.Points()

	// sum over maximal runs of eligible pairs
	var length float64
	runStart := -1
	for i := 1; i <= len(points); i++ {
		if i < len(points) && pairs[i] {
			if runStart < 0 {
				runStart = i - 1
			}
			continue
		}
		if runStart >= 0 {
			length += spatial.IntersectionLength(points[runStart:i], region.Polygon)
			runStart = -1
		}
	}
	if length <= 0 {
		return SegmentMeasure{}, false
	}

	var watermark time.Time
	if existing != nil {
		watermark = existing.LastReadingAt
	}

	m := SegmentMeasure{
		IntersectionLength: length,
		AreaCoveredMeters:  length * t.cfg.CorridorWidthMeters,
		LatestReadingAt:    watermark,
	}

	inside := make([]bool, len(points))
	for i, p := range points {
		inside[i] = spatial.Contains(region.Polygon, p)
	}
	for i := 1; i < len(points); i++ {
		if !pairs[i] || !inside[i-1] || !inside[i] {
			continue
		}
		cur := traj.Readings[i].Timestamp
		dt := int64(cur.Sub(traj.Readings[i-1].Timestamp) / time.Second)
		if dt <= 0 {
			continue
		}
		m.TimeInZone += dt
		if cur.After(watermark) {
			m.NewTimeInZone += dt
			if cur.After(m.LatestReadingAt) {
				m.LatestReadingAt = cur
			}
		}
	}

	if area, ok := region.KnownArea(); ok {
		m.ProgressPercent = m.AreaCoveredMeters / area * 100
	} else {
		m.ProgressPercent = float64(m.TimeInZone) / t.cfg.FallbackStepSeconds * t.cfg.FallbackStepPercent
	}
	m.ProgressPercent = stats.Clamp(m.ProgressPercent, progressFloor, progressCeiling)
	return m, true
}

// Advance folds a measure into the existing record. It reports false when
// the measure is too weak to count. The event is non-nil on the first update
// of the pair and on every status change.
func (t *AreaDiscoveryTracker) Advance(userID int64, region models.Region, existing *models.AreaDiscovery, m SegmentMeasure) (models.AreaDiscovery, *models.DiscoveryEvent, bool) {
	if m.TimeInZone < t.cfg.MinTimeInZoneSeconds && m.ProgressPercent < t.cfg.MinProgressPercent {
		return models.AreaDiscovery{}, nil, false
	}

	now := t.now()
	var next models.AreaDiscovery
	var previous models.DiscoveryStatus
	if existing != nil {
		next = *existing
		previous = existing.Status
	} else {
		next = models.AreaDiscovery{
			UserID:      userID,
			RegionID:    region.ID,
			FirstSeenAt: now,
		}
	}

	if m.AreaCoveredMeters > next.AreaCoveredMeters {
		next.AreaCoveredMeters = m.AreaCoveredMeters
	}
	next.TimeSeconds += m.NewTimeInZone
	if m.ProgressPercent > next.ProgressPercent {
		next.ProgressPercent = m.ProgressPercent
	}
	next.ProgressPercent = stats.Clamp(next.ProgressPercent, progressFloor, progressCeiling)
	if m.LatestReadingAt.After(next.LastReadingAt) {
		next.LastReadingAt = m.LatestReadingAt
	}
	next.LastUpdatedAt = now

	status := t.StatusFor(next.ProgressPercent)
	if status.Rank() < previous.Rank() {
		status = previous
	}
	next.Status = status

	if existing != nil && status == previous {
		return next, nil, true
	}
	return next, &models.DiscoveryEvent{
		ID:             t.newID(),
		Type:           models.DiscoveryEventType,
		UserID:         userID,
		RegionID:       region.ID,
		RegionName:     region.Name,
		Category:       region.Category,
		Progress:       next.ProgressPercent,
		Status:         status,
		PreviousStatus: previous,
		Reward:         RewardFor(region, status),
		OccurredAt:     now,
	}, true
}

// StatusFor maps progress onto the discovery tiers
func (t *AreaDiscoveryTracker) StatusFor(progress float64) models.DiscoveryStatus {
	switch {
	case progress >= t.cfg.CompletedPercent:
		return models.DiscoveryStatusCompleted
	case progress >= t.cfg.ExploredPercent:
		return models.DiscoveryStatusExplored
	}
	return models.DiscoveryStatusDiscovered
}

// RewardFor sizes the informational reward hint by region size and tier
func RewardFor(region models.Region, status models.DiscoveryStatus) models.RewardHint {
	xp := baseRewardXP
	if area, ok := region.KnownArea(); ok {
		switch {
		case area > hugeAreaSquareM:
			xp += hugeAreaBonusXP
		case area > largeAreaSquareM:
			xp += largeAreaBonusXP
		}
	}
	switch status {
	case models.DiscoveryStatusCompleted:
		xp += completedBonusXP
	case models.DiscoveryStatusExplored:
		xp += exploredBonusXP
	}
	return models.RewardHint{XP: xp}
}
