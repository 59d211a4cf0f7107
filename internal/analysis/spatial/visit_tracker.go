package spatial

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Visit errors
var (
	ErrVisitNotFound    = eris.New("visit not found")
	ErrVisitClosed      = eris.New("visit already closed")
	ErrVisitAlreadyOpen = eris.New("an open visit already exists for this user and region")
)

// VisitStore persists visits. Lookups return nil without error when nothing
// matches.
type VisitStore interface {
	OpenVisit(ctx context.Context, userID int64, regionID string) (*models.Visit, error)
	OpenVisits(ctx context.Context, userID int64) ([]models.Visit, error)
	GetVisit(ctx context.Context, id string) (*models.Visit, error)
	SaveVisit(ctx context.Context, v models.Visit) error
	IdleVisits(ctx context.Context, lastSeenBefore time.Time) ([]models.Visit, error)
}

// VisitChanges lists the visits touched by one observation
type VisitChanges struct {
	Opened   []models.Visit `json:"opened,omitempty"`
	Extended []models.Visit `json:"extended,omitempty"`
	Closed   []models.Visit `json:"closed,omitempty"`
}

// VisitTracker drives the per (user, region) visit state machine:
// no visit -> open on the first reading inside, open -> closed on the next
// reading outside or an explicit close. Closed visits are never reopened.
type VisitTracker struct {
	store VisitStore
	newID func() string
}

// NewVisitTracker creates a tracker backed by store
func NewVisitTracker(store VisitStore) *VisitTracker {
	return &VisitTracker{store: store, newID: uuid.NewString}
}

// OpenOrExtend returns the open visit for (user, region), creating it when
// none exists. The bool reports whether a new visit was opened.
func (t *VisitTracker) OpenOrExtend(ctx context.Context, userID int64, regionID string, r models.Reading) (models.Visit, bool, error) {
	open, err := t.store.OpenVisit(ctx, userID, regionID)
	if err != nil {
		return models.Visit{}, false, eris.Wrap(err, "visit: load open visit")
	}

	if open != nil {
		v := *open
		if r.Timestamp.After(v.LastSeenAt) {
			v.LastSeenAt = r.Timestamp
			if err := t.store.SaveVisit(ctx, v); err != nil {
				return models.Visit{}, false, eris.Wrap(err, "visit: extend")
			}
		}
		return v, false, nil
	}

	v := models.Visit{
		ID:         t.newID(),
		UserID:     userID,
		RegionID:   regionID,
		StartedAt:  r.Timestamp,
		LastSeenAt: r.Timestamp,
	}
	if err := t.store.SaveVisit(ctx, v); err != nil {
		return models.Visit{}, false, eris.Wrap(err, "visit: open")
	}
	zap.L().Debug("visit opened",
		zap.Int64("user_id", userID),
		zap.String("region_id", regionID),
		zap.String("visit_id", v.ID),
	)
	return v, true, nil
}

// Close ends an open visit at endedAt
func (t *VisitTracker) Close(ctx context.Context, visitID string, endedAt time.Time) (models.Visit, error) {
	v, err := t.store.GetVisit(ctx, visitID)
	if err != nil {
		return models.Visit{}, eris.Wrap(err, "visit: load")
	}
	if v == nil {
		return models.Visit{}, eris.Wrapf(ErrVisitNotFound, "visit %s", visitID)
	}
	if !v.IsOpen() {
		return *v, eris.Wrapf(ErrVisitClosed, "visit %s", visitID)
	}
	return t.close(ctx, *v, endedAt)
}

// Observe applies one accepted reading to the user's visits. containing is
// the set of regions containing the reading; only simple regions open visits.
func (t *VisitTracker) Observe(ctx context.Context, userID int64, r models.Reading, containing []models.Region) (VisitChanges, error) {
	var changes VisitChanges

	inside := make(map[string]struct{}, len(containing))
	for _, region := range containing {
		if region.Kind != models.RegionKindSimple {
			continue
		}
		inside[region.ID] = struct{}{}

		v, opened, err := t.OpenOrExtend(ctx, userID, region.ID, r)
		if err != nil {
			return changes, err
		}
		if opened {
			changes.Opened = append(changes.Opened, v)
		} else {
			changes.Extended = append(changes.Extended, v)
		}
	}

	open, err := t.store.OpenVisits(ctx, userID)
	if err != nil {
		return changes, eris.Wrap(err, "visit: list open visits")
	}
	for _, v := range open {
		if _, ok := inside[v.RegionID]; ok {
			continue
		}
		closed, err := t.close(ctx, v, r.Timestamp)
		if err != nil {
			return changes, err
		}
		changes.Closed = append(changes.Closed, closed)
	}

	return changes, nil
}

// CloseIdle closes visits not seen within timeout of now. Each visit ends at
// its last sighting.
func (t *VisitTracker) CloseIdle(ctx context.Context, now time.Time, timeout time.Duration) ([]models.Visit, error) {
	idle, err := t.store.IdleVisits(ctx, now.Add(-timeout))
	if err != nil {
		return nil, eris.Wrap(err, "visit: list idle visits")
	}

	closed := make([]models.Visit, 0, len(idle))
	for _, v := range idle {
		c, err := t.close(ctx, v, v.LastSeenAt)
		if err != nil {
			return closed, err
		}
		closed = append(closed, c)
	}
	return closed, nil
}

func (t *VisitTracker) close(ctx context.Context, v models.Visit, endedAt time.Time) (models.Visit, error) {
	ended := endedAt
	duration := int64(endedAt.Sub(v.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	v.EndedAt = &ended
	v.DurationSeconds = &duration

	if err := t.store.SaveVisit(ctx, v); err != nil {
		return models.Visit{}, eris.Wrap(err, "visit: close")
	}
	zap.L().Debug("visit closed",
		zap.Int64("user_id", v.UserID),
		zap.String("region_id", v.RegionID),
		zap.Int64("duration_seconds", duration),
	)
	return v, nil
}
