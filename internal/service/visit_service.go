package service

import (
	"context"
	"time"

	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"go.uber.org/zap"
)

// VisitService exposes visit queries and closing
type VisitService struct {
	engine *engine.Engine
	visits VisitLister
}

// VisitLister pages through stored visits
type VisitLister interface {
	List(ctx context.Context, userID int64, filter models.VisitFilter) ([]models.Visit, int64, error)
}

// NewVisitService creates a new visit service
func NewVisitService(e *engine.Engine, visits VisitLister) *VisitService {
	return &VisitService{engine: e, visits: visits}
}

// List returns a page of a user's visits and the total count
func (s *VisitService) List(ctx context.Context, userID int64, filter models.VisitFilter) ([]models.Visit, int64, error) {
	return s.visits.List(ctx, userID, filter)
}

// Close ends an open visit. A zero endedAt means now.
func (s *VisitService) Close(ctx context.Context, visitID string, endedAt time.Time) (models.Visit, error) {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	return s.engine.CloseVisit(ctx, visitID, endedAt)
}

// CloseIdleLoop closes visits idle for longer than timeout every interval
// until ctx is done
func (s *VisitService) CloseIdleLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			closed, err := s.engine.CloseIdleVisits(ctx, now.UTC(), timeout)
			if err != nil {
				zap.L().Warn("idle visit sweep failed", zap.Error(err))
				continue
			}
			if len(closed) > 0 {
				zap.L().Info("idle visits closed", zap.Int("count", len(closed)))
			}
		}
	}
}
