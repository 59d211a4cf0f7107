package service

import (
	"context"
	"sort"
	"time"

	"github.com/jengzang/geotrust/internal/analysis"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBatchUserMismatch is returned when a batch mixes users
var ErrBatchUserMismatch = eris.New("batch contains readings of another user")

// IngestResult is what one ingested reading changed
type IngestResult = engine.ProcessResult

// BatchError reports a reading of a batch that could not be processed
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult summarises an offline sync batch
type BatchResult struct {
	UserID   int64                   `json:"user_id"`
	Accepted int                     `json:"accepted"`
	Spoofed  int                     `json:"spoofed"`
	Events   []models.DiscoveryEvent `json:"events,omitempty"`
	Errors   []BatchError            `json:"errors,omitempty"`
}

// IngestService feeds readings through the live pipeline
type IngestService struct {
	engine *engine.Engine
}

// NewIngestService creates a new ingest service
func NewIngestService(e *engine.Engine) *IngestService {
	return &IngestService{engine: e}
}

// Ingest classifies, persists and applies one reading
func (s *IngestService) Ingest(ctx context.Context, r models.Reading) (IngestResult, error) {
	return s.engine.ProcessReading(ctx, r)
}

// Classify scores a reading against the user's last accepted reading without
// storing anything
func (s *IngestService) Classify(ctx context.Context, r models.Reading) (models.ClassifiedReading, error) {
	if err := r.Validate(); err != nil {
		return models.ClassifiedReading{}, err
	}
	previous, err := s.engine.Stores().Readings.LastAccepted(ctx, r.UserID)
	if err != nil {
		return models.ClassifiedReading{}, eris.Wrapf(err, "service: last accepted reading for user %d", r.UserID)
	}
	return s.engine.ClassifyReading(r, previous)
}

// IngestBatch replays an offline batch of one user in timestamp order.
// Invalid readings are reported per index and do not stop the batch.
func (s *IngestService) IngestBatch(ctx context.Context, userID int64, readings []models.Reading) (BatchResult, error) {
	out := BatchResult{UserID: userID}
	readings = append([]models.Reading(nil), readings...)

	order := make([]int, len(readings))
	for i := range order {
		order[i] = i
		if readings[i].UserID == 0 {
			readings[i].UserID = userID
		}
		if readings[i].UserID != userID {
			return out, eris.Wrapf(ErrBatchUserMismatch, "reading %d belongs to user %d", i, readings[i].UserID)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return readings[order[a]].Timestamp.Before(readings[order[b]].Timestamp)
	})

	for n, i := range order {
		if err := analysis.Checkpoint(ctx, "batch ingest"); err != nil {
			return out, err
		}
		res, err := s.engine.ProcessReading(ctx, readings[i])
		if err != nil {
			if eris.Is(err, models.ErrReadingOutOfRange) {
				out.Errors = append(out.Errors, BatchError{Index: i, Error: err.Error()})
				continue
			}
			return out, eris.Wrapf(err, "service: batch reading %d of %d", n+1, len(order))
		}
		if res.Reading.Accepted() {
			out.Accepted++
		} else {
			out.Spoofed++
		}
		out.Events = append(out.Events, res.Discovery.Events...)
	}

	zap.L().Info("batch ingested",
		zap.Int64("user_id", userID),
		zap.Int("readings", len(readings)),
		zap.Int("accepted", out.Accepted),
		zap.Int("spoofed", out.Spoofed),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}

// VerifySession re-scores a stored session without changing it
func (s *IngestService) VerifySession(ctx context.Context, sessionID int64) (engine.SessionVerification, error) {
	return s.engine.VerifySession(ctx, sessionID)
}

// EndSession drops the in-memory trajectory of a finished session
func (s *IngestService) EndSession(userID, sessionID int64) {
	s.engine.EndSession(userID, sessionID)
}

// SweepSessionsLoop drops session trajectories idle for longer than timeout
// every interval until ctx is done
func (s *IngestService) SweepSessionsLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.engine.SweepSessions(now, timeout); n > 0 {
				zap.L().Info("idle sessions dropped", zap.Int("count", n))
			}
		}
	}
}
