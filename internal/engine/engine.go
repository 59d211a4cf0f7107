// Package engine exposes the trust and discovery operations behind a facade
// that serialises per-user work.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jengzang/geotrust/internal/analysis"
	"github.com/jengzang/geotrust/internal/analysis/behavior"
	"github.com/jengzang/geotrust/internal/analysis/foundation"
	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/analysis/temporal"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine wires the scorer, region index, visit and discovery trackers and
// the home/work clusterer together.
type Engine struct {
	cfg    config.Config
	stores Stores

	index        *aspatial.RegionIndex
	scorer       *foundation.SpoofingScorer
	visits       *aspatial.VisitTracker
	trajectories *behavior.TrajectoryBuilder
	discovery    *aspatial.AreaDiscoveryTracker
	homeWork     *temporal.HomeWorkClusterer

	locks *userLocks
	// runs serialises home/work analyses per user apart from live ingestion
	runs  *userLocks
	loads singleflight.Group
}

// Option customises an Engine
type Option func(*Engine)

// WithEligibility replaces the transit eligibility rule of area discovery
func WithEligibility(e aspatial.Eligibility) Option {
	return func(eng *Engine) {
		eng.discovery = aspatial.NewAreaDiscoveryTracker(eng.cfg.Discovery, eng.stores.Discoveries, e)
	}
}

// WithClock fixes the wall clock of the discovery and home/work components
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.discovery.WithClock(now)
		eng.homeWork.WithClock(now)
		eng.trajectories.WithClock(now)
	}
}

// New creates an engine over index. Missing stores default to memory.
func New(cfg config.Config, index *aspatial.RegionIndex, stores Stores, opts ...Option) *Engine {
	if index == nil {
		index = aspatial.NewRegionIndex()
	}
	stores = stores.withDefaults()

	e := &Engine{
		cfg:          cfg,
		stores:       stores,
		index:        index,
		scorer:       foundation.NewSpoofingScorer(cfg.Spoofing),
		visits:       aspatial.NewVisitTracker(stores.Visits),
		trajectories: behavior.NewTrajectoryBuilder(cfg.Trajectory),
		discovery:    aspatial.NewAreaDiscoveryTracker(cfg.Discovery, stores.Discoveries, nil),
		homeWork:     temporal.NewHomeWorkClusterer(cfg.HomeWork, stores.Estimates),
		locks:        newUserLocks(),
		runs:         newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index returns the region index the engine reads
func (e *Engine) Index() *aspatial.RegionIndex {
	return e.index
}

// Stores returns the persistence collaborators in use
func (e *Engine) Stores() Stores {
	return e.stores
}

// ClassifyReading scores reading against the previous accepted reading of
// the same user. It never touches stored state.
func (e *Engine) ClassifyReading(reading models.Reading, previous *models.Reading) (models.ClassifiedReading, error) {
	return e.scorer.Classify(reading, previous)
}

// CheckContainment returns the active regions among regions that contain p.
// A nil region list queries the index instead.
func (e *Engine) CheckContainment(p spatial.Point, regions []models.Region) []models.Region {
	if regions == nil {
		return e.index.Containing(p)
	}
	return aspatial.CheckContainment(p, regions)
}

// OpenOrExtendVisit opens a visit for (user, region) or extends the open one
func (e *Engine) OpenOrExtendVisit(ctx context.Context, userID int64, regionID string, reading models.Reading) (models.Visit, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	v, _, err := e.visits.OpenOrExtend(ctx, userID, regionID, reading)
	return v, err
}

// CloseVisit ends an open visit at endedAt
func (e *Engine) CloseVisit(ctx context.Context, visitID string, endedAt time.Time) (models.Visit, error) {
	v, err := e.stores.Visits.GetVisit(ctx, visitID)
	if err != nil {
		return models.Visit{}, eris.Wrap(err, "engine: load visit")
	}
	if v == nil {
		return models.Visit{}, eris.Wrapf(aspatial.ErrVisitNotFound, "visit %s", visitID)
	}

	unlock := e.locks.Lock(v.UserID)
	defer unlock()
	return e.visits.Close(ctx, visitID, endedAt)
}

// CloseIdleVisits closes every visit not seen within timeout of now
func (e *Engine) CloseIdleVisits(ctx context.Context, now time.Time, timeout time.Duration) ([]models.Visit, error) {
	return e.visits.CloseIdle(ctx, now, timeout)
}

// UpdateAreaDiscovery applies a trajectory segment of one user to the
// candidate area regions. Nil candidates are looked up in the index.
func (e *Engine) UpdateAreaDiscovery(ctx context.Context, userID int64, segment []models.Reading, candidates []models.Region) ([]models.DiscoveryEvent, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	res, err := e.updateDiscovery(ctx, userID, segment, candidates)
	return res.Events, err
}

func (e *Engine) updateDiscovery(ctx context.Context, userID int64, segment []models.Reading, candidates []models.Region) (aspatial.DiscoveryUpdate, error) {
	var sessionID int64
	if len(segment) > 0 {
		sessionID = segment[0].SessionID
	}
	traj := behavior.NewTrajectory(userID, sessionID, segment)
	if !traj.HasSegments() {
		return aspatial.DiscoveryUpdate{}, nil
	}
	if candidates == nil {
		candidates = e.index.AreasIntersecting(traj.Points())
	}
	modes := behavior.Modes(traj.Readings, e.cfg.Trajectory)
	return e.discovery.Update(ctx, traj, modes, candidates)
}

// RunHomeWorkAnalysis clusters a user's accepted readings in
// [windowStart, windowEnd) and upserts home/work estimates. Nil readings are
// loaded from the reading store. Runs for the same user are serialised; each
// caller gets the result of its own run.
func (e *Engine) RunHomeWorkAnalysis(ctx context.Context, userID int64, windowStart, windowEnd time.Time, readings []models.Reading) ([]models.HomeWorkEstimate, error) {
	return e.RunHomeWorkAnalysisWithProgress(ctx, userID, windowStart, windowEnd, readings, nil)
}

// RunHomeWorkAnalysisWithProgress is RunHomeWorkAnalysis with progress
// reporting.
func (e *Engine) RunHomeWorkAnalysisWithProgress(ctx context.Context, userID int64, windowStart, windowEnd time.Time, readings []models.Reading, progress analysis.ProgressFunc) ([]models.HomeWorkEstimate, error) {
	if !windowEnd.After(windowStart) {
		return nil, eris.Errorf("engine: home/work window end %s is not after start %s", windowEnd, windowStart)
	}

	input := readings
	if input == nil {
		loaded, err := e.windowReadings(ctx, userID, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		input = loaded
	}

	unlock := e.runs.Lock(userID)
	defer unlock()
	return e.homeWork.Run(ctx, userID, windowStart, windowEnd, input, progress)
}

// windowReadings loads the accepted readings of a window. Concurrent loads
// of the same (user, window) share one query.
func (e *Engine) windowReadings(ctx context.Context, userID int64, windowStart, windowEnd time.Time) ([]models.Reading, error) {
	key := fmt.Sprintf("%d:%d:%d", userID, windowStart.UnixNano(), windowEnd.UnixNano())
	v, err, shared := e.loads.Do(key, func() (interface{}, error) {
		return e.stores.Readings.AcceptedInWindow(ctx, userID, windowStart, windowEnd)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "engine: load readings for user %d", userID)
	}
	if shared {
		zap.L().Debug("home/work window load shared", zap.Int64("user_id", userID))
	}
	loaded, _ := v.([]models.Reading)
	// shared results must not alias between callers
	return append([]models.Reading(nil), loaded...), nil
}

// HomeWorkEstimates lists the stored estimates of a user
func (e *Engine) HomeWorkEstimates(ctx context.Context, userID int64) ([]models.HomeWorkEstimate, error) {
	return e.stores.Estimates.ListEstimates(ctx, userID)
}

// ProcessResult describes everything one reading changed
type ProcessResult struct {
	Reading    models.ClassifiedReading `json:"reading"`
	Containing []models.Region          `json:"containing,omitempty"`
	Visits     aspatial.VisitChanges    `json:"visits"`
	Mode       behavior.MovementMode    `json:"mode,omitempty"`
	Discovery  aspatial.DiscoveryUpdate `json:"discovery"`
}

// ProcessReading runs the live pipeline for one reading: classify against
// the last accepted reading, persist, and for accepted readings update
// visits, the session trajectory and area discovery.
func (e *Engine) ProcessReading(ctx context.Context, r models.Reading) (ProcessResult, error) {
	var res ProcessResult
	if err := r.Validate(); err != nil {
		return res, err
	}

	unlock := e.locks.Lock(r.UserID)
	defer unlock()

	previous, err := e.stores.Readings.LastAccepted(ctx, r.UserID)
	if err != nil {
		return res, eris.Wrapf(err, "engine: last accepted reading for user %d", r.UserID)
	}
	classified, err := e.scorer.Classify(r, previous)
	if err != nil {
		return res, err
	}
	saved, err := e.stores.Readings.SaveReading(ctx, classified)
	if err != nil {
		return res, eris.Wrap(err, "engine: save reading")
	}
	res.Reading = saved

	if !saved.Accepted() {
		zap.L().Debug("reading rejected as spoofed",
			zap.Int64("user_id", r.UserID),
			zap.Float64("score", saved.SpoofScore),
			zap.String("reason", saved.SpoofReason),
		)
		return res, nil
	}

	res.Containing = e.index.Containing(r.Point())
	res.Visits, err = e.visits.Observe(ctx, r.UserID, r, res.Containing)
	if err != nil {
		return res, err
	}

	traj := e.trajectories.Add(r)
	modes := e.trajectories.Modes(traj)
	res.Mode = modes[len(modes)-1]
	if traj.HasSegments() {
		candidates := e.index.AreasIntersecting(traj.Points())
		res.Discovery, err = e.discovery.Update(ctx, traj, modes, candidates)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// EndSession drops the trajectory buffer of a finished session
func (e *Engine) EndSession(userID, sessionID int64) {
	e.trajectories.EndSession(userID, sessionID)
}

// SweepSessions drops trajectory buffers that received no reading within
// idle of now
func (e *Engine) SweepSessions(now time.Time, idle time.Duration) int {
	return e.trajectories.SweepIdle(now, idle)
}

// Sessions returns the number of buffered session trajectories
func (e *Engine) Sessions() int {
	return e.trajectories.Sessions()
}

// SessionVerification is a read-only re-score of a stored session
type SessionVerification struct {
	SessionID int64                      `json:"session_id"`
	Total     int                        `json:"total"`
	Spoofed   int                        `json:"spoofed"`
	Changed   int                        `json:"changed"`
	Readings  []models.ClassifiedReading `json:"readings"`
}

// VerifySession re-scores every stored reading of a session in timestamp
// order, each against the last reading the re-score accepted. Stored
// classifications are left untouched.
func (e *Engine) VerifySession(ctx context.Context, sessionID int64) (SessionVerification, error) {
	out := SessionVerification{SessionID: sessionID}
	stored, err := e.stores.Readings.SessionReadings(ctx, sessionID)
	if err != nil {
		return out, eris.Wrapf(err, "engine: load session %d", sessionID)
	}

	var previous *models.Reading
	for _, s := range stored {
		rescored, err := e.scorer.Classify(s.Reading, previous)
		if err != nil {
			return out, err
		}
		rescored.ID = s.ID
		if rescored.IsSpoofed != s.IsSpoofed {
			out.Changed++
		}
		if rescored.IsSpoofed {
			out.Spoofed++
		} else {
			r := s.Reading
			previous = &r
		}
		out.Readings = append(out.Readings, rescored)
	}
	out.Total = len(stored)
	return out, nil
}
