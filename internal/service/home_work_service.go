package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jengzang/geotrust/internal/analysis"
	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/repository"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidWindow is returned for an empty or inverted analysis window
var ErrInvalidWindow = eris.New("analysis window end must be after start")

// HomeWorkService runs home/work analysis and tracks each run as an
// analysis task
type HomeWorkService struct {
	cfg       config.HomeWorkConfig
	engine    *engine.Engine
	tasks     *repository.AnalysisTaskRepository
	estimates *repository.EstimateRepository
	readings  *repository.ReadingRepository
	now       func() time.Time
}

// NewHomeWorkService creates a new home/work service
func NewHomeWorkService(cfg config.HomeWorkConfig, e *engine.Engine, tasks *repository.AnalysisTaskRepository,
	estimates *repository.EstimateRepository, readings *repository.ReadingRepository) *HomeWorkService {
	return &HomeWorkService{
		cfg:       cfg,
		engine:    e,
		tasks:     tasks,
		estimates: estimates,
		readings:  readings,
		now:       time.Now,
	}
}

// Window resolves an analysis window. A zero end means now and a zero start
// means the configured window before end.
func (s *HomeWorkService) Window(start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = s.now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-s.cfg.Window)
	}
	if !end.After(start) {
		return start, end, eris.Wrapf(ErrInvalidWindow, "%s .. %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// Analyze runs the analysis for one user and blocks until it finishes
func (s *HomeWorkService) Analyze(ctx context.Context, userID int64, start, end time.Time) (*models.AnalysisTask, []models.HomeWorkEstimate, error) {
	task, err := s.createTask(ctx, userID, start, end)
	if err != nil {
		return nil, nil, err
	}
	estimates, err := s.run(ctx, task)
	return task, estimates, err
}

// StartAnalysis records a pending task and runs it in the background. The
// run outlives the request context.
func (s *HomeWorkService) StartAnalysis(ctx context.Context, userID int64, start, end time.Time) (*models.AnalysisTask, error) {
	task, err := s.createTask(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	snapshot := *task
	go func() {
		if _, err := s.run(context.WithoutCancel(ctx), task); err != nil {
			zap.L().Error("home/work analysis failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}()
	return &snapshot, nil
}

// AnalyzeUsers runs the analysis for each user with bounded concurrency. An
// empty user list selects every user with readings in the window. A failure
// for one user is logged and does not stop the others.
func (s *HomeWorkService) AnalyzeUsers(ctx context.Context, userIDs []int64, start, end time.Time) (succeeded, failed int, err error) {
	if len(userIDs) == 0 {
		userIDs, err = s.readings.UsersWithReadings(ctx, start, end)
		if err != nil {
			return 0, 0, err
		}
	}

	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, userID := range userIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, _, err := s.Analyze(gctx, userID, start, end); err != nil {
				bad.Add(1)
				zap.L().Error("home/work analysis failed", zap.Int64("user_id", userID), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(ok.Load()), int(bad.Load()), err
}

// Estimates lists the stored estimates of a user
func (s *HomeWorkService) Estimates(ctx context.Context, userID int64) ([]models.HomeWorkEstimate, error) {
	return s.engine.HomeWorkEstimates(ctx, userID)
}

// Confirm marks an estimate as confirmed. It reports false for an unknown
// estimate.
func (s *HomeWorkService) Confirm(ctx context.Context, userID int64, kind models.LocationKind) (bool, error) {
	if kind != models.LocationKindHome && kind != models.LocationKindWork {
		return false, eris.Errorf("service: unknown location kind %q", kind)
	}
	return s.estimates.Confirm(ctx, userID, kind)
}

// Task returns an analysis task by ID
func (s *HomeWorkService) Task(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	return s.tasks.GetByID(ctx, id)
}

// Tasks lists analysis tasks, newest first
func (s *HomeWorkService) Tasks(ctx context.Context, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	return s.tasks.List(ctx, models.SkillHomeWork, status, limit, offset)
}

func (s *HomeWorkService) createTask(ctx context.Context, userID int64, start, end time.Time) (*models.AnalysisTask, error) {
	start, end, err := s.Window(start, end)
	if err != nil {
		return nil, err
	}
	task := &models.AnalysisTask{
		SkillName:   models.SkillHomeWork,
		UserID:      userID,
		WindowStart: start,
		WindowEnd:   end,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *HomeWorkService) run(ctx context.Context, task *models.AnalysisTask) ([]models.HomeWorkEstimate, error) {
	if err := s.tasks.MarkAsRunning(ctx, task.ID); err != nil {
		return nil, err
	}

	progress := func(p analysis.Progress) {
		if err := s.tasks.UpdateProgress(ctx, task.ID, p.Processed, p.Total, int(p.Percent)); err != nil {
			zap.L().Warn("task progress not recorded", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
	estimates, err := s.engine.RunHomeWorkAnalysisWithProgress(ctx, task.UserID, task.WindowStart, task.WindowEnd, nil, progress)
	if err != nil {
		if markErr := s.tasks.MarkAsFailed(context.WithoutCancel(ctx), task.ID, err.Error()); markErr != nil {
			zap.L().Error("task failure not recorded", zap.Int64("task_id", task.ID), zap.Error(markErr))
		}
		task.Status, task.ErrorMessage = models.TaskStatusFailed, err.Error()
		return nil, err
	}

	summary, err := json.Marshal(summarize(estimates))
	if err != nil {
		return estimates, eris.Wrap(err, "service: encode task summary")
	}
	if err := s.tasks.MarkAsCompleted(ctx, task.ID, string(summary)); err != nil {
		return estimates, err
	}
	task.Status, task.ResultSummary, task.ProgressPercent = models.TaskStatusCompleted, string(summary), 100

	zap.L().Info("home/work analysis completed",
		zap.Int64("task_id", task.ID),
		zap.Int64("user_id", task.UserID),
		zap.Int("estimates", len(estimates)),
	)
	return estimates, nil
}

type estimateSummary struct {
	Kind       models.LocationKind `json:"kind"`
	Confidence float64             `json:"confidence"`
	VisitCount int                 `json:"visit_count"`
}

func summarize(estimates []models.HomeWorkEstimate) map[string]interface{} {
	items := make([]estimateSummary, 0, len(estimates))
	for _, e := range estimates {
		items = append(items, estimateSummary{Kind: e.Kind, Confidence: e.Confidence, VisitCount: e.VisitCount})
	}
	return map[string]interface{}{"estimates": items}
}
