package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jengzang/geotrust/internal/database"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/rotisserie/eris"
)

// ErrTaskNotFound is returned when an analysis task does not exist
var ErrTaskNotFound = eris.New("analysis task not found")

// AnalysisTaskRepository handles database operations for analysis tasks
type AnalysisTaskRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAnalysisTaskRepository creates a new analysis task repository
func NewAnalysisTaskRepository(db *sql.DB) *AnalysisTaskRepository {
	return &AnalysisTaskRepository{db: db, now: time.Now}
}

const taskColumns = `id, skill_name, user_id, status, progress_percent, window_start, window_end,
	total_points, processed_points, start_time, end_time, result_summary, error_message,
	created_at, updated_at`

// Create creates a new analysis task
func (r *AnalysisTaskRepository) Create(ctx context.Context, task *models.AnalysisTask) error {
	query := `
		INSERT INTO analysis_tasks (
			skill_name, user_id, status, progress_percent, window_start, window_end,
			total_points, processed_points, start_time, end_time, result_summary,
			error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := r.now().UTC()
	task.CreatedAt, task.UpdatedAt = now, now

	result, err := r.db.ExecContext(ctx, query,
		task.SkillName,
		task.UserID,
		task.Status,
		task.ProgressPercent,
		database.UnixNanos(task.WindowStart),
		database.UnixNanos(task.WindowEnd),
		task.TotalPoints,
		task.ProcessedPoints,
		database.NullUnixNanos(task.StartTime),
		database.NullUnixNanos(task.EndTime),
		task.ResultSummary,
		task.ErrorMessage,
		database.UnixNanos(now),
		database.UnixNanos(now),
	)
	if err != nil {
		return eris.Wrap(err, "repository: create analysis task")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "repository: analysis task insert id")
	}
	task.ID = id
	return nil
}

// GetByID retrieves an analysis task by ID
func (r *AnalysisTaskRepository) GetByID(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = ?`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrTaskNotFound, "task %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "repository: get analysis task")
	}
	return task, nil
}

// List retrieves analysis tasks with optional filters, newest first
func (r *AnalysisTaskRepository) List(ctx context.Context, skillName, status string, limit, offset int) ([]*models.AnalysisTask, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE 1=1`

	args := []interface{}{}
	if skillName != "" {
		query += " AND skill_name = ?"
		args = append(args, skillName)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list analysis tasks")
	}
	defer rows.Close()

	var tasks []*models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan analysis task")
		}
		tasks = append(tasks, task)
	}
	return tasks, eris.Wrap(rows.Err(), "repository: iterate analysis tasks")
}

// UpdateProgress updates the progress of an analysis task
func (r *AnalysisTaskRepository) UpdateProgress(ctx context.Context, id int64, processed, total, percent int) error {
	query := `
		UPDATE analysis_tasks
		SET processed_points = ?, total_points = ?, progress_percent = ?, updated_at = ?
		WHERE id = ?
	`
	return r.exec(ctx, "update task progress", query, processed, total, percent, database.UnixNanos(r.now()), id)
}

// MarkAsRunning marks a task as running
func (r *AnalysisTaskRepository) MarkAsRunning(ctx context.Context, id int64) error {
	now := database.UnixNanos(r.now())
	query := `UPDATE analysis_tasks SET status = ?, start_time = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, "mark task as running", query, models.TaskStatusRunning, now, now, id)
}

// MarkAsCompleted marks a task as completed with result summary
func (r *AnalysisTaskRepository) MarkAsCompleted(ctx context.Context, id int64, resultSummary string) error {
	now := database.UnixNanos(r.now())
	query := `
		UPDATE analysis_tasks
		SET status = ?, end_time = ?, result_summary = ?, progress_percent = 100, updated_at = ?
		WHERE id = ?
	`
	return r.exec(ctx, "mark task as completed", query, models.TaskStatusCompleted, now, resultSummary, now, id)
}

// MarkAsFailed marks a task as failed with an error message
func (r *AnalysisTaskRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	now := database.UnixNanos(r.now())
	query := `
		UPDATE analysis_tasks
		SET status = ?, end_time = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	return r.exec(ctx, "mark task as failed", query, models.TaskStatusFailed, now, errorMessage, now, id)
}

func (r *AnalysisTaskRepository) exec(ctx context.Context, what, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "repository: %s", what)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "repository: %s", what)
	}
	if n == 0 {
		return eris.Wrapf(ErrTaskNotFound, "repository: %s: task %v", what, args[len(args)-1])
	}
	return nil
}

func scanTask(s scanner) (*models.AnalysisTask, error) {
	var (
		task                   models.AnalysisTask
		windowStart, windowEnd int64
		startTime, endTime     sql.NullInt64
		createdAt, updatedAt   int64
	)
	err := s.Scan(
		&task.ID,
		&task.SkillName,
		&task.UserID,
		&task.Status,
		&task.ProgressPercent,
		&windowStart,
		&windowEnd,
		&task.TotalPoints,
		&task.ProcessedPoints,
		&startTime,
		&endTime,
		&task.ResultSummary,
		&task.ErrorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.WindowStart = database.FromUnixNanos(windowStart)
	task.WindowEnd = database.FromUnixNanos(windowEnd)
	task.StartTime = database.FromNullUnixNanos(startTime)
	task.EndTime = database.FromNullUnixNanos(endTime)
	task.CreatedAt = database.FromUnixNanos(createdAt)
	task.UpdatedAt = database.FromUnixNanos(updatedAt)
	return &task, nil
}
