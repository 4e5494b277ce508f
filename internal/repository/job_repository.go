package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/internal/service"
)

// JobRepository owns simulation_jobs. Summaries are stored as JSONB so the
// aggregate shape can evolve without schema churn.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by the given PG pool.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `
	job_id, date, scenario, run_count, status, summary, error, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*model.SimulationJob, error) {
	j := &model.SimulationJob{}
	var summary []byte
	var errMsg *string
	err := row.Scan(
		&j.ID, &j.Date, &j.Scenario, &j.Runs, &j.Status,
		&summary, &errMsg, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if len(summary) > 0 {
		j.Summary = &model.SimulationSummary{}
		if err := json.Unmarshal(summary, j.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return j, nil
}

// CreateJob records a new pending job.
func (r *JobRepository) CreateJob(ctx context.Context, job *model.SimulationJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO simulation_jobs (job_id, date, scenario, run_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.Date, job.Scenario, job.Runs, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("jobs: create %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches one job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*model.SimulationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM simulation_jobs WHERE job_id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound.Msgf("simulation job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get %s: %w", jobID, err)
	}
	return j, nil
}

// MarkJobRunning flips a pending job to running.
func (r *JobRepository) MarkJobRunning(ctx context.Context, jobID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE simulation_jobs SET status = 'running', started_at = $2
		WHERE job_id = $1 AND status = 'pending'
	`, jobID, at)
	if err != nil {
		return fmt.Errorf("jobs: mark running %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrWrongStatus.Msgf("job %s is not pending", jobID)
	}
	return nil
}

// MarkJobCompleted stores the summary and flips the job to completed.
func (r *JobRepository) MarkJobCompleted(ctx context.Context, jobID string, summary *model.SimulationSummary, at time.Time) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("jobs: encode summary %s: %w", jobID, err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE simulation_jobs SET status = 'completed', summary = $2, completed_at = $3
		WHERE job_id = $1 AND status = 'running'
	`, jobID, payload, at)
	if err != nil {
		return fmt.Errorf("jobs: mark completed %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrWrongStatus.Msgf("job %s is not running", jobID)
	}
	return nil
}

// MarkJobFailed records the failure message and flips the job to failed.
func (r *JobRepository) MarkJobFailed(ctx context.Context, jobID string, errMsg string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE simulation_jobs SET status = 'failed', error = $2, completed_at = $3
		WHERE job_id = $1 AND status IN ('pending', 'running')
	`, jobID, errMsg, at)
	if err != nil {
		return fmt.Errorf("jobs: mark failed %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrWrongStatus.Msgf("job %s is already terminal", jobID)
	}
	return nil
}

// LatestCompletedJob returns the most recent completed job for a date, or
// (nil, nil) when the date has none.
func (r *JobRepository) LatestCompletedJob(ctx context.Context, date string) (*model.SimulationJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+jobColumns+` FROM simulation_jobs
		WHERE date = $1 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`, date)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: latest completed %s: %w", date, err)
	}
	return j, nil
}
