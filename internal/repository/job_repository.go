package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
)

// JobRepository persists queue jobs. Only the queue executor mutates a job
// after creation.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	// Claim atomically moves a due scheduled job to processing and bumps its
	// attempt count. It reports false when another executor won, the job is
	// not yet due, or its attempts are exhausted.
	Claim(ctx context.Context, id string, dueBy time.Time) (bool, error)
	// Update never lowers the attempt count.
	Update(ctx context.Context, job *models.Job) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	// RequeueStalled releases processing jobs untouched since olderThan. A
	// job with attempts left is scheduled again at dueAt; an exhausted one
	// fails with reason. The released jobs are returned in their new state.
	RequeueStalled(ctx context.Context, olderThan, dueAt time.Time, reason string) ([]*models.Job, error)
	CreateAttempt(ctx context.Context, attempt *models.JobAttempt) error
	ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, type, payload, status, attempt, max_attempts, due_at, last_error, result, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var payload, result []byte
	err := row.Scan(&job.ID, &job.Type, &payload, &job.Status, &job.Attempt, &job.MaxAttempts,
		&job.DueAt, &job.LastError, &result, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Result = result
	return &job, nil
}

// jsonArg passes raw JSON as text; lib/pq would otherwise send []byte as bytea.
func jsonArg(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, type, payload, status, attempt, max_attempts, due_at)
		VALUES ($1, $2, COALESCE($3::jsonb, '{}'::jsonb), $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.Type, jsonArg(job.Payload), job.Status,
		job.Attempt, job.MaxAttempts, job.DueAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) Claim(ctx context.Context, id string, dueBy time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
			attempt = attempt + 1,
			updated_at = NOW()
		WHERE id = $1
			AND status = $3
			AND due_at <= $4
			AND attempt < max_attempts
	`
	result, err := r.db.ExecContext(ctx, query, id, models.JobStatusProcessing, models.JobStatusScheduled, dueBy)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *jobRepository) Update(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET status = $2,
			attempt = GREATEST(attempt, $3),
			due_at = $4,
			last_error = $5,
			result = $6::jsonb,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.Status, job.Attempt, job.DueAt, job.LastError, jsonArg(job.Result))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *jobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND due_at <= $2
		ORDER BY due_at
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) RequeueStalled(ctx context.Context, olderThan, dueAt time.Time, reason string) ([]*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempt < max_attempts THEN $3 ELSE $4 END,
			due_at = CASE WHEN attempt < max_attempts THEN $5 ELSE due_at END,
			last_error = $6,
			updated_at = NOW()
		WHERE status = $1 AND updated_at < $2
		RETURNING ` + jobColumns
	rows, err := r.db.QueryContext(ctx, query, models.JobStatusProcessing, olderThan,
		models.JobStatusScheduled, models.JobStatusFailed, dueAt, reason)
	if err != nil {
		return nil, fmt.Errorf("requeue stalled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) CreateAttempt(ctx context.Context, attempt *models.JobAttempt) error {
	query := `INSERT INTO job_attempts (job_id, attempt, error) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, attempt.JobID, attempt.Attempt, attempt.Error); err != nil {
		return fmt.Errorf("insert job attempt: %w", err)
	}
	return nil
}

func (r *jobRepository) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	query := `SELECT id, job_id, attempt, error, created_at FROM job_attempts WHERE job_id = $1 ORDER BY attempt, id`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.JobAttempt
	for rows.Next() {
		var a models.JobAttempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.Attempt, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return attempts, nil
}
