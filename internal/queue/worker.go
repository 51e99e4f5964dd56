package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
)

// Process executes one attempt of a job. It returns an error only when the
// job's own bookkeeping fails; handler failures are recorded on the job.
func (q *JobQueue) Process(ctx context.Context, jobID string) error {
	now := q.now()

	claimed, err := q.jobs.Claim(ctx, jobID, now.Add(q.opts.ClaimTolerance))
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		q.logger.Debugw("job not claimable", "job_id", jobID)
		return nil
	}

	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return nil
	}

	result, runErr := q.run(ctx, job)

	// Outcomes are stored even after the handler's context is cancelled.
	store := context.WithoutCancel(ctx)
	if runErr == nil {
		return q.complete(store, job, result)
	}
	return q.fail(store, job, runErr)
}

func (q *JobQueue) run(ctx context.Context, job *models.Job) (result any, err error) {
	h, ok := q.handler(job.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, job)
}

func (q *JobQueue) complete(ctx context.Context, job *models.Job, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		q.logger.Warnw("job result not serializable", "job_id", job.ID, "error", err)
		raw = nil
	}

	job.Status = models.JobStatusCompleted
	job.LastError = ""
	job.Result = raw
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	q.metrics.RecordJob(job.Type, models.JobStatusCompleted)
	q.logger.Infow("job completed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempt)
	return nil
}

func (q *JobQueue) fail(ctx context.Context, job *models.Job, runErr error) error {
	attempt := &models.JobAttempt{JobID: job.ID, Attempt: job.Attempt, Error: runErr.Error()}
	if err := q.jobs.CreateAttempt(ctx, attempt); err != nil {
		q.logger.Errorw("recording job attempt", "job_id", job.ID, "error", err)
	}

	job.LastError = runErr.Error()

	terminal := errors.Is(runErr, ErrSkipRetry) ||
		errors.Is(runErr, ErrUnknownJobType) ||
		job.Attempt >= job.MaxAttempts

	if terminal {
		job.Status = models.JobStatusFailed
		if err := q.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		q.metrics.RecordJob(job.Type, models.JobStatusFailed)
		q.logger.Errorw("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", runErr)
		return nil
	}

	job.Status = models.JobStatusScheduled
	job.DueAt = q.now().Add(q.opts.Backoff.Delay(job.Attempt))
	if err := q.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	q.metrics.RecordRetry(job.Type)
	q.logger.Warnw("job attempt failed; retrying", "job_id", job.ID, "type", job.Type,
		"attempt", job.Attempt, "max_attempts", job.MaxAttempts, "due_at", job.DueAt, "error", runErr)

	if err := q.driver.Schedule(ctx, job.ID, job.DueAt); err != nil {
		q.logger.Warnw("arming retry failed; left for recovery", "job_id", job.ID, "error", err)
	}
	return nil
}
