// Package queue persists typed, deferred jobs and drives them through
// scheduled, processing, completed and failed with bounded retries. A
// TaskScheduler decides when the executor wakes up; the job row decides
// whether it may run.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/repository"
	"go.uber.org/zap"
)

const (
	TypePublishPost = "publish_post"
	TypeSyncMetrics = "sync_metrics"
)

var (
	// ErrSkipRetry marks a handler failure as final regardless of the
	// remaining attempts.
	ErrSkipRetry      = errors.New("skip retry")
	ErrUnknownJobType = errors.New("unknown job type")
)

// SkipRetry wraps err so the executor fails the job without retrying.
func SkipRetry(err error) error {
	return fmt.Errorf("%w: %w", err, ErrSkipRetry)
}

// Handler runs one attempt of a job. The returned value is stored as the
// job's JSON result on success.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) (any, error)
}

type HandlerFunc func(ctx context.Context, job *models.Job) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) (any, error) {
	return f(ctx, job)
}

type Options struct {
	MaxAttempts int
	Backoff     Backoff
	// ClaimTolerance lets a wake-up that arrives slightly before the due
	// time still claim the job.
	ClaimTolerance time.Duration
	RecoverBatch   int
	// VisibilityTimeout is how long a job may stay processing without an
	// outcome before RequeueStalled takes it back from its executor.
	VisibilityTimeout time.Duration
}

const stalledReason = "stalled: exceeded visibility timeout"

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 30 * time.Second
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 10 * time.Minute
	}
	if o.ClaimTolerance <= 0 {
		o.ClaimTolerance = time.Second
	}
	if o.RecoverBatch <= 0 {
		o.RecoverBatch = 500
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 15 * time.Minute
	}
	return o
}

type JobQueue struct {
	jobs   repository.JobRepository
	driver TaskScheduler
	opts   Options

	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewJobQueue(jobs repository.JobRepository, driver TaskScheduler, opts Options, logger *zap.SugaredLogger, m *metrics.Metrics) *JobQueue {
	return &JobQueue{
		jobs:     jobs,
		driver:   driver,
		opts:     opts.withDefaults(),
		handlers: make(map[string]Handler),
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// SetClock replaces the time source used for due times and claims.
func (q *JobQueue) SetClock(now func() time.Time) {
	q.now = now
}

func (q *JobQueue) Register(jobType string, h Handler) {
	q.mu.Lock()
	q.handlers[jobType] = h
	q.mu.Unlock()
}

func (q *JobQueue) handler(jobType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// ScheduleJob persists a job due after delay and arms the driver. The job
// row is the source of truth: a driver failure is logged and left for
// Recover to re-arm.
func (q *JobQueue) ScheduleJob(ctx context.Context, jobType string, payload any, delay time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		Status:      models.JobStatusScheduled,
		MaxAttempts: q.opts.MaxAttempts,
		DueAt:       q.now().Add(delay),
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := q.driver.Schedule(ctx, job.ID, job.DueAt); err != nil {
		q.logger.Warnw("arming job failed; left for recovery", "job_id", job.ID, "type", jobType, "error", err)
	}

	q.logger.Infow("job scheduled", "job_id", job.ID, "type", jobType, "due_at", job.DueAt)
	return job.ID, nil
}

// Job returns a job with its attempt history, or nil when it does not exist.
func (q *JobQueue) Job(ctx context.Context, id string) (*models.Job, []*models.JobAttempt, error) {
	job, err := q.jobs.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, nil, err
	}
	attempts, err := q.jobs.ListAttempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, attempts, nil
}

// Recover re-arms every scheduled job that is already due. It is safe to
// call repeatedly since execution is guarded by the claim.
func (q *JobQueue) Recover(ctx context.Context) (int, error) {
	due, err := q.jobs.ListDue(ctx, q.now(), q.opts.RecoverBatch)
	if err != nil {
		return 0, fmt.Errorf("list due jobs: %w", err)
	}

	var errs []error
	for _, job := range due {
		if err := q.driver.Schedule(ctx, job.ID, job.DueAt); err != nil {
			errs = append(errs, fmt.Errorf("arm job %s: %w", job.ID, err))
		}
	}
	return len(due), errors.Join(errs...)
}

// RequeueStalled releases jobs whose executor died between claim and
// outcome. Each stalled run is recorded as a failed attempt; jobs with
// attempts left are re-armed and the rest end failed.
func (q *JobQueue) RequeueStalled(ctx context.Context) (int, error) {
	now := q.now()
	stalled, err := q.jobs.RequeueStalled(ctx, now.Add(-q.opts.VisibilityTimeout), now, stalledReason)
	if err != nil {
		return 0, fmt.Errorf("requeue stalled jobs: %w", err)
	}

	var errs []error
	for _, job := range stalled {
		attempt := &models.JobAttempt{JobID: job.ID, Attempt: job.Attempt, Error: stalledReason}
		if err := q.jobs.CreateAttempt(ctx, attempt); err != nil {
			q.logger.Errorw("recording job attempt", "job_id", job.ID, "error", err)
		}

		if job.Status == models.JobStatusFailed {
			q.metrics.RecordJob(job.Type, models.JobStatusFailed)
			q.logger.Errorw("stalled job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempt)
			continue
		}

		q.metrics.RecordRetry(job.Type)
		q.logger.Warnw("stalled job requeued", "job_id", job.ID, "type", job.Type,
			"attempt", job.Attempt, "max_attempts", job.MaxAttempts)
		if err := q.driver.Schedule(ctx, job.ID, job.DueAt); err != nil {
			errs = append(errs, fmt.Errorf("arm job %s: %w", job.ID, err))
		}
	}
	return len(stalled), errors.Join(errs...)
}

func (q *JobQueue) Start() error {
	return q.driver.Start(q.Process)
}

func (q *JobQueue) Stop() {
	q.driver.Stop()
}
