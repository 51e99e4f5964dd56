package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/repository"
	"github.com/maheshrc27/postcraft/internal/service"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

const (
	tickSpec      = "@every 1m"
	metricsSpec   = "@hourly"
	analyticsSpec = "0 0 9 * * *"
	refreshSpec   = "@every 10m"
)

type JobQueue interface {
	ScheduleJob(ctx context.Context, jobType string, payload any, delay time.Duration) (string, error)
	Recover(ctx context.Context) (int, error)
	RequeueStalled(ctx context.Context) (int, error)
}

type Analytics interface {
	RecomputeAnalytics(ctx context.Context) error
}

type SchedulerOptions struct {
	Batch       int
	Concurrency int
	// RetryDelay is how long a post whose dispatch failed with a retryable
	// error waits before its publish_post retry job.
	RetryDelay time.Duration
	// StallTimeout is how long a post may stay publishing before a tick
	// fails it and schedules a retry.
	StallTimeout time.Duration
}

const stalledPostError = "publish interrupted before an outcome was recorded"

// Scheduler is the single recurring driver of due work. Ticks never
// overlap; a tick that finds the previous one still running is skipped.
type Scheduler struct {
	cron *cron.Cron

	posts     repository.PostRepository
	accounts  repository.SocialAccountRepository
	publisher Publisher
	queue     JobQueue
	analytics Analytics
	refresh   *TokenRefreshJob
	opts      SchedulerOptions

	ticking sync.Mutex
	now     func() time.Time

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewScheduler(
	posts repository.PostRepository,
	accounts repository.SocialAccountRepository,
	publisher Publisher,
	q JobQueue,
	analytics Analytics,
	refresh *TokenRefreshJob,
	opts SchedulerOptions,
	logger *zap.SugaredLogger,
	m *metrics.Metrics) *Scheduler {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 15 * time.Minute
	}
	return &Scheduler{
		cron:      cron.New(),
		posts:     posts,
		accounts:  accounts,
		publisher: publisher,
		queue:     q,
		analytics: analytics,
		refresh:   refresh,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
}

func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{tickSpec, "tick", s.Tick},
		{metricsSpec, "metrics sync", s.EnqueueMetricsSync},
		{analyticsSpec, "analytics", s.analytics.RecomputeAnalytics},
		{refreshSpec, "token refresh", func(ctx context.Context) error {
			_, err := s.refresh.RefreshTokens(ctx)
			return err
		}},
	}

	for _, j := range jobs {
		err := s.cron.AddFunc(j.spec, func() {
			if err := j.run(context.Background()); err != nil {
				s.logger.Errorw("scheduled run failed", "job", j.name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.logger.Infow("scheduler started", "tick", tickSpec, "metrics", metricsSpec, "analytics", analyticsSpec, "refresh", refreshSpec)
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	// wait for an in-flight tick
	s.ticking.Lock()
	s.ticking.Unlock()
}

// Tick claims every due post and dispatches them concurrently, then
// releases stalled posts and jobs and re-arms due jobs. It returns the
// joined errors of the tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.ticking.TryLock() {
		s.logger.Warnw("previous tick still running; skipping")
		return nil
	}
	defer s.ticking.Unlock()

	due, err := s.posts.ListDue(ctx, s.now(), s.opts.Batch)
	if err != nil {
		return fmt.Errorf("list due posts: %w", err)
	}
	s.metrics.RecordTick(len(due))

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	semaphore := make(chan struct{}, s.opts.Concurrency)

	for _, post := range due {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(post *models.Post) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := s.dispatch(ctx, post.ID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(post)
	}
	wg.Wait()

	if err := s.releaseStalledPosts(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.queue.RequeueStalled(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.queue.Recover(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(due) > 0 {
		s.logger.Infow("tick finished", "due", len(due), "errors", len(errs))
	}
	return errors.Join(errs...)
}

// releaseStalledPosts fails posts left publishing by a dead dispatcher and
// hands each to a publish_post retry, which skips destinations that already
// succeeded.
func (s *Scheduler) releaseStalledPosts(ctx context.Context) error {
	ids, err := s.posts.ReleaseStalled(ctx, s.now().Add(-s.opts.StallTimeout), stalledPostError)
	if err != nil {
		return fmt.Errorf("release stalled posts: %w", err)
	}

	var errs []error
	for _, id := range ids {
		s.logger.Warnw("stalled post released", "post_id", id)
		if err := s.scheduleRetry(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) scheduleRetry(ctx context.Context, postID int64) error {
	payload := queue.PublishPostPayload{PostID: postID, From: []string{models.PostStatusFailed}}
	jobID, err := s.queue.ScheduleJob(ctx, queue.TypePublishPost, payload, s.opts.RetryDelay)
	if err != nil {
		return fmt.Errorf("schedule retry for post %d: %w", postID, err)
	}
	s.logger.Infow("post retry scheduled", "post_id", postID, "job_id", jobID, "delay", s.opts.RetryDelay)
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, postID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch post %d panic: %v", postID, r)
		}
	}()

	outcome, err := s.publisher.Dispatch(ctx, postID)
	if errors.Is(err, service.ErrPostNotClaimable) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch post %d: %w", postID, err)
	}

	if outcome.Retryable() {
		return s.scheduleRetry(ctx, postID)
	}
	return nil
}

// EnqueueMetricsSync schedules one sync_metrics job per connected account.
func (s *Scheduler) EnqueueMetricsSync(ctx context.Context) error {
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var errs []error
	for _, acc := range accounts {
		if _, err := s.queue.ScheduleJob(ctx, queue.TypeSyncMetrics, queue.SyncMetricsPayload{AccountID: acc.ID}, 0); err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", acc.ID, err))
		}
	}

	s.logger.Infow("metrics sync enqueued", "accounts", len(accounts), "errors", len(errs))
	return errors.Join(errs...)
}
