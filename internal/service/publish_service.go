package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"go.uber.org/zap"
)

const noDestinationsMessage = "no destinations selected"

type PublishOptions struct {
	Concurrency int
	// Timeout bounds each destination call, including a refresh retry.
	Timeout time.Duration
}

// PublishOutcome is the aggregate result of one dispatch of a post.
type PublishOutcome struct {
	PostID  int64
	Status  string
	Error   string
	Records []*models.PublishRecord

	retryable bool
}

// Retryable reports whether any destination failed with an error a later
// attempt could overcome.
func (o *PublishOutcome) Retryable() bool {
	return o != nil && o.retryable
}

type destination struct {
	accountID int64
	label     string
	account   *models.SocialAccount
	adapter   platform.Adapter
	err       error
}

type delivery struct {
	result *platform.PublishResult
	err    error
}

// PublishService fans a post out to its destinations and folds the
// outcomes into the post's status.
type PublishService struct {
	repos    Repositories
	registry *platform.Registry
	vault    *CredentialVault
	opts     PublishOptions
	now      func() time.Time

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewPublishService(repos Repositories, registry *platform.Registry, vault *CredentialVault, opts PublishOptions, logger *zap.SugaredLogger, m *metrics.Metrics) *PublishService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &PublishService{
		repos:    repos,
		registry: registry,
		vault:    vault,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch claims the post out of one of the given statuses (scheduled by
// default), publishes it to every destination that has not already
// succeeded and records the outcome. It returns ErrPostNotClaimable when
// another caller owns the post or it is not dispatchable.
func (s *PublishService) Dispatch(ctx context.Context, postID int64, from ...string) (*PublishOutcome, error) {
	if len(from) == 0 {
		from = []string{models.PostStatusScheduled}
	}

	claimed, err := s.repos.Posts.Claim(ctx, postID, models.PostStatusPublishing, from...)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("post %d: %w", postID, ErrPostNotClaimable)
	}

	outcome, err := s.dispatch(ctx, postID)
	if err != nil {
		// The post is ours; never leave it stuck in publishing, even when
		// ctx is already cancelled.
		if uerr := s.repos.Posts.UpdateStatus(context.WithoutCancel(ctx), postID, models.PostStatusFailed, nil, err.Error()); uerr != nil {
			s.logger.Errorw("failed to release post", "post_id", postID, "error", uerr)
		}
		return nil, err
	}
	return outcome, nil
}

func (s *PublishService) dispatch(ctx context.Context, postID int64) (*PublishOutcome, error) {
	post, err := s.repos.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}

	destinations, err := s.destinations(ctx, postID)
	if err != nil {
		return nil, err
	}

	previous, err := s.repos.Records.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	latest := models.LatestRecords(previous)
	attempt := 1
	for _, r := range previous {
		if r.Attempt >= attempt {
			attempt = r.Attempt + 1
		}
	}

	var pending []*destination
	for _, d := range destinations {
		if r, ok := latest[d.accountID]; ok && r.Status == models.RecordStatusSuccess {
			s.logger.Debugw("destination already published", "post_id", postID, "account_id", d.accountID)
			continue
		}
		pending = append(pending, d)
	}

	content, err := s.content(ctx, post)
	if err != nil {
		return nil, err
	}

	results := s.fanOut(ctx, post, content, pending)
	// Remote side effects have happened; record them regardless of ctx.
	ctx = context.WithoutCancel(ctx)

	outcome := &PublishOutcome{PostID: postID}
	var failures []string
	for i, d := range pending {
		res := results[i]
		rec := &models.PublishRecord{
			PostID:    postID,
			AccountID: d.accountID,
			Attempt:   attempt,
		}
		if d.account != nil {
			rec.Platform = d.account.Platform
		}

		if res.err != nil {
			rec.Status = models.RecordStatusFailed
			rec.Error = res.err.Error()
			failures = append(failures, d.label+": "+res.err.Error())
			if platform.Retryable(res.err) {
				outcome.retryable = true
			}
		} else {
			rec.Status = models.RecordStatusSuccess
			rec.RemoteID = res.result.RemoteID
			rec.Permalink = res.result.Permalink
		}

		id, err := s.repos.Records.Create(ctx, nil, rec)
		if err != nil {
			s.logger.Errorw("failed to append publish record", "post_id", postID, "account_id", d.accountID, "error", err)
		} else {
			rec.ID = id
		}
		outcome.Records = append(outcome.Records, rec)
	}

	if len(destinations) == 0 {
		failures = append(failures, noDestinationsMessage)
	}

	var publishedAt *time.Time
	if len(failures) == 0 {
		now := s.now()
		publishedAt = &now
		outcome.Status = models.PostStatusPublished
	} else {
		outcome.Status = models.PostStatusFailed
		outcome.Error = strings.Join(failures, "; ")
	}

	if err := s.repos.Posts.UpdateStatus(ctx, postID, outcome.Status, publishedAt, outcome.Error); err != nil {
		return nil, err
	}

	s.logger.Infow("post dispatched", "post_id", postID, "status", outcome.Status,
		"destinations", len(destinations), "attempted", len(pending), "error", outcome.Error)
	return outcome, nil
}

// destinations resolves every target account and its adapter before any
// credential or content work happens.
func (s *PublishService) destinations(ctx context.Context, postID int64) ([]*destination, error) {
	selected, err := s.repos.Selected.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	out := make([]*destination, 0, len(selected))
	for _, sel := range selected {
		d := &destination{accountID: sel.AccountID, label: fmt.Sprintf("account %d", sel.AccountID)}
		out = append(out, d)

		acc, err := s.repos.Accounts.GetByID(ctx, sel.AccountID)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			d.err = platform.NotFound("", "connected account %d no longer exists", sel.AccountID)
			continue
		}
		d.account = acc
		d.label = acc.Platform

		adapter, err := s.registry.Resolve(acc.Platform)
		if err != nil {
			d.err = err
			continue
		}
		d.adapter = adapter
		d.label = adapter.Name()
	}
	return out, nil
}

func (s *PublishService) content(ctx context.Context, post *models.Post) (platform.Content, error) {
	content := platform.Content{
		Text:     post.Content,
		Title:    post.Title,
		Hashtags: post.Hashtags,
	}

	media, err := s.repos.PostMedia.ListByPostID(ctx, post.ID)
	if err != nil {
		return content, err
	}
	for _, pm := range media {
		asset, err := s.repos.Assets.GetByID(ctx, pm.AssetID)
		if err != nil {
			return content, err
		}
		if asset == nil {
			continue
		}
		content.Media = append(content.Media, platform.Media{URL: asset.FileURL, MIMEType: asset.FileType})
	}
	return content, nil
}

func (s *PublishService) fanOut(ctx context.Context, post *models.Post, content platform.Content, pending []*destination) []delivery {
	results := make([]delivery, len(pending))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.opts.Concurrency)

	for i, d := range pending {
		if d.err != nil {
			results[i] = delivery{err: d.err}
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func(i int, d *destination) {
			defer wg.Done()
			defer func() { <-semaphore }()

			start := time.Now()
			res, err := s.publishOne(ctx, d, content)
			results[i] = delivery{result: res, err: err}

			outcome := models.RecordStatusSuccess
			if err != nil {
				outcome = models.RecordStatusFailed
				s.logger.Warnw("publish to destination failed", "post_id", post.ID, "platform", d.label,
					"account_id", d.accountID, "error", err)
			}
			s.metrics.RecordPublish(d.label, outcome, time.Since(start))
		}(i, d)
	}

	wg.Wait()
	return results
}

func (s *PublishService) publishOne(ctx context.Context, d *destination, content platform.Content) (res *platform.PublishResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%s adapter panic: %v", d.label, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	err = s.vault.withAuthRetry(ctx, d.adapter, d.account, func(creds platform.Credentials) error {
		var perr error
		res, perr = d.adapter.Publish(ctx, creds, content)
		return perr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && platform.KindOf(err) == platform.KindUnknown {
			err = platform.ExternalAPI(d.label, 0, "destination timed out", err)
		}
		return nil, err
	}
	if res == nil {
		return nil, platform.ExternalAPI(d.label, 0, "destination returned no result", nil)
	}
	return res, nil
}
