package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/service"
	"go.uber.org/zap"
)

type Publisher interface {
	Dispatch(ctx context.Context, postID int64, from ...string) (*service.PublishOutcome, error)
}

type MetricsSyncer interface {
	SyncAccount(ctx context.Context, accountID int64) (*models.AccountMetrics, error)
}

// PublishPostHandler dispatches the post named in the payload. A failed
// dispatch is retried only when a destination failed with a retryable
// error; the retry claims the post back out of failed.
func PublishPostHandler(p Publisher, logger *zap.SugaredLogger) queue.HandlerFunc {
	return func(ctx context.Context, j *models.Job) (any, error) {
		var payload queue.PublishPostPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return nil, queue.SkipRetry(fmt.Errorf("decode payload: %w", err))
		}

		from := payload.From
		if j.Attempt > 1 && !containsStatus(from, models.PostStatusFailed) {
			from = append(append([]string(nil), from...), models.PostStatusFailed)
		}
		if len(from) == 0 {
			from = []string{models.PostStatusScheduled}
		}

		outcome, err := p.Dispatch(ctx, payload.PostID, from...)
		if errors.Is(err, service.ErrPostNotClaimable) {
			logger.Infow("post not claimable; nothing to do", "post_id", payload.PostID, "job_id", j.ID)
			return map[string]any{"post_id": payload.PostID, "skipped": true}, nil
		}
		if errors.Is(err, service.ErrNotFound) {
			return nil, queue.SkipRetry(err)
		}
		if err != nil {
			return nil, err
		}

		if outcome.Status == models.PostStatusFailed {
			failure := errors.New(outcome.Error)
			if outcome.Retryable() {
				return nil, failure
			}
			return nil, queue.SkipRetry(failure)
		}
		return outcome, nil
	}
}

// SyncMetricsHandler pulls one account's metrics snapshot.
func SyncMetricsHandler(m MetricsSyncer) queue.HandlerFunc {
	return func(ctx context.Context, j *models.Job) (any, error) {
		var payload queue.SyncMetricsPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return nil, queue.SkipRetry(fmt.Errorf("decode payload: %w", err))
		}

		snapshot, err := m.SyncAccount(ctx, payload.AccountID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return nil, queue.SkipRetry(err)
			}
			if platform.KindOf(err) != platform.KindUnknown && !platform.Retryable(err) {
				return nil, queue.SkipRetry(err)
			}
			return nil, err
		}
		return snapshot, nil
	}
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
