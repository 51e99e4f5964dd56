package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/repository"
	"github.com/maheshrc27/postcraft/internal/service"
	"go.uber.org/zap"
)

// TokenRefreshJob renews credentials that expire within the window.
type TokenRefreshJob struct {
	sr       repository.SocialAccountRepository
	accounts service.AccountService
	window   time.Duration
	limit    int
	logger   *zap.SugaredLogger
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, accounts service.AccountService, window time.Duration, logger *zap.SugaredLogger) *TokenRefreshJob {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &TokenRefreshJob{
		sr:       sr,
		accounts: accounts,
		window:   window,
		limit:    10,
		logger:   logger,
	}
}

// RefreshTokens refreshes every expiring account and reports how many
// succeeded. One account failing never stops the others.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) (int, error) {
	accounts, err := c.sr.ListExpiring(ctx, time.Now().Add(c.window))
	if err != nil {
		return 0, err
	}

	var refreshed atomic.Int64
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.limit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.accounts.Refresh(ctx, acc); err != nil {
				c.logger.Warnw("unable to refresh tokens", "account_id", acc.ID, "platform", acc.Platform, "error", err)
				return
			}
			refreshed.Add(1)
		}(acc)
	}
	wg.Wait()

	if len(accounts) > 0 {
		c.logger.Infow("token refresh sweep finished", "expiring", len(accounts), "refreshed", refreshed.Load())
	}
	return int(refreshed.Load()), nil
}
