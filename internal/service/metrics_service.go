package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maheshrc27/postcraft/internal/cache"
	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"go.uber.org/zap"
)

// MetricsService pulls account snapshots from destinations and serves the
// analytics read paths through the lookaside cache.
type MetricsService struct {
	repos    Repositories
	registry *platform.Registry
	vault    *CredentialVault
	cache    *cache.Cache
	ttl      time.Duration
	now      func() time.Time

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewMetricsService(repos Repositories, registry *platform.Registry, vault *CredentialVault, c *cache.Cache, ttl time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *MetricsService {
	return &MetricsService{
		repos:    repos,
		registry: registry,
		vault:    vault,
		cache:    c,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

func overviewKey(userID int64) string { return fmt.Sprintf("analytics:overview:%d", userID) }
func historyKey(accountID int64, days int) string { return fmt.Sprintf("metrics:account:%d:%d", accountID, days) }
func postMetricsKey(postID int64) string { return fmt.Sprintf("metrics:post:%d", postID) }

// SyncAccount fetches the account's current figures and upserts today's
// snapshot. Running it again the same day replaces that row's values.
func (s *MetricsService) SyncAccount(ctx context.Context, accountID int64) (*models.AccountMetrics, error) {
	acc, err := s.repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}

	adapter, err := s.registry.Resolve(acc.Platform)
	if err != nil {
		s.metrics.RecordMetricSync(acc.Platform, "failed")
		return nil, err
	}

	var fetched *platform.AccountMetrics
	err = s.vault.withAuthRetry(ctx, adapter, acc, func(creds platform.Credentials) error {
		var ferr error
		fetched, ferr = adapter.AccountMetrics(ctx, creds)
		return ferr
	})
	if err != nil {
		s.metrics.RecordMetricSync(adapter.Name(), "failed")
		return nil, err
	}

	snapshot := &models.AccountMetrics{
		AccountID:      acc.ID,
		Date:           models.MetricsDate(s.now()),
		Followers:      fetched.Followers,
		Following:      fetched.Following,
		Posts:          fetched.Posts,
		EngagementRate: fetched.EngagementRate,
		Reach:          fetched.Reach,
		Impressions:    fetched.Impressions,
		ProfileViews:   fetched.ProfileViews,
		WebsiteClicks:  fetched.WebsiteClicks,
	}
	if err := s.repos.Metrics.Upsert(ctx, snapshot); err != nil {
		s.metrics.RecordMetricSync(adapter.Name(), "failed")
		return nil, err
	}

	s.metrics.RecordMetricSync(adapter.Name(), "success")
	if err := s.cache.Delete(ctx, overviewKey(acc.UserID)); err != nil {
		s.logger.Warnw("cache invalidation failed", "user_id", acc.UserID, "error", err)
	}

	s.logger.Infow("account metrics synced", "account_id", acc.ID, "platform", adapter.Name(),
		"date", snapshot.Date.Format(time.DateOnly), "followers", snapshot.Followers)
	return snapshot, nil
}

// AccountHistory returns the snapshots of the last days days, oldest first.
func (s *MetricsService) AccountHistory(ctx context.Context, userID, accountID int64, days int) ([]*models.AccountMetrics, error) {
	if days <= 0 {
		days = 30
	}
	if err := s.ownsAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	return cache.GetOrSet(ctx, s.cache, historyKey(accountID, days), s.ttl, func(ctx context.Context) ([]*models.AccountMetrics, error) {
		since := models.MetricsDate(s.now()).AddDate(0, 0, -days)
		return s.repos.Metrics.ListByAccount(ctx, accountID, since)
	})
}

// PostMetrics asks every destination the post reached for its engagement.
// A destination that fails is reported inline rather than failing the call.
func (s *MetricsService) PostMetrics(ctx context.Context, userID, postID int64) ([]transfer.DestinationMetrics, error) {
	ok, err := s.repos.Posts.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}

	return cache.GetOrSet(ctx, s.cache, postMetricsKey(postID), s.ttl, func(ctx context.Context) ([]transfer.DestinationMetrics, error) {
		records, err := s.repos.Records.ListByPostID(ctx, postID)
		if err != nil {
			return nil, err
		}

		latest := models.LatestRecords(records)
		accountIDs := make([]int64, 0, len(latest))
		for id, rec := range latest {
			if rec.Status == models.RecordStatusSuccess && rec.RemoteID != "" {
				accountIDs = append(accountIDs, id)
			}
		}
		sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i] < accountIDs[j] })

		out := make([]transfer.DestinationMetrics, 0, len(accountIDs))
		for _, id := range accountIDs {
			rec := latest[id]
			dm := transfer.DestinationMetrics{AccountID: id, Platform: rec.Platform, RemoteID: rec.RemoteID}
			dm.Metrics, err = s.postMetrics(ctx, id, rec.RemoteID)
			if err != nil {
				dm.Error = err.Error()
			}
			out = append(out, dm)
		}
		return out, nil
	})
}

func (s *MetricsService) postMetrics(ctx context.Context, accountID int64, remoteID string) (*platform.PostMetrics, error) {
	acc, err := s.repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	adapter, err := s.registry.Resolve(acc.Platform)
	if err != nil {
		return nil, err
	}

	var pm *platform.PostMetrics
	err = s.vault.withAuthRetry(ctx, adapter, acc, func(creds platform.Credentials) error {
		var ferr error
		pm, ferr = adapter.PostMetrics(ctx, creds, remoteID)
		return ferr
	})
	return pm, err
}

// Overview summarizes a user's accounts and posts.
func (s *MetricsService) Overview(ctx context.Context, userID int64) (*transfer.AnalyticsOverview, error) {
	return cache.GetOrSet(ctx, s.cache, overviewKey(userID), s.ttl, func(ctx context.Context) (*transfer.AnalyticsOverview, error) {
		return s.computeOverview(ctx, userID)
	})
}

func (s *MetricsService) computeOverview(ctx context.Context, userID int64) (*transfer.AnalyticsOverview, error) {
	accounts, err := s.repos.Accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repos.Posts.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	overview := &transfer.AnalyticsOverview{
		UserID:            userID,
		ConnectedAccounts: len(accounts),
		PostsByStatus:     counts,
		GeneratedAt:       s.now(),
	}

	var withData int
	var engagement float64
	for _, acc := range accounts {
		latest, err := s.repos.Metrics.Latest(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			continue
		}
		withData++
		overview.TotalFollowers += latest.Followers
		engagement += latest.EngagementRate
	}
	if withData > 0 {
		overview.AverageEngagementRate = engagement / float64(withData)
	}
	return overview, nil
}

// RecomputeAnalytics rebuilds and caches the overview of every user with a
// connected account.
func (s *MetricsService) RecomputeAnalytics(ctx context.Context) error {
	accounts, err := s.repos.Accounts.ListAll(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{})
	for _, acc := range accounts {
		if _, ok := seen[acc.UserID]; ok {
			continue
		}
		seen[acc.UserID] = struct{}{}

		overview, err := s.computeOverview(ctx, acc.UserID)
		if err != nil {
			return fmt.Errorf("overview for user %d: %w", acc.UserID, err)
		}
		if err := s.cache.Set(ctx, overviewKey(acc.UserID), overview, s.ttl); err != nil {
			s.logger.Warnw("caching overview failed", "user_id", acc.UserID, "error", err)
		}
	}

	s.logger.Infow("analytics recomputed", "users", len(seen))
	return nil
}

func (s *MetricsService) ownsAccount(ctx context.Context, userID, accountID int64) error {
	ok, err := s.repos.Accounts.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}
