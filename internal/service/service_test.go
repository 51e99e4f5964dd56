package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/maheshrc27/postcraft/internal/cache"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	store    *memory.Store
	repos    Repositories
	registry *platform.Registry
	vault    *CredentialVault
	cache    *cache.Cache
	logger   *zap.SugaredLogger
}

func newHarness(t *testing.T, adapters ...platform.Adapter) *harness {
	t.Helper()
	store := memory.New()
	repos := Repositories{
		Posts:     store.Posts(),
		Accounts:  store.Accounts(),
		Assets:    store.Assets(),
		PostMedia: store.PostMedia(),
		Selected:  store.SelectedAccounts(),
		Records:   store.Records(),
		Jobs:      store.Jobs(),
		Metrics:   store.Metrics(),
		Tx:        store,
	}
	logger := zap.NewNop().Sugar()
	c := cache.NewMemory(0, logger, nil)
	t.Cleanup(func() { c.Close() })

	return &harness{
		store:    store,
		repos:    repos,
		registry: platform.NewRegistry(adapters...),
		vault:    NewCredentialVault(store.Accounts(), testSecret),
		cache:    c,
		logger:   logger,
	}
}

func (h *harness) account(t *testing.T, userID int64, platformName, access string) int64 {
	t.Helper()
	sealedAccess, err := h.vault.Seal(access)
	require.NoError(t, err)
	sealedRefresh, err := h.vault.Seal("refresh-" + access)
	require.NoError(t, err)

	id, err := h.repos.Accounts.Create(context.Background(), nil, &models.SocialAccount{
		UserID:         userID,
		Platform:       platformName,
		AccountID:      platformName + "-" + access,
		AccessToken:    sealedAccess,
		RefreshToken:   sealedRefresh,
		TokenExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return id
}

func (h *harness) post(t *testing.T, userID int64, content string, accountIDs ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	due := time.Now().Add(-time.Minute)

	id, err := h.repos.Posts.Create(ctx, nil, &models.Post{
		UserID:        userID,
		Content:       content,
		ScheduledTime: &due,
		Status:        models.PostStatusScheduled,
	})
	require.NoError(t, err)

	for _, accID := range accountIDs {
		require.NoError(t, h.repos.Selected.Create(ctx, nil, &models.SelectedAccount{PostID: id, AccountID: accID}))
	}
	return id
}

func (h *harness) media(t *testing.T, postID int64, url, mimeType string) {
	t.Helper()
	ctx := context.Background()
	assetID, err := h.repos.Assets.Create(ctx, nil, &models.MediaAsset{FileURL: url, FileType: mimeType})
	require.NoError(t, err)
	require.NoError(t, h.repos.PostMedia.Create(ctx, nil, &models.PostMedia{PostID: postID, AssetID: assetID}))
}

func (h *harness) publisher(opts PublishOptions) *PublishService {
	return NewPublishService(h.repos, h.registry, h.vault, opts, h.logger, nil)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
