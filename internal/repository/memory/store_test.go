package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ repository.Transactor = (*Store)(nil)

func TestPostClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	due := time.Now().Add(-time.Minute)
	id, err := s.Posts().Create(ctx, nil, &models.Post{UserID: 1, Content: "Hello", Status: models.PostStatusScheduled, ScheduledTime: &due})
	require.NoError(t, err)

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Posts().Claim(ctx, id, models.PostStatusPublishing, models.PostStatusScheduled)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	post, err := s.Posts().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublishing, post.Status)
}

func TestListDue(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	early, late, future := now.Add(-2*time.Hour), now.Add(-time.Minute), now.Add(time.Hour)

	lateID, _ := s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled, ScheduledTime: &late})
	earlyID, _ := s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled, ScheduledTime: &early})
	_, _ = s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled, ScheduledTime: &future})
	_, _ = s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusDraft, ScheduledTime: &early})

	due, err := s.Posts().ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlyID, due[0].ID)
	assert.Equal(t, lateID, due[1].ID)

	limited, err := s.Posts().ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMetricsUpsertKeepsOneRowPerDay(t *testing.T) {
	ctx := context.Background()
	s := New()
	morning := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Metrics().Upsert(ctx, &models.AccountMetrics{AccountID: 42, Date: morning, Followers: 100}))
	require.NoError(t, s.Metrics().Upsert(ctx, &models.AccountMetrics{AccountID: 42, Date: morning.Add(6 * time.Hour), Followers: 120}))
	require.NoError(t, s.Metrics().Upsert(ctx, &models.AccountMetrics{AccountID: 42, Date: morning.Add(24 * time.Hour), Followers: 130}))

	rows, err := s.Metrics().ListByAccount(ctx, 42, morning)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(120), rows[0].Followers)

	latest, err := s.Metrics().Latest(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(130), latest.Followers)
}

func TestJobClaimRespectsDueAndAttempts(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	job := &models.Job{ID: "j1", Type: "noop", Status: models.JobStatusScheduled, MaxAttempts: 1, DueAt: now.Add(time.Minute)}
	require.NoError(t, s.Jobs().Create(ctx, job))

	ok, err := s.Jobs().Claim(ctx, "j1", now)
	require.NoError(t, err)
	assert.False(t, ok, "not yet due")

	ok, err = s.Jobs().Claim(ctx, "j1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Jobs().GetByID(ctx, "j1")
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, models.JobStatusProcessing, got.Status)

	got.Status = models.JobStatusScheduled
	got.Attempt = 0
	require.NoError(t, s.Jobs().Update(ctx, got))

	got, _ = s.Jobs().GetByID(ctx, "j1")
	assert.Equal(t, 1, got.Attempt, "attempt count never decreases")

	ok, err = s.Jobs().Claim(ctx, "j1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "attempts exhausted")
}

func TestReleaseStalledPostsOnlyTouchesOldClaims(t *testing.T) {
	ctx := context.Background()
	s := New()
	claimedAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return claimedAt })

	stuck, _ := s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled})
	waiting, _ := s.Posts().Create(ctx, nil, &models.Post{Status: models.PostStatusScheduled})
	ok, err := s.Posts().Claim(ctx, stuck, models.PostStatusPublishing, models.PostStatusScheduled)
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := s.Posts().ReleaseStalled(ctx, claimedAt, "interrupted")
	require.NoError(t, err)
	assert.Empty(t, ids, "claimed exactly at the cutoff")

	ids, err = s.Posts().ReleaseStalled(ctx, claimedAt.Add(time.Minute), "interrupted")
	require.NoError(t, err)
	assert.Equal(t, []int64{stuck}, ids)

	post, _ := s.Posts().GetByID(ctx, stuck)
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Equal(t, "interrupted", post.Error)
	other, _ := s.Posts().GetByID(ctx, waiting)
	assert.Equal(t, models.PostStatusScheduled, other.Status)
}

func TestAccountReconnectReplacesCredentials(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.Accounts().Create(ctx, nil, &models.SocialAccount{UserID: 1, Platform: "x", AccountID: "u1", AccessToken: "a"})
	require.NoError(t, err)
	second, err := s.Accounts().Create(ctx, nil, &models.SocialAccount{UserID: 1, Platform: "x", AccountID: "u1", AccessToken: "b"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	acc, _ := s.Accounts().GetByID(ctx, first)
	assert.Equal(t, "b", acc.AccessToken)

	require.NoError(t, s.Accounts().UpdateCredentials(ctx, first, "c", "", time.Now().Add(time.Hour)))
	acc, _ = s.Accounts().GetByID(ctx, first)
	assert.Equal(t, "c", acc.AccessToken)

	expiring, err := s.Accounts().ListExpiring(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, expiring, 1)
}

func TestPostRemoveCascades(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, _ := s.Posts().Create(ctx, nil, &models.Post{UserID: 1})
	require.NoError(t, s.SelectedAccounts().Create(ctx, nil, &models.SelectedAccount{PostID: id, AccountID: 5}))
	require.NoError(t, s.PostMedia().Create(ctx, nil, &models.PostMedia{PostID: id, AssetID: 9}))
	_, _ = s.Records().Create(ctx, nil, &models.PublishRecord{PostID: id, AccountID: 5, Status: models.RecordStatusSuccess})

	require.NoError(t, s.Posts().Remove(ctx, id))

	selected, _ := s.SelectedAccounts().ListByPostID(ctx, id)
	media, _ := s.PostMedia().ListByPostID(ctx, id)
	records, _ := s.Records().ListByPostID(ctx, id)
	assert.Empty(t, selected)
	assert.Empty(t, media)
	assert.Empty(t, records)
}
