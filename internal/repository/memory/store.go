// Package memory keeps every repository in process memory. It backs the
// development database driver and the service tests.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/repository"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	nextID int64

	posts     map[int64]*models.Post
	accounts  map[int64]*models.SocialAccount
	assets    map[int64]*models.MediaAsset
	postMedia []*models.PostMedia
	selected  []*models.SelectedAccount
	records   []*models.PublishRecord
	jobs      map[string]*models.Job
	attempts  []*models.JobAttempt
	metrics   map[metricsKey]*models.AccountMetrics
}

type metricsKey struct {
	accountID int64
	date      time.Time
}

func New() *Store {
	return &Store{
		now:      time.Now,
		posts:    make(map[int64]*models.Post),
		accounts: make(map[int64]*models.SocialAccount),
		assets:   make(map[int64]*models.MediaAsset),
		jobs:     make(map[string]*models.Job),
		metrics:  make(map[metricsKey]*models.AccountMetrics),
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Posts() repository.PostRepository                       { return postRepo{s} }
func (s *Store) Accounts() repository.SocialAccountRepository           { return accountRepo{s} }
func (s *Store) Assets() repository.MediaAssetRepository                { return assetRepo{s} }
func (s *Store) PostMedia() repository.PostMediaRepository              { return postMediaRepo{s} }
func (s *Store) SelectedAccounts() repository.SelectedAccountRepository { return selectedRepo{s} }
func (s *Store) Records() repository.PublishRecordRepository            { return recordRepo{s} }
func (s *Store) Jobs() repository.JobRepository                         { return jobRepo{s} }
func (s *Store) Metrics() repository.MetricsRepository                  { return metricsRepo{s} }

// WithinTx runs fn without isolation; the memory driver has no transactions.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

type postRepo struct{ s *Store }

func copyPost(p *models.Post) *models.Post {
	c := *p
	c.Hashtags = append([]string(nil), p.Hashtags...)
	return &c
}

func (r postRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.posts[id]; ok {
		return copyPost(p), nil
	}
	return nil, nil
}

func (r postRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p := copyPost(post)
	p.ID = r.s.id()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = models.PostStatusDraft
	}
	r.s.posts[p.ID] = p
	return p.ID, nil
}

func (r postRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool { return p.UserID == userID }, 0, func(a, b *models.Post) bool {
		return a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID > b.ID)
	}), nil
}

func (r postRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool {
		return p.Status == models.PostStatusScheduled && p.ScheduledTime != nil && !p.ScheduledTime.After(now)
	}, limit, func(a, b *models.Post) bool {
		return a.ScheduledTime.Before(*b.ScheduledTime) || (a.ScheduledTime.Equal(*b.ScheduledTime) && a.ID < b.ID)
	}), nil
}

func (r postRepo) filter(keep func(*models.Post) bool, limit int, less func(a, b *models.Post) bool) []*models.Post {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Post
	for _, p := range r.s.posts {
		if keep(p) {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r postRepo) Claim(ctx context.Context, id int64, to string, from ...string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = r.s.now()
			return true, nil
		}
	}
	return false, nil
}

func (r postRepo) UpdateStatus(ctx context.Context, id int64, status string, publishedAt *time.Time, errText string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[id]
	if !ok {
		return nil
	}
	p.Status = status
	if publishedAt != nil {
		t := *publishedAt
		p.PublishedAt = &t
	}
	p.Error = errText
	p.UpdatedAt = r.s.now()
	return nil
}

func (r postRepo) ReleaseStalled(ctx context.Context, olderThan time.Time, errText string) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []int64
	for _, p := range r.s.posts {
		if p.Status != models.PostStatusPublishing || !p.UpdatedAt.Before(olderThan) {
			continue
		}
		p.Status = models.PostStatusFailed
		p.Error = errText
		p.UpdatedAt = r.s.now()
		ids = append(ids, p.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r postRepo) UpdateSchedule(ctx context.Context, id int64, status string, scheduledTime *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[id]
	if !ok {
		return nil
	}
	p.Status = status
	p.ScheduledTime = scheduledTime
	p.UpdatedAt = r.s.now()
	return nil
}

func (r postRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.posts[postID]
	return ok && p.UserID == userID, nil
}

func (r postRepo) CountByStatus(ctx context.Context, userID int64) (map[string]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, p := range r.s.posts {
		if p.UserID == userID {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func (r postRepo) Remove(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.posts, id)
	r.s.postMedia = dropWhere(r.s.postMedia, func(pm *models.PostMedia) bool { return pm.PostID == id })
	r.s.selected = dropWhere(r.s.selected, func(sa *models.SelectedAccount) bool { return sa.PostID == id })
	r.s.records = dropWhere(r.s.records, func(rec *models.PublishRecord) bool { return rec.PostID == id })
	return nil
}

func dropWhere[T any](items []T, drop func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if !drop(it) {
			out = append(out, it)
		}
	}
	return out
}

type accountRepo struct{ s *Store }

func (r accountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for _, existing := range r.s.accounts {
		if existing.UserID == sa.UserID && existing.Platform == sa.Platform && existing.AccountID == sa.AccountID {
			id, created := existing.ID, existing.CreatedAt
			*existing = *sa
			existing.ID, existing.CreatedAt, existing.UpdatedAt = id, created, now
			return id, nil
		}
	}

	c := *sa
	c.ID = r.s.id()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.s.accounts[c.ID] = &c
	return c.ID, nil
}

func (r accountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if a, ok := r.s.accounts[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (r accountRepo) list(keep func(*models.SocialAccount) bool) []*models.SocialAccount {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.SocialAccount
	for _, a := range r.s.accounts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r accountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return r.list(func(a *models.SocialAccount) bool { return a.UserID == userID }), nil
}

func (r accountRepo) ListAll(ctx context.Context) ([]*models.SocialAccount, error) {
	return r.list(func(*models.SocialAccount) bool { return true }), nil
}

func (r accountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	return r.list(func(a *models.SocialAccount) bool { return a.TokenExpiresAt.Before(before) }), nil
}

func (r accountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[accountID]
	return ok && a.UserID == userID, nil
}

func (r accountRepo) UpdateCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiresAt = expiresAt
	a.UpdatedAt = r.s.now()
	return nil
}

func (r accountRepo) Remove(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.accounts, id)
	r.s.selected = dropWhere(r.s.selected, func(sa *models.SelectedAccount) bool { return sa.AccountID == id })
	for k := range r.s.metrics {
		if k.accountID == id {
			delete(r.s.metrics, k)
		}
	}
	return nil
}

type assetRepo struct{ s *Store }

func (r assetRepo) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *ma
	c.ID = r.s.id()
	c.CreatedAt = r.s.now()
	r.s.assets[c.ID] = &c
	return c.ID, nil
}

func (r assetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if a, ok := r.s.assets[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (r assetRepo) Remove(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.assets, id)
	return nil
}

type postMediaRepo struct{ s *Store }

func (r postMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *pm
	c.CreatedAt = r.s.now()
	r.s.postMedia = append(r.s.postMedia, &c)
	return nil
}

func (r postMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.PostMedia
	for _, pm := range r.s.postMedia {
		if pm.PostID == postID {
			c := *pm
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (r postMediaRepo) RemoveByPostID(ctx context.Context, postID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.postMedia = dropWhere(r.s.postMedia, func(pm *models.PostMedia) bool { return pm.PostID == postID })
	return nil
}

type selectedRepo struct{ s *Store }

func (r selectedRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SelectedAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.selected {
		if existing.PostID == sa.PostID && existing.AccountID == sa.AccountID {
			return nil
		}
	}
	c := *sa
	c.CreatedAt = r.s.now()
	r.s.selected = append(r.s.selected, &c)
	return nil
}

func (r selectedRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.SelectedAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.SelectedAccount
	for _, sa := range r.s.selected {
		if sa.PostID == postID {
			c := *sa
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (r selectedRepo) Remove(ctx context.Context, postID, accountID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.selected = dropWhere(r.s.selected, func(sa *models.SelectedAccount) bool {
		return sa.PostID == postID && sa.AccountID == accountID
	})
	return nil
}

type recordRepo struct{ s *Store }

func (r recordRepo) Create(ctx context.Context, tx *sql.Tx, rec *models.PublishRecord) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *rec
	c.ID = r.s.id()
	c.CreatedAt = r.s.now()
	r.s.records = append(r.s.records, &c)
	return c.ID, nil
}

func (r recordRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.PublishRecord
	for _, rec := range r.s.records {
		if rec.PostID == postID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

type jobRepo struct{ s *Store }

func copyJob(j *models.Job) *models.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	c.Result = append([]byte(nil), j.Result...)
	return &c
}

func (r jobRepo) Create(ctx context.Context, job *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := copyJob(job)
	c.CreatedAt = r.s.now()
	c.UpdatedAt = c.CreatedAt
	r.s.jobs[c.ID] = c
	return nil
}

func (r jobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if j, ok := r.s.jobs[id]; ok {
		return copyJob(j), nil
	}
	return nil, nil
}

func (r jobRepo) Claim(ctx context.Context, id string, dueBy time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok || j.Status != models.JobStatusScheduled || j.DueAt.After(dueBy) || j.Attempt >= j.MaxAttempts {
		return false, nil
	}
	j.Status = models.JobStatusProcessing
	j.Attempt++
	j.UpdatedAt = r.s.now()
	return true, nil
}

func (r jobRepo) Update(ctx context.Context, job *models.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[job.ID]
	if !ok {
		return nil
	}
	j.Status = job.Status
	if job.Attempt > j.Attempt {
		j.Attempt = job.Attempt
	}
	j.DueAt = job.DueAt
	j.LastError = job.LastError
	j.Result = append([]byte(nil), job.Result...)
	j.UpdatedAt = r.s.now()
	return nil
}

func (r jobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Job
	for _, j := range r.s.jobs {
		if j.Status == models.JobStatusScheduled && !j.DueAt.After(now) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].DueAt.Before(out[k].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r jobRepo) RequeueStalled(ctx context.Context, olderThan, dueAt time.Time, reason string) ([]*models.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Job
	for _, j := range r.s.jobs {
		if j.Status != models.JobStatusProcessing || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		if j.Attempt < j.MaxAttempts {
			j.Status = models.JobStatusScheduled
			j.DueAt = dueAt
		} else {
			j.Status = models.JobStatusFailed
		}
		j.LastError = reason
		j.UpdatedAt = r.s.now()
		out = append(out, copyJob(j))
	}
	return out, nil
}

func (r jobRepo) CreateAttempt(ctx context.Context, attempt *models.JobAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *attempt
	c.ID = r.s.id()
	c.CreatedAt = r.s.now()
	r.s.attempts = append(r.s.attempts, &c)
	return nil
}

func (r jobRepo) ListAttempts(ctx context.Context, jobID string) ([]*models.JobAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.JobAttempt
	for _, a := range r.s.attempts {
		if a.JobID == jobID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type metricsRepo struct{ s *Store }

func (r metricsRepo) Upsert(ctx context.Context, m *models.AccountMetrics) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := metricsKey{accountID: m.AccountID, date: models.MetricsDate(m.Date)}
	c := *m
	c.Date = key.date
	c.UpdatedAt = r.s.now()
	if existing, ok := r.s.metrics[key]; ok {
		c.ID = existing.ID
	} else {
		c.ID = r.s.id()
	}
	r.s.metrics[key] = &c
	m.ID = c.ID
	return nil
}

func (r metricsRepo) ListByAccount(ctx context.Context, accountID int64, since time.Time) ([]*models.AccountMetrics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	from := models.MetricsDate(since)
	var out []*models.AccountMetrics
	for k, m := range r.s.metrics {
		if k.accountID == accountID && !k.date.Before(from) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r metricsRepo) Latest(ctx context.Context, accountID int64) (*models.AccountMetrics, error) {
	rows, _ := r.ListByAccount(ctx, accountID, time.Time{})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[len(rows)-1], nil
}
