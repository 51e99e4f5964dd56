package service

import (
	"bytes"
	"context"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform/platformtest"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryMedia struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryMedia) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]string)
	}
	m.objects[key] = contentType
	return "https://media.example.com/" + key, nil
}

type recordedJob struct {
	jobType string
	payload any
}

type jobRecorder struct {
	jobs []recordedJob
}

func (r *jobRecorder) ScheduleJob(ctx context.Context, jobType string, payload any, delay time.Duration) (string, error) {
	r.jobs = append(r.jobs, recordedJob{jobType: jobType, payload: payload})
	return "job-1", nil
}

// pngHeader is enough for content sniffing.
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 0x49, 0x48, 0x44, 0x52}

func fileHeaders(t *testing.T, name string, data []byte) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["files"]
}

func newPostService(h *harness) (PostService, *memoryMedia, *jobRecorder) {
	media := &memoryMedia{}
	jobs := &jobRecorder{}
	return NewPostService(h.repos, h.registry, media, jobs, h.logger), media, jobs
}

func TestCreatePostWithUploadAndURL(t *testing.T) {
	h := newHarness(t, platformtest.New("instagram"))
	svc, media, _ := newPostService(h)
	ctx := context.Background()
	accID := h.account(t, 1, "instagram", "ig")

	post, err := svc.CreatePost(ctx, 1, &transfer.PostCreation{
		Caption:          "Hello",
		Hashtags:         "#go, travel #go",
		ScheduledTime:    "2030-01-02T15:04",
		SelectedAccounts: "[" + itoa(accID) + "]",
		MediaURLs:        `["https://cdn.example.com/clip.mp4"]`,
	}, fileHeaders(t, "cover.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, []string{"go", "travel"}, post.Hashtags)
	assert.Len(t, media.objects, 1)

	view, err := svc.PostInfo(ctx, post.ID, 1)
	require.NoError(t, err)
	require.Len(t, view.Media, 2)
	assert.Equal(t, "image/png", view.Media[0].FileType)
	assert.Equal(t, "video/mp4", view.Media[1].FileType)
	assert.Empty(t, view.Records)

	_, err = svc.PostInfo(ctx, post.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePostValidation(t *testing.T) {
	h := newHarness(t, platformtest.New("instagram"))
	svc, _, _ := newPostService(h)
	ctx := context.Background()
	mine := h.account(t, 1, "instagram", "ig")
	theirs := h.account(t, 2, "instagram", "other")
	unsupported := h.account(t, 1, "myspace", "m")

	tests := []struct {
		name string
		pc   transfer.PostCreation
	}{
		{"missing time", transfer.PostCreation{Caption: "a", SelectedAccounts: "[" + itoa(mine) + "]"}},
		{"bad time", transfer.PostCreation{Caption: "a", ScheduledTime: "tomorrow", SelectedAccounts: "[" + itoa(mine) + "]"}},
		{"no accounts", transfer.PostCreation{Caption: "a", ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[]"}},
		{"foreign account", transfer.PostCreation{Caption: "a", ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[" + itoa(theirs) + "]"}},
		{"unsupported platform", transfer.PostCreation{Caption: "a", ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[" + itoa(unsupported) + "]"}},
		{"empty", transfer.PostCreation{ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[" + itoa(mine) + "]"}},
		{"bad media url", transfer.PostCreation{Caption: "a", ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[" + itoa(mine) + "]", MediaURLs: `["ftp://x/y.mp4"]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := tt.pc
			_, err := svc.CreatePost(ctx, 1, &pc, nil)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := svc.CreatePost(ctx, 1, &transfer.PostCreation{
		Caption: "a", ScheduledTime: "2030-01-02T15:04", SelectedAccounts: "[" + itoa(mine) + "]",
	}, fileHeaders(t, "notes.txt", []byte("plain text")))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDraftScheduleAndPublishNow(t *testing.T) {
	h := newHarness(t, platformtest.New("instagram"))
	svc, _, jobs := newPostService(h)
	ctx := context.Background()
	accID := h.account(t, 1, "instagram", "ig")

	post, err := svc.CreatePost(ctx, 1, &transfer.PostCreation{
		Caption: "draft", Draft: true, SelectedAccounts: "[" + itoa(accID) + "]",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusDraft, post.Status)
	assert.Nil(t, post.ScheduledTime)

	jobID, err := svc.PublishNow(ctx, 1, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, queue.TypePublishPost, jobs.jobs[0].jobType)
	payload := jobs.jobs[0].payload.(queue.PublishPostPayload)
	assert.Equal(t, post.ID, payload.PostID)
	assert.Contains(t, payload.From, models.PostStatusDraft)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, svc.Schedule(ctx, 1, post.ID, at))
	stored, _ := h.repos.Posts.GetByID(ctx, post.ID)
	assert.Equal(t, models.PostStatusScheduled, stored.Status)
	assert.True(t, at.Equal(*stored.ScheduledTime))

	_, err = h.repos.Posts.Claim(ctx, post.ID, models.PostStatusPublishing, models.PostStatusScheduled)
	require.NoError(t, err)
	_, err = svc.PublishNow(ctx, 1, post.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, svc.Remove(ctx, 1, post.ID), ErrInvalidInput)
}

func TestRemovePost(t *testing.T) {
	h := newHarness(t, platformtest.New("instagram"))
	svc, _, _ := newPostService(h)
	ctx := context.Background()
	postID := h.post(t, 1, "Hello", h.account(t, 1, "instagram", "ig"))

	assert.ErrorIs(t, svc.Remove(ctx, 2, postID), ErrNotFound)
	require.NoError(t, svc.Remove(ctx, 1, postID))

	posts, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestParseHashtags(t *testing.T) {
	assert.Nil(t, parseHashtags(""))
	assert.Equal(t, []string{"a", "b"}, parseHashtags(`["#a","b"," a "]`))
	assert.Equal(t, []string{"a", "b", "c"}, parseHashtags("a,b c\n#c"))
}
