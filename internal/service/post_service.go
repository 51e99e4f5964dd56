package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

var scheduleLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

var allowedMedia = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpg": {}, "jpeg": {}, "png": {}, "webp": {},
}

// JobScheduler is the part of the job queue the services enqueue through.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, jobType string, payload any, delay time.Duration) (string, error)
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostView, error)
	Remove(ctx context.Context, userID, postID int64) error
	// Schedule moves a draft or failed post to scheduled at the given time.
	Schedule(ctx context.Context, userID, postID int64, at time.Time) error
	// PublishNow enqueues an immediate publish_post job for the post.
	PublishNow(ctx context.Context, userID, postID int64) (string, error)
}

type postService struct {
	repos    Repositories
	registry *platform.Registry
	media    MediaStore
	jobs     JobScheduler
	now      func() time.Time
	logger   *zap.SugaredLogger
}

func NewPostService(repos Repositories, registry *platform.Registry, media MediaStore, jobs JobScheduler, logger *zap.SugaredLogger) PostService {
	return &postService{
		repos:    repos,
		registry: registry,
		media:    media,
		jobs:     jobs,
		now:      time.Now,
		logger:   logger,
	}
}

type upload struct {
	name     string
	mimeType string
	data     []byte
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error) {
	if pc == nil {
		return nil, invalid("post creation data is nil")
	}
	if userID == 0 {
		return nil, invalid("user id is required")
	}

	post := &models.Post{
		UserID:   userID,
		Content:  strings.TrimSpace(pc.Caption),
		Title:    strings.TrimSpace(pc.Title),
		Hashtags: parseHashtags(pc.Hashtags),
		Status:   models.PostStatusScheduled,
	}

	switch {
	case pc.Draft:
		post.Status = models.PostStatusDraft
		if pc.ScheduledTime != "" {
			at, err := parseScheduledTime(pc.ScheduledTime)
			if err != nil {
				return nil, err
			}
			post.ScheduledTime = &at
		}
	default:
		at, err := parseScheduledTime(pc.ScheduledTime)
		if err != nil {
			return nil, err
		}
		post.ScheduledTime = &at
	}

	var accountIDs []int64
	if err := json.Unmarshal([]byte(pc.SelectedAccounts), &accountIDs); err != nil {
		return nil, invalid("invalid selected accounts format")
	}
	if len(accountIDs) == 0 {
		return nil, invalid("no social accounts selected")
	}
	if err := s.checkAccounts(ctx, userID, accountIDs); err != nil {
		return nil, err
	}

	uploads, err := readUploads(files)
	if err != nil {
		return nil, err
	}
	remote, err := parseMediaURLs(pc.MediaURLs)
	if err != nil {
		return nil, err
	}
	if post.Content == "" && len(uploads) == 0 && len(remote) == 0 {
		return nil, invalid("a post needs a caption or media")
	}

	assets := make([]*models.MediaAsset, 0, len(uploads)+len(remote))
	for _, u := range uploads {
		key, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("generate media key: %w", err)
		}
		fileURL, err := s.media.Upload(ctx, key, u.data, u.mimeType)
		if err != nil {
			return nil, err
		}
		assets = append(assets, &models.MediaAsset{
			UserID:   userID,
			FileName: u.name,
			FileType: u.mimeType,
			FileSize: int64(len(u.data)),
			FileURL:  fileURL,
		})
	}
	for _, m := range remote {
		assets = append(assets, &models.MediaAsset{
			UserID:   userID,
			FileName: path.Base(m.URL),
			FileType: m.MIMEType,
			FileURL:  m.URL,
		})
	}

	err = s.repos.Tx.WithinTx(ctx, func(tx *sql.Tx) error {
		postID, err := s.repos.Posts.Create(ctx, tx, post)
		if err != nil {
			return err
		}
		post.ID = postID

		for _, accountID := range accountIDs {
			if err := s.repos.Selected.Create(ctx, tx, &models.SelectedAccount{PostID: postID, AccountID: accountID}); err != nil {
				return err
			}
		}

		for i, asset := range assets {
			assetID, err := s.repos.Assets.Create(ctx, tx, asset)
			if err != nil {
				return err
			}
			asset.ID = assetID
			if err := s.repos.PostMedia.Create(ctx, tx, &models.PostMedia{PostID: postID, AssetID: assetID, DisplayOrder: i}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	s.logger.Infow("post created", "post_id", post.ID, "user_id", userID, "status", post.Status,
		"destinations", len(accountIDs), "media", len(assets))
	return post, nil
}

// checkAccounts verifies ownership and that each account's destination is
// supported, so a bad target fails at creation instead of at dispatch.
func (s *postService) checkAccounts(ctx context.Context, userID int64, accountIDs []int64) error {
	for _, id := range accountIDs {
		acc, err := s.repos.Accounts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if acc == nil || acc.UserID != userID {
			return invalid("social account %d does not exist", id)
		}
		if _, err := s.registry.Resolve(acc.Platform); err != nil {
			return invalid("social account %d: %v", id, err)
		}
	}
	return nil
}

func parseScheduledTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, invalid("scheduled time is required")
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("invalid scheduled time format %q", value)
}

// parseHashtags accepts a JSON array or a comma or space separated list.
func parseHashtags(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		raw = strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	}

	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t != "" && !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}
	return tags
}

func readUploads(files []*multipart.FileHeader) ([]upload, error) {
	out := make([]upload, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}

		kind, err := filetype.Match(data)
		if err != nil || kind == types.Unknown {
			return nil, invalid("unsupported file type for %s", fh.Filename)
		}
		if _, ok := allowedMedia[kind.Extension]; !ok {
			return nil, invalid("file type %s is not allowed", kind.Extension)
		}

		out = append(out, upload{name: fh.Filename, mimeType: kind.MIME.Value, data: data})
	}
	return out, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}

// parseMediaURLs takes a JSON array of public media URLs and infers each
// MIME type from the path extension.
func parseMediaURLs(value string) ([]platform.Media, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var urls []string
	if err := json.Unmarshal([]byte(value), &urls); err != nil {
		return nil, invalid("invalid media urls format")
	}

	out := make([]platform.Media, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, invalid("invalid media url %q", raw)
		}
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
		if _, ok := allowedMedia[ext]; !ok {
			return nil, invalid("media url %q has an unsupported extension", raw)
		}
		if ext == "jpeg" {
			ext = "jpg"
		}
		kind := filetype.GetType(ext)
		if kind == types.Unknown {
			return nil, invalid("media url %q has an unknown type", raw)
		}
		out = append(out, platform.Media{URL: raw, MIMEType: kind.MIME.Value})
	}
	return out, nil
}

func (s *postService) owned(ctx context.Context, userID, postID int64) (*models.Post, error) {
	if postID == 0 {
		return nil, invalid("post id is required")
	}
	ok, err := s.repos.Posts.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	post, err := s.repos.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	return post, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostView, error) {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	view := &transfer.PostView{Post: post}

	media, err := s.repos.PostMedia.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	for _, pm := range media {
		asset, err := s.repos.Assets.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			view.Media = append(view.Media, asset)
		}
	}

	view.Records, err = s.repos.Records.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	if userID == 0 {
		return nil, invalid("user id is required")
	}
	return s.repos.Posts.GetByUserID(ctx, userID)
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return err
	}
	if post.Status == models.PostStatusPublishing {
		return invalid("post %d is being published", postID)
	}
	return s.repos.Posts.Remove(ctx, postID)
}

func (s *postService) Schedule(ctx context.Context, userID, postID int64, at time.Time) error {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return err
	}
	if post.Status != models.PostStatusDraft && post.Status != models.PostStatusFailed && post.Status != models.PostStatusScheduled {
		return invalid("post %d cannot be rescheduled from %s", postID, post.Status)
	}
	return s.repos.Posts.UpdateSchedule(ctx, postID, models.PostStatusScheduled, &at)
}

func (s *postService) PublishNow(ctx context.Context, userID, postID int64) (string, error) {
	post, err := s.owned(ctx, userID, postID)
	if err != nil {
		return "", err
	}

	from := []string{models.PostStatusDraft, models.PostStatusScheduled, models.PostStatusFailed}
	if !slices.Contains(from, post.Status) {
		return "", invalid("post %d cannot be published from %s", postID, post.Status)
	}

	return s.jobs.ScheduleJob(ctx, queue.TypePublishPost, queue.PublishPostPayload{PostID: postID, From: from}, 0)
}
