package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/service"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"go.uber.org/zap"
)

type PostMetricsReader interface {
	PostMetrics(ctx context.Context, userID, postID int64) ([]transfer.DestinationMetrics, error)
}

type PostHandler struct {
	s       service.PostService
	metrics PostMetricsReader
	logger  *zap.SugaredLogger
}

func NewPostHandler(s service.PostService, metrics PostMetricsReader, logger *zap.SugaredLogger) *PostHandler {
	return &PostHandler{s: s, metrics: metrics, logger: logger}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	post, err := h.s.CreatePost(c.Context(), userID, &transfer.PostCreation{
		Caption:          c.FormValue("caption"),
		Title:            c.FormValue("title"),
		Hashtags:         c.FormValue("hashtags"),
		ScheduledTime:    c.FormValue("scheduling_time"),
		SelectedAccounts: c.FormValue("selected_accounts"),
		MediaURLs:        c.FormValue("media_urls"),
		Draft:            c.FormValue("draft") == "true",
	}, form.File["files"])
	if err != nil {
		return respondError(c, h.logger, err, "Unable to create post")
	}

	h.logger.Infow("post created", "post_id", post.ID, "user_id", userID, "status", post.Status)
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	if c.Query("id") != "" {
		postID, ok := queryID(c)
		if !ok {
			return invalidID(c)
		}

		post, err := h.s.PostInfo(c.Context(), postID, userID)
		if err != nil {
			return respondError(c, h.logger, err, "Unable to load post")
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to list posts")
	}
	if posts == nil {
		posts = []*models.Post{}
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	if err := h.s.Remove(c.Context(), userID, postID); err != nil {
		return respondError(c, h.logger, err, "Unable to remove post")
	}

	return c.SendStatus(fiber.StatusOK)
}

// PublishPost enqueues an immediate publish of the post.
func (h *PostHandler) PublishPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	jobID, err := h.s.PublishNow(c.Context(), userID, postID)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to publish post")
	}

	return c.Status(fiber.StatusAccepted).JSON(transfer.JobAccepted{JobID: jobID})
}

// SchedulePost moves a post to scheduled at the RFC3339 time in "at".
func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	at, err := time.Parse(time.RFC3339, c.Query("at"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "at must be an RFC3339 time",
		})
	}

	if err := h.s.Schedule(c.Context(), userID, postID, at); err != nil {
		return respondError(c, h.logger, err, "Unable to schedule post")
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) PostMetrics(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	metrics, err := h.metrics.PostMetrics(c.Context(), userID, postID)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to load post metrics")
	}
	if metrics == nil {
		metrics = []transfer.DestinationMetrics{}
	}

	return c.Status(fiber.StatusOK).JSON(metrics)
}
