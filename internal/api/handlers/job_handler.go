package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"go.uber.org/zap"
)

type JobReader interface {
	Job(ctx context.Context, id string) (*models.Job, []*models.JobAttempt, error)
}

type JobHandler struct {
	jobs   JobReader
	logger *zap.SugaredLogger
}

func NewJobHandler(jobs JobReader, logger *zap.SugaredLogger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

// GetJob reports a job's status, result, and attempt history.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	job, attempts, err := h.jobs.Job(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err, "Unable to load job")
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	if attempts == nil {
		attempts = []*models.JobAttempt{}
	}

	return c.Status(fiber.StatusOK).JSON(transfer.JobView{Job: job, Attempts: attempts})
}
