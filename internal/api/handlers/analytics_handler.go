package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"go.uber.org/zap"
)

type OverviewReader interface {
	Overview(ctx context.Context, userID int64) (*transfer.AnalyticsOverview, error)
}

type AnalyticsHandler struct {
	overview OverviewReader
	logger   *zap.SugaredLogger
}

func NewAnalyticsHandler(overview OverviewReader, logger *zap.SugaredLogger) *AnalyticsHandler {
	return &AnalyticsHandler{overview: overview, logger: logger}
}

func (h *AnalyticsHandler) Overview(c *fiber.Ctx) error {
	overview, err := h.overview.Overview(c.Context(), GetUserID(c))
	if err != nil {
		return respondError(c, h.logger, err, "Unable to load analytics")
	}
	return c.Status(fiber.StatusOK).JSON(overview)
}
