package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/service"
	"go.uber.org/zap"
)

func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, platform.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrForbidden), errors.Is(err, platform.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrPostNotClaimable):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError maps err onto a status. Client errors carry their message;
// server errors are logged and answered with fallback.
func respondError(c *fiber.Ctx, logger *zap.SugaredLogger, err error, fallback string) error {
	status := errorStatus(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		logger.Errorw(fallback, "path", c.Path(), "error", err)
		message = fallback
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func queryID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	return id, err == nil && id > 0
}

func invalidID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "A valid id is required",
	})
}
