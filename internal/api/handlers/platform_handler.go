package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/service"
	"github.com/maheshrc27/postcraft/internal/transfer"
	"github.com/maheshrc27/postcraft/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long a user may spend on a consent page.
const stateTTL = 10 * time.Minute

type AccountHistory interface {
	AccountHistory(ctx context.Context, userID, accountID int64, days int) ([]*models.AccountMetrics, error)
}

type PlatformHandler struct {
	as        service.AccountService
	history   AccountHistory
	jobs      service.JobScheduler
	platforms []string
	cfg       config.Config
	logger    *zap.SugaredLogger
}

func NewPlatformHandler(as service.AccountService, history AccountHistory, jobs service.JobScheduler, platforms []string, cfg config.Config, logger *zap.SugaredLogger) *PlatformHandler {
	return &PlatformHandler{
		as:        as,
		history:   history,
		jobs:      jobs,
		platforms: platforms,
		cfg:       cfg,
		logger:    logger,
	}
}

func (h *PlatformHandler) ListPlatforms(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"platforms": h.platforms,
	})
}

// AddSocialAccount starts a consent flow. The state parameter is the
// caller's session token; the destination receives a short-lived state
// carrying this flow's PKCE verifier instead.
func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	session, err := utils.ValidateToken(h.cfg.SecretKey, c.Query("state"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	verifier := oauth2.GenerateVerifier()
	state, err := utils.GenerateStateToken(h.cfg.SecretKey, session.UserID, verifier, stateTTL)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to start authorization")
	}

	authURL, err := h.as.GetAuthURL(c.Context(), c.Params("platform"), state, verifier)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to start authorization")
	}
	return c.Redirect(authURL)
}

// CallbackHandler completes a destination's consent flow. The state
// parameter names the user and, for PKCE destinations, seals the verifier.
func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platformName := c.Params("platform")

	claims, verifier, err := utils.ParseStateToken(h.cfg.SecretKey, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		h.logger.Infow("state carries a malformed user id", "user_id", claims.UserID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	acc, err := h.as.Connect(c.Context(), platformName, code, verifier, userID)
	if err != nil {
		h.logger.Warnw("account connect failed", "platform", platformName, "user_id", userID, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to connect account",
		})
	}
	h.logger.Infow("account connected", "platform", acc.Platform, "account_id", acc.ID, "user_id", userID)

	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.cfg.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.as.List(c.Context(), userID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to fetch social accounts")
	}
	if accountList == nil {
		accountList = []*models.SocialAccount{}
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	if err := h.as.Delete(c.Context(), userID, accountID); err != nil {
		return respondError(c, h.logger, err, "Unable to delete social account")
	}

	return c.SendStatus(fiber.StatusOK)
}

// SyncAccount enqueues a metrics sync for one of the user's accounts.
func (h *PlatformHandler) SyncAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	accounts, err := h.as.List(c.Context(), userID)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to fetch social accounts")
	}
	if !ownsAccount(accounts, accountID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	jobID, err := h.jobs.ScheduleJob(c.Context(), queue.TypeSyncMetrics, queue.SyncMetricsPayload{AccountID: accountID}, 0)
	if err != nil {
		return respondError(c, h.logger, err, "Unable to schedule metrics sync")
	}

	return c.Status(fiber.StatusAccepted).JSON(transfer.JobAccepted{JobID: jobID})
}

func (h *PlatformHandler) AccountMetrics(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID, ok := queryID(c)
	if !ok {
		return invalidID(c)
	}

	history, err := h.history.AccountHistory(c.Context(), userID, accountID, c.QueryInt("days", 30))
	if err != nil {
		return respondError(c, h.logger, err, "Unable to load account metrics")
	}
	if history == nil {
		history = []*models.AccountMetrics{}
	}

	return c.Status(fiber.StatusOK).JSON(history)
}

func ownsAccount(accounts []*models.SocialAccount, accountID int64) bool {
	for _, acc := range accounts {
		if acc.ID == accountID {
			return true
		}
	}
	return false
}
