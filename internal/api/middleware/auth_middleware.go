package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/pkg/utils"
	"go.uber.org/zap"
)

type AuthMiddleware struct {
	cfg    config.Config
	logger *zap.SugaredLogger
}

func NewAuthMiddleware(cfg config.Config, logger *zap.SugaredLogger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

// AuthMiddleware accepts a session token from the configured cookie or an
// Authorization bearer header and stores its user id in Locals.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.cfg.CookieName)
		fromCookie := tokenString != ""
		if !fromCookie {
			tokenString = bearerToken(c.Get(fiber.HeaderAuthorization))
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
		if err != nil {
			if fromCookie {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1, // Delete cookie
				})
			}

			m.logger.Infow("token validation failed", "error", err, "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
