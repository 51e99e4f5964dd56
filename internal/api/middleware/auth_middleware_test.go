package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "0123456789abcdef0123456789abcdef"

func newApp() *fiber.App {
	cfg := config.Config{SecretKey: secret, CookieName: "session"}
	app := fiber.New()
	app.Use(NewAuthMiddleware(cfg, zap.NewNop().Sugar()).AuthMiddleware())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	token, err := utils.GenerateToken(secret, "42", time.Hour)
	require.NoError(t, err)
	expired, err := utils.GenerateToken(secret, "42", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		cookie string
		header string
		status int
		body   string
	}{
		{name: "cookie", cookie: token, status: fiber.StatusOK, body: "42"},
		{name: "bearer", header: "Bearer " + token, status: fiber.StatusOK, body: "42"},
		{name: "lowercase scheme", header: "bearer " + token, status: fiber.StatusOK, body: "42"},
		{name: "missing", status: fiber.StatusUnauthorized},
		{name: "basic scheme", header: "Basic " + token, status: fiber.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: fiber.StatusUnauthorized},
		{name: "garbage cookie", cookie: "nope", status: fiber.StatusUnauthorized},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.cookie != "" {
				req.Header.Set("Cookie", "session="+tt.cookie)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}
