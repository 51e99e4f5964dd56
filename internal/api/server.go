package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/internal/api/handlers"
	"github.com/maheshrc27/postcraft/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Platform  *handlers.PlatformHandler
	Post      *handlers.PostHandler
	Job       *handlers.JobHandler
	Analytics *handlers.AnalyticsHandler
}

// NewApp builds the HTTP surface. Everything under /api requires a session
// token and is rate limited per client.
func NewApp(cfg config.Config, h Handlers, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Errorw("request failed", "path", c.Path(), "error", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	app.Get("/auth/:platform", h.Platform.AddSocialAccount)
	app.Get("/auth/:platform/callback", h.Platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(middleware.NewAuthMiddleware(cfg, log).AuthMiddleware())
	if cfg.APIRateLimit > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        cfg.APIRateLimit,
			Expiration: time.Minute,
		}))
	}

	api.Get("/platforms", h.Platform.ListPlatforms)

	api.Post("/posts/create", h.Post.CreatePost)
	api.Get("/posts", h.Post.ListPosts)
	api.Post("/posts/remove", h.Post.RemovePost)
	api.Post("/posts/publish", h.Post.PublishPost)
	api.Post("/posts/schedule", h.Post.SchedulePost)
	api.Get("/posts/metrics", h.Post.PostMetrics)

	api.Get("/jobs/:id", h.Job.GetJob)

	// social accounts api routes
	api.Get("/accounts", h.Platform.ListSocialAccounts)
	api.Post("/accounts/remove", h.Platform.DeleteSocialAccount)
	api.Post("/accounts/sync", h.Platform.SyncAccount)
	api.Get("/accounts/metrics", h.Platform.AccountMetrics)

	api.Get("/analytics/overview", h.Analytics.Overview)

	return app
}
