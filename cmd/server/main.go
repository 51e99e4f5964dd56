package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postcraft/configs"
	"github.com/maheshrc27/postcraft/internal/api"
	"github.com/maheshrc27/postcraft/internal/api/handlers"
	"github.com/maheshrc27/postcraft/internal/cache"
	job "github.com/maheshrc27/postcraft/internal/jobs"
	"github.com/maheshrc27/postcraft/internal/logger"
	"github.com/maheshrc27/postcraft/internal/metrics"
	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/maheshrc27/postcraft/internal/platform/instagram"
	"github.com/maheshrc27/postcraft/internal/platform/tiktok"
	"github.com/maheshrc27/postcraft/internal/platform/x"
	"github.com/maheshrc27/postcraft/internal/platform/youtube"
	"github.com/maheshrc27/postcraft/internal/queue"
	"github.com/maheshrc27/postcraft/internal/repository"
	"github.com/maheshrc27/postcraft/internal/repository/memory"
	"github.com/maheshrc27/postcraft/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	sugar, err := logger.NewSugar(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer sugar.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repos, db := openStore(cfg, sugar)
	if db != nil {
		defer closeDB(db)
	}

	c := cache.New(cfg.RedisURI, cfg.CacheSweepInterval, sugar, m)
	defer c.Close()

	registry := newRegistry(cfg)
	vault := service.NewCredentialVault(repos.Accounts, cfg.SecretKey)

	var driver queue.TaskScheduler
	switch cfg.QueueDriver {
	case config.QueueAsynq:
		driver = queue.NewAsynqDriver(cfg.RedisURI, cfg.QueueConcurrency, sugar)
	default:
		driver = queue.NewTimerDriver(sugar)
	}
	q := queue.NewJobQueue(repos.Jobs, driver, queue.Options{
		MaxAttempts:       cfg.JobMaxAttempts,
		Backoff:           queue.Backoff{Base: cfg.JobRetryBase, Max: cfg.JobRetryMax},
		VisibilityTimeout: cfg.JobVisibilityTimeout,
	}, sugar, m)

	ctx := context.Background()
	media, err := service.NewR2MediaStore(ctx, cfg.R2)
	if err != nil {
		sugar.Fatalw("failed to configure media storage", "error", err)
	}

	publisher := service.NewPublishService(repos, registry, vault, service.PublishOptions{
		Concurrency: cfg.PublishConcurrency,
		Timeout:     cfg.AdapterTimeout,
	}, sugar, m)
	metricsService := service.NewMetricsService(repos, registry, vault, c, cfg.CacheTTL, sugar, m)
	accountService := service.NewAccountService(repos.Accounts, registry, vault, sugar)
	postService := service.NewPostService(repos, registry, media, q, sugar)

	q.Register(queue.TypePublishPost, job.PublishPostHandler(publisher, sugar))
	q.Register(queue.TypeSyncMetrics, job.SyncMetricsHandler(metricsService))

	if err := q.Start(); err != nil {
		sugar.Fatalw("failed to start job queue", "driver", cfg.QueueDriver, "error", err)
	}
	if n, err := q.Recover(ctx); err != nil {
		sugar.Errorw("failed to re-arm due jobs", "error", err)
	} else if n > 0 {
		sugar.Infow("re-armed due jobs", "jobs", n)
	}

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(repos.Accounts, accountService, cfg.TokenRefreshWindow, sugar)
	scheduler := job.NewScheduler(repos.Posts, repos.Accounts, publisher, q, metricsService, refreshTokenJob,
		job.SchedulerOptions{
			Batch:        cfg.SchedulerBatch,
			Concurrency:  cfg.PublishConcurrency,
			StallTimeout: cfg.PublishStallTimeout,
		}, sugar, m)
	if err := scheduler.Start(); err != nil {
		sugar.Fatalw("failed to start scheduler", "error", err)
	}

	app := api.NewApp(*cfg, api.Handlers{
		Platform:  handlers.NewPlatformHandler(accountService, metricsService, q, registry.Names(), *cfg, sugar),
		Post:      handlers.NewPostHandler(postService, metricsService, sugar),
		Job:       handlers.NewJobHandler(q, sugar),
		Analytics: handlers.NewAnalyticsHandler(metricsService, sugar),
	}, reg, sugar)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			sugar.Fatalw("failed to start server", "error", err)
		}
	}()
	sugar.Infow("server is running", "port", cfg.Port, "database", cfg.DatabaseDriver, "queue", cfg.QueueDriver,
		"platforms", registry.Names())

	gracefulShutdown(app, scheduler, q, sugar)
}

// openStore returns postgres-backed repositories, or the in-memory store
// when DATABASE_DRIVER=memory. The returned db is nil for the memory store.
func openStore(cfg *config.Config, sugar *zap.SugaredLogger) (service.Repositories, *sql.DB) {
	if cfg.DatabaseDriver == config.DatabaseMemory {
		sugar.Warnw("using in-memory store; data does not survive a restart")
		store := memory.New()
		return service.Repositories{
			Posts:     store.Posts(),
			Accounts:  store.Accounts(),
			Assets:    store.Assets(),
			PostMedia: store.PostMedia(),
			Selected:  store.SelectedAccounts(),
			Records:   store.Records(),
			Jobs:      store.Jobs(),
			Metrics:   store.Metrics(),
			Tx:        store,
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	return service.Repositories{
		Posts:     repository.NewPostRepository(db),
		Accounts:  repository.NewSocialAccountRepository(db),
		Assets:    repository.NewMediaAssetRepository(db),
		PostMedia: repository.NewPostMediaRepository(db),
		Selected:  repository.NewSelectedAccountRepository(db),
		Records:   repository.NewPublishRecordRepository(db),
		Jobs:      repository.NewJobRepository(db),
		Metrics:   repository.NewMetricsRepository(db),
		Tx:        repository.NewTransactor(db),
	}, db
}

func newRegistry(cfg *config.Config) *platform.Registry {
	client := func(name string) *platform.Client {
		return platform.NewClient(name, &http.Client{Timeout: cfg.AdapterTimeout},
			rate.NewLimiter(rate.Limit(cfg.PlatformRateLimit), cfg.PlatformRateBurst))
	}

	return platform.NewRegistry(
		instagram.New(instagram.Config{
			ClientID:     cfg.Instagram.ClientID,
			ClientSecret: cfg.Instagram.ClientSecret,
			RedirectURI:  cfg.Instagram.RedirectURI,
		}, client("instagram")),
		tiktok.New(tiktok.Config{
			ClientKey:    cfg.Tiktok.ClientID,
			ClientSecret: cfg.Tiktok.ClientSecret,
			RedirectURI:  cfg.Tiktok.RedirectURI,
		}, client("tiktok")),
		youtube.New(youtube.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURI:  cfg.Google.RedirectURI,
		}, client("youtube")),
		x.New(x.Config{
			ClientID:     cfg.X.ClientID,
			ClientSecret: cfg.X.ClientSecret,
			RedirectURI:  cfg.X.RedirectURI,
		}, client("x")),
	)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, scheduler *job.Scheduler, q *queue.JobQueue, sugar *zap.SugaredLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	sugar.Infow("shutting down server")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		sugar.Errorw("failed to shut down server", "error", err)
	}
	scheduler.Stop()
	q.Stop()

	sugar.Infow("server shutdown complete")
}
