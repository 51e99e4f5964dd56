package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Config struct {
	Env  string
	Port string

	DatabaseDriver string
	PostgresURI    string
	RedisURI       string

	QueueDriver      string
	QueueConcurrency int
	JobMaxAttempts   int
	JobRetryBase     time.Duration
	JobRetryMax      time.Duration
	// JobVisibilityTimeout bounds how long a job may stay processing before
	// it is requeued; PublishStallTimeout does the same for publishing posts.
	JobVisibilityTimeout time.Duration
	PublishStallTimeout  time.Duration

	PublishConcurrency int
	AdapterTimeout     time.Duration
	SchedulerBatch     int
	TokenRefreshWindow time.Duration

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	PlatformRateLimit float64
	PlatformRateBurst int
	APIRateLimit      int

	Instagram OAuthClient
	Tiktok    OAuthClient
	Google    OAuthClient
	X         OAuthClient

	R2          R2
	FrontendURL string
	SecretKey   string
	CookieName  string
}

const (
	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"

	QueueTimer = "timer"
	QueueAsynq = "asynq"
)

func LoadConfig() *Config {
	return &Config{
		Env:  getEnv("ENV", "dev"),
		Port: getEnv("PORT", "3000"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", DatabasePostgres),
		PostgresURI:    getEnv("POSTGRES_URI", ""),
		RedisURI:       getEnv("REDIS_URI", "localhost:6379"),

		QueueDriver:      getEnv("QUEUE_DRIVER", QueueTimer),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 10),
		JobMaxAttempts:   getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobRetryBase:     getEnvDuration("JOB_RETRY_BASE", 30*time.Second),
		JobRetryMax:      getEnvDuration("JOB_RETRY_MAX", 10*time.Minute),

		JobVisibilityTimeout: getEnvDuration("JOB_VISIBILITY_TIMEOUT", 15*time.Minute),
		PublishStallTimeout:  getEnvDuration("PUBLISH_STALL_TIMEOUT", 15*time.Minute),

		PublishConcurrency: getEnvInt("PUBLISH_CONCURRENCY", 10),
		AdapterTimeout:     getEnvDuration("ADAPTER_TIMEOUT", 60*time.Second),
		SchedulerBatch:     getEnvInt("SCHEDULER_BATCH", 100),
		TokenRefreshWindow: getEnvDuration("TOKEN_REFRESH_WINDOW", 30*time.Minute),

		CacheTTL:           getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),

		PlatformRateLimit: getEnvFloat("PLATFORM_RATE_LIMIT", 5),
		PlatformRateBurst: getEnvInt("PLATFORM_RATE_BURST", 10),
		APIRateLimit:      getEnvInt("API_RATE_LIMIT", 120),

		Instagram: OAuthClient{
			ClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
			ClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		},
		Tiktok: OAuthClient{
			ClientID:     getEnv("TIKTOK_CLIENT_KEY", ""),
			ClientSecret: getEnv("TIKTOK_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("TIKTOK_REDIRECT_URI", ""),
		},
		Google: OAuthClient{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		X: OAuthClient{
			ClientID:     getEnv("X_CLIENT_ID", ""),
			ClientSecret: getEnv("X_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("X_REDIRECT_URI", ""),
		},

		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:   getEnv("SECRET_KEY", ""),
		CookieName:  getEnv("COOKIE_NAME", "session"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
