package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "")
	t.Setenv("JOB_VISIBILITY_TIMEOUT", "")

	cfg := LoadConfig()

	assert.Equal(t, QueueTimer, cfg.QueueDriver)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 15*time.Minute, cfg.JobVisibilityTimeout)
	assert.Equal(t, "http://localhost:5173", cfg.FrontendURL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", QueueAsynq)
	t.Setenv("JOB_MAX_ATTEMPTS", "5")
	t.Setenv("ADAPTER_TIMEOUT", "15s")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("PLATFORM_RATE_LIMIT", "2.5")
	t.Setenv("JOB_VISIBILITY_TIMEOUT", "5m")
	t.Setenv("PUBLISH_STALL_TIMEOUT", "90s")

	cfg := LoadConfig()

	assert.Equal(t, QueueAsynq, cfg.QueueDriver)
	assert.Equal(t, 5, cfg.JobMaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.InDelta(t, 2.5, cfg.PlatformRateLimit, 0.001)
	assert.Equal(t, 5*time.Minute, cfg.JobVisibilityTimeout)
	assert.Equal(t, 90*time.Second, cfg.PublishStallTimeout)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "ten")
	assert.Equal(t, 7, getEnvInt("SOME_INT", 7))
}
