package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPublish("x", "success", 20*time.Millisecond)
	m.RecordPublish("x", "success", 10*time.Millisecond)
	m.RecordPublish("x", "failed", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishAttempts.WithLabelValues("x", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishAttempts.WithLabelValues("x", "failed")))
}

func TestRecordTick(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTick(3)
	m.RecordTick(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SchedulerTicks))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DuePosts))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPublish("x", "success", time.Second)
		m.RecordJob("publish_post", "completed")
		m.RecordRetry("publish_post")
		m.RecordTick(1)
		m.RecordMetricSync("x", "success")
		m.RecordCache(true)
	})
}
