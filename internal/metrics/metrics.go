package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics methods are safe to call on a nil receiver.
type Metrics struct {
	PublishAttempts *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	JobsProcessed   *prometheus.CounterVec
	JobRetries      *prometheus.CounterVec
	SchedulerTicks  prometheus.Counter
	DuePosts        prometheus.Counter
	MetricSyncs     *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcraft_publish_attempts_total",
			Help: "Destination publish attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postcraft_publish_duration_seconds",
			Help:    "Destination publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcraft_jobs_processed_total",
			Help: "Job executions by type and resulting status.",
		}, []string{"type", "status"}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcraft_job_retries_total",
			Help: "Jobs rescheduled after a failed attempt.",
		}, []string{"type"}),
		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postcraft_scheduler_ticks_total",
			Help: "Scheduler ticks executed.",
		}),
		DuePosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postcraft_due_posts_total",
			Help: "Due posts picked up by the scheduler.",
		}),
		MetricSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcraft_metric_syncs_total",
			Help: "Account metric synchronizations by platform and outcome.",
		}, []string{"platform", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postcraft_cache_hits_total",
			Help: "Lookaside cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postcraft_cache_misses_total",
			Help: "Lookaside cache misses.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PublishAttempts,
			m.PublishDuration,
			m.JobsProcessed,
			m.JobRetries,
			m.SchedulerTicks,
			m.DuePosts,
			m.MetricSyncs,
			m.CacheHits,
			m.CacheMisses,
		)
	}
	return m
}

func (m *Metrics) RecordPublish(platform, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.PublishAttempts.WithLabelValues(platform, outcome).Inc()
	m.PublishDuration.WithLabelValues(platform).Observe(took.Seconds())
}

func (m *Metrics) RecordJob(jobType, status string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) RecordRetry(jobType string) {
	if m == nil {
		return
	}
	m.JobRetries.WithLabelValues(jobType).Inc()
}

func (m *Metrics) RecordTick(due int) {
	if m == nil {
		return
	}
	m.SchedulerTicks.Inc()
	m.DuePosts.Add(float64(due))
}

func (m *Metrics) RecordMetricSync(platform, outcome string) {
	if m == nil {
		return
	}
	m.MetricSyncs.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}
