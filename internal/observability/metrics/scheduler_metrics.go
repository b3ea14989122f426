// Package metrics exposes prometheus instrumentation for the reconciliation
// scheduler and HTTP layer.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics captures reconciliation scheduler health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	itemsFailed    *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tably_scheduler_job_duration_seconds",
		Help:    "Scheduler job duration by name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_scheduler_job_errors_total",
		Help: "Scheduler job errors by name.",
	}, []string{"job"})
	itemsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_scheduler_items_processed_total",
		Help: "Subscriptions processed per job.",
	}, []string{"job"})
	itemsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tably_scheduler_items_failed_total",
		Help: "Per-record failures per job.",
	}, []string{"job"})

	for _, collector := range []prometheus.Collector{jobRuns, jobDuration, jobErrors, itemsProcessed, itemsFailed} {
		if err := registerer.Register(collector); err != nil {
			// Re-registration happens across test packages; keep the
			// first registration.
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobErrors:      jobErrors,
		itemsProcessed: itemsProcessed,
		itemsFailed:    itemsFailed,
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) AddItemsProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SchedulerMetrics) AddItemsFailed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsFailed.WithLabelValues(job).Add(float64(count))
}
