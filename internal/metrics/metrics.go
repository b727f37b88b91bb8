// Package metrics exposes Prometheus collectors for job runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the job metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	LockContentions *prometheus.CounterVec
	Records         *prometheus.CounterVec
	LastSuccess     *prometheus.GaugeVec
}

// NewCollector creates and registers the job metrics
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by job and status",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Duration of job runs that held the lock",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		LockContentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_lock_contentions_total",
			Help:      "Runs skipped because another instance held the lock",
		}, []string{"job"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_records_total",
			Help:      "Records processed by outcome",
		}, []string{"job", "outcome"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}, []string{"job"}),
	}

	c.registry.MustRegister(
		c.JobRuns,
		c.JobDuration,
		c.LockContentions,
		c.Records,
		c.LastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveContention counts a run skipped on lock contention
func (c *Collector) ObserveContention(job string) {
	c.LockContentions.WithLabelValues(job).Inc()
}

// ObserveRun records a run that held the lock
func (c *Collector) ObserveRun(job, status string, duration time.Duration, updated, skipped, failed int) {
	c.JobRuns.WithLabelValues(job, status).Inc()
	c.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	c.Records.WithLabelValues(job, "updated").Add(float64(updated))
	c.Records.WithLabelValues(job, "skipped").Add(float64(skipped))
	c.Records.WithLabelValues(job, "failed").Add(float64(failed))
	if status == "completed" {
		c.LastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
