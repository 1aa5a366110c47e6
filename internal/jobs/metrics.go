// Package jobmetrics holds the Prometheus collectors shared by the asynq task handlers.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Run outcomes recorded on backoffice_jobs_total.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusFailure  = "failure"
)

// Metrics groups the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations *prometheus.CounterVec
	drift      prometheus.Counter
}

// NewMetrics registers the collectors on registerer, normally the one behind the ops /metrics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_jobs_total",
			Help: "Task runs by task type and status (success, rejected, failure).",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backoffice_job_duration_seconds",
			Help:    "Task run duration by task type.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 600},
		}, []string{"job"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_integrity_violations_total",
			Help: "Integrity violations found by the scheduled check, by invariant.",
		}, []string{"kind"}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_ledger_drift_corrections_total",
			Help: "Customers whose cached balance was recomputed to a different value.",
		}),
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.runs, m.duration, m.violations, m.drift)
	return m
}

// Tracker times one task run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged, so it can be used in a deferred assignment.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	t.metrics.runs.WithLabelValues(t.job, Status(err)).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Status classifies a handler result. Tasks dropped without retry for bad input are rejected,
// not failed.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, asynq.SkipRetry), shared.IsClientError(err):
		return StatusRejected
	default:
		return StatusFailure
	}
}

// AddViolations adds count to the counter for one invariant kind.
func (m *Metrics) AddViolations(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.violations.WithLabelValues(kind).Add(float64(count))
}

// AddDriftCorrections counts customers whose cached balance was repaired.
func (m *Metrics) AddDriftCorrections(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.Add(float64(count))
}
