package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged, never returned.
type PrometheusSink struct {
	jobsSubmitted  prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	stageErrors    *prometheus.CounterVec
	inFlight       prometheus.Gauge
	cleanupDeleted prometheus.Counter
	jobsReconciled *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initJobMetrics(reg)
	s.initHousekeepingMetrics(reg)
	return s
}

func (s *PrometheusSink) initJobMetrics(reg prometheus.Registerer) {
	s.jobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "narrator_jobs_submitted_total",
		Help: "Total number of accepted job submissions.",
	})
	s.jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state.",
	}, []string{"outcome"})
	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narrator_job_duration_seconds",
		Help:    "Wall time from claim to terminal write.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 240, 480},
	}, []string{"outcome"})
	s.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narrator_stage_duration_seconds",
		Help:    "Duration of each pipeline stage.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 240},
	}, []string{"stage"})
	s.stageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_stage_errors_total",
		Help: "Total number of failed pipeline stages.",
	}, []string{"stage"})
	s.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "narrator_pipelines_in_flight",
		Help: "Number of pipelines currently running.",
	})

	s.register(reg, s.jobsSubmitted, "narrator_jobs_submitted_total")
	s.register(reg, s.jobsCompleted, "narrator_jobs_finished_total")
	s.register(reg, s.jobDuration, "narrator_job_duration_seconds")
	s.register(reg, s.stageDuration, "narrator_stage_duration_seconds")
	s.register(reg, s.stageErrors, "narrator_stage_errors_total")
	s.register(reg, s.inFlight, "narrator_pipelines_in_flight")
}

func (s *PrometheusSink) initHousekeepingMetrics(reg prometheus.Registerer) {
	s.cleanupDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "narrator_cleanup_deleted_files_total",
		Help: "Total number of expired temp files removed.",
	})
	s.jobsReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "narrator_jobs_reconciled_total",
		Help: "Total number of jobs touched by the reconciler.",
	}, []string{"action"})

	s.register(reg, s.cleanupDeleted, "narrator_cleanup_deleted_files_total")
	s.register(reg, s.jobsReconciled, "narrator_jobs_reconciled_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("[metrics] register name=%s error=%v", name, err)
	}
}

func (s *PrometheusSink) JobSubmitted() {
	s.jobsSubmitted.Inc()
}

func (s *PrometheusSink) JobCompleted(outcome string, duration time.Duration) {
	s.jobsCompleted.WithLabelValues(outcome).Inc()
	s.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (s *PrometheusSink) StageCompleted(stage string, duration time.Duration, err error) {
	s.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		s.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (s *PrometheusSink) PipelinesInFlightIncr() {
	s.inFlight.Inc()
}

func (s *PrometheusSink) PipelinesInFlightDecr() {
	s.inFlight.Dec()
}

func (s *PrometheusSink) CleanupDeleted(n int) {
	if n > 0 {
		s.cleanupDeleted.Add(float64(n))
	}
}

func (s *PrometheusSink) JobsReconciled(action string, n int) {
	if n > 0 {
		s.jobsReconciled.WithLabelValues(action).Add(float64(n))
	}
}
