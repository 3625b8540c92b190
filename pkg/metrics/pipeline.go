package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record outcome labels reported per stage pass.
const (
	OutcomeSettled  = "settled"
	OutcomeFailed   = "failed"
	OutcomePending  = "pending"
	OutcomeRaceLost = "race_lost"
	OutcomeError    = "error"
)

// PipelineMetrics records metadata for scheduled pipeline runs and the
// per-record outcomes of each stage pass.
type PipelineMetrics struct {
	jobDuration   *prometheus.HistogramVec
	jobSuccess    *prometheus.CounterVec
	jobFailure    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageRecords  *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of scheduled jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	jobSuccess := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful scheduled job executions.",
	}, []string{"job"})
	jobFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed scheduled job executions.",
	}, []string{"job"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stage_duration_seconds",
		Help:    "Duration of individual pipeline stage passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	stageRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_records_total",
		Help: "Settlement records handled per stage, by outcome.",
	}, []string{"stage", "outcome"})
	reg.MustRegister(jobDuration, jobSuccess, jobFailure, stageDuration, stageRecords)
	return &PipelineMetrics{
		jobDuration:   jobDuration,
		jobSuccess:    jobSuccess,
		jobFailure:    jobFailure,
		stageDuration: stageDuration,
		stageRecords:  stageRecords,
	}
}

// ObserveJobDuration records the duration for the named job.
func (p *PipelineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncJobSuccess increments the success counter for the named job.
func (p *PipelineMetrics) IncJobSuccess(job string) {
	if p == nil || p.jobSuccess == nil {
		return
	}
	p.jobSuccess.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncJobFailure increments the failure counter for the named job.
func (p *PipelineMetrics) IncJobFailure(job string) {
	if p == nil || p.jobFailure == nil {
		return
	}
	p.jobFailure.WithLabelValues(normalizeLabel(job)).Inc()
}

// ObserveStageDuration records the duration of a single stage pass.
func (p *PipelineMetrics) ObserveStageDuration(stage string, duration time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(duration.Seconds())
}

// IncStageRecord counts one record handled by a stage with the given outcome.
func (p *PipelineMetrics) IncStageRecord(stage, outcome string) {
	if p == nil || p.stageRecords == nil {
		return
	}
	p.stageRecords.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
