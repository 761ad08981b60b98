package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdb_pipeline_runs_total",
			Help: "Total number of pipeline runs by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)
	pipelineStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdb_pipeline_stage_failures_total",
			Help: "Total number of pipeline failures by the stage that produced them.",
		},
		[]string{"stage"},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatdb_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	llmRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdb_llm_rate_limited_total",
			Help: "Total number of summaries replaced by the too-broad message after a token rate limit.",
		},
	)
	auditRecordsFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdb_audit_records_flushed_total",
			Help: "Total number of audit records written to the object store.",
		},
	)
	auditFlushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdb_audit_flush_failures_total",
			Help: "Total number of failed audit flushes.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineStageFailuresTotal,
		pipelineStageDurationSeconds,
		llmRateLimitedTotal,
		auditRecordsFlushedTotal,
		auditFlushFailuresTotal,
	)
}

func ObservePipelineRun(flow, outcome string) {
	pipelineRunsTotal.WithLabelValues(flow, outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration, failed bool) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if failed {
		pipelineStageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func IncrementRateLimited() {
	llmRateLimitedTotal.Inc()
}

func ObserveAuditFlush(records int, failed bool) {
	if failed {
		auditFlushFailuresTotal.Inc()
		return
	}
	if records > 0 {
		auditRecordsFlushedTotal.Add(float64(records))
	}
}
