// Package metrics provides Prometheus metrics for the pipeline service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal tracks pipeline runs by outcome
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"status"},
	)

	// PipelineRunDuration tracks end-to-end run duration in seconds
	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quest",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// RecordsProcessedTotal tracks records by stage and result
	RecordsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records processed by stage and result",
		},
		[]string{"stage", "result"},
	)

	// MatchDecisionsTotal tracks match decisions by kind
	MatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "matching",
			Name:      "decisions_total",
			Help:      "Total number of match decisions by decision kind",
		},
		[]string{"decision"},
	)

	// ClassificationAttemptsTotal tracks classification calls by model and status
	ClassificationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "classify",
			Name:      "attempts_total",
			Help:      "Total number of classification attempts by model and status",
		},
		[]string{"model", "status"},
	)

	// EpisodesProjectedTotal tracks episodes written to the graph
	EpisodesProjectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "projector",
			Name:      "episodes_total",
			Help:      "Total number of episodes projected into the graph",
		},
	)

	// ProjectionFailuresTotal tracks subjects that failed to project
	ProjectionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "projector",
			Name:      "failures_total",
			Help:      "Total number of subjects that failed to project",
		},
	)

	// SchedulerRunsScheduled tracks runs started by the scheduler
	SchedulerRunsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "scheduler",
			Name:      "runs_scheduled_total",
			Help:      "Total number of runs started by the scheduler",
		},
	)

	// IntakeMessagesTotal tracks kafka intake messages by result
	IntakeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quest",
			Subsystem: "intake",
			Name:      "messages_total",
			Help:      "Total number of intake messages consumed by result",
		},
		[]string{"result"},
	)
)
