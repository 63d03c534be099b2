// Package metrics exposes Prometheus instrumentation for the scheduler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dixie"

var (
	// Pressure is the latest pressure computed per service.
	Pressure = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pressure",
		Help:      "Latest quota pressure per service (0..1).",
	}, []string{"service"})

	// UsedToday is the latest observed daily usage per service.
	UsedToday = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "used_today",
		Help:      "Prompts consumed today per service.",
	}, []string{"service"})

	// Recommendations counts allocator decisions.
	Recommendations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recommendations_total",
		Help:      "Allocator recommendations by action and urgency.",
	}, []string{"action", "urgency"})

	// TaskRuns counts task executions by outcome.
	TaskRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_runs_total",
		Help:      "Task executions by task and outcome.",
	}, []string{"task", "outcome"})

	// TaskPrompts counts prompts charged per task.
	TaskPrompts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_prompts_total",
		Help:      "Prompts charged to autonomous tasks.",
	}, []string{"task"})

	// CycleDuration observes how long an executor cycle takes.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of executor cycles.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// BudgetOverruns counts cycles where reported cost exceeded the grant.
	BudgetOverruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "budget_overruns_total",
		Help:      "Cycles in which reported task cost exceeded the granted budget.",
	})

	// SkippedTicks counts driver ticks skipped because a cycle was running.
	SkippedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_ticks_total",
		Help:      "Periodic ticks skipped because a previous cycle was still running.",
	})
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Pressure,
			UsedToday,
			Recommendations,
			TaskRuns,
			TaskPrompts,
			CycleDuration,
			BudgetOverruns,
			SkippedTicks,
		)
	})
}
