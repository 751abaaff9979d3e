// Package metrics holds the Prometheus collectors exported by phrasebot.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PublishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phrasebot_publish_attempts_total",
		Help: "Per-channel delivery attempts by outcome",
	}, []string{"status"})

	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phrasebot_cycles_total",
		Help: "Publish cycles by outcome",
	}, []string{"outcome"})

	SourcesExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_sources_exhausted_total",
		Help: "Phrase sources that ran out of phrases",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phrasebot_cycle_duration_seconds",
		Help:    "Wall time of one publish cycle",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ActiveTriggers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phrasebot_active_triggers",
		Help: "Installed daily triggers",
	})

	GenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phrasebot_generation_duration_seconds",
		Help:    "Text generation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	Tasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phrasebot_tasks_total",
		Help: "Engine task executions by result",
	}, []string{"result"})

	GoroutineFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phrasebot_goroutine_failures_total",
		Help: "Supervised goroutine runs that failed, by name and kind",
	}, []string{"name", "kind"})
)

// Cycle outcomes.
const (
	OutcomePublished = "published"
	OutcomeExhausted = "exhausted"
	OutcomeNoChannel = "no_channels"
	OutcomeError     = "error"
)

var registerOnce sync.Once

// MustRegister registers every collector. Repeated calls are no-ops.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			PublishAttempts,
			Cycles,
			SourcesExhausted,
			CycleDuration,
			ActiveTriggers,
			GenerationDuration,
			Tasks,
			GoroutineFailures,
		)
	})
}

// ObserveCycle records the outcome and duration of a publish cycle.
func ObserveCycle(outcome string, start time.Time) {
	if outcome == "" {
		outcome = OutcomeError
	}
	Cycles.WithLabelValues(outcome).Inc()
	CycleDuration.Observe(time.Since(start).Seconds())
	if outcome == OutcomeExhausted {
		SourcesExhausted.Inc()
	}
}

// ObserveDelivery counts one per-channel attempt.
func ObserveDelivery(ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	PublishAttempts.WithLabelValues(status).Inc()
}

// ObserveGeneration records a generator call.
func ObserveGeneration(model string, start time.Time, err error) {
	if model == "" {
		model = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	GenerationDuration.WithLabelValues(model, status).Observe(time.Since(start).Seconds())
}

// ObserveTask counts an engine task result.
func ObserveTask(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Tasks.WithLabelValues(result).Inc()
}

// SetActiveTriggers publishes the installed trigger count.
func SetActiveTriggers(n int) { ActiveTriggers.Set(float64(n)) }

// ObserveGoroutineFailure counts a failed supervised run. kind is "panic" or
// "error".
func ObserveGoroutineFailure(name string, panicked bool) {
	kind := "error"
	if panicked {
		kind = "panic"
	}
	GoroutineFailures.WithLabelValues(name, kind).Inc()
}
