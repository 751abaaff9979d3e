package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	MustRegister(reg)
}

func TestObserveCycleCountsExhausted(t *testing.T) {
	before := testutil.ToFloat64(SourcesExhausted)
	cyclesBefore := testutil.ToFloat64(Cycles.WithLabelValues(OutcomeExhausted))

	ObserveCycle(OutcomeExhausted, time.Now())

	if got := testutil.ToFloat64(SourcesExhausted); got != before+1 {
		t.Fatalf("SourcesExhausted = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(Cycles.WithLabelValues(OutcomeExhausted)); got != cyclesBefore+1 {
		t.Fatalf("cycles{exhausted} = %v, want %v", got, cyclesBefore+1)
	}
}

func TestObserveDelivery(t *testing.T) {
	ok := testutil.ToFloat64(PublishAttempts.WithLabelValues("success"))
	failed := testutil.ToFloat64(PublishAttempts.WithLabelValues("failed"))

	ObserveDelivery(true)
	ObserveDelivery(false)
	ObserveDelivery(false)

	if got := testutil.ToFloat64(PublishAttempts.WithLabelValues("success")); got != ok+1 {
		t.Fatalf("success = %v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(PublishAttempts.WithLabelValues("failed")); got != failed+2 {
		t.Fatalf("failed = %v, want %v", got, failed+2)
	}
}

func TestObserveTaskAndTriggers(t *testing.T) {
	errs := testutil.ToFloat64(Tasks.WithLabelValues("error"))
	ObserveTask(errors.New("boom"))
	if got := testutil.ToFloat64(Tasks.WithLabelValues("error")); got != errs+1 {
		t.Fatalf("tasks{error} = %v, want %v", got, errs+1)
	}

	SetActiveTriggers(7)
	if got := testutil.ToFloat64(ActiveTriggers); got != 7 {
		t.Fatalf("ActiveTriggers = %v, want 7", got)
	}
}

func TestObserveGoroutineFailure(t *testing.T) {
	panics := testutil.ToFloat64(GoroutineFailures.WithLabelValues("bot.dispatch", "panic"))
	ObserveGoroutineFailure("bot.dispatch", true)
	ObserveGoroutineFailure("bot.dispatch", false)
	if got := testutil.ToFloat64(GoroutineFailures.WithLabelValues("bot.dispatch", "panic")); got != panics+1 {
		t.Fatalf("failures{panic} = %v, want %v", got, panics+1)
	}
}
