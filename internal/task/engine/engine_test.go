package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "phrasebot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "ok", Run: func(ctx context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Name != "ok" || h.Error != "" || h.Attempts != 1 {
		t.Fatalf("history = %+v", h)
	}
}

func TestEnqueueRejectsWhenNotRunning(t *testing.T) {
	t.Parallel()
	run := func(ctx context.Context) error { return nil }

	disabled := New(Config{}, logx.Nop())
	if err := disabled.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue on disabled engine error = %v, want ErrDisabled", err)
	}
	stopped := New(Config{Enabled: true}, logx.Nop())
	if err := stopped.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start error = %v, want ErrStopped", err)
	}
	if err := stopped.Enqueue(Task{Name: " ", Run: run}); err == nil {
		t.Fatal("expected error for empty task name")
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "publish:quotes",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue error: %v", err)
	}
	<-started
	if !s.Running("publish:quotes") {
		t.Fatal("Running = false while the task executes")
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue error = %v, want ErrOverlapSkip", err)
	}
	other := Task{Name: "publish:facts", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error { return nil }}
	if err := s.Enqueue(other); err != nil {
		t.Fatalf("other source Enqueue error: %v", err)
	}
	close(release)
	waitFor(t, "overlap release", func() bool { return !s.Running("publish:quotes") })
	if got := s.Snapshot().SkippedOverlap; got != 1 {
		t.Fatalf("SkippedOverlap = %d, want 1", got)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	_ = s.Enqueue(Task{Name: "boom", Run: func(ctx context.Context) error { panic("bad") }})
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })
	if got := s.Snapshot().History[0].Error; got != "panic: bad" {
		t.Fatalf("history error = %q, want panic: bad", got)
	}

	ran := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(ctx context.Context) error { close(ran); return nil }})
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestRetryAndNoRetry(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("try again")
			}
			return nil
		},
	})
	var permanent atomic.Int32
	_ = s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(ctx context.Context) error {
			permanent.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	})
	waitFor(t, "both tasks", func() bool { return len(s.Snapshot().History) == 2 })

	if calls.Load() != 3 {
		t.Fatalf("flaky calls = %d, want 3", calls.Load())
	}
	if permanent.Load() != 1 {
		t.Fatalf("permanent calls = %d, want 1", permanent.Load())
	}
	h := s.Snapshot().History
	if h[0].Error != "" || h[0].Attempts != 3 {
		t.Fatalf("flaky history = %+v", h[0])
	}
	if h[1].Error != "bad input" {
		t.Fatalf("permanent history error = %q, want bad input", h[1].Error)
	}
}

func TestTaskTimeout(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	_ = s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	waitFor(t, "history", func() bool { return len(s.Snapshot().History) == 1 })
	if got := s.Snapshot().History[0].Error; got != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %q, want deadline exceeded", got)
	}
}

func TestQueueFullAndObserver(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	var observed atomic.Int32
	s.SetObserver(func(HistoryItem) { observed.Add(1) })

	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "hold", Run: func(ctx context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "queued", Run: func(ctx context.Context) error { return nil }})
	if err := s.Enqueue(Task{Name: "dropped", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue error = %v, want ErrQueueFull", err)
	}
	close(block)
	waitFor(t, "observer", func() bool { return observed.Load() == 3 })
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, HistorySize: 3})
	for i := 0; i < 5; i++ {
		if err := s.Submit(context.Background(), Task{Name: "n", Run: func(ctx context.Context) error { return nil }}); err != nil {
			t.Fatalf("Submit error: %v", err)
		}
	}
	waitFor(t, "all runs", func() bool {
		snap := s.Snapshot()
		return snap.QueueLen == 0 && snap.InFlight == 0 && len(snap.History) == 3
	})
}

func TestApplyToggles(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ctx := context.Background()
	s.Apply(ctx, Config{Enabled: true, Workers: 1})
	if err := s.Enqueue(Task{Name: "x", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue after enabling error: %v", err)
	}
	s.Apply(ctx, Config{Enabled: false})
	if err := s.Enqueue(Task{Name: "x", Run: func(ctx context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue after disabling error = %v, want ErrDisabled", err)
	}
}
