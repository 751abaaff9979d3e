package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type exitLog struct {
	mu    sync.Mutex
	exits []Exit
}

func (l *exitLog) hook(ex Exit) {
	l.mu.Lock()
	l.exits = append(l.exits, ex)
	l.mu.Unlock()
}

func (l *exitLog) all() []Exit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Exit(nil), l.exits...)
}

func TestGoCancelOnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("boom") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "fails: boom") {
		t.Fatalf("Wait error = %v, want fails: boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	var log exitLog
	s := NewSupervisor(context.Background(), WithExitHook(log.hook))
	s.Go0("panics", func(ctx context.Context) { panic("oops") })
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "panic: oops") {
		t.Fatalf("Wait error = %v, want panic", err)
	}
	exits := log.all()
	if len(exits) != 1 || exits[0].Name != "panics" || !exits[0].Panicked || exits[0].Restarting {
		t.Fatalf("exits = %+v", exits)
	}
}

func TestGoCleanExitIsQuiet(t *testing.T) {
	t.Parallel()
	var log exitLog
	s := NewSupervisor(context.Background(), WithExitHook(log.hook))
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("cancelled", func(ctx context.Context) error { return context.Canceled })
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error = %v, want nil", err)
	}
	if n := len(log.all()); n != 0 {
		t.Fatalf("exit hook called %d times, want 0", n)
	}
}

func TestGoRestartUntilClean(t *testing.T) {
	t.Parallel()
	var log exitLog
	s := NewSupervisor(context.Background(), WithExitHook(log.hook))
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	if err == nil || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("Wait error = %v, want published first error", err)
	}
	exits := log.all()
	if len(exits) != 2 || !exits[0].Restarting || !exits[1].Restarting {
		t.Fatalf("exits = %+v, want two restarting failures", exits)
	}
}

func TestGoRestartMaxRestarts(t *testing.T) {
	t.Parallel()
	var log exitLog
	s := NewSupervisor(context.Background(), WithExitHook(log.hook))
	var runs atomic.Int32
	s.GoRestart0("dies", func(ctx context.Context) {
		runs.Add(1)
		panic("again")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error = %v, want nil without WithPublishFirstError", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	exits := log.all()
	if last := exits[len(exits)-1]; last.Restarting || !last.Panicked {
		t.Fatalf("last exit = %+v, want a final panic", last)
	}
}

func TestGoRestartCleanExitRestartsWhenAsked(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart0("poll", func(ctx context.Context) {
		if runs.Add(1) == 3 {
			s.Cancel()
		}
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithStopOnCleanExit(false))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var exited atomic.Bool
	s.GoRestart0("loop", func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	}, WithStopOnCleanExit(false))
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !exited.Load() {
		t.Fatal("goroutine did not observe cancellation")
	}
}
