package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	calls int
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("telegram down")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startService(t *testing.T, cfg Config, fs *fakeSender) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 100
	}
	s := New(cfg, fs, logx.Nop())
	s.SetAdminTarget(kit.ChatTarget{ChatID: 7})
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestNotifyAdminDelivers(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := startService(t, Config{}, fs)

	if err := s.NotifyAdmin(context.Background(), "source <b>a</b> exhausted"); err != nil {
		t.Fatalf("NotifyAdmin: %v", err)
	}
	waitFor(t, func() bool { return len(s.History()) == 1 })
	if h := s.History()[0]; h.Text != "source <b>a</b> exhausted" || h.Error != "" || h.Level != LevelWarn {
		t.Fatalf("history = %+v", h)
	}
	if sent := fs.snapshot(); !strings.HasPrefix(sent[0], "⚠️ ") {
		t.Fatalf("sent %q, want the warning prefix", sent[0])
	}
}

func TestPostStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	off := New(Config{Enabled: false}, &fakeSender{}, logx.Nop())
	off.SetAdminTarget(kit.ChatTarget{ChatID: 1})
	if err := off.Post(ctx, Notice{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v, want ErrDisabled", err)
	}

	noTarget := New(Config{Enabled: true}, &fakeSender{}, logx.Nop())
	if err := noTarget.NotifyAdmin(ctx, "x"); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("err = %v, want ErrNoTarget", err)
	}

	idle := New(Config{Enabled: true}, &fakeSender{}, logx.Nop())
	idle.SetAdminTarget(kit.ChatTarget{ChatID: 1})
	if err := idle.Post(ctx, Notice{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v, want ErrStopped", err)
	}
}

func TestRetryThenRecordFailure(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{fails: 10}
	s := startService(t, Config{RetryMax: 1, RetryBase: time.Millisecond}, fs)

	if err := s.Post(context.Background(), Notice{Level: LevelAlert, Text: "hi"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	waitFor(t, func() bool { return len(s.History()) == 1 })
	if h := s.History()[0]; h.Error == "" {
		t.Fatalf("history = %+v, want recorded error", h)
	}
	fs.mu.Lock()
	calls := fs.calls
	fs.mu.Unlock()
	if calls != 2 {
		t.Fatalf("send calls = %d, want 2", calls)
	}
}

func TestDedupByKey(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := startService(t, Config{DedupWindow: time.Minute}, fs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Post(ctx, Notice{Text: "same"}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	// Same key, different text: still a repeat.
	_ = s.Post(ctx, Notice{Text: "quotes exhausted (1)", Key: "exhausted:quotes"})
	_ = s.Post(ctx, Notice{Text: "quotes exhausted (2)", Key: "exhausted:quotes"})

	waitFor(t, func() bool { return len(fs.snapshot()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := len(fs.snapshot()); got != 2 {
		t.Fatalf("sent = %d, want 2", got)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 1000}, fs, logx.Nop())
	s.SetAdminTarget(kit.ChatTarget{ChatID: 7})
	s.Start(context.Background())
	for _, txt := range []string{"a", "b", "c"} {
		if err := s.Post(context.Background(), Notice{Level: LevelInfo, Text: txt}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	want := []string{"ℹ️ a", "ℹ️ b", "ℹ️ c"}
	got := fs.snapshot()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("sent = %q, want %q", got, want)
	}
	if err := s.Post(context.Background(), Notice{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err = %v, want ErrStopped", err)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, HistorySize: 2}, &fakeSender{}, logx.Nop())
	for _, txt := range []string{"a", "b", "c"} {
		s.record(HistoryItem{Text: txt})
	}
	h := s.History()
	if len(h) != 2 || h[0].Text != "b" || h[1].Text != "c" {
		t.Fatalf("history = %+v", h)
	}
}
