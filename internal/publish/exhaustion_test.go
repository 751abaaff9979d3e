package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/task/engine"
	"phrasebot/internal/task/scheduler"
	logx "phrasebot/pkg/logx"
)

type memSchedules struct {
	mu sync.Mutex
	m  map[string]domain.Schedule
}

func (s *memSchedules) SaveSchedule(_ context.Context, sc domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sc.SourceID] = sc
	return nil
}

func (s *memSchedules) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *memSchedules) ListSchedules(context.Context, bool) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Schedule, 0, len(s.m))
	for _, sc := range s.m {
		out = append(out, sc)
	}
	return out, nil
}

func (s *memSchedules) MarkScheduleFired(context.Context, string, time.Time) error { return nil }

type discardTasks struct{}

func (discardTasks) Enqueue(engine.Task) error { return nil }

func TestExhaustionStopsSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{}, []string{"only"}, "@a_chan")
	st := &memSchedules{m: map[string]domain.Schedule{}}
	reg := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, st, discardTasks{}, h.c.Fire, logx.Nop())
	h.c.SetRemover(reg)

	ctx := context.Background()
	if err := reg.Install(ctx, "src", []string{"09:00", "18:00"}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := h.c.Fire(ctx, "src"); err != nil {
		t.Fatalf("first fire: %v", err)
	}
	if len(h.sender.sent) != 1 || reg.ActiveCount() != 2 {
		t.Fatalf("after first fire: sent %v, active %d", h.sender.sent, reg.ActiveCount())
	}

	if err := h.c.Fire(ctx, "src"); err != nil {
		t.Fatalf("second fire: %v", err)
	}
	if got := reg.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0 after exhaustion", got)
	}
	if len(reg.Triggers("src")) != 0 {
		t.Fatal("exhausted source still has triggers")
	}
	if _, ok := st.m["src"]; ok {
		t.Fatal("exhausted source schedule still persisted")
	}
	if len(h.notifier.texts) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.texts))
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sends = %v, want only the first fire", h.sender.sent)
	}
}
