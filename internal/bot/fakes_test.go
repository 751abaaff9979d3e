package bot

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/publish"
	"phrasebot/internal/storage"
	"phrasebot/internal/task/scheduler"
	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"
)

type sentMsg struct {
	To     kit.ChatTarget
	Text   string
	Markup any
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	answered []string
	notify   chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{notify: make(chan struct{}, 64)}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m := sentMsg{To: to, Text: text}
	if opt != nil {
		m.Markup = opt.ReplyMarkupAdapter
	}
	a.mu.Lock()
	a.sent = append(a.sent, m)
	a.mu.Unlock()
	a.signal()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	a.answered = append(a.answered, text)
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *fakeAdapter) signal() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *fakeAdapter) last() sentMsg {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return sentMsg{}
	}
	return a.sent[len(a.sent)-1]
}

func (a *fakeAdapter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the adapter")
	}
}

type fakeSchedules struct {
	mu      sync.Mutex
	times   map[string][]string
	removed []string
	now     time.Time
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{
		times: map[string][]string{},
		now:   time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func (s *fakeSchedules) Install(_ context.Context, id string, times []string) error {
	norm, err := domain.NormalizeTimes(times)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.times[id] = norm
	s.mu.Unlock()
	return nil
}

func (s *fakeSchedules) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.times, id)
	s.removed = append(s.removed, id)
	s.mu.Unlock()
	return nil
}

func (s *fakeSchedules) Triggers(id string) []scheduler.TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduler.TriggerInfo
	for src, times := range s.times {
		if id != "" && src != id {
			continue
		}
		for _, at := range times {
			out = append(out, scheduler.TriggerInfo{ID: scheduler.TriggerID(src, at), SourceID: src, Time: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeSchedules) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Enabled: true, Running: true, Timezone: "UTC", Triggers: s.Triggers("")}
}

func (s *fakeSchedules) Now() time.Time { return s.now }

type fakePublisher struct {
	mu     sync.Mutex
	cycles []string
	texts  []string
}

func (p *fakePublisher) RunCycle(_ context.Context, id string) (publish.Result, error) {
	p.mu.Lock()
	p.cycles = append(p.cycles, id)
	p.mu.Unlock()
	return publish.Result{SourceID: id, Phrase: "hello", Attempted: 2, Delivered: 1, Failed: 1, Failures: map[string]string{"@b_channel": "forbidden"}}, nil
}

func (p *fakePublisher) PublishText(_ context.Context, id, text string) (publish.Result, error) {
	p.mu.Lock()
	p.texts = append(p.texts, id+"|"+text)
	p.mu.Unlock()
	return publish.Result{SourceID: id, Phrase: text, Attempted: 1, Delivered: 1}, nil
}

type fakeGenerator struct{ fallback bool }

func (g fakeGenerator) Phrase(context.Context) (string, bool) { return "generated line", g.fallback }

type testEnv struct {
	bot       *Bot
	store     storage.Store
	schedules *fakeSchedules
	publisher *fakePublisher
	adapter   *fakeAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{
		store:     st,
		schedules: newFakeSchedules(),
		publisher: &fakePublisher{},
		adapter:   newFakeAdapter(),
	}
	env.bot = New(Deps{
		Store:     st,
		Schedules: env.schedules,
		Publisher: env.publisher,
		Generator: fakeGenerator{},
	}, logx.Nop())
	return env
}

var testAdmin = domain.Admin{UserID: 42, Username: "owner"}

// call runs a command handler the way the router would, middleware included.
func (e *testEnv) call(t *testing.T, text string) (string, error) {
	t.Helper()
	word, args, body := splitCommand(text)
	var cmd Command
	for _, c := range e.bot.Commands() {
		if c.Name == word {
			cmd = c
		}
	}
	if cmd.Handle == nil {
		t.Fatalf("no command %q", word)
	}
	req := &Request{
		Update:  kit.Update{Kind: kit.UpdateMessage},
		Message: &kit.Message{ChatID: 7, FromID: testAdmin.UserID, Text: text},
		Chat:    kit.ChatTarget{ChatID: 7},
		Admin:   testAdmin,
		Command: cmd.Name,
		Args:    args,
		Body:    body,
		Adapter: e.adapter,
		Logger:  logx.Nop(),
	}
	err := Chain(cmd.Handle, MWRequestLog(logx.Nop()))(context.Background(), req)
	return e.adapter.last().Text, err
}

func mustContain(t *testing.T, got string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(got, p) {
			t.Fatalf("reply %q does not contain %q", got, p)
		}
	}
}
