// Package bot is the Telegram command surface: an authorizing router and the
// admin commands that manage sources, schedules and channels.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/notifier"
	"phrasebot/internal/phrase"
	"phrasebot/internal/publish"
	"phrasebot/internal/storage"
	"phrasebot/internal/task/engine"
	"phrasebot/internal/task/scheduler"
	logx "phrasebot/pkg/logx"
)

type Scheduler interface {
	Install(ctx context.Context, sourceID string, times []string) error
	Remove(ctx context.Context, sourceID string) error
	Triggers(sourceID string) []scheduler.TriggerInfo
	Snapshot() scheduler.Snapshot
	Now() time.Time
}

type Publisher interface {
	RunCycle(ctx context.Context, sourceID string) (publish.Result, error)
	PublishText(ctx context.Context, sourceID, text string) (publish.Result, error)
}

type Generator interface {
	Phrase(ctx context.Context) (text string, fallback bool)
}

type EngineStats interface {
	Snapshot() engine.Snapshot
}

type NotifierHistory interface {
	History() []notifier.HistoryItem
}

// Deps are the services behind the commands. Engine and Notifier are
// optional.
type Deps struct {
	Store     storage.Store
	Schedules Scheduler
	Publisher Publisher
	Generator Generator
	Engine    EngineStats
	Notifier  NotifierHistory
}

const pendingTTL = 10 * time.Minute

type pendingUpload struct {
	name string
	at   time.Time
}

// Bot implements the admin operations and their command handlers.
type Bot struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	pending map[int64]pendingUpload // chat id -> awaiting upload
}

func New(deps Deps, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		deps:    deps,
		log:     log.With(logx.String("comp", "bot")),
		now:     time.Now,
		pending: map[int64]pendingUpload{},
	}
}

// Ingest stores the phrases of raw under id, replacing any previous list.
func (b *Bot) Ingest(ctx context.Context, admin domain.Admin, id, name, raw string) (int, phrase.Report, error) {
	if name == "" {
		name = id
	}
	n, rep, err := storage.IngestText(ctx, b.deps.Store, id, name, raw)
	if err != nil {
		return 0, rep, err
	}
	b.log.Info("source ingested",
		logx.String("admin", admin.Label()),
		logx.String("source", id),
		logx.Int("phrases", n),
		logx.Int("fallback_lines", rep.Fallback),
		logx.Int("skipped_lines", rep.Skipped),
	)
	return n, rep, nil
}

// SetSchedule validates times and replaces the triggers of sourceID.
func (b *Bot) SetSchedule(ctx context.Context, admin domain.Admin, sourceID string, times []string) ([]scheduler.TriggerInfo, error) {
	norm, err := domain.NormalizeTimes(times)
	if err != nil {
		return nil, err
	}
	src, err := b.deps.Store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Exhausted() {
		return nil, fmt.Errorf("source %s has no phrases left; /reset %s first", sourceID, sourceID)
	}
	if err := b.deps.Schedules.Install(ctx, sourceID, norm); err != nil {
		return nil, err
	}
	b.log.Info("schedule set",
		logx.String("admin", admin.Label()),
		logx.String("source", sourceID),
		logx.Strings("times", norm),
	)
	return b.deps.Schedules.Triggers(sourceID), nil
}

// StopSchedule removes every trigger of sourceID. The source is kept.
func (b *Bot) StopSchedule(ctx context.Context, admin domain.Admin, sourceID string) error {
	if err := b.deps.Schedules.Remove(ctx, sourceID); err != nil {
		return err
	}
	b.log.Info("schedule stopped", logx.String("admin", admin.Label()), logx.String("source", sourceID))
	return nil
}

func (b *Bot) ResetSource(ctx context.Context, admin domain.Admin, sourceID string) error {
	if err := b.deps.Store.ResetSource(ctx, sourceID); err != nil {
		return err
	}
	b.log.Info("source reset", logx.String("admin", admin.Label()), logx.String("source", sourceID))
	return nil
}

// DeleteSource drops the triggers first so no fire can race the delete.
func (b *Bot) DeleteSource(ctx context.Context, admin domain.Admin, sourceID string) error {
	if _, err := b.deps.Store.GetSource(ctx, sourceID); err != nil {
		return err
	}
	if err := b.deps.Schedules.Remove(ctx, sourceID); err != nil {
		return err
	}
	if err := b.deps.Store.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	b.log.Info("source deleted", logx.String("admin", admin.Label()), logx.String("source", sourceID))
	return nil
}

// AddChannel normalizes raw and registers it. It returns the stored id.
func (b *Bot) AddChannel(ctx context.Context, admin domain.Admin, raw, name string) (string, error) {
	id, err := domain.NormalizeChannelID(raw)
	if err != nil {
		return "", err
	}
	ch := domain.Channel{ID: id, Name: name, Active: true, AddedAt: b.now()}
	if err := b.deps.Store.AddChannel(ctx, ch); err != nil {
		return "", err
	}
	b.log.Info("channel added", logx.String("admin", admin.Label()), logx.String("channel", id))
	return id, nil
}

func (b *Bot) RemoveChannel(ctx context.Context, admin domain.Admin, raw string) (string, error) {
	id, err := domain.NormalizeChannelID(raw)
	if err != nil {
		return "", err
	}
	if err := b.deps.Store.RemoveChannel(ctx, id); err != nil {
		return "", err
	}
	b.log.Info("channel removed", logx.String("admin", admin.Label()), logx.String("channel", id))
	return id, nil
}

// PublishNow runs one publish cycle for sourceID outside its schedule.
func (b *Bot) PublishNow(ctx context.Context, admin domain.Admin, sourceID string) (publish.Result, error) {
	if _, err := b.deps.Store.GetSource(ctx, sourceID); err != nil {
		return publish.Result{}, err
	}
	b.log.Info("manual publish", logx.String("admin", admin.Label()), logx.String("source", sourceID))
	return b.deps.Publisher.RunCycle(ctx, sourceID)
}

// PostGenerated generates one phrase and publishes it to every channel.
func (b *Bot) PostGenerated(ctx context.Context, admin domain.Admin) (publish.Result, bool, error) {
	if b.deps.Generator == nil {
		return publish.Result{}, false, errors.New("generator is not configured")
	}
	text, fallback := b.deps.Generator.Phrase(ctx)
	b.log.Info("manual post", logx.String("admin", admin.Label()), logx.Bool("fallback", fallback))
	res, err := b.deps.Publisher.PublishText(ctx, publish.GeneratedSourceID, text)
	return res, fallback, err
}

func (b *Bot) setPending(chatID int64, name string) {
	b.mu.Lock()
	b.pending[chatID] = pendingUpload{name: name, at: b.now()}
	b.mu.Unlock()
}

// takePending returns and clears the chat's pending upload if it has not
// expired.
func (b *Bot) takePending(chatID int64) (pendingUpload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[chatID]
	if !ok {
		return pendingUpload{}, false
	}
	delete(b.pending, chatID)
	if b.now().Sub(p.at) > pendingTTL {
		return pendingUpload{}, false
	}
	return p, true
}
