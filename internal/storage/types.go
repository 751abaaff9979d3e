package storage

import (
	"context"
	"time"

	"phrasebot/internal/domain"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (cgo-free driver)
//   - "postgres": PostgreSQL reachable at DSN (pgx pool)
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means default
}

// Store is the phrase store plus the channel, schedule and audit tables.
//
// Driver failures are returned as *domain.StorageError. Lookups of unknown
// rows return the domain sentinels (ErrSourceNotFound, ErrChannelNotFound).
type Store interface {
	PhraseStore
	ChannelStore
	ScheduleStore
	AuditLog
	Close() error
}

type PhraseStore interface {
	// IngestSource replaces the phrase list of id and resets its cursor to 0.
	IngestSource(ctx context.Context, id, name string, phrases []string) (int, error)
	// NextPhrase atomically returns phrases[cursor] and advances the cursor.
	// ok is false when the source is exhausted or unknown.
	NextPhrase(ctx context.Context, id string) (phrase string, ok bool, err error)
	ResetSource(ctx context.Context, id string) error
	// DeleteSource removes the source and its schedule row.
	DeleteSource(ctx context.Context, id string) error
	GetSource(ctx context.Context, id string) (domain.PhraseSource, error)
	ListSources(ctx context.Context) ([]domain.SourceInfo, error)
	RemainingCount(ctx context.Context, id string) (int, error)
}

type ChannelStore interface {
	AddChannel(ctx context.Context, ch domain.Channel) error
	RemoveChannel(ctx context.Context, id string) error
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s domain.Schedule) error
	DeleteSchedule(ctx context.Context, sourceID string) error
	ListSchedules(ctx context.Context, activeOnly bool) ([]domain.Schedule, error)
	MarkScheduleFired(ctx context.Context, sourceID string, at time.Time) error
}

type AuditLog interface {
	RecordPublish(ctx context.Context, r domain.PublishRecord) error
	RecentPublishes(ctx context.Context, limit int) ([]domain.PublishRecord, error)
}
