package scheduler

import (
	"context"
	"sync"
	"time"

	"phrasebot/internal/storage"
	"phrasebot/internal/task/engine"
	logx "phrasebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	DefaultMisfireGrace = time.Hour
	DefaultTaskTimeout  = 10 * time.Minute
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
	// MisfireGrace is how late a fire may run before it is dropped.
	MisfireGrace time.Duration
	// TaskTimeout bounds one publish cycle.
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = DefaultMisfireGrace
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}

// Fire runs one publish cycle for sourceID.
type Fire func(ctx context.Context, sourceID string) error

// Enqueuer accepts trigger bodies for execution. *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type triggerDef struct {
	id       string
	sourceID string
	at       string // HH:MM
	hour     int
	minute   int
	entryID  cron.EntryID
}

type Registry struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	store storage.ScheduleStore
	exec  Enqueuer
	fire  Fire
	now   func() time.Time

	parser cron.Parser
	c      *cron.Cron

	// triggers by source id, sorted by time of day
	defs   map[string][]*triggerDef
	states map[string]*engine.RunState

	// Enqueue error throttling: key is source id.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type TriggerInfo struct {
	ID       string
	SourceID string
	Time     string
	Next     time.Time
}

type Snapshot struct {
	Enabled      bool
	Running      bool
	Timezone     string
	MisfireGrace time.Duration
	Triggers     []TriggerInfo
}
