package config

// Config is the on-disk configuration (JSON or YAML).
//
// Duration fields are Go duration strings ("500ms", "20s", "1h") and are
// parsed with ParseDurationField where they are consumed.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Publish    PublishConfig    `json:"publish"`
	Notifier   NotifierConfig   `json:"notifier"`
	Generator  GeneratorConfig  `json:"generator"`
	HTTP       HTTPConfig       `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AdminChatID receives exhaustion and failure notices.
	// Defaults to the first owner.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`
	// GroupLog is the chat id ("-100...") receiving forwarded warn+ log lines.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// AdminChat returns the chat that receives admin notifications.
func (t TelegramConfig) AdminChat() int64 {
	if t.AdminChatID != 0 {
		return t.AdminChatID
	}
	if len(t.OwnerUserIDs) > 0 {
		return t.OwnerUserIDs[0]
	}
	return 0
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the store driver.
//
//	"storage": { "driver": "sqlite", "path": "./data/phrasebot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

// SchedulerConfig controls the trigger clock.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
	// MisfireGrace bounds how late a fire may run. Default "1h".
	MisfireGrace string `json:"misfire_grace,omitempty"`
}

// TaskEngineConfig controls the worker pool running trigger bodies.
//
// Defaults when zero: workers 2, queue_size 64, default_timeout "0s"
// (disabled), max_queue_delay "0s" (disabled), history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// PublishConfig tunes one publish cycle.
type PublishConfig struct {
	SendTimeout     string `json:"send_timeout,omitempty"` // default "20s"
	Throttle        string `json:"throttle,omitempty"`     // default "1s"
	NotifyOnFailure bool   `json:"notify_on_failure,omitempty"`
}

// NotifierConfig controls admin notifications.
type NotifierConfig struct {
	Enabled     bool `json:"enabled"`
	QueueSize   int  `json:"queue_size,omitempty"`
	RatePerSec  int  `json:"rate_per_sec,omitempty"`
	HistorySize int  `json:"history_size,omitempty"`
}

// GeneratorConfig points at an OpenAI-compatible chat completions API.
type GeneratorConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Timeout  string `json:"timeout,omitempty"` // default "20s"
	Fallback string `json:"fallback,omitempty"`
}

// HTTPConfig enables the health/metrics listener when Addr is set.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
	// Pprof mounts /debug/pprof on the same listener. Keep addr on
	// localhost when enabling it.
	Pprof bool `json:"pprof,omitempty"`
}
