package notifier

import "time"

// Config controls the admin notice queue.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	SendTimeout time.Duration
	// DedupWindow suppresses a repeated Notice.Key for this long. 0 disables it.
	DedupWindow time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelAlert
)

func (l Level) prefix() string {
	switch l {
	case LevelAlert:
		return "🚨 "
	case LevelWarn:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}

// Notice is one HTML message for the admin chat. Key identifies repeats for
// dedup; an empty Key uses the text.
type Notice struct {
	Level Level
	Text  string
	Key   string
}

func (n Notice) dedupKey() string {
	if n.Key != "" {
		return n.Key
	}
	return n.Text
}

type HistoryItem struct {
	At    time.Time
	Level Level
	Text  string
	Error string
}
