package app

import (
	"fmt"
	"strings"
	"time"

	"phrasebot/internal/config"
	"phrasebot/internal/generate"
	"phrasebot/internal/notifier"
	"phrasebot/internal/publish"
	"phrasebot/internal/storage"
	"phrasebot/internal/task/engine"
	"phrasebot/internal/task/scheduler"
	logx "phrasebot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapTaskEngineConfig runs trigger bodies. The engine is on whenever the
// scheduler is; manual publishes do not go through it.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
		// Publish cycles are at-most-once; the scheduler also disables
		// retries per task.
		RetryMax: 0,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	grace, err := config.ParseDurationOrDefault("scheduler.misfire_grace", cfg.Scheduler.MisfireGrace, scheduler.DefaultMisfireGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		Timezone:     strings.TrimSpace(cfg.Scheduler.Timezone),
		MisfireGrace: grace,
	}, nil
}

func mapPublishConfig(cfg *config.Config) (publish.Config, error) {
	send, err := config.ParseDurationOrDefault("publish.send_timeout", cfg.Publish.SendTimeout, publish.DefaultSendTimeout)
	if err != nil {
		return publish.Config{}, err
	}
	throttle := publish.DefaultThrottle
	if s := strings.TrimSpace(cfg.Publish.Throttle); s != "" {
		// "0s" is a valid way to disable throttling.
		throttle, err = config.ParseDurationField("publish.throttle", s)
		if err != nil {
			return publish.Config{}, err
		}
	}
	return publish.Config{
		SendTimeout:     send,
		Throttle:        throttle,
		NotifyOnFailure: cfg.Publish.NotifyOnFailure,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:     cfg.Notifier.Enabled,
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		HistorySize: cfg.Notifier.HistorySize,
		RetryMax:    2,
		DedupWindow: time.Minute,
	}
}

func mapGeneratorConfig(cfg *config.Config) (generate.Config, error) {
	g := cfg.Generator
	timeout, err := config.ParseDurationOrDefault("generator.timeout", g.Timeout, generate.DefaultTimeout)
	if err != nil {
		return generate.Config{}, err
	}
	// Fallback phrases are separated by "|" or newlines.
	fallback := strings.FieldsFunc(g.Fallback, func(r rune) bool { return r == '|' || r == '\n' })
	return generate.Config{
		Enabled:  g.Enabled,
		BaseURL:  strings.TrimSpace(g.BaseURL),
		APIKey:   strings.TrimSpace(g.APIKey),
		Model:    strings.TrimSpace(g.Model),
		Prompt:   g.Prompt,
		Timeout:  timeout,
		Fallback: fallback,
	}, nil
}
