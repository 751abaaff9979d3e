package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: debug
storage:
  driver: sqlite
  path: ./data/bot.db
scheduler:
  enabled: true
  timezone: UTC
  misfire_grace: 30m
publish:
  throttle: 2s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	fromYAML, err := Decode("c.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode(yaml) error: %v", err)
	}
	js := `{"telegram":{"token":"123:abc","owner_user_ids":[42]},"logging":{"level":"debug"},
	"storage":{"driver":"sqlite","path":"./data/bot.db"},
	"scheduler":{"enabled":true,"timezone":"UTC","misfire_grace":"30m"},"publish":{"throttle":"2s"}}`
	fromJSON, err := Decode("c.json", []byte(js))
	if err != nil {
		t.Fatalf("Decode(json) error: %v", err)
	}
	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Fatalf("yaml and json disagree (-json +yaml):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown json key", file: "c.json", body: `{"plugins":{}}`},
		{name: "unknown yaml key", file: "c.yml", body: "scheduler:\n  workers: 3\n"},
		{name: "trailing data", file: "c.json", body: `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.body)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		cfg, err := Decode("c.yaml", []byte(validYAML))
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("Validate(valid) error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "token", mutate: func(c *Config) { c.Telegram.Token = "" }, want: "telegram.token"},
		{name: "owners", mutate: func(c *Config) { c.Telegram.OwnerUserIDs = nil }, want: "owner_user_ids"},
		{name: "timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: "scheduler.timezone"},
		{name: "duration", mutate: func(c *Config) { c.Publish.SendTimeout = "soon" }, want: "publish.send_timeout"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "storage.driver"},
		{name: "dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.dsn"},
		{name: "level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "group log", mutate: func(c *Config) { c.Telegram.GroupLog = "@logs" }, want: "group_log"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "file", OwnerUserIDs: []int64{1}}}
	applyOverrides(cfg, envOverrides{TelegramToken: "env", AdminID: 7, StorageDSN: "postgres://x"})

	if cfg.Telegram.Token != "env" {
		t.Fatalf("Token = %q, want env", cfg.Telegram.Token)
	}
	if diff := cmp.Diff([]int64{1, 7}, cfg.Telegram.OwnerUserIDs); diff != "" {
		t.Fatalf("owners mismatch (-want +got):\n%s", diff)
	}
	if cfg.Telegram.AdminChat() != 7 {
		t.Fatalf("AdminChat = %d, want 7", cfg.Telegram.AdminChat())
	}
	if cfg.Storage.DSN != "postgres://x" {
		t.Fatalf("DSN = %q", cfg.Storage.DSN)
	}

	applyOverrides(cfg, envOverrides{AdminID: 7})
	if len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("owner added twice: %v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestAdminChatDefaultsToFirstOwner(t *testing.T) {
	t.Parallel()
	tc := TelegramConfig{OwnerUserIDs: []int64{5, 6}}
	if got := tc.AdminChat(); got != 5 {
		t.Fatalf("AdminChat = %d, want 5", got)
	}
	if got := (TelegramConfig{}).AdminChat(); got != 0 {
		t.Fatalf("AdminChat(empty) = %d, want 0", got)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{raw: "", want: time.Hour},
		{raw: "0s", want: time.Hour},
		{raw: "15m", want: 15 * time.Minute},
		{raw: "-1s", err: true},
		{raw: "later", err: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Hour)
		if (err != nil) != tt.err {
			t.Fatalf("ParseDurationOrDefault(%q) error = %v, want error %v", tt.raw, err, tt.err)
		}
		if !tt.err && got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Scheduler: SchedulerConfig{Timezone: "UTC"}, Generator: GeneratorConfig{APIKey: "a"}}
	newCfg := &Config{Scheduler: SchedulerConfig{Timezone: "Europe/Berlin"}, Generator: GeneratorConfig{APIKey: "b"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"generator", "scheduler"}, changed); diff != "" {
		t.Fatalf("changed sections mismatch (-want +got):\n%s", diff)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs for changed sections")
	}
	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestManagerLoadAndPublish(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	first := &Config{HTTP: HTTPConfig{Addr: "a"}}
	second := &Config{HTTP: HTTPConfig{Addr: "b"}}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("slow subscriber got %+v, want newest config", got.HTTP)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(validYAML, "throttle: 2s", "throttle: 3s", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Publish.Throttle != "3s" {
			t.Fatalf("reloaded throttle = %q, want 3s", cfg.Publish.Throttle)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not published")
	}
	cancel()
	<-done
}
