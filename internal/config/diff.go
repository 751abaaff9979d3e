package config

import (
	"reflect"
	"sort"
	"strings"

	logx "phrasebot/pkg/logx"
)

// SummarizeConfigChange returns the names of changed sections and safe log
// fields describing the new values. Secrets (token, dsn, api key) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)
	section := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		ot.Token != nt.Token || ot.AdminChatID != nt.AdminChatID ||
			!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
			strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
			strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout),
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
	)

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	oldS, newS := oldCfg.Storage, newCfg.Storage
	section("storage", !reflect.DeepEqual(oldS, newS),
		logx.String("storage.driver", newS.Driver),
		logx.Bool("storage.dsn_set", newS.DSN != ""),
	)

	section("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		logx.String("scheduler.misfire_grace", newCfg.Scheduler.MisfireGrace),
	)

	section("task_engine", !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine),
		logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
		logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
	)

	section("publish", !reflect.DeepEqual(oldCfg.Publish, newCfg.Publish),
		logx.String("publish.send_timeout", newCfg.Publish.SendTimeout),
		logx.String("publish.throttle", newCfg.Publish.Throttle),
		logx.Bool("publish.notify_on_failure", newCfg.Publish.NotifyOnFailure),
	)

	section("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
		logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
	)

	og, ng := oldCfg.Generator, newCfg.Generator
	section("generator", !reflect.DeepEqual(og, ng),
		logx.Bool("generator.enabled", ng.Enabled),
		logx.String("generator.model", ng.Model),
		logx.Bool("generator.api_key_set", ng.APIKey != ""),
	)

	section("http", oldCfg.HTTP != newCfg.HTTP, logx.String("http.addr", newCfg.HTTP.Addr))

	sort.Strings(changed)
	return changed, attrs
}
