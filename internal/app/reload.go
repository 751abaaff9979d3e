package app

import (
	"context"
	"strings"
	"time"

	"phrasebot/internal/config"
	"phrasebot/internal/notifier"
	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"
)

// startReload watches the config file and applies each committed version to
// the running services.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			next, ok := latest(c, sub)
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(applied, next)
			a.apply(c, applied, next)
			applied = next

			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

// latest blocks for the next config and then drains anything queued behind
// it, so a burst of edits is applied once.
func latest(ctx context.Context, sub <-chan *config.Config) (*config.Config, bool) {
	var cfg *config.Config
	select {
	case <-ctx.Done():
		return nil, false
	case c, ok := <-sub:
		if !ok {
			return nil, false
		}
		cfg = c
	}
	for {
		select {
		case c, ok := <-sub:
			if ok && c != nil {
				cfg = c
				continue
			}
		default:
		}
		return cfg, cfg != nil
	}
}

func (a *App) apply(c context.Context, old, cfg *config.Config) {
	if old != nil && old.Storage != cfg.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if old != nil && old.Telegram.Token != cfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	setLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogConfig(cfg))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.notif.SetAdminTarget(kit.ChatTarget{ChatID: cfg.Telegram.AdminChat()})

	a.applyScheduling(c, cfg)

	if pc, err := mapPublishConfig(cfg); err != nil {
		a.log.Warn("invalid publish config; keeping previous", logx.Err(err))
	} else {
		a.coord.Apply(pc)
	}
	a.applyNotifier(c, mapNotifierConfig(cfg))
	if gc, err := mapGeneratorConfig(cfg); err != nil {
		a.log.Warn("invalid generator config; keeping previous", logx.Err(err))
	} else {
		a.gen.Apply(gc)
	}

	a.http.SetProfiling(cfg.HTTP.Pprof)
	a.http.Apply(c, cfg.HTTP.Addr)
}

// applyScheduling updates the engine and the trigger registry. Both start
// and stop themselves when Enabled flips; the engine comes up before the
// registry and goes down after it.
func (a *App) applyScheduling(c context.Context, cfg *config.Config) {
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		return
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}

	was := a.registry.Enabled()
	if schedCfg.Enabled {
		a.engine.Apply(c, engCfg)
		a.registry.Apply(c, schedCfg)
	} else {
		a.registry.Apply(c, schedCfg)
		a.engine.Apply(c, engCfg)
	}
	if was != schedCfg.Enabled {
		a.log.Info("scheduling toggled via config", logx.Bool("enabled", schedCfg.Enabled))
	}
}

func (a *App) applyNotifier(c context.Context, ncfg notifier.Config) {
	was := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case was && !ncfg.Enabled:
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		defer cancel()
		a.notif.Stop(stopCtx)
	case !was && ncfg.Enabled:
		a.notif.Start(c)
	default:
		return
	}
	a.log.Info("notifier toggled via config", logx.Bool("enabled", ncfg.Enabled))
}
