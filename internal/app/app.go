package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"phrasebot/internal/bot"
	"phrasebot/internal/config"
	"phrasebot/internal/generate"
	"phrasebot/internal/httpapi"
	"phrasebot/internal/metrics"
	"phrasebot/internal/notifier"
	"phrasebot/internal/publish"
	rtsup "phrasebot/internal/runtime/supervisor"
	"phrasebot/internal/storage"
	"phrasebot/internal/task/engine"
	"phrasebot/internal/task/scheduler"
	kit "phrasebot/internal/transport"
	telegram "phrasebot/internal/transport/telegram/adapter"
	logx "phrasebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter

	engine   *engine.Service
	registry *scheduler.Registry
	notif    *notifier.Service
	coord    *publish.Coordinator
	gen      *generate.Generator
	http     *httpapi.Server

	router *bot.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies the config right away; enable the Telegram sink only
	// after the target is set so it does not warn about a missing chat.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	setLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := build(cfg, log, store, ad)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// build wires the services around an opened store and adapter.
func build(cfg *config.Config, log logx.Logger, store storage.Store, ad kit.Adapter) (*App, error) {
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")))
	engineSvc.SetObserver(func(it engine.HistoryItem) {
		if it.Error != "" {
			metrics.ObserveTask(errors.New(it.Error))
			return
		}
		metrics.ObserveTask(nil)
	})

	notifSvc := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")))
	notifSvc.SetAdminTarget(kit.ChatTarget{ChatID: cfg.Telegram.AdminChat()})

	pubCfg, err := mapPublishConfig(cfg)
	if err != nil {
		return nil, err
	}
	coord := publish.New(pubCfg, publish.Deps{
		Phrases:  store,
		Channels: store,
		Audit:    store,
		Sender:   kit.ChannelSender{Adapter: ad, Timeout: pubCfg.SendTimeout},
		Notifier: notifSvc,
	}, log.With(logx.String("comp", "publish")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	registry := scheduler.New(schedCfg, store, engineSvc, coord.Fire, log.With(logx.String("comp", "scheduler")))
	coord.SetRemover(registry)

	genCfg, err := mapGeneratorConfig(cfg)
	if err != nil {
		return nil, err
	}
	gen := generate.New(genCfg, log.With(logx.String("comp", "generator")))

	b := bot.New(bot.Deps{
		Store:     store,
		Schedules: registry,
		Publisher: coord,
		Generator: gen,
		Engine:    engineSvc,
		Notifier:  notifSvc,
	}, log)
	router := bot.NewRouter(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)
	router.SetRegistry(b.Commands(), b.Callbacks())
	router.SetInputHandler(b.HandleInput)

	httpSrv := httpapi.New(log.With(logx.String("comp", "http")), prometheus.DefaultGatherer, storeHealth(store))

	return &App{
		log:      log,
		store:    store,
		adapter:  ad,
		engine:   engineSvc,
		registry: registry,
		notif:    notifSvc,
		coord:    coord,
		gen:      gen,
		http:     httpSrv,
		router:   router,
		updates:  make(chan kit.Update, 256),
	}, nil
}

func storeHealth(store storage.Store) httpapi.HealthFunc {
	return func(ctx context.Context) error {
		_, err := store.ListSchedules(ctx, true)
		return err
	}
}

func setLogTarget(svc *logx.Service, cfg *config.Config) {
	g := strings.TrimSpace(cfg.Telegram.GroupLog)
	if g == "" {
		svc.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(g, 10, 64); err == nil {
		svc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func observeExit(ex rtsup.Exit) { metrics.ObserveGoroutineFailure(ex.Name, ex.Panicked) }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithExitHook(observeExit),
	)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			if _, err := mapTaskEngineConfig(cfg); err != nil {
				return err
			}
			if _, err := mapSchedulerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapPublishConfig(cfg); err != nil {
				return err
			}
			_, err := mapGeneratorConfig(cfg)
			return err
		})
	}

	if err := a.startPipeline(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("bot.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.UpdateMenu(mctx); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	if a.cfgm != nil {
		hc := a.cfgm.Get().HTTP
		a.http.SetProfiling(hc.Pprof)
		a.http.Apply(a.sup.Context(), hc.Addr)
		a.startReload()
	}

	a.log.Info("app started")
	return nil
}

// startPipeline brings up the notifier, the engine and the registry, then
// restores persisted schedules. Catch-up cycles queued by Restore may alert
// the admin, so the notifier runs first.
func (a *App) startPipeline(ctx context.Context) error {
	if a.notif.Enabled() {
		a.notif.Start(ctx)
	}
	if a.engine.Enabled() {
		a.engine.Start(ctx)
	}
	if a.registry.Enabled() {
		a.registry.Start(ctx)
	}
	n, err := a.registry.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	a.log.Info("schedules restored", logx.Int("sources", n))
	return nil
}
