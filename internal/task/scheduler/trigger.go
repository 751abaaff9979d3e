package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"phrasebot/internal/task/engine"
	logx "phrasebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// addCronLocked registers d with the running cron. Call with r.mu held.
func (r *Registry) addCronLocked(d *triggerDef) error {
	loc := r.loc
	spec := fmt.Sprintf("%d %d * * *", d.minute, d.hour)
	sourceID, hour, minute := d.sourceID, d.hour, d.minute
	id, err := r.c.AddJob(spec, cron.FuncJob(func() {
		r.enqueueFire(sourceID, lastOccurrence(r.now(), hour, minute, loc))
	}))
	if err != nil {
		return err
	}
	d.entryID = id
	if r.log.Enabled(logx.LevelDebug) {
		r.log.Debug("trigger registered", logx.String("id", d.id), logx.Time("next", r.c.Entry(id).Next))
	}
	return nil
}

// enqueueFire hands one fire of sourceID to the engine. Fires for the same
// source never overlap.
func (r *Registry) enqueueFire(sourceID string, scheduled time.Time) {
	r.mu.Lock()
	timeout := r.cfg.TaskTimeout
	r.mu.Unlock()

	err := r.exec.Enqueue(engine.Task{
		Name:    taskName(sourceID),
		Timeout: timeout,
		Run:     r.runFire(sourceID, scheduled),
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning, RetryMax: -1},
		State:   r.stateFor(sourceID),
	})
	r.reportEnqueueError(sourceID, err)
}

// runFire builds the task body. A fire that starts later than the misfire
// grace after its scheduled instant is dropped.
func (r *Registry) runFire(sourceID string, scheduled time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		r.mu.Lock()
		grace := r.cfg.MisfireGrace
		r.mu.Unlock()

		if late := r.now().Sub(scheduled); late > grace {
			r.log.Warn("trigger misfired; skipping",
				logx.String("source", sourceID), logx.Time("scheduled", scheduled), logx.Duration("late", late))
			return nil
		}
		if err := r.store.MarkScheduleFired(ctx, sourceID, scheduled); err != nil {
			r.log.Warn("failed to persist fire time", logx.String("source", sourceID), logx.Err(err))
		}
		return r.fire(ctx, sourceID)
	}
}

func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Enabled
}

// Start starts cron triggering for every installed trigger. It is a no-op
// while the registry is disabled.
func (r *Registry) Start(ctx context.Context) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil || !r.cfg.Enabled {
		r.log.Debug("start skipped", logx.Bool("enabled", r.cfg.Enabled), logx.Bool("running", r.c != nil))
		return
	}
	r.startLocked()
	r.log.Info("service started", logx.String("tz", r.loc.String()), logx.Int("triggers", r.countLocked()))
}

func (r *Registry) startLocked() {
	r.loc = r.loadLocationLocked()
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	for _, defs := range r.defs {
		for _, d := range defs {
			if err := r.addCronLocked(d); err != nil {
				r.log.Error("trigger register failed", logx.String("id", d.id), logx.Err(err))
			}
		}
	}
	r.c.Start()
}

// Stop stops cron triggering. Installed triggers are kept and re-armed by the
// next Start.
func (r *Registry) Stop(ctx context.Context) {
	start := time.Now()
	r.mu.Lock()
	c := r.c
	r.c = nil
	for _, defs := range r.defs {
		for _, d := range defs {
			d.entryID = 0
		}
	}
	r.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	r.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the config. A time zone change rebuilds cron; toggling
// Enabled starts or stops it.
func (r *Registry) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	r.mu.Lock()
	oldTZ := strings.TrimSpace(r.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	r.cfg = cfg
	running := r.c != nil
	if !running {
		r.loc = nil
	}
	r.mu.Unlock()

	switch {
	case running && cfg.Enabled && oldTZ != newTZ:
		r.restart(ctx)
	case cfg.Enabled && !running:
		r.Start(ctx)
	case !cfg.Enabled && running:
		r.Stop(ctx)
	}
}

// restart rebuilds cron in the current time zone. The old cron is stopped
// without r.mu held because its running jobs take r.mu.
func (r *Registry) restart(ctx context.Context) {
	r.mu.Lock()
	old := r.c
	r.c = nil
	for _, defs := range r.defs {
		for _, d := range defs {
			d.entryID = 0
		}
	}
	r.mu.Unlock()

	if old != nil {
		select {
		case <-old.Stop().Done():
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil || !r.cfg.Enabled {
		return
	}
	r.startLocked()
	r.log.Info("service restarted", logx.String("tz", r.loc.String()), logx.Int("triggers", r.countLocked()))
}

func (r *Registry) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
