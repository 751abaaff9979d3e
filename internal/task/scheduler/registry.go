package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/metrics"
	"phrasebot/internal/storage"
	"phrasebot/internal/task/engine"
	logx "phrasebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

func New(cfg Config, store storage.ScheduleStore, exec Enqueuer, fire Fire, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:   log.With(logx.String("comp", "scheduler")),
		cfg:   cfg.withDefaults(),
		store: store,
		exec:  exec,
		fire:  fire,
		now:   time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:        map[string][]*triggerDef{},
		states:      map[string]*engine.RunState{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// TriggerID is the deterministic id of the trigger firing sourceID at HH:MM.
func TriggerID(sourceID, at string) string {
	return "publish:" + sourceID + "@" + at
}

func taskName(sourceID string) string { return "publish:" + sourceID }

// Install replaces every trigger of sourceID with one daily trigger per
// distinct time and persists the schedule. Nothing changes when any time is
// invalid or the schedule cannot be saved.
func (r *Registry) Install(ctx context.Context, sourceID string, times []string) error {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return errors.New("source id is required")
	}
	norm, err := domain.NormalizeTimes(times)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.store.SaveSchedule(ctx, domain.Schedule{
		SourceID:  sourceID,
		Times:     norm,
		Active:    true,
		UpdatedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", sourceID, err)
	}
	r.installLocked(sourceID, norm)
	r.log.Info("schedule installed", logx.String("source", sourceID), logx.Strings("times", norm))
	return nil
}

// Remove drops every trigger of sourceID and its persisted schedule. Removing
// an unknown source is a no-op.
func (r *Registry) Remove(ctx context.Context, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.removeLocked(sourceID)
	if err := r.store.DeleteSchedule(ctx, sourceID); err != nil {
		return fmt.Errorf("delete schedule %s: %w", sourceID, err)
	}
	if removed > 0 {
		r.log.Info("schedule removed", logx.String("source", sourceID), logx.Int("triggers", removed))
	}
	return nil
}

// ActiveCount reports the number of installed triggers.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

// Triggers lists the triggers of sourceID ordered by time of day. An empty
// sourceID lists every trigger.
func (r *Registry) Triggers(sourceID string) []TriggerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggersLocked(sourceID)
}

// Now reports the current time in the registry time zone.
func (r *Registry) Now() time.Time {
	r.mu.Lock()
	loc := r.loc
	if loc == nil {
		loc = r.loadLocationLocked()
	}
	r.mu.Unlock()
	return r.now().In(loc)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc := r.loc
	if loc == nil {
		loc = r.loadLocationLocked()
	}
	return Snapshot{
		Enabled:      r.cfg.Enabled,
		Running:      r.c != nil,
		Timezone:     loc.String(),
		MisfireGrace: r.cfg.MisfireGrace,
		Triggers:     r.triggersLocked(""),
	}
}

// Restore installs every persisted active schedule without saving it again,
// then runs at most one catch-up fire per source for a trigger that was
// missed within the grace window. Only times after both the schedule's
// install time and its last fire count as missed. Schedules that no longer
// validate are skipped.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	list, err := r.store.ListSchedules(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	type catchUp struct {
		sourceID  string
		scheduled time.Time
	}
	var pending []catchUp

	r.mu.Lock()
	loc := r.loc
	if loc == nil {
		loc = r.loadLocationLocked()
	}
	grace := r.cfg.MisfireGrace
	now := r.now().In(loc)
	restored := 0
	for _, sc := range list {
		norm, err := domain.NormalizeTimes(sc.Times)
		if err != nil {
			r.log.Warn("skipping invalid persisted schedule", logx.String("source", sc.SourceID), logx.Err(err))
			continue
		}
		r.installLocked(sc.SourceID, norm)
		restored++

		var latest time.Time
		for _, at := range norm {
			h, m, _ := domain.ParseTimeOfDay(at)
			prev := lastOccurrence(now, h, m, loc)
			if now.Sub(prev) > grace || !prev.After(sc.LastFiredAt) || !prev.After(sc.UpdatedAt) {
				continue
			}
			if prev.After(latest) {
				latest = prev
			}
		}
		if !latest.IsZero() {
			pending = append(pending, catchUp{sourceID: sc.SourceID, scheduled: latest})
		}
	}
	r.mu.Unlock()

	for _, p := range pending {
		r.log.Info("catching up missed trigger",
			logx.String("source", p.sourceID), logx.Time("scheduled", p.scheduled))
		r.enqueueFire(p.sourceID, p.scheduled)
	}
	r.log.Info("schedules restored", logx.Int("sources", restored), logx.Int("catch_up", len(pending)))
	return restored, nil
}

func (r *Registry) installLocked(sourceID string, times []string) {
	r.removeLocked(sourceID)
	defs := make([]*triggerDef, 0, len(times))
	for _, at := range times {
		h, m, _ := domain.ParseTimeOfDay(at)
		d := &triggerDef{id: TriggerID(sourceID, at), sourceID: sourceID, at: at, hour: h, minute: m}
		if r.c != nil {
			if err := r.addCronLocked(d); err != nil {
				r.log.Error("trigger register failed", logx.String("id", d.id), logx.Err(err))
			}
		}
		defs = append(defs, d)
	}
	r.defs[sourceID] = defs
	metrics.SetActiveTriggers(r.countLocked())
}

func (r *Registry) removeLocked(sourceID string) int {
	defs, ok := r.defs[sourceID]
	if !ok {
		return 0
	}
	if r.c != nil {
		for _, d := range defs {
			if d.entryID != 0 {
				r.c.Remove(d.entryID)
			}
		}
	}
	delete(r.defs, sourceID)
	metrics.SetActiveTriggers(r.countLocked())
	return len(defs)
}

func (r *Registry) countLocked() int {
	n := 0
	for _, defs := range r.defs {
		n += len(defs)
	}
	return n
}

func (r *Registry) triggersLocked(sourceID string) []TriggerInfo {
	var out []TriggerInfo
	for src, defs := range r.defs {
		if sourceID != "" && src != sourceID {
			continue
		}
		for _, d := range defs {
			it := TriggerInfo{ID: d.id, SourceID: d.sourceID, Time: d.at}
			if r.c != nil && d.entryID != 0 {
				it.Next = r.c.Entry(d.entryID).Next
			}
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func (r *Registry) stateFor(sourceID string) *engine.RunState {
	r.enqMu.Lock()
	defer r.enqMu.Unlock()
	st := r.states[sourceID]
	if st == nil {
		st = &engine.RunState{}
		r.states[sourceID] = st
	}
	return st
}

// lastOccurrence returns the most recent HH:MM in loc not after now.
func lastOccurrence(now time.Time, hour, minute int, loc *time.Location) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if t.After(now) {
		t = time.Date(now.Year(), now.Month(), now.Day()-1, hour, minute, 0, 0, loc)
	}
	return t
}
