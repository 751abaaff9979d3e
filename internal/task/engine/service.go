// Package engine runs tasks on a bounded queue drained by a fixed worker
// pool. Tasks get a timeout, optional retries and panic recovery; finished
// runs land in a bounded history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "phrasebot/internal/runtime/supervisor"
	logx "phrasebot/pkg/logx"

	"golang.org/x/time/rate"
)

// pool is one Start..Stop generation of workers.
type pool struct {
	q    chan queuedTask
	stop chan struct{} // closed when Stop begins
	sup  *rtsup.Supervisor
	done chan struct{} // closed after the workers exit
}

func (p *pool) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

type Service struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	observer Observer
	pool     *pool
	states   map[string]*RunState
	history  []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int32
	full     atomic.Uint64
	stale    atomic.Uint64
	overlap  atomic.Uint64

	warnFull  rate.Sometimes
	warnStale rate.Sometimes
}

type queuedTask struct {
	task     Task
	queuedAt time.Time
	timeout  time.Duration
	opt      TaskOptions
	state    *RunState
	track    bool
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("comp", "engine")),
		states:    map[string]*RunState{},
		warnFull:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
		warnStale: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// SetObserver installs fn to be called after every task outcome.
func (s *Service) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. The pool is rebuilt when its shape changed and
// started or stopped when Enabled flips.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev, live := s.cfg, s.pool != nil
	s.cfg = cfg
	s.mu.Unlock()

	reshaped := prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize
	switch {
	case live && !cfg.Enabled:
		s.Stop(ctx)
	case live && reshaped:
		s.Stop(ctx)
		s.Start(ctx)
	case !live && cfg.Enabled:
		s.Start(ctx)
	}
}

// Start launches the workers. It is a no-op when disabled or already
// running, and waits out a Stop still in progress.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		p := s.pool
		if p == nil {
			break
		}
		s.mu.Unlock()
		if !p.stopping() {
			return
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	cfg := s.cfg
	p := &pool{
		q:    make(chan queuedTask, cfg.QueueSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		sup:  rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(s.log)),
	}
	s.pool = p
	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, p)
			switch {
			case p.stopping():
				return context.Canceled
			case c.Err() != nil:
				return c.Err()
			}
			return errors.New("worker returned while the pool is live")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop closes the pool and waits for in-flight tasks until ctx expires.
// Queued tasks that never started are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping()
	if first {
		close(p.stop)
	}
	s.mu.Unlock()

	if first {
		go func() {
			_ = p.sup.Stop(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
		if first {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue queues t without blocking; a full queue drops it with ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit queues t, waiting for room until ctx is done or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	case p.stopping():
		return ErrStopping
	}

	qt := queuedTask{
		task:     t,
		queuedAt: now,
		timeout:  cmpOr(t.Timeout, cfg.DefaultTimeout),
		opt:      t.Opt.withDefaults(cfg),
		state:    t.State,
	}
	if qt.state == nil {
		qt.state = s.stateFor(t.Name)
	}
	if qt.opt.Overlap == OverlapSkipIfRunning {
		if !qt.state.tryAcquire() {
			s.overlap.Add(1)
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
		qt.track = true
	}

	var err error
	if wait {
		select {
		case p.q <- qt:
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.stop:
			err = ErrStopping
		}
	} else {
		select {
		case p.q <- qt:
		default:
			err = ErrQueueFull
			s.dropFull(now, t, cap(p.q))
		}
	}
	if err != nil && qt.track {
		qt.state.release()
	}
	return err
}

func cmpOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Running reports whether a task with this name is queued or executing.
func (s *Service) Running(name string) bool {
	s.mu.Lock()
	st := s.states[strings.TrimSpace(name)]
	s.mu.Unlock()
	return st.Running()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:          s.cfg.Enabled,
		Workers:          s.cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.full.Load(),
		DroppedStale:     s.stale.Load(),
		SkippedOverlap:   s.overlap.Load(),
		DefaultTimeout:   s.cfg.DefaultTimeout,
		MaxQueueDelay:    s.cfg.MaxQueueDelay,
		History:          append([]HistoryItem(nil), s.history...),
	}
	snap.Dropped = snap.DroppedQueueFull + snap.DroppedStale
	if s.pool != nil {
		snap.QueueLen, snap.QueueCap = len(s.pool.q), cap(s.pool.q)
	}
	return snap
}

func (s *Service) stateFor(name string) *RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	s.history = append(s.history, item)
	if extra := len(s.history) - s.cfg.HistorySize; extra > 0 {
		s.history = s.history[extra:]
	}
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs(item)
	}
}

func (s *Service) dropFull(now time.Time, t Task, capacity int) {
	n := s.full.Add(1)
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
	s.warnFull.Do(func() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", capacity),
			logx.Int64("dropped_queue_full", int64(n)),
		)
	})
}

func (s *Service) dropStale(now time.Time, t Task, delay time.Duration) {
	s.stale.Add(1)
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: delay, Error: "stale_queue_delay"})
	s.warnStale.Do(func() {
		s.log.Warn("task dropped: stale queue", logx.String("task", t.Name), logx.Duration("queue_delay", delay))
	})
}
