package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	rtsup "phrasebot/internal/runtime/supervisor"
	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoTarget  = errors.New("notifier has no admin target")
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Service queues notices for the admin chat and sends them in order from a
// single worker.
type Service struct {
	log    logx.Logger
	sender kit.TextSender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	admin   kit.ChatTarget
	queue   chan Notice // nil when stopped
	sup     *rtsup.Supervisor
	seen    map[string]time.Time
	history []HistoryItem
}

func New(cfg Config, sender kit.TextSender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		seen:   map[string]time.Time{},
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Queue size changes apply on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// SetAdminTarget sets where notices are delivered.
func (s *Service) SetAdminTarget(t kit.ChatTarget) {
	s.mu.Lock()
	s.admin = t
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	q := make(chan Notice, s.cfg.QueueSize)
	s.queue = q
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.Go0("worker", func(c context.Context) { s.run(c, q) })
	s.log.Info("service started", logx.Int("queue", cap(q)))
}

// Stop closes intake and lets the worker drain the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	if q != nil {
		close(q)
	}
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stopped before draining", logx.Int("pending", len(q)))
	}
}

// NotifyAdmin queues an HTML warning. Failures are logged here; the error
// only tells callers whether the notice was queued.
func (s *Service) NotifyAdmin(ctx context.Context, text string) error {
	err := s.Post(ctx, Notice{Level: LevelWarn, Text: text})
	if err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("admin notification dropped", logx.Err(err))
	}
	return err
}

// Post queues n without blocking. A notice repeated within the dedup window
// is dropped silently.
func (s *Service) Post(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.cfg.Enabled:
		return ErrDisabled
	case s.admin.ChatID == 0 && s.admin.Recipient == "":
		return ErrNoTarget
	case s.queue == nil:
		return ErrStopped
	}
	if !s.firstSeenLocked(n.dedupKey(), time.Now()) {
		s.log.Debug("notice deduped", logx.String("key", n.dedupKey()))
		return nil
	}
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) firstSeenLocked(key string, now time.Time) bool {
	window := s.cfg.DedupWindow
	if window == 0 {
		return true
	}
	if until, ok := s.seen[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.seen {
		if !now.Before(until) {
			delete(s.seen, k)
		}
	}
	s.seen[key] = now.Add(window)
	return true
}

// History returns the most recent notices, oldest first.
func (s *Service) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, it)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
}

func (s *Service) run(ctx context.Context, q <-chan Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notice) {
	s.mu.Lock()
	cfg, lim, to := s.cfg, s.limiter, s.admin
	s.mu.Unlock()
	if s.sender == nil {
		return
	}

	text := n.Level.prefix() + n.Text
	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(cfg.RetryBase << (attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		if lim.Wait(ctx) != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.sender.SendText(callCtx, to, text, htmlOpts)
		cancel()
		if err == nil {
			s.record(HistoryItem{At: time.Now(), Level: n.Level, Text: n.Text})
			return
		}
		s.log.Debug("notice send failed", logx.Err(err), logx.Int("attempt", attempt+1))
	}
	s.log.Warn("notification failed", logx.String("target", to.String()), logx.Err(err))
	s.record(HistoryItem{At: time.Now(), Level: n.Level, Text: n.Text, Error: err.Error()})
}
