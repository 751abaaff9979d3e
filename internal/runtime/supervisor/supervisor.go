// Package supervisor runs named goroutines under one cancellable context,
// recovering panics and optionally restarting long-running loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "phrasebot/pkg/logx"
)

// Exit describes one goroutine run that ended with an error or panic.
type Exit struct {
	Name     string
	Err      error
	Panicked bool
	// Restarting is set when GoRestart will run the goroutine again.
	Restarting bool
}

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	onExit      func(Exit)

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	errMu    sync.Mutex
	firstErr error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first error
// returned by a goroutine started with Go.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// WithExitHook calls fn for every failed run. fn must not block.
func WithExitHook(fn func(Exit)) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded error, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Supervisor) recordErr(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
}

func (s *Supervisor) failed(ex Exit) {
	if s.onExit != nil {
		s.onExit(ex)
	}
}

// call runs fn once; a panic comes back as an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err, panicked = fmt.Errorf("panic: %v", r), true
		}
	}()
	return fn(s.ctx), false
}

func (s *Supervisor) spawn(body func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		body()
	}()
}

// Go runs fn once. A non-nil error (other than context.Canceled) or a panic
// is recorded and, with WithCancelOnError, cancels every sibling.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		s.log.Debug("goroutine started", logx.String("name", name))
		err, panicked := s.call(name, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			s.log.Debug("goroutine stopped", logx.String("name", name))
			return
		}
		err = fmt.Errorf("%s: %w", name, err)
		s.recordErr(err)
		s.failed(Exit{Name: name, Err: err, Panicked: panicked})
		if s.cancelOnErr {
			s.cancel()
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn != nil {
		s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
	}
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	base, ceil  time.Duration
	maxRestarts int // 0 means unlimited
	cleanStops  bool
	publishErr  bool
}

// WithRestartBackoff sets the first and the largest restart delay.
func WithRestartBackoff(first, ceil time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if first > 0 {
			p.base = first
		}
		if ceil > 0 {
			p.ceil = ceil
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = max(n, 0) } }

// WithPublishFirstError makes the first failure the supervisor Err while the
// loop keeps restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure and restarts.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.cleanStops = enabled }
}

// restartHealthy is how long a run must last before the backoff resets.
const restartHealthy = 30 * time.Second

// GoRestart runs fn and restarts it after an error or panic with jittered
// exponential backoff until the context is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{base: 250 * time.Millisecond, ceil: 30 * time.Second, cleanStops: true}
	for _, o := range opts {
		o(&p)
	}
	p.ceil = max(p.ceil, p.base)

	s.spawn(func() {
		delay := p.base
		for restarts := 0; s.ctx.Err() == nil; restarts++ {
			began := time.Now()
			err, panicked := s.call(name, fn)
			switch {
			case s.ctx.Err() != nil, errors.Is(err, context.Canceled):
				return
			case err == nil && p.cleanStops:
				return
			case err == nil:
				err = errors.New("exited")
			}
			err = fmt.Errorf("%s: %w", name, err)
			if p.publishErr {
				s.recordErr(err)
			}

			giveUp := p.maxRestarts > 0 && restarts >= p.maxRestarts
			s.failed(Exit{Name: name, Err: err, Panicked: panicked, Restarting: !giveUp})
			if giveUp {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}

			if time.Since(began) >= restartHealthy {
				delay = p.base
			}
			wait := delay + rand.N(delay/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleepCtx(s.ctx, wait) {
				return
			}
			delay = min(2*delay, p.ceil)
		}
	})
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn != nil {
		s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop cancels and waits until every goroutine returned or ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned and reports the first error,
// or returns ctx.Err() if ctx ends first.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
