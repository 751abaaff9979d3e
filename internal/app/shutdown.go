package app

import (
	"context"
	"fmt"
	"time"

	logx "phrasebot/pkg/logx"
)

// Stop shuts the services down in dependency order. Each step gets its own
// bound so a stuck component cannot hold up the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	sd := shutdown{ctx: ctx, log: a.log}
	// no new cycles once the engine starts draining
	sd.step("scheduler", 2*time.Second, func(c context.Context) error { a.registry.Stop(c); return nil })
	sd.step("taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	sd.step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	sd.step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	sd.step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	sd.step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	sd.step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

type shutdown struct {
	ctx context.Context
	log logx.Logger
}

// bound returns a context limited to d and to the caller's own deadline.
func (sd shutdown) bound(d time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := sd.ctx.Deadline(); ok {
		d = min(d, time.Until(dl))
	}
	return context.WithTimeout(sd.ctx, max(d, 0))
}

// step runs fn and moves on once it returns or its bound expires. A step
// that overruns keeps running; its result is logged when it arrives.
func (sd shutdown) step(name string, d time.Duration, fn func(context.Context) error) {
	ctx, cancel := sd.bound(d)
	defer cancel()
	start := time.Now()

	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("panic: %v", r)
			}
		}()
		res <- fn(ctx)
	}()

	select {
	case err := <-res:
		took := time.Since(start)
		switch {
		case err != nil:
			sd.log.Warn("stop step failed", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
		case took >= 500*time.Millisecond:
			sd.log.Info("stop step slow", logx.String("name", name), logx.Duration("took", took))
		default:
			sd.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", took))
		}
	case <-ctx.Done():
		sd.log.Warn("stop step overran; continuing", logx.String("name", name), logx.Duration("bound", d), logx.Err(ctx.Err()))
		go func() {
			err := <-res
			sd.log.Info("stop step finished late", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
