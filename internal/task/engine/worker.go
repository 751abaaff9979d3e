package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "phrasebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, p *pool) {
	for !p.stopping() {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case qt := <-p.q:
			s.inFlight.Add(1)
			s.execOne(ctx, p.stop, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stop <-chan struct{}, qt queuedTask) {
	if qt.track {
		defer qt.state.release()
	}

	start := time.Now()
	wait := max(0, start.Sub(qt.queuedAt))
	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && wait > maxDelay {
		s.dropStale(start, qt.task, wait)
		return
	}

	name := qt.task.Name
	s.log.Debug("task started", logx.String("task", name), logx.Duration("queue_delay", wait))
	item := HistoryItem{ID: qt.task.ID, Name: name, Started: start, QueueDelay: wait}

	var err error
	for item.Attempts = 1; ; item.Attempts++ {
		if err = s.runOnce(ctx, qt); err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if item.Attempts > qt.opt.RetryMax {
			break
		}
		delay := backoffDelay(qt.opt, item.Attempts)
		s.log.Debug("task retry scheduled", logx.String("task", name), logx.Int("attempt", item.Attempts+1), logx.Duration("delay", delay), logx.Err(err))
		if err = retryWait(ctx, stop, delay); err != nil {
			break
		}
	}

	item.Duration = time.Since(start)
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", name), logx.Err(err), logx.Duration("dur", item.Duration), logx.Int("attempts", item.Attempts))
	} else {
		s.log.Debug("task completed", logx.String("task", name), logx.Duration("dur", item.Duration))
	}
	s.record(item)
}

// retryWait sleeps for d unless the worker is cancelled or the pool stops.
func retryWait(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrStopping
	}
}

// runOnce runs one attempt under the task timeout; a panic becomes an error.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// backoffDelay doubles RetryBase per retry, capped at RetryMaxDelay, with
// 20% jitter.
func backoffDelay(opt TaskOptions, retry int) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, opt.RetryMaxDelay)
	r := (rand.Float64()*2 - 1) * 0.2
	return min(time.Duration(float64(d)*(1+r)), opt.RetryMaxDelay)
}
