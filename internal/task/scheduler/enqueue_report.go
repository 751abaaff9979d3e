package scheduler

import (
	"errors"
	"time"

	"phrasebot/internal/task/engine"
	logx "phrasebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (r *Registry) reportEnqueueError(sourceID string, err error) {
	if err == nil {
		return
	}
	// A cycle for this source is still queued or running.
	if errors.Is(err, engine.ErrOverlapSkip) {
		r.log.Debug("trigger skipped", logx.String("source", sourceID), logx.Err(err))
		return
	}

	now := time.Now()
	r.enqMu.Lock()
	last := r.lastEnqWarn[sourceID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		r.enqMu.Unlock()
		return
	}
	r.lastEnqWarn[sourceID] = now
	r.enqMu.Unlock()

	r.log.Warn("trigger failed to enqueue task", logx.String("source", sourceID), logx.Err(err))
}
