package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	logx "phrasebot/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	watchSettle     = 250 * time.Millisecond
	watchRetryFirst = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the config after its file changes and stays quiet for a
// moment, until ctx is done. The parent directory is watched so editors that
// replace the file by rename are seen. A failed watcher is rebuilt after a
// jittered, growing delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}
	retry := watchRetryFirst

	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, func() { retry = watchRetryFirst })
		if ctx.Err() != nil {
			break
		}
		d := retry + rand.N(retry/2+1)
		retry = min(2*retry, watchRetryMax)
		m.log.Warn("config watcher failed; retrying", logx.String("dir", dir), logx.Duration("in", d), logx.Err(err))

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends. Reloads
// run on this goroutine, so they never overlap.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", file))

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()
	touch := func() { settle.Reset(watchSettle) }

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				touch()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				touch()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
