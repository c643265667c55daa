package content

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce collapses the burst of events an editor save produces.
var watchDebounce = 500 * time.Millisecond

// Watch calls onChange after YAML or art files under dir change. It
// returns once the watcher is installed; the watch ends with ctx.
func Watch(ctx context.Context, dir string, log *zap.Logger, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer func() { _ = w.Close() }()
		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		fire := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() == nil {
					onChange()
				}
			})
		}
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
						continue
					}
				}
				if !relevant(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Debug("content changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
					fire()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("content watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func relevant(path string) bool {
	switch filepath.Ext(path) {
	case ".yml", ".yaml", ".txt":
		return true
	}
	return false
}
