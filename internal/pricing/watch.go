package pricing

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the pricing table when the config file changes on disk.
// It returns immediately; the watcher goroutine stops when ctx is done.
// A missing file is not an error: the watcher simply never fires.
func Watch(ctx context.Context, logger *zap.Logger) error {
	path := os.Getenv("MODELS_CONFIG_PATH")
	if path == "" {
		if p, ok := findUpConfig(); ok {
			path = p
		} else {
			logger.Info("Pricing config not found, hot reload disabled")
			return nil
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		// Editors often emit several events per save; debounce them.
		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(500*time.Millisecond, func() {
					Reload()
					logger.Info("Pricing configuration reloaded", zap.String("path", path))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Pricing config watcher error", zap.Error(err))
			}
		}
	}()

	logger.Info("Watching pricing configuration", zap.String("path", path))
	return nil
}
