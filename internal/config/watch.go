package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentic-research/ppd/api"
)

// WatchLayout reloads the layout file at path whenever it is written or
// replaced and hands each successfully parsed layout to apply. Files that
// fail to parse, typically a save in progress, are logged and skipped.
// It blocks until ctx is done.
func WatchLayout(ctx context.Context, path string, log *zap.Logger, apply func(*api.Layout) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("layout watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors often save by renaming a new file over
	// the old one, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	log.Debug("watching layout", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			// A zero-length file is a save that has truncated but not yet written.
			if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
				continue
			}
			l, err := LoadLayout(path)
			if err != nil {
				log.Warn("layout reload skipped", zap.String("path", path), zap.Error(err))
				continue
			}
			if err := apply(l); err != nil {
				log.Warn("layout reload failed", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("layout reloaded", zap.String("path", path), zap.Int("paths", len(l.Paths)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("layout watcher error", zap.Error(err))
		}
	}
}
