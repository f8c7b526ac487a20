package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 250 * time.Millisecond

// WatchArtifacts reloads the model whenever the bundle file in the store's
// directory is created or rewritten. It blocks until ctx is done.
func (s *Server) WatchArtifacts(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create artifact watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.store.Path())
	dir := filepath.Dir(target)
	// The bundle is replaced by rename, which drops a watch on the file
	// itself, so the directory is watched instead.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Msg("Watching artifacts for changes")

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			log.Debug().Str("event", ev.String()).Msg("Artifact changed")
			timer.Reset(reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Artifact watcher error")
		case <-timer.C:
			// Reload logs and counts its own failures.
			_ = s.Reload()
		}
	}
}
