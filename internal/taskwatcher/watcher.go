// Package taskwatcher turns local task-store file changes into
// watcher-origin sync calls. spec.md places "the file watcher" outside the
// coordinator's scope (§1); this package is the CLI-level component that
// assumption refers to — it is the thing that actually calls
// coordinator.Sync(nil, SyncOriginWatcher) when the on-disk store changes.
package taskwatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/threadsync/internal/coordinator"
)

// debounceDelay coalesces bursts of writes (WAL checkpoints, multi-step
// transactions) into a single watcher-origin sync call.
const debounceDelay = 150 * time.Millisecond

// Syncer is the subset of *coordinator.Coordinator this package calls.
type Syncer interface {
	Sync(ctx context.Context, statusPoster coordinator.StatusPoster, origin coordinator.SyncOrigin) (*coordinator.SyncResult, error)
}

// Watcher watches a task-store file path and calls sync.Sync with
// SyncOriginWatcher whenever it changes, debounced.
type Watcher struct {
	path   string
	sync   Syncer
	logger *slog.Logger
}

func New(path string, sync Syncer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, sync: sync, logger: logger}
}

// Start begins watching in the background. It returns once the watcher is
// registered; the watch loop runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("taskwatcher: new fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.path); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("taskwatcher: watch %s: %w", w.path, err)
	}

	go func() {
		defer fsw.Close()

		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time

		flush := func() {
			if !pending {
				return
			}
			pending = false
			if _, err := w.sync.Sync(context.Background(), nil, coordinator.SyncOriginWatcher); err != nil {
				w.logger.Warn("taskwatcher: watcher-origin sync failed", "error", err)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				pending = true
				if timer == nil {
					timer = time.NewTimer(debounceDelay)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounceDelay)
				}
				timerC = timer.C
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("taskwatcher: fsnotify error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()
	return nil
}
