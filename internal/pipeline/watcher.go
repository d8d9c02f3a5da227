package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/werserk/kira/internal/logging"
)

// Watcher triggers inbox runs when the drop zone changes, using filesystem
// events with a debounce, or polling when fsnotify is unavailable.
type Watcher struct {
	inbox        *Inbox
	dir          string
	log          *logging.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	polling bool
}

// NewWatcher builds a watcher over the inbox directory.
func NewWatcher(inbox *Inbox, dir string, log *logging.Logger) *Watcher {
	return &Watcher{
		inbox:        inbox,
		dir:          dir,
		log:          log,
		debounce:     500 * time.Millisecond,
		pollInterval: 5 * time.Second,
	}
}

// Watch blocks until ctx is cancelled, running the inbox pipeline after
// each burst of file activity. Falls back to polling if the fsnotify
// watcher cannot be created.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if w.log != nil {
			w.log.Warn("fsnotify unavailable, falling back to polling", map[string]any{
				"interval": w.pollInterval.String(),
				"error":    map[string]any{"type": "watcher_error", "message": err.Error()},
			})
		}
		w.polling = true
		return w.poll(ctx)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Warn("watcher error", map[string]any{
					"error": map[string]any{"type": "watcher_error", "message": err.Error()},
				})
			}
		}
	}
}

// schedule arms the debounce timer; bursts of events collapse into one run.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.runOnce(ctx)
	})
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	if _, err := w.inbox.Run(ctx); err != nil && w.log != nil {
		w.log.Error("inbox run failed", map[string]any{
			"error": map[string]any{"type": "inbox_error", "message": err.Error()},
		})
	}
}
