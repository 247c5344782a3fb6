package datafolder

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher calls back when folders appear in or disappear from the data root.
// Bursts of filesystem events are collapsed into one call.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the manager's root
func NewWatcher(m *Manager, onChange func()) (*Watcher, error) {
	if err := os.MkdirAll(m.Root(), 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(m.Root()); err != nil {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		root:     m.Root(),
		watcher:  watcher,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is cancelled. Should be run in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.L().Warn("data_folder_watch_error", "root", w.root, "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}
