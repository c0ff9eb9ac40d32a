package skills

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/logger"
)

// Watcher re-runs discovery when a skill root directory changes, so skills
// dropped into a user-writable directory register without a host restart.
// Discovery idempotence (first registration wins) makes repeated scans safe.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher watches the registry's discovery directories. Directories that
// do not exist yet are skipped; they are picked up on the next restart.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}

	w := &Watcher{
		registry: registry,
		watcher:  fsw,
		debounce: 500 * time.Millisecond,
	}

	// Watches are not recursive: manifest writes inside a skill directory
	// are only visible when that directory is watched directly.
	for _, dir := range registry.dirs {
		if err := fsw.Add(dir); err != nil {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fsw.Add(filepath.Join(dir, entry.Name()))
			}
		}
	}
	return w, nil
}

// Run blocks processing filesystem events until the context is canceled.
// Bursts of events coalesce into one discovery pass.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// A freshly created skill directory must be watched itself,
			// or a manifest written into it after the debounce window
			// would go unnoticed until restart.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("dir", event.Name).
							Warn("failed to watch new skill directory")
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.G(ctx).WithError(err).Warn("skill directory watch error")
		case <-pending:
			pending = nil
			added := w.registry.Discover(ctx)
			if len(added) > 0 {
				logger.G(ctx).WithField("count", len(added)).Info("discovered new skills from directory change")
			}
		}
	}
}
