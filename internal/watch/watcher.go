package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"filechat/internal/extract"
	"filechat/internal/store"
	"filechat/internal/walker"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a path must stay quiet before it is handed to
// the indexer. Editors and sync tools fire bursts of events per save.
const DefaultDebounce = 2 * time.Second

const flushInterval = 250 * time.Millisecond

// Watcher follows the registered targets on disk and reports settled batches
// of changed document paths.
type Watcher struct {
	targets  []store.IndexTarget
	debounce time.Duration
	onBatch  func(paths []string)
	logger   *slog.Logger
}

// New creates a Watcher over the given targets. onBatch receives debounced,
// sorted batches of changed paths and is called from the watch goroutine.
func New(targets []store.IndexTarget, debounce time.Duration, onBatch func(paths []string), logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{targets: targets, debounce: debounce, onBatch: onBatch, logger: logger}
}

// Run watches until ctx is cancelled. Directories created under recursive
// folder targets are picked up as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addRoots(fw); err != nil {
		return err
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event, pending)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case now := <-ticker.C:
			w.flush(pending, now)
		}
	}
}

// addRoots registers every directory the targets cover: the parent of each
// file target and the full tree of each recursive folder target.
func (w *Watcher) addRoots(fw *fsnotify.Watcher) error {
	added := make(map[string]bool)
	add := func(dir string) error {
		if added[dir] {
			return nil
		}
		added[dir] = true
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		return nil
	}

	for _, target := range w.targets {
		switch target.Kind {
		case store.TargetFile:
			if err := add(filepath.Dir(target.Path)); err != nil {
				return err
			}
		case store.TargetFolder:
			if err := add(target.Path); err != nil {
				return err
			}
			if !target.IncludeSubfolders {
				continue
			}
			err := filepath.WalkDir(target.Path, func(path string, d os.DirEntry, err error) error {
				if err != nil || !d.IsDir() {
					return nil
				}
				return add(path)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.underRecursiveTarget(event.Name) {
				if err := fw.Add(event.Name); err != nil {
					w.logger.Warn("watch new dir", "dir", event.Name, "err", err)
				}
			}
			return
		}
	}

	if event.Op.Has(fsnotify.Chmod) {
		return
	}
	if extract.KindOf(event.Name) == "" {
		return
	}
	if !walker.MatchesAny(event.Name, w.targets) {
		return
	}
	pending[event.Name] = time.Now()
}

func (w *Watcher) underRecursiveTarget(dir string) bool {
	for _, target := range w.targets {
		if target.Kind != store.TargetFolder || !target.IncludeSubfolders {
			continue
		}
		rel, err := filepath.Rel(target.Path, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return true
		}
	}
	return false
}

// flush emits every path that has been quiet for the debounce window.
func (w *Watcher) flush(pending map[string]time.Time, now time.Time) {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
		}
	}
	if len(ready) == 0 {
		return
	}
	for _, path := range ready {
		delete(pending, path)
	}
	sort.Strings(ready)
	w.onBatch(ready)
}
