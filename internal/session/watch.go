package session

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentvcs/internal/debounce"
)

const watchDebounceDelay = 350 * time.Millisecond

// Watcher observes a repository's metadata directory for out-of-band
// mutations (another process committing, fetching, or re-pointing the
// working copy) and invokes onChange once a burst of events settles.
type Watcher struct {
	mu       sync.Mutex
	enabled  bool
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
	root     string
	onChange func()
}

func NewWatcher(root string, onChange func()) *Watcher {
	return &Watcher{root: root, onChange: onChange}
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enabled {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	for path := range watchPaths(w.root) {
		slog.Debug("adding path to FS watcher", slog.String("path", path))
		if err := watcher.Add(path); err != nil {
			err := errors.Join(err, watcher.Close())
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	debounce.Ensure(&w.debounce, watchDebounceDelay, w.onChange)
	w.watcher = watcher
	w.enabled = true
	go w.watchLoop(watcher)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			slog.Error("watcher close", slog.Any("error", err))
		}
		w.watcher = nil
	}
	w.enabled = false
}

// Flush delivers a pending notification immediately instead of waiting
// out the debounce delay.
func (w *Watcher) Flush() {
	w.mu.Lock()
	d := w.debounce
	w.mu.Unlock()
	if d != nil {
		d.Flush()
	}
}

func (w *Watcher) watchLoop(fw *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled || w.debounce == nil {
		return
	}
	w.debounce.Trigger()
}

// watchPaths picks the metadata directory to watch: .jj when present,
// else .git, else the root itself. Always a valid sequence; an empty
// root yields nothing rather than a nil func.
func watchPaths(root string) iter.Seq[string] {
	uniquePaths := map[string]struct{}{}
	if root == "" {
		return maps.Keys(uniquePaths)
	}
	appendUnique := func(p string) { uniquePaths[p] = struct{}{} }
	for _, meta := range []string{".jj", ".git"} {
		dir := filepath.Join(root, meta)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			appendUnique(dir)
			return maps.Keys(uniquePaths)
		}
	}
	appendUnique(root)
	return maps.Keys(uniquePaths)
}

// Lock and IPC files churn constantly during normal operation and say
// nothing about repository state.
func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".lock" || ext == ".ipc" {
		return true
	}
	return false
}
