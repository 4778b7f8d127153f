package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/event"
)

// Watcher reports file changes under a set of files and directories
// (non-recursive). Notifications are collected over a debounce window and
// each changed path is emitted once per window, in sorted order.
type Watcher struct {
	paths    []string
	debounce time.Duration

	fs    *fsnotify.Watcher
	files map[string]bool
	dirs  map[string]bool

	mu      sync.Mutex
	pending map[string]struct{}

	bus *event.Bus
	log *zap.Logger
}

func NewWatcher(paths []string, debounce time.Duration, bus *event.Bus, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		paths:    paths,
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		pending:  make(map[string]struct{}),
		bus:      bus,
		log:      log,
	}
}

// Start registers the watch paths. A single file is watched through its
// directory. Missing paths are skipped.
func (w *Watcher) Start() error {
	if w.fs != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file watcher: %w", err)
	}
	for _, p := range w.paths {
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		if err != nil {
			w.log.Debug("watch path unavailable", zap.String("path", p), zap.Error(err))
			continue
		}
		dir := p
		if info.IsDir() {
			w.dirs[p] = true
		} else {
			w.files[p] = true
			dir = filepath.Dir(p)
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.fs = fw
	return nil
}

// Run watches until ctx is done, flushing once per debounce window.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	defer w.fs.Close()
	t := time.NewTicker(w.debounce)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("檔案監看錯誤", zap.Error(err))
		case <-t.C:
			w.Flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	name := filepath.Clean(ev.Name)
	if !w.files[name] && !w.dirs[filepath.Dir(name)] {
		return
	}
	if info, err := os.Stat(name); err != nil || info.IsDir() {
		return
	}
	w.mu.Lock()
	w.pending[name] = struct{}{}
	w.mu.Unlock()
}

// Pending returns the number of paths waiting for the next flush.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush emits a FileChanged for each path collected since the last flush
// and returns them.
func (w *Watcher) Flush() []string {
	w.mu.Lock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	w.mu.Unlock()

	sort.Strings(changed)
	for _, p := range changed {
		event.Emit(w.bus, event.FileChanged{Path: p})
	}
	return changed
}
