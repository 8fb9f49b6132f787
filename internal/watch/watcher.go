// Package watch regenerates the bundle when the working tree changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/concurrency"
)

// DefaultDebounce is used when Options.Debounce is not positive.
const DefaultDebounce = 750 * time.Millisecond

// Trigger runs one regeneration.
type Trigger func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	Debounce   time.Duration
	IgnoreDirs []string
	// OutputDir is never watched, so writing the bundle does not retrigger it.
	OutputDir string
	Logger    *zap.Logger
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Ignored       int
	Runs          int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches every non-ignored directory below root.
type Watcher struct {
	root      string
	outputDir string
	ignore    map[string]struct{}
	debounce  time.Duration
	trigger   Trigger
	fsw       *fsnotify.Watcher
	logger    *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New registers watches below root. The caller must call Run to process
// events; Run closes the underlying watcher.
func New(root string, trigger Trigger, opts Options) (*Watcher, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     absRoot,
		ignore:   make(map[string]struct{}, len(opts.IgnoreDirs)),
		debounce: opts.Debounce,
		trigger:  trigger,
		fsw:      fsw,
		logger:   opts.Logger,
	}
	if opts.OutputDir != "" {
		w.outputDir = concurrency.Key(opts.OutputDir)
	}
	for _, d := range opts.IgnoreDirs {
		w.ignore[d] = struct{}{}
	}

	if err := w.addTree(absRoot); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.logger.Info("watching repository", zap.String("root", absRoot), zap.Int("dirs", len(fsw.WatchList())))
	return w, nil
}

// addTree watches dir and its relevant subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			w.logger.Debug("skipping unreadable directory", zap.String("path", p), zap.Error(err))
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && !w.Relevant(p) {
			return fs.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// Relevant reports whether a change at path should trigger a run. Paths in
// the output directory or in ignored directories are not relevant, and
// neither are hidden files. Hidden directories such as .github are watched,
// the same as the file index walks them.
func (w *Watcher) Relevant(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if w.outputDir != "" && (abs == w.outputDir || strings.HasPrefix(abs, w.outputDir+string(filepath.Separator))) {
		return false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for _, seg := range segs {
		if _, ok := w.ignore[seg]; ok {
			return false
		}
	}
	if strings.HasPrefix(segs[len(segs)-1], ".") {
		fi, err := os.Stat(abs)
		return err == nil && fi.IsDir()
	}
	return true
}

// Run processes events until ctx is done. A burst of changes produces one
// trigger call once the tree has been quiet for the debounce window.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(event) {
				continue
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := w.fire(ctx); errors.Is(err, concurrency.ErrBusy) {
				// Another run holds the output directory; try again later.
				timer.Reset(w.debounce)
				pending = true
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if !w.Relevant(event.Name) {
		w.mu.Lock()
		w.stats.Ignored++
		w.mu.Unlock()
		return false
	}

	if event.Op.Has(fsnotify.Create) {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Debug("could not watch new path", zap.String("path", event.Name), zap.Error(err))
		}
	}

	w.logger.Debug("change detected", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.mu.Unlock()
	return true
}

func (w *Watcher) fire(ctx context.Context) error {
	err := w.trigger(ctx)
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case err == nil:
		w.stats.Runs++
	case errors.Is(err, concurrency.ErrBusy):
		w.logger.Debug("bundle busy, retrying after debounce")
	default:
		w.stats.Errors++
		w.logger.Error("regeneration failed", zap.Error(err))
	}
	return err
}

// Stats returns a copy of the current statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.fsw.WatchList()
}
