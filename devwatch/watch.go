// Package devwatch reloads the editor document when its UI assets change on disk.
package devwatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 200 * time.Millisecond

// DefaultPatterns match the files a web UI is built from
var DefaultPatterns = []string{"**/*.{html,js,css}"}

// Reloader is reloaded after a burst of changes settles
type Reloader interface {
	Reload() error
}

// Option configures a Watcher
type Option func(*Watcher)

// WithPatterns sets the doublestar globs, relative to the watched directory, that
// trigger a reload
func WithPatterns(patterns ...string) Option {
	return func(w *Watcher) {
		if len(patterns) > 0 {
			w.patterns = patterns
		}
	}
}

// WithDebounce sets how long the tree must be quiet before reloading
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches a directory tree and reloads its target when matching files are
// created, written, removed or renamed.
type Watcher struct {
	dir      string
	target   Reloader
	patterns []string
	debounce time.Duration
	logger   *zap.Logger

	watching chan struct{}
}

// New creates a watcher for dir. Patterns are validated here.
func New(dir string, target Reloader, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dir:      dir,
		target:   target,
		patterns: DefaultPatterns,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		watching: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range w.patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid watch pattern %q", p)
		}
	}
	return w, nil
}

// Watching is closed once the tree is being watched
func (w *Watcher) Watching() <-chan struct{} {
	return w.watching
}

// Run watches until ctx is cancelled. New subdirectories are watched as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addTree(watcher, w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	close(w.watching)
	w.logger.Info("watching assets", zap.String("dir", w.dir), zap.Strings("patterns", w.patterns))

	var (
		mu      sync.Mutex
		timer   *time.Timer
		changed = make(map[string]struct{})
	)
	reload := func() {
		mu.Lock()
		files := make([]string, 0, len(changed))
		for f := range changed {
			files = append(files, f)
		}
		changed = make(map[string]struct{})
		timer = nil
		mu.Unlock()
		if len(files) == 0 {
			return
		}

		sort.Strings(files)
		w.logger.Info("assets changed, reloading", zap.Strings("files", files))
		if err := w.target.Reload(); err != nil {
			w.logger.Warn("reload failed", zap.Error(err))
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				w.watchIfDir(watcher, event.Name)
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			rel, ok := w.match(event.Name)
			if !ok {
				continue
			}

			// Debounce: reset the timer on each event
			mu.Lock()
			changed[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, reload)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// match reports whether path matches a pattern, and its slash-separated relative path
func (w *Watcher) match(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return rel, true
		}
	}
	return "", false
}

func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) watchIfDir(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(watcher, path); err != nil {
		w.logger.Debug("watch new directory", zap.String("path", path), zap.Error(err))
	}
}
