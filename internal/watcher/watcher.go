// Package watcher feeds new files from watched directories into the context pipeline.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler is called once per settled file.
type Handler func(ctx context.Context, path string)

// Watcher watches directory trees and hands created or rewritten files to a Handler after a
// quiet period. Removals are logged only; ingested documents are never withdrawn.
type Watcher struct {
	roots     []string
	recursive bool
	accept    func(path string) bool
	handle    Handler
	debounce  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	fs       *fsnotify.Watcher
	pending  map[string]*time.Timer
	ctx      context.Context
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a changed file is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over roots. accept filters file paths; nil accepts every file.
func New(roots []string, recursive bool, accept func(path string) bool, handle Handler, opts ...Option) *Watcher {
	if accept == nil {
		accept = func(string) bool { return true }
	}
	w := &Watcher{
		roots:     roots,
		recursive: recursive,
		accept:    accept,
		handle:    handle,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing roots, registers them and processes events until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := addTree(fw, root, w.recursive); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.fs = fw
	w.ctx = ctx
	w.logger.Debug("watcher started", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errors <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.accept(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.accept(path) {
			w.logger.Info("watched file removed; its document stays indexed", zap.String("path", path))
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and handles the files
// already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.fs
	w.mu.Unlock()
	if fw == nil || !w.recursive {
		return
	}
	if err := addTree(fw, dir, true); err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
	}
	w.walk(dir, w.schedule)
}

func (w *Watcher) underRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("watcher handling file", zap.String("path", path))
		w.handle(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// walk calls fn for every accepted file under dir, honoring recursive.
func (w *Watcher) walk(dir string, fn func(path string)) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accept(path) {
			fn(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to walk directory", zap.String("path", dir), zap.Error(err))
	}
}

// SyncExistingFiles handles every accepted file already present in the roots, synchronously.
// Call it after Start to pick up files that predate the watcher.
func (w *Watcher) SyncExistingFiles(ctx context.Context) {
	for _, root := range w.roots {
		w.walk(root, func(path string) {
			if ctx.Err() == nil {
				w.handle(ctx, path)
			}
		})
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop releases the fsnotify watcher and drops pending files.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fs == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fs.Close()
	w.fs = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

// addTree creates root if missing and registers it, with its subdirectories when recursive.
func addTree(fw *fsnotify.Watcher, root string, recursive bool) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !recursive {
		return fw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
