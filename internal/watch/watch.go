// Package watch re-ingests documents when files under a directory change.
// It is used by `docrag serve --watch`.
//
// Events are debounced: a burst of writes to the same file (editors often
// write, rename and chmod in quick succession) produces one ingest once the
// directory has been quiet for the debounce interval. Removed files are
// logged but stay in the index, which supports append and upsert only.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/docrag-go/internal/engine"
	"github.com/54b3r/docrag-go/internal/loader"
)

// DefaultDebounce is the quiet period before changed files are ingested.
const DefaultDebounce = 2 * time.Second

// Ingester is the subset of the engine the watcher drives.
type Ingester interface {
	Ingest(ctx context.Context, path string) (*engine.IngestResult, error)
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period. Zero means DefaultDebounce.
	Debounce time.Duration
	// Loader decides which files are documents. Nil means loader defaults.
	Loader *loader.Loader
	// Logger receives progress and failures. Nil means slog.Default.
	Logger *slog.Logger
	// OnIngest, when set, is called after every ingest attempt.
	OnIngest func(path string, res *engine.IngestResult, err error)
}

// Watcher watches a directory tree and ingests changed documents.
type Watcher struct {
	root     string
	ingester Ingester
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New returns a Watcher for root. root must be an existing directory.
func New(root string, ing Ingester, opts Options) (*Watcher, error) {
	if ing == nil {
		return nil, errors.New("watch: ingester must not be nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", root)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Loader == nil {
		opts.Loader = loader.New(loader.Options{}, opts.Logger)
	}
	return &Watcher{
		root:     abs,
		ingester: ing,
		opts:     opts,
		log:      opts.Logger.With(slog.String("component", "watch"), slog.String("root", abs)),
		pending:  make(map[string]struct{}),
	}, nil
}

// Run watches until ctx is cancelled. Files still pending at cancellation
// are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.log.Info("watching for document changes", slog.Duration("debounce", w.opts.Debounce))

	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(fw, ev) {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", slog.Any("error", err))

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records ev and reports whether a document became pending.
func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if w.opts.Loader.Matches(w.root, ev.Name) {
			w.log.Info("document removed; its chunks stay indexed", slog.String("path", ev.Name))
		}
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.log.Warn("cannot watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
			}
			return w.queueTree(ev.Name)
		}
		return false
	}
	if !w.opts.Loader.Matches(w.root, ev.Name) {
		return false
	}
	w.queue(ev.Name)
	return true
}

func (w *Watcher) queue(path string) {
	w.mu.Lock()
	w.pending[path] = struct{}{}
	w.mu.Unlock()
}

// queueTree queues every document already present in a new directory,
// since files copied in with it may predate the watch.
func (w *Watcher) queueTree(dir string) bool {
	queued := false
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.opts.Loader.Excluded(w.root, p) {
				return fs.SkipDir
			}
			return nil
		}
		if w.opts.Loader.Matches(w.root, p) {
			w.queue(p)
			queued = true
		}
		return nil
	})
	return queued
}

// Pending returns the queued paths in lexical order.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// flush ingests every pending file in lexical order.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
	slices.Sort(paths)

	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		res, err := w.ingester.Ingest(ctx, p)
		if err != nil {
			w.log.Warn("re-ingest failed", slog.String("path", p), slog.Any("error", err))
		} else {
			w.log.Info("re-ingested",
				slog.String("path", p),
				slog.Int("indexed", res.Indexed),
				slog.Int("skipped", res.Skipped),
				slog.Int("index_size", res.IndexSize),
			)
		}
		if w.opts.OnIngest != nil {
			w.opts.OnIngest(p, res, err)
		}
	}
}

// addTree registers dir and its non-excluded subdirectories with fw.
// fsnotify does not watch recursively.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("watch: walk %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.opts.Loader.Excluded(w.root, p) {
			return fs.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch: add %s: %w", p, err)
		}
		return nil
	})
}
