package billy

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jmgilman/vslsfs/storage"
)

// LocalFS serves the host's disk through billy's osfs.
type LocalFS struct {
	backend
}

// NewLocal creates a disk-backed storage.Backend rooted at "/", so the
// absolute paths produced by the session's address translation are used
// as-is.
func NewLocal(opts ...Option) *LocalFS {
	cfg := newConfig(config{copyConcurrency: defaultCopyConcurrency}, opts)
	return &LocalFS{
		backend: backend{
			bfs:             osfs.New("/"),
			trashDir:        cfg.trashDir,
			copyConcurrency: cfg.copyConcurrency,
		},
	}
}

// Unwrap returns the underlying billy.Filesystem.
func (l *LocalFS) Unwrap() billy.Filesystem {
	return l.bfs
}

// Type returns storage.TypeLocal.
func (l *LocalFS) Type() storage.Type {
	return storage.TypeLocal
}

// Watch starts an fsnotify watcher over every directory under root.
// Directories created later are added as their creation is observed.
func (l *LocalFS) Watch(root, pattern string) (storage.Watcher, error) {
	return newLocalWatcher(root, pattern)
}

// localWatcher adapts fsnotify's per-directory watches to a recursive
// storage.Watcher.
type localWatcher struct {
	fw      *fsnotify.Watcher
	matcher *storage.Matcher
	events  chan storage.Event
	errors  chan error
	done    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newLocalWatcher(root, pattern string) (*localWatcher, error) {
	matcher, err := storage.NewMatcher(root, pattern)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &localWatcher{
		fw:      fw,
		matcher: matcher,
		events:  make(chan storage.Event, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
	}
	if err := w.addTree(filepath.Clean(root)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// addTree registers dir and every directory below it. Unreadable
// subdirectories are skipped; an unreadable root is an error.
func (w *localWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return w.fw.Add(p)
		}
		return nil
	})
}

func (w *localWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		case <-w.done:
			return
		}
	}
}

func (w *localWatcher) handle(ev fsnotify.Event) {
	var op storage.EventOp
	switch {
	case ev.Has(fsnotify.Create):
		op = storage.OpCreated
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.sendError(err)
			}
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = storage.OpDeleted
	case ev.Has(fsnotify.Write):
		op = storage.OpChanged
	default:
		return
	}

	if !w.matcher.Match(ev.Name) {
		return
	}

	select {
	case w.events <- storage.Event{Path: filepath.Clean(ev.Name), Op: op}:
	case <-w.done:
	}
}

func (w *localWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *localWatcher) Events() <-chan storage.Event { return w.events }

func (w *localWatcher) Errors() <-chan error { return w.errors }

// Close stops the watcher. It is safe to call more than once.
func (w *localWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

// Compile-time interface checks.
var (
	_ storage.Backend = (*LocalFS)(nil)
	_ storage.Watcher = (*localWatcher)(nil)
)
