package billy

import (
	"errors"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/jmgilman/vslsfs/storage"
)

// MemoryFS serves an in-memory tree through billy's memfs. Its watchers
// observe mutations made through the backend itself.
type MemoryFS struct {
	backend
	hub *hub
}

// NewMemory creates an empty in-memory storage.Backend.
func NewMemory(opts ...Option) *MemoryFS {
	cfg := newConfig(config{copyConcurrency: 1}, opts)
	h := &hub{watchers: make(map[*memoryWatcher]struct{})}
	return &MemoryFS{
		backend: backend{
			bfs:      memfs.New(),
			trashDir: cfg.trashDir,
			// memfs is not safe for concurrent writers.
			copyConcurrency: 1,
			mu:              &sync.RWMutex{},
			changed:         h.publish,
		},
		hub: h,
	}
}

// Unwrap returns the underlying billy.Filesystem.
func (m *MemoryFS) Unwrap() billy.Filesystem {
	return m.bfs
}

// Type returns storage.TypeMemory.
func (m *MemoryFS) Type() storage.Type {
	return storage.TypeMemory
}

// Watch subscribes to mutations under root matching pattern.
func (m *MemoryFS) Watch(root, pattern string) (storage.Watcher, error) {
	matcher, err := storage.NewMatcher(normalize(root), pattern)
	if err != nil {
		return nil, err
	}
	w := &memoryWatcher{
		hub:     m.hub,
		matcher: matcher,
		events:  make(chan storage.Event, 256),
		errors:  make(chan error, 1),
	}
	m.hub.add(w)
	return w, nil
}

// hub fans backend mutations out to memory watchers.
type hub struct {
	mu       sync.Mutex
	watchers map[*memoryWatcher]struct{}
}

func (h *hub) add(w *memoryWatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[w] = struct{}{}
}

func (h *hub) remove(w *memoryWatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, w)
}

// publish runs under the backend lock, so deliveries never block.
func (h *hub) publish(p string, op storage.EventOp) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if w.matcher.Match(p) {
			w.deliver(storage.Event{Path: p, Op: op})
		}
	}
}

type memoryWatcher struct {
	hub     *hub
	matcher *storage.Matcher
	events  chan storage.Event
	errors  chan error

	closeOnce sync.Once
}

var errEventOverflow = errors.New("watcher event buffer full, events dropped")

func (w *memoryWatcher) deliver(ev storage.Event) {
	select {
	case w.events <- ev:
	default:
		select {
		case w.errors <- errEventOverflow:
		default:
		}
	}
}

func (w *memoryWatcher) Events() <-chan storage.Event { return w.events }

func (w *memoryWatcher) Errors() <-chan error { return w.errors }

// Close detaches the watcher. It is safe to call more than once.
func (w *memoryWatcher) Close() error {
	w.closeOnce.Do(func() {
		// publish holds the hub lock while delivering.
		w.hub.remove(w)
		close(w.events)
		close(w.errors)
	})
	return nil
}

// Compile-time interface checks.
var (
	_ storage.Backend = (*MemoryFS)(nil)
	_ storage.Watcher = (*memoryWatcher)(nil)
)
