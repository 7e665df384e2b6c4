package host

import (
	"net/url"
	"path"
	"sync"

	"github.com/gobwas/glob"

	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/storage"
)

// registration binds a participant's watched URI to a local path.
type registration struct {
	peer      session.PeerID
	uri       string
	base      *url.URL
	local     string
	recursive bool
	excludes  []glob.Glob
}

type watchKey struct {
	peer session.PeerID
	uri  string
}

// target is one notification to send for an event.
type target struct {
	peer session.PeerID
	uri  string
}

// watchRegistry holds the registrations of an active dispatcher.
type watchRegistry struct {
	mu   sync.RWMutex
	regs map[watchKey]*registration
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{regs: make(map[watchKey]*registration)}
}

// add records reg, replacing an earlier registration of the same URI by the
// same participant. It reports whether reg is new.
func (r *watchRegistry) add(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := watchKey{peer: reg.peer, uri: reg.uri}
	_, existed := r.regs[key]
	r.regs[key] = reg
	return !existed
}

func (r *watchRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = make(map[watchKey]*registration)
}

func (r *watchRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// match returns the notifications owed for a change at localPath, at most
// one per participant and URI.
func (r *watchRegistry) match(localPath string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[target]struct{})
	var out []target
	add := func(t target) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, reg := range r.regs {
		if reg.local == localPath {
			add(target{peer: reg.peer, uri: reg.uri})
			continue
		}
		if !reg.recursive {
			continue
		}
		rel, ok := storage.RelativeTo(reg.local, localPath)
		if !ok || rel == "." || reg.excluded(rel) {
			continue
		}
		add(target{peer: reg.peer, uri: reg.child(rel)})
	}
	return out
}

func (reg *registration) excluded(rel string) bool {
	return matchAny(reg.excludes, rel)
}

// child returns the virtual URI of rel below the registration's URI.
func (reg *registration) child(rel string) string {
	u := *reg.base
	u.RawPath = ""
	u.Path = path.Join("/", u.Path, rel)
	return u.String()
}
