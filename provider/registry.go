package provider

import (
	"sync"

	"github.com/jmgilman/vslsfs/errors"
)

// MemoryRegistry is an in-process Registry. It refuses to register two
// providers for one scheme.
type MemoryRegistry struct {
	mu        sync.RWMutex
	providers map[string]*registration
}

type registration struct {
	provider FileSystemProvider
}

// NewRegistry creates an empty MemoryRegistry.
func NewRegistry() *MemoryRegistry {
	return &MemoryRegistry{providers: make(map[string]*registration)}
}

// RegisterFileSystemProvider registers p for scheme.
func (r *MemoryRegistry) RegisterFileSystemProvider(scheme string, p FileSystemProvider) (Disposable, error) {
	if scheme == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "scheme is required")
	}
	if p == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "provider is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[scheme]; ok {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeAlreadyExists, "a provider is already registered for %q", scheme),
			"scheme", scheme)
	}
	reg := &registration{provider: p}
	r.providers[scheme] = reg

	return DisposableFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.providers[scheme] == reg {
			delete(r.providers, scheme)
		}
	}), nil
}

// Lookup returns the provider registered for scheme.
func (r *MemoryRegistry) Lookup(scheme string) (FileSystemProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[scheme]
	if !ok {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeNotFound, "no provider registered for %q", scheme),
			"scheme", scheme)
	}
	return reg.provider, nil
}

// Len returns the number of registered schemes.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

var _ Registry = (*MemoryRegistry)(nil)
