// Package provider defines the filesystem capability the editor consumes
// and the registry the editor exposes for it.
package provider

import (
	"context"
	"net/url"
	"sync"

	"github.com/jmgilman/vslsfs/protocol"
)

// Disposable releases a registration or subscription. Dispose is safe to
// call more than once.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable. The function runs at most
// once.
func DisposableFunc(fn func()) Disposable {
	return &disposableFunc{fn: fn}
}

type disposableFunc struct {
	once sync.Once
	fn   func()
}

func (d *disposableFunc) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

// FileChangeEvent reports one change to a file or directory.
type FileChangeEvent struct {
	Type protocol.ChangeType
	URI  *url.URL
}

// FileSystemProvider is the capability set the editor expects from a
// filesystem registered for a URI scheme.
type FileSystemProvider interface {
	// Copy copies a file or directory tree.
	Copy(ctx context.Context, src, dst *url.URL, opts protocol.CopyOptions) error

	// CreateDirectory creates a directory and any missing parents.
	CreateDirectory(ctx context.Context, u *url.URL) error

	// Delete removes a file or directory.
	Delete(ctx context.Context, u *url.URL, opts protocol.DeleteOptions) error

	// ReadFile returns the whole contents of a file.
	ReadFile(ctx context.Context, u *url.URL) ([]byte, error)

	// ReadDirectory lists a directory.
	ReadDirectory(ctx context.Context, u *url.URL) ([]protocol.DirEntry, error)

	// Rename moves a file or directory.
	Rename(ctx context.Context, oldURI, newURI *url.URL, opts protocol.RenameOptions) error

	// Stat returns file metadata.
	Stat(ctx context.Context, u *url.URL) (protocol.FileStat, error)

	// Watch declares interest in changes to u. Changes are delivered to
	// OnDidChangeFile listeners.
	Watch(ctx context.Context, u *url.URL, opts protocol.WatchOptions) (Disposable, error)

	// WriteFile replaces the whole contents of a file.
	WriteFile(ctx context.Context, u *url.URL, content []byte, opts protocol.WriteFileOptions) error

	// OnDidChangeFile registers a listener for change events.
	OnDidChangeFile(fn func([]FileChangeEvent)) Disposable
}

// Registry is where providers are registered for URI schemes.
type Registry interface {
	// RegisterFileSystemProvider registers p for scheme. Disposing the
	// result unregisters it.
	RegisterFileSystemProvider(scheme string, p FileSystemProvider) (Disposable, error)
}
