package storage

import (
	"context"
	"io/fs"
	"time"
)

// Type represents the kind of storage behind a Backend.
type Type int

const (
	// TypeUnknown indicates the backend type is unspecified.
	TypeUnknown Type = iota
	// TypeLocal indicates the host's disk.
	TypeLocal
	// TypeMemory indicates an in-memory filesystem.
	TypeMemory
	// TypeObject indicates an S3-compatible object store.
	TypeObject
)

// String returns a string representation of the Type.
func (t Type) String() string {
	switch t {
	case TypeLocal:
		return "local"
	case TypeMemory:
		return "memory"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Backend is the full storage contract consumed by the host dispatcher.
type Backend interface {
	ReadBackend
	WriteBackend
	ManageBackend
	WatchBackend

	// Type returns the kind of storage behind the backend.
	Type() Type
}

// ReadBackend defines read-only operations.
type ReadBackend interface {
	// ReadFile reads the whole file. Reading a directory fails with
	// ErrIsDirectory.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// ReadDir lists a directory in the backend's natural order.
	ReadDir(ctx context.Context, name string) ([]Entry, error)

	// Stat returns metadata for name. Symbolic links are followed for the
	// type but reported through FileInfo.Symlink.
	Stat(ctx context.Context, name string) (FileInfo, error)
}

// WriteBackend defines write operations.
type WriteBackend interface {
	// WriteFile replaces the contents of name with data, honoring opts.
	// The parent directory must exist.
	WriteFile(ctx context.Context, name string, data []byte, opts WriteOptions) error

	// CreateDirectory creates name and any missing parents. It succeeds if
	// name already is a directory.
	CreateDirectory(ctx context.Context, name string) error
}

// ManageBackend defines operations that restructure the tree.
type ManageBackend interface {
	// Copy copies a file or a directory tree from src to dst.
	Copy(ctx context.Context, src, dst string, opts CopyOptions) error

	// Delete removes a file or directory.
	Delete(ctx context.Context, name string, opts DeleteOptions) error

	// Rename moves oldname to newname.
	Rename(ctx context.Context, oldname, newname string, opts RenameOptions) error
}

// WatchBackend creates change watchers.
type WatchBackend interface {
	// Watch observes every path under root whose slash-separated path
	// relative to root matches the glob pattern. "**" matches everything.
	Watch(root, pattern string) (Watcher, error)
}

// Watcher delivers change events until closed.
type Watcher interface {
	// Events returns the event channel. It is closed by Close.
	Events() <-chan Event

	// Errors returns a channel of non-fatal watcher errors.
	Errors() <-chan error

	// Close stops the watcher and releases its resources.
	Close() error
}

// EventOp is the kind of change an Event reports.
type EventOp int

const (
	// OpChanged reports modified contents.
	OpChanged EventOp = iota + 1
	// OpCreated reports a new file or directory.
	OpCreated
	// OpDeleted reports a removed (or moved away) file or directory.
	OpDeleted
)

// String returns a string representation of the EventOp.
func (o EventOp) String() string {
	switch o {
	case OpChanged:
		return "changed"
	case OpCreated:
		return "created"
	case OpDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single change reported by a Watcher.
type Event struct {
	// Path is the host-local path of the changed entry.
	Path string
	Op   EventOp
}

// FileInfo describes a file as returned by Stat.
type FileInfo struct {
	// Mode carries the type bits of the target (fs.ModeDir for directories,
	// zero for regular files).
	Mode fs.FileMode
	// Symlink is set when the path itself is a symbolic link.
	Symlink    bool
	Size       int64
	ModTime    time.Time
	ChangeTime time.Time
}

// Entry is a single directory entry as returned by ReadDir.
type Entry struct {
	Name    string
	Mode    fs.FileMode
	Symlink bool
}

// CopyOptions controls Copy.
type CopyOptions struct {
	// Overwrite replaces an existing destination.
	Overwrite bool
}

// DeleteOptions controls Delete.
type DeleteOptions struct {
	// Recursive removes non-empty directories.
	Recursive bool
	// UseTrash moves the entry to the backend's trash instead of removing
	// it. Backends without a trash delete permanently.
	UseTrash bool
}

// RenameOptions controls Rename.
type RenameOptions struct {
	// Overwrite replaces an existing destination.
	Overwrite bool
}

// WriteOptions controls WriteFile.
type WriteOptions struct {
	// Create allows creating a missing file.
	Create bool
	// Overwrite allows replacing an existing file.
	Overwrite bool
}

// DefaultCopyOptions returns the options applied when a caller omits them.
func DefaultCopyOptions() CopyOptions { return CopyOptions{Overwrite: false} }

// DefaultDeleteOptions returns the options applied when a caller omits them.
func DefaultDeleteOptions() DeleteOptions { return DeleteOptions{} }

// DefaultRenameOptions returns the options applied when a caller omits them.
func DefaultRenameOptions() RenameOptions { return RenameOptions{Overwrite: false} }

// DefaultWriteOptions returns the options applied when a caller omits them.
func DefaultWriteOptions() WriteOptions { return WriteOptions{Create: true, Overwrite: true} }
