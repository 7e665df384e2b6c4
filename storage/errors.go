package storage

import (
	"errors"
	"io/fs"
	"syscall"
)

var (
	// ErrNotEmpty is returned when a non-recursive delete targets a
	// directory that still has entries.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrIsDirectory is returned when a file operation targets a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotDirectory is returned when a directory operation targets a file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported")
)

// Failure reasons reported by Reason. They travel to the guest in the error
// context, where the editor maps them onto its own file error kinds.
const (
	ReasonNotFound     = "not_found"
	ReasonExists       = "exists"
	ReasonNotEmpty     = "not_empty"
	ReasonIsDirectory  = "is_directory"
	ReasonNotDirectory = "not_directory"
	ReasonPermission   = "permission"
	ReasonUnsupported  = "unsupported"
	ReasonOther        = "other"
)

// Reason classifies a backend error.
func Reason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(err, fs.ErrExist):
		return ReasonExists
	case errors.Is(err, ErrNotEmpty), errors.Is(err, syscall.ENOTEMPTY):
		return ReasonNotEmpty
	case errors.Is(err, ErrIsDirectory), errors.Is(err, syscall.EISDIR):
		return ReasonIsDirectory
	case errors.Is(err, ErrNotDirectory), errors.Is(err, syscall.ENOTDIR):
		return ReasonNotDirectory
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermission
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	default:
		return ReasonOther
	}
}
