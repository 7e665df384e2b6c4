package errors

import "fmt"

// New creates an Error with the given code and message.
//
// Example:
//
//	err := errors.New(errors.CodeSchemeMismatch, "scheme must be vslsfs")
func New(code ErrorCode, message string) Error {
	return &sessionError{code: code, message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) Error {
	return &sessionError{code: code, message: fmt.Sprintf(format, args...)}
}

// Storage wraps a storage backend failure as CodeStorage, tagging it with
// the operation and the local path it failed on.
// Returns nil if err is nil.
//
// Example:
//
//	if err := backend.Delete(ctx, path, opts); err != nil {
//	    return errors.Storage(err, "delete", path)
//	}
func Storage(err error, op, path string) Error {
	if err == nil {
		return nil
	}
	return &sessionError{
		code:    CodeStorage,
		message: fmt.Sprintf("%s %s failed", op, path),
		context: map[string]interface{}{
			ContextOp:   op,
			ContextPath: path,
		},
		cause: err,
	}
}

// Context keys set by this package.
const (
	ContextOp     = "op"
	ContextPath   = "path"
	ContextReason = "reason"
)
