package errors

import "fmt"

// Wrap wraps err with a code and message while keeping it reachable through
// Unwrap, errors.Is and errors.As.
// Returns nil if err is nil.
//
// Example:
//
//	raw, err := proxy.Request(ctx, op, args)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeTransport, "request failed")
//	}
func Wrap(err error, code ErrorCode, message string) Error {
	if err == nil {
		return nil
	}
	return &sessionError{code: code, message: message, cause: err}
}

// Wrapf wraps err with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WrapWithContext wraps err and attaches context in one step.
// The map is copied.
func WrapWithContext(err error, code ErrorCode, message string, ctx map[string]interface{}) Error {
	if err == nil {
		return nil
	}
	return &sessionError{
		code:    code,
		message: message,
		context: copyContext(ctx),
		cause:   err,
	}
}
