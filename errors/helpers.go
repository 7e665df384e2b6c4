package errors

import (
	stderrors "errors"
)

// Is is a convenience wrapper around the standard library errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a convenience wrapper around the standard library errors.As.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// GetCode returns the code of the outermost Error in err's chain.
// Returns CodeUnknown if err is nil or carries no code.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var e Error
	if stderrors.As(err, &e) {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetContext returns a single context value of the outermost Error in
// err's chain.
func GetContext(err error, key string) (interface{}, bool) {
	var e Error
	if !stderrors.As(err, &e) {
		return nil, false
	}
	v, ok := e.Context()[key]
	return v, ok
}

// IsRetryable reports whether err is an Error whose code is retryable.
func IsRetryable(err error) bool {
	var e Error
	if stderrors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
