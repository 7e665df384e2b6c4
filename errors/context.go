package errors

import "errors"

// WithContext returns a copy of err with one more context field.
// Existing fields are preserved. A plain error becomes CodeUnknown.
// Returns nil if err is nil.
//
// Example:
//
//	err = errors.WithContext(err, "peer", peer)
func WithContext(err error, key string, value interface{}) Error {
	if err == nil {
		return nil
	}
	return WithContextMap(err, map[string]interface{}{key: value})
}

// WithContextMap returns a copy of err with fields merged into its context.
// New fields override existing ones with the same key.
// Returns nil if err is nil.
func WithContextMap(err error, fields map[string]interface{}) Error {
	if err == nil {
		return nil
	}

	base := asError(err)
	merged := base.Context()
	if merged == nil {
		merged = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &sessionError{
		code:    base.Code(),
		message: base.Message(),
		context: merged,
		cause:   base.Unwrap(),
	}
}

// asError returns err as an Error, converting plain errors to CodeUnknown.
func asError(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return &sessionError{code: CodeUnknown, message: err.Error(), cause: err}
}
