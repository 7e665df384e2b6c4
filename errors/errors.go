package errors

// Error extends the standard error interface with a code and context
// metadata.
type Error interface {
	error

	// Code returns the error code identifying the failure.
	Code() ErrorCode

	// Message returns the human-readable message without the cause.
	Message() string

	// Context returns a copy of the attached metadata.
	// Returns nil if no context has been attached.
	Context() map[string]interface{}

	// Retryable reports whether repeating the operation could succeed.
	// Nothing in vslsfs retries automatically; this is advice for callers.
	Retryable() bool

	// Unwrap returns the wrapped cause, if any.
	Unwrap() error
}

// sessionError is the concrete Error. It is private to force construction
// through the package functions.
type sessionError struct {
	code    ErrorCode
	message string
	context map[string]interface{}
	cause   error
}

// Error formats the error as "[CODE] message" or "[CODE] message: cause".
func (e *sessionError) Error() string {
	if e.cause != nil {
		return "[" + string(e.code) + "] " + e.message + ": " + e.cause.Error()
	}
	return "[" + string(e.code) + "] " + e.message
}

func (e *sessionError) Code() ErrorCode { return e.code }

func (e *sessionError) Message() string { return e.message }

func (e *sessionError) Retryable() bool { return e.code.Retryable() }

func (e *sessionError) Unwrap() error { return e.cause }

func (e *sessionError) Context() map[string]interface{} {
	return copyContext(e.context)
}

func copyContext(ctx map[string]interface{}) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
