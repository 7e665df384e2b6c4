package errors

// ErrorCode identifies a class of failure.
// Codes are strings so they read well in logs and serialize naturally.
type ErrorCode string

const (
	// Request errors.

	// CodeInvalidArgument indicates a malformed or wrong-typed RPC argument.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeSchemeMismatch indicates a URI outside this subsystem's namespace.
	CodeSchemeMismatch ErrorCode = "SCHEME_MISMATCH"

	// Session errors.

	// CodeSessionUnavailable indicates no connected session transport, or a
	// component that is not (or no longer) active.
	CodeSessionUnavailable ErrorCode = "SESSION_UNAVAILABLE"

	// CodeResolutionFailed indicates the session could not translate a
	// shared URI into a local path.
	CodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"

	// CodeTransport indicates the RPC channel failed: timeout, disconnect,
	// unknown method or an undecodable reply.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Storage errors.

	// CodeStorage indicates the storage backend failed the operation.
	// The context carries the operation name, the path and a reason.
	CodeStorage ErrorCode = "STORAGE_ERROR"

	// CodeNotFound indicates a lookup (provider, service) found nothing.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a registration that already exists.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// System errors.

	// CodeInvalidConfig indicates a configuration error.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeInternal indicates a bug or broken invariant.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown is used for errors that carry no code.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Retryable reports whether failures with this code may succeed if the
// caller tries again later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeTransport, CodeSessionUnavailable:
		return true
	default:
		return false
	}
}
