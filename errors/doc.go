// Package errors provides the coded error type shared by every vslsfs
// component.
//
// Each failure carries an ErrorCode from a small taxonomy that mirrors the
// ways a remote filesystem request can go wrong:
//
//   - CodeInvalidArgument: an RPC argument had the wrong shape; storage was never touched
//   - CodeSchemeMismatch: a URI does not belong to the vslsfs namespace
//   - CodeSessionUnavailable: no session transport is connected
//   - CodeResolutionFailed: the session could not map a URI to a local path
//   - CodeStorage: the host's storage backend rejected the operation
//   - CodeTransport: the RPC channel failed (timeout, disconnect, unknown method)
//
// Errors are immutable. Context metadata (operation name, path, failure
// reason) is attached with WithContext and survives the trip from host to
// guest through ToResponse and FromResponse.
//
// The package stays compatible with the standard library: errors.Is,
// errors.As and errors.Unwrap all work through wrapped causes.
//
// # Usage
//
//	data, err := backend.ReadFile(ctx, path)
//	if err != nil {
//	    return nil, errors.Storage(err, "readFile", path)
//	}
//
//	if errors.GetCode(err) == errors.CodeSchemeMismatch {
//	    // not ours
//	}
package errors
