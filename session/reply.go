package session

import (
	"bytes"
	"encoding/json"

	"github.com/jmgilman/vslsfs/errors"
)

// Reply is the envelope every transport wraps handler results in.
type Reply struct {
	Result json.RawMessage       `json:"result,omitempty"`
	Error  *errors.ErrorResponse `json:"error,omitempty"`
}

// EncodeReply builds the reply for a handler's return values.
func EncodeReply(result any, err error) (*Reply, error) {
	if err != nil {
		return &Reply{Error: errors.ToResponse(err)}, nil
	}
	if result == nil {
		return &Reply{}, nil
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		return nil, errors.Wrap(merr, errors.CodeInternal, "failed to encode result")
	}
	return &Reply{Result: data}, nil
}

// DecodeReply unpacks a reply. A remote failure is returned as an Error
// carrying the remote code; a missing result is returned as JSON null.
func DecodeReply(data []byte) (json.RawMessage, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransport, "malformed reply")
	}
	return r.Unpack()
}

// Unpack returns the result or the remote error of r.
func (r *Reply) Unpack() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, errors.FromResponse(r.Error)
	}
	if len(bytes.TrimSpace(r.Result)) == 0 {
		return json.RawMessage("null"), nil
	}
	return r.Result, nil
}

// ErrMethodNotFound builds the transport failure for an operation the
// service has no handler for.
func ErrMethodNotFound(service, op string) error {
	return errors.WithContextMap(
		errors.Newf(errors.CodeTransport, "method not found: %s/%s", service, op),
		map[string]interface{}{"service": service, errors.ContextOp: op})
}
