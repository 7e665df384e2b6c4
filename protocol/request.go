package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/jmgilman/vslsfs/errors"
)

// URIRequest is the request of createDirectory, readFile, readDirectory and
// stat.
type URIRequest struct {
	URI string
}

// Args returns the positional arguments of the request.
func (r URIRequest) Args() []any { return []any{r.URI} }

// CopyRequest is the request of copy.
type CopyRequest struct {
	Source      string
	Destination string
	Options     CopyOptions
}

// Args returns the positional arguments of the request.
func (r CopyRequest) Args() []any { return []any{r.Source, r.Destination, r.Options} }

// DeleteRequest is the request of delete.
type DeleteRequest struct {
	URI     string
	Options DeleteOptions
}

// Args returns the positional arguments of the request.
func (r DeleteRequest) Args() []any { return []any{r.URI, r.Options} }

// RenameRequest is the request of rename.
type RenameRequest struct {
	OldURI  string
	NewURI  string
	Options RenameOptions
}

// Args returns the positional arguments of the request.
func (r RenameRequest) Args() []any { return []any{r.OldURI, r.NewURI, r.Options} }

// WriteFileRequest is the request of writeFile.
type WriteFileRequest struct {
	URI     string
	Content []byte
	Options WriteFileOptions
}

// Args returns the positional arguments of the request. A nil Content is
// sent as an empty file.
func (r WriteFileRequest) Args() []any {
	content := r.Content
	if content == nil {
		content = []byte{}
	}
	return []any{r.URI, content, r.Options}
}

// WatchRequest is the request of watch.
type WatchRequest struct {
	URI     string
	Options WatchOptions
}

// Args returns the positional arguments of the request.
func (r WatchRequest) Args() []any { return []any{r.URI, r.Options} }

// args walks a positional argument list for one operation.
type args struct {
	op  Op
	raw []json.RawMessage
}

func newArgs(op Op, raw []json.RawMessage, required, optional int) (*args, error) {
	if len(raw) < required || len(raw) > required+optional {
		if optional == 0 {
			return nil, errors.WithContext(
				errors.Newf(errors.CodeInvalidArgument, "%s expects %d arguments, got %d", op, required, len(raw)),
				errors.ContextOp, string(op))
		}
		return nil, errors.WithContext(
			errors.Newf(errors.CodeInvalidArgument, "%s expects %d to %d arguments, got %d",
				op, required, required+optional, len(raw)),
			errors.ContextOp, string(op))
	}
	return &args{op: op, raw: raw}, nil
}

func (a *args) invalid(i int, format string, v ...any) error {
	return errors.WithContextMap(
		errors.Newf(errors.CodeInvalidArgument, "%s argument %d: "+format, append([]any{a.op, i}, v...)...),
		map[string]interface{}{
			errors.ContextOp: string(a.op),
			"argument":       i,
		})
}

func kind(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// uri decodes argument i as a non-empty string.
func (a *args) uri(i int) (string, error) {
	if kind(a.raw[i]) != '"' {
		return "", a.invalid(i, "expected a URI string")
	}
	var s string
	if err := json.Unmarshal(a.raw[i], &s); err != nil {
		return "", a.invalid(i, "%v", err)
	}
	if s == "" {
		return "", a.invalid(i, "URI is empty")
	}
	return s, nil
}

// bytes decodes argument i as base64 content.
func (a *args) bytes(i int) ([]byte, error) {
	if kind(a.raw[i]) != '"' {
		return nil, a.invalid(i, "expected base64 content")
	}
	var b []byte
	if err := json.Unmarshal(a.raw[i], &b); err != nil {
		return nil, a.invalid(i, "%v", err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// options decodes the optional argument i into v. A missing or null
// argument leaves v untouched.
func (a *args) options(i int, v any) error {
	if i >= len(a.raw) || isNull(a.raw[i]) {
		return nil
	}
	if kind(a.raw[i]) != '{' {
		return a.invalid(i, "expected an options object")
	}
	if err := json.Unmarshal(a.raw[i], v); err != nil {
		return a.invalid(i, "%v", err)
	}
	return nil
}

// DecodeURI decodes the single-URI argument list of op.
func DecodeURI(op Op, raw []json.RawMessage) (URIRequest, error) {
	a, err := newArgs(op, raw, 1, 0)
	if err != nil {
		return URIRequest{}, err
	}
	uri, err := a.uri(0)
	if err != nil {
		return URIRequest{}, err
	}
	return URIRequest{URI: uri}, nil
}

// DecodeCopy decodes the arguments of copy.
func DecodeCopy(raw []json.RawMessage) (CopyRequest, error) {
	var req CopyRequest
	a, err := newArgs(OpCopy, raw, 2, 1)
	if err != nil {
		return req, err
	}
	if req.Source, err = a.uri(0); err != nil {
		return req, err
	}
	if req.Destination, err = a.uri(1); err != nil {
		return req, err
	}
	if err := a.options(2, &req.Options); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeDelete decodes the arguments of delete.
func DecodeDelete(raw []json.RawMessage) (DeleteRequest, error) {
	var req DeleteRequest
	a, err := newArgs(OpDelete, raw, 1, 1)
	if err != nil {
		return req, err
	}
	if req.URI, err = a.uri(0); err != nil {
		return req, err
	}
	if err := a.options(1, &req.Options); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeRename decodes the arguments of rename.
func DecodeRename(raw []json.RawMessage) (RenameRequest, error) {
	var req RenameRequest
	a, err := newArgs(OpRename, raw, 2, 1)
	if err != nil {
		return req, err
	}
	if req.OldURI, err = a.uri(0); err != nil {
		return req, err
	}
	if req.NewURI, err = a.uri(1); err != nil {
		return req, err
	}
	if err := a.options(2, &req.Options); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeWriteFile decodes the arguments of writeFile.
func DecodeWriteFile(raw []json.RawMessage) (WriteFileRequest, error) {
	var req WriteFileRequest
	a, err := newArgs(OpWriteFile, raw, 2, 1)
	if err != nil {
		return req, err
	}
	if req.URI, err = a.uri(0); err != nil {
		return req, err
	}
	if req.Content, err = a.bytes(1); err != nil {
		return req, err
	}
	if err := a.options(2, &req.Options); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeWatch decodes the arguments of watch.
func DecodeWatch(raw []json.RawMessage) (WatchRequest, error) {
	var req WatchRequest
	a, err := newArgs(OpWatch, raw, 1, 1)
	if err != nil {
		return req, err
	}
	if req.URI, err = a.uri(0); err != nil {
		return req, err
	}
	if err := a.options(1, &req.Options); err != nil {
		return req, err
	}
	for _, ex := range req.Options.Excludes {
		if ex == "" {
			return req, a.invalid(1, "empty exclude pattern")
		}
	}
	return req, nil
}

// DecodeChange decodes a change notification payload.
func DecodeChange(payload json.RawMessage) (ChangeNotification, error) {
	var n ChangeNotification
	if kind(payload) != '{' {
		return n, errors.New(errors.CodeInvalidArgument, "change notification must be an object")
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, errors.Wrap(err, errors.CodeInvalidArgument, "malformed change notification")
	}
	if n.URI == "" {
		return n, errors.New(errors.CodeInvalidArgument, "change notification has no uri")
	}
	if !n.Type.Valid() {
		return n, errors.Newf(errors.CodeInvalidArgument, "change notification has unknown type %d", n.Type)
	}
	return n, nil
}

// EncodeArgs marshals positional arguments the way the wire carries them.
func EncodeArgs(v []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(v))
	for i, arg := range v {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidArgument, "argument %d", i)
		}
		out[i] = data
	}
	return out, nil
}
