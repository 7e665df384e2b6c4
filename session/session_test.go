package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/vslsfs/errors"
)

func TestRole_String(t *testing.T) {
	assert.Equal(t, "host", RoleHost.String())
	assert.Equal(t, "guest", RoleGuest.String())
	assert.Equal(t, "none", RoleNone.String())
}

func TestReply_Result(t *testing.T) {
	reply, err := EncodeReply(map[string]int{"size": 3}, nil)
	require.NoError(t, err)

	data, err := json.Marshal(reply)
	require.NoError(t, err)

	result, err := DecodeReply(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"size":3}`, string(result))
}

func TestReply_NilResult(t *testing.T) {
	reply, err := EncodeReply(nil, nil)
	require.NoError(t, err)

	data, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	result, err := DecodeReply(data)
	require.NoError(t, err)
	assert.Equal(t, "null", string(result))
}

func TestReply_Error(t *testing.T) {
	cause := errors.Storage(fmt.Errorf("directory not empty"), "delete", "/share/d")
	reply, err := EncodeReply(nil, errors.WithContext(cause, errors.ContextReason, "not_empty"))
	require.NoError(t, err)

	data, err := json.Marshal(reply)
	require.NoError(t, err)

	_, err = DecodeReply(data)
	require.Error(t, err)
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))
	assert.Contains(t, err.Error(), "directory not empty")

	reason, ok := errors.GetContext(err, errors.ContextReason)
	require.True(t, ok)
	assert.Equal(t, "not_empty", reason)
}

func TestReply_PlainError(t *testing.T) {
	reply, err := EncodeReply(nil, fmt.Errorf("boom"))
	require.NoError(t, err)
	_, err = reply.Unpack()
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(err))
}

func TestReply_UnencodableResult(t *testing.T) {
	_, err := EncodeReply(make(chan int), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))
}

func TestDecodeReply_Malformed(t *testing.T) {
	_, err := DecodeReply([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
}

func TestErrMethodNotFound(t *testing.T) {
	err := ErrMethodNotFound("vslsfs", "unwatch")
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
	assert.Contains(t, err.Error(), "vslsfs/unwatch")
}

func TestResolveUnder(t *testing.T) {
	root := filepath.Join("/srv", "share")
	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "path", uri: "vsls:/a/b.txt", want: filepath.Join(root, "a", "b.txt")},
		{name: "authority ignored", uri: "vsls://folder/a", want: filepath.Join(root, "a")},
		{name: "root", uri: "vsls:/", want: root},
		{name: "empty path", uri: "vsls://folder", want: root},
		{name: "inner dot dot", uri: "vsls:/a/../b", want: filepath.Join(root, "b")},
		{name: "escape", uri: "vsls:/a/../../x", wantErr: true},
		{name: "parent", uri: "vsls:/..", wantErr: true},
		{name: "wrong scheme", uri: "file:/a", wantErr: true},
		{name: "opaque", uri: "vsls:a/b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.uri)
			require.NoError(t, err)

			got, err := ResolveUnder(root, "vsls", u)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
