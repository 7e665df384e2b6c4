package host

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/session/loopback"
	"github.com/jmgilman/vslsfs/storage"
	"github.com/jmgilman/vslsfs/storage/billy"
)

const shareRoot = "/share"

type fixture struct {
	net     *loopback.Network
	host    *loopback.Session
	backend *billy.MemoryFS
	d       *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newSeededFixture(t, nil, opts...)
}

// newSeededFixture runs seed against the backend before the dispatcher
// starts, so the seeded changes never reach the workspace watcher.
func newSeededFixture(t *testing.T, seed func(b *billy.MemoryFS), opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := billy.NewMemory()
	require.NoError(t, backend.CreateDirectory(ctx, shareRoot))
	if seed != nil {
		seed(backend)
	}

	n := loopback.NewNetwork(shareRoot)
	hs := n.Join(session.RoleHost)
	d := NewDispatcher(hs, backend, opts...)
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	return &fixture{net: n, host: hs, backend: backend, d: d}
}

// guest joins a new guest and returns its proxy on the service.
func (f *fixture) guest(t *testing.T) (*loopback.Session, session.ServiceProxy) {
	t.Helper()
	gs := f.net.Join(session.RoleGuest)
	p, err := gs.SharedService(context.Background(), protocol.DefaultServiceName)
	require.NoError(t, err)
	require.NotNil(t, p)
	return gs, p
}

func call(t *testing.T, p session.ServiceProxy, op protocol.Op, args ...any) (json.RawMessage, error) {
	t.Helper()
	return p.Request(context.Background(), string(op), args)
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, errors.GetCode(err), "error: %v", err)
}

func TestDispatcher_Lifecycle(t *testing.T) {
	ctx := context.Background()
	backend := billy.NewMemory()
	require.NoError(t, backend.CreateDirectory(ctx, shareRoot))
	n := loopback.NewNetwork(shareRoot)
	hs := n.Join(session.RoleHost)

	d := NewDispatcher(hs, backend)
	assert.Equal(t, StateInactive, d.State())

	require.NoError(t, d.Start(ctx))
	assert.Equal(t, StateActive, d.State())

	// A second start must not share the service twice.
	require.NoError(t, d.Start(ctx))
	assert.Equal(t, StateActive, d.State())

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, StateStopped, d.State())
	require.NoError(t, d.Stop(ctx))

	requireCode(t, d.Start(ctx), errors.CodeSessionUnavailable)

	// The name is free again once the dispatcher stopped.
	d2 := NewDispatcher(hs, backend)
	require.NoError(t, d2.Start(ctx))
	require.NoError(t, d2.Stop(ctx))
}

func TestDispatcher_StartRefused(t *testing.T) {
	ctx := context.Background()
	n := loopback.NewNetwork(shareRoot)
	gs := n.Join(session.RoleGuest)

	d := NewDispatcher(gs, billy.NewMemory())
	requireCode(t, d.Start(ctx), errors.CodeSessionUnavailable)
	assert.Equal(t, StateInactive, d.State())
}

func TestDispatcher_StartInvalidExclude(t *testing.T) {
	ctx := context.Background()
	n := loopback.NewNetwork(shareRoot)
	hs := n.Join(session.RoleHost)

	d := NewDispatcher(hs, billy.NewMemory(), WithWatchExcludes("[unclosed"))
	requireCode(t, d.Start(ctx), errors.CodeInvalidConfig)
	assert.Equal(t, StateInactive, d.State())
}

func TestDispatcher_WriteReadRoundTrip(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"text", []byte("hello world")},
		{"empty", []byte{}},
		{"binary", []byte{0, 0xff, 0x10, '\n'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri := "vslsfs://share/" + tt.name + ".bin"
			_, err := call(t, p, protocol.OpWriteFile, uri, tt.data, protocol.WriteFileOptions{})
			require.NoError(t, err)

			result, err := call(t, p, protocol.OpReadFile, uri)
			require.NoError(t, err)

			var got []byte
			require.NoError(t, json.Unmarshal(result, &got))
			assert.Equal(t, len(tt.data), len(got))
			if len(tt.data) > 0 {
				assert.Equal(t, tt.data, got)
			}

			onDisk, err := f.backend.ReadFile(context.Background(), shareRoot+"/"+tt.name+".bin")
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(onDisk))
		})
	}

	snap := f.d.Metrics().Snapshot()
	assert.Equal(t, int64(15), snap.BytesWritten)
	assert.Equal(t, int64(15), snap.BytesRead)
}

func TestDispatcher_WriteFileOptions(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)
	uri := "vslsfs://share/w.txt"

	_, err := call(t, p, protocol.OpWriteFile, uri, []byte("x"), protocol.WriteFileOptions{Create: protocol.Bool(false)})
	requireCode(t, err, errors.CodeStorage)
	reason, _ := errors.GetContext(err, errors.ContextReason)
	assert.Equal(t, storage.ReasonNotFound, reason)

	_, err = call(t, p, protocol.OpWriteFile, uri, []byte("x"))
	require.NoError(t, err)

	_, err = call(t, p, protocol.OpWriteFile, uri, []byte("y"), protocol.WriteFileOptions{Overwrite: protocol.Bool(false)})
	requireCode(t, err, errors.CodeStorage)
	reason, _ = errors.GetContext(err, errors.ContextReason)
	assert.Equal(t, storage.ReasonExists, reason)
}

func TestDispatcher_CreateDirectoryIdempotent(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)

	_, err := call(t, p, protocol.OpCreateDirectory, "vslsfs://share/a/b")
	require.NoError(t, err)
	_, err = call(t, p, protocol.OpCreateDirectory, "vslsfs://share/a/b")
	require.NoError(t, err)

	info, err := f.backend.Stat(context.Background(), shareRoot+"/a/b")
	require.NoError(t, err)
	assert.True(t, info.Mode.IsDir())
}

func TestDispatcher_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	require.NoError(t, f.backend.CreateDirectory(ctx, shareRoot+"/d/sub"))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/d/sub/x.txt", []byte("x"), storage.DefaultWriteOptions()))

	_, err := call(t, p, protocol.OpDelete, "vslsfs://share/d", protocol.DeleteOptions{Recursive: protocol.Bool(false)})
	requireCode(t, err, errors.CodeStorage)
	op, _ := errors.GetContext(err, errors.ContextOp)
	path, _ := errors.GetContext(err, errors.ContextPath)
	reason, _ := errors.GetContext(err, errors.ContextReason)
	assert.Equal(t, "delete", op)
	assert.Equal(t, shareRoot+"/d", path)
	assert.Equal(t, storage.ReasonNotEmpty, reason)

	// Options omitted entirely: non-recursive.
	_, err = call(t, p, protocol.OpDelete, "vslsfs://share/d")
	requireCode(t, err, errors.CodeStorage)

	_, err = call(t, p, protocol.OpDelete, "vslsfs://share/d", protocol.DeleteOptions{Recursive: protocol.Bool(true)})
	require.NoError(t, err)

	_, err = f.backend.Stat(ctx, shareRoot+"/d/sub/x.txt")
	assert.Error(t, err)
	_, err = f.backend.Stat(ctx, shareRoot+"/d")
	assert.Error(t, err)
}

func TestDispatcher_Rename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/old.txt", []byte("old"), storage.DefaultWriteOptions()))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/taken.txt", []byte("taken"), storage.DefaultWriteOptions()))

	_, err := call(t, p, protocol.OpRename, "vslsfs://share/old.txt", "vslsfs://share/taken.txt",
		protocol.RenameOptions{Overwrite: protocol.Bool(false)})
	requireCode(t, err, errors.CodeStorage)

	_, err = call(t, p, protocol.OpRename, "vslsfs://share/old.txt", "vslsfs://share/new.txt",
		protocol.RenameOptions{Overwrite: protocol.Bool(false)})
	require.NoError(t, err)

	_, err = call(t, p, protocol.OpStat, "vslsfs://share/old.txt")
	requireCode(t, err, errors.CodeStorage)

	got, err := f.backend.ReadFile(ctx, shareRoot+"/new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestDispatcher_Copy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/a.txt", []byte("a"), storage.DefaultWriteOptions()))

	_, err := call(t, p, protocol.OpCopy, "vslsfs://share/a.txt", "vslsfs://share/b.txt")
	require.NoError(t, err)

	// Overwrite defaults to false.
	_, err = call(t, p, protocol.OpCopy, "vslsfs://share/a.txt", "vslsfs://share/b.txt")
	requireCode(t, err, errors.CodeStorage)

	_, err = call(t, p, protocol.OpCopy, "vslsfs://share/a.txt", "vslsfs://share/b.txt",
		protocol.CopyOptions{Overwrite: protocol.Bool(true)})
	require.NoError(t, err)
}

func TestDispatcher_StatAndReadDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	require.NoError(t, f.backend.CreateDirectory(ctx, shareRoot+"/dir"))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/file.txt", []byte("12345"), storage.DefaultWriteOptions()))

	result, err := call(t, p, protocol.OpStat, "vslsfs://share/file.txt")
	require.NoError(t, err)
	var st protocol.FileStat
	require.NoError(t, json.Unmarshal(result, &st))
	assert.Equal(t, protocol.FileTypeFile, st.Type)
	assert.Equal(t, int64(5), st.Size)
	assert.Positive(t, st.Mtime)

	result, err = call(t, p, protocol.OpReadDirectory, "vslsfs://share/")
	require.NoError(t, err)
	var entries []protocol.DirEntry
	require.NoError(t, json.Unmarshal(result, &entries))
	assert.Equal(t, []protocol.DirEntry{
		{Name: "dir", Type: protocol.FileTypeDirectory},
		{Name: "file.txt", Type: protocol.FileTypeFile},
	}, entries)

	result, err = call(t, p, protocol.OpReadDirectory, "vslsfs://share/dir")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(result))
}

func TestDispatcher_InvalidArgumentsNeverReachStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	tests := []struct {
		name string
		op   protocol.Op
		args []any
	}{
		{"writeFile content as number", protocol.OpWriteFile, []any{"vslsfs://share/x.txt", 42}},
		{"writeFile missing content", protocol.OpWriteFile, []any{"vslsfs://share/x.txt"}},
		{"createDirectory uri as object", protocol.OpCreateDirectory, []any{map[string]string{"path": "/x.txt"}}},
		{"delete options as string", protocol.OpDelete, []any{"vslsfs://share/x.txt", "recursive"}},
		{"copy one argument", protocol.OpCopy, []any{"vslsfs://share/x.txt"}},
		{"stat extra argument", protocol.OpStat, []any{"vslsfs://share/x.txt", true}},
		{"watch bad exclude", protocol.OpWatch, []any{"vslsfs://share/x.txt", map[string]any{"excludes": []string{"[bad"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, p, tt.op, tt.args...)
			requireCode(t, err, errors.CodeInvalidArgument)

			_, err = f.backend.Stat(ctx, shareRoot+"/x.txt")
			assert.Error(t, err)
		})
	}
}

func TestDispatcher_TranslationErrors(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)

	_, err := call(t, p, protocol.OpReadFile, "file:///etc/passwd")
	requireCode(t, err, errors.CodeSchemeMismatch)

	_, err = call(t, p, protocol.OpReadFile, "vslsfs://share/../../etc/passwd")
	requireCode(t, err, errors.CodeResolutionFailed)

	_, err = call(t, p, protocol.OpWriteFile, "not a uri", []byte("x"))
	requireCode(t, err, errors.CodeInvalidArgument)
}

func TestDispatcher_UnknownOperation(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)

	_, err := call(t, p, protocol.Op("unwatch"), "vslsfs://share/a.txt")
	requireCode(t, err, errors.CodeTransport)

	_, ok := f.d.Metrics().Snapshot().Op("unwatch")
	assert.False(t, ok, "unknown operations never reach the handler table")
}

func TestDispatcher_RejectsRequestsAfterStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gs, _ := f.guest(t)

	h := f.d.serve(protocol.OpStat, f.d.stat)
	args, err := protocol.EncodeArgs([]any{"vslsfs://share/"})
	require.NoError(t, err)

	_, err = h(ctx, &session.Call{Peer: gs.ID(), Op: "stat", Args: args})
	require.NoError(t, err)

	require.NoError(t, f.d.Stop(ctx))
	_, err = h(ctx, &session.Call{Peer: gs.ID(), Op: "stat", Args: args})
	requireCode(t, err, errors.CodeSessionUnavailable)

	p, err := gs.SharedService(ctx, protocol.DefaultServiceName)
	require.NoError(t, err)
	assert.Nil(t, p, "the service is withdrawn on stop")
}

func TestDispatcher_Metrics(t *testing.T) {
	f := newFixture(t)
	_, p := f.guest(t)

	_, _ = call(t, p, protocol.OpStat, "vslsfs://share/")
	_, _ = call(t, p, protocol.OpStat, "vslsfs://share/missing")

	st, ok := f.d.Metrics().Snapshot().Op("stat")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Requests)
	assert.Equal(t, int64(1), st.Errors)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "inactive", StateInactive.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(99).String())
}

func waitQuiet() { time.Sleep(50 * time.Millisecond) }
