package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/vslsfs/config"
	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/guest"
	"github.com/jmgilman/vslsfs/host"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/session/loopback"
	"github.com/jmgilman/vslsfs/storage"
	"github.com/jmgilman/vslsfs/storage/billy"
)

func newCLI(t *testing.T) (*guestCLI, *billy.MemoryFS, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	backend := billy.NewMemory()
	require.NoError(t, backend.CreateDirectory(ctx, "/share/docs"))
	require.NoError(t, backend.WriteFile(ctx, "/share/docs/a.txt", []byte("alpha"), storage.DefaultWriteOptions()))

	n := loopback.NewNetwork("/share")
	d := host.NewDispatcher(n.Join(session.RoleHost), backend)
	require.NoError(t, d.Start(ctx))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	p, err := guest.NewProxy(ctx, n.Join(session.RoleGuest))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	out := &bytes.Buffer{}
	return &guestCLI{cfg: config.Default(), fsp: p, out: out}, backend, out
}

func TestGuestCLI_Commands(t *testing.T) {
	ctx := context.Background()
	cli, backend, out := newCLI(t)

	require.NoError(t, cli.run(ctx, "ls", []string{"/docs"}))
	assert.Contains(t, out.String(), "file")
	assert.Contains(t, out.String(), "a.txt")

	out.Reset()
	require.NoError(t, cli.run(ctx, "cat", []string{"docs/a.txt"}))
	assert.Equal(t, "alpha", out.String())

	out.Reset()
	require.NoError(t, cli.run(ctx, "stat", []string{"/docs/a.txt"}))
	assert.Contains(t, out.String(), "size: 5")

	require.NoError(t, cli.run(ctx, "mkdir", []string{"/docs/sub"}))
	require.NoError(t, cli.run(ctx, "cp", []string{"/docs/a.txt", "/docs/sub/b.txt"}))
	require.NoError(t, cli.run(ctx, "mv", []string{"/docs/sub/b.txt", "/docs/c.txt"}))

	data, err := backend.ReadFile(ctx, "/share/docs/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	err = cli.run(ctx, "mv", []string{"/docs/a.txt", "/docs/c.txt"})
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))
	require.NoError(t, cli.run(ctx, "mv", []string{"-overwrite", "/docs/a.txt", "/docs/c.txt"}))

	err = cli.run(ctx, "rm", []string{"/docs"})
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))
	require.NoError(t, cli.run(ctx, "rm", []string{"-recursive", "/docs"}))

	_, err = backend.Stat(ctx, "/share/docs")
	assert.Error(t, err)
}

func TestGuestCLI_Usage(t *testing.T) {
	cli, _, _ := newCLI(t)

	assert.Error(t, cli.run(context.Background(), "cat", nil))
	assert.Error(t, cli.run(context.Background(), "mv", []string{"/only-one"}))
	assert.Error(t, cli.run(context.Background(), "chmod", []string{"/x"}))
}

func TestKind(t *testing.T) {
	tests := []struct {
		t    protocol.FileType
		want string
	}{
		{protocol.FileTypeFile, "file"},
		{protocol.FileTypeDirectory, "dir"},
		{protocol.FileTypeDirectory | protocol.FileTypeSymbolicLink, "link"},
		{protocol.FileTypeUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kind(tt.t))
	}
}

func TestGuestCLI_URI(t *testing.T) {
	cli := &guestCLI{cfg: config.Default()}
	assert.Equal(t, "vslsfs:/docs/a.txt", cli.uri("docs/a.txt").String())
	assert.Equal(t, "vslsfs:/", cli.uri("").String())
}
