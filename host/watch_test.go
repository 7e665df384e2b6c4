package host

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
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

// inbox collects the change notifications one guest receives.
type inbox struct {
	mu  sync.Mutex
	got []protocol.ChangeNotification
}

func listen(t *testing.T, p session.ServiceProxy) *inbox {
	t.Helper()
	in := &inbox{}
	unsubscribe := p.OnNotify(protocol.NotificationChange, func(payload json.RawMessage) {
		n, err := protocol.DecodeChange(payload)
		if err != nil {
			t.Errorf("malformed notification %s: %v", payload, err)
			return
		}
		in.mu.Lock()
		defer in.mu.Unlock()
		in.got = append(in.got, n)
	})
	t.Cleanup(unsubscribe)
	return in
}

func (in *inbox) snapshot() []protocol.ChangeNotification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]protocol.ChangeNotification(nil), in.got...)
}

func (in *inbox) count() int { return len(in.snapshot()) }

func TestDispatcher_WatchNotifiesEveryWatchingGuestOnce(t *testing.T) {
	ctx := context.Background()
	f := newSeededFixture(t, func(b *billy.MemoryFS) {
		require.NoError(t, b.WriteFile(ctx, shareRoot+"/a.txt", []byte("v1"), storage.DefaultWriteOptions()))
	})

	_, p1 := f.guest(t)
	_, p2 := f.guest(t)
	_, bystander := f.guest(t)
	in1, in2, in3 := listen(t, p1), listen(t, p2), listen(t, bystander)

	const uri = "vslsfs://share/a.txt"
	_, err := call(t, p1, protocol.OpWatch, uri, protocol.WatchOptions{})
	require.NoError(t, err)
	_, err = call(t, p1, protocol.OpWatch, uri, protocol.WatchOptions{})
	require.NoError(t, err)
	_, err = call(t, p2, protocol.OpWatch, uri)
	require.NoError(t, err)
	assert.Equal(t, 2, f.d.Watches())

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/a.txt", []byte("v2"), storage.DefaultWriteOptions()))

	require.Eventually(t, func() bool { return in1.count() == 1 && in2.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	waitQuiet()

	want := []protocol.ChangeNotification{{URI: uri, Type: protocol.ChangeChanged}}
	assert.Equal(t, want, in1.snapshot())
	assert.Equal(t, want, in2.snapshot())
	assert.Empty(t, in3.snapshot())

	assert.Equal(t, int64(2), f.d.Metrics().Snapshot().Notifications)
}

func TestDispatcher_WatchExactPathOnly(t *testing.T) {
	ctx := context.Background()
	f := newSeededFixture(t, func(b *billy.MemoryFS) {
		require.NoError(t, b.CreateDirectory(ctx, shareRoot+"/src"))
	})

	_, p := f.guest(t)
	in := listen(t, p)

	_, err := call(t, p, protocol.OpWatch, "vslsfs://share/src")
	require.NoError(t, err)

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/src/a.go", nil, storage.DefaultWriteOptions()))
	require.NoError(t, f.backend.Delete(ctx, shareRoot+"/src", storage.DeleteOptions{Recursive: true}))

	require.Eventually(t, func() bool { return in.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	waitQuiet()
	assert.Equal(t, []protocol.ChangeNotification{
		{URI: "vslsfs://share/src", Type: protocol.ChangeDeleted},
	}, in.snapshot())
}

func TestDispatcher_WatchRecursiveWithExcludes(t *testing.T) {
	ctx := context.Background()
	f := newSeededFixture(t, func(b *billy.MemoryFS) {
		require.NoError(t, b.CreateDirectory(ctx, shareRoot+"/src/pkg"))
	})

	_, p := f.guest(t)
	in := listen(t, p)

	_, err := call(t, p, protocol.OpWatch, "vslsfs://share/src",
		protocol.WatchOptions{Recursive: true, Excludes: []string{"**/*.tmp"}})
	require.NoError(t, err)

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/src/pkg/scratch.tmp", nil, storage.DefaultWriteOptions()))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/src/pkg/a.go", nil, storage.DefaultWriteOptions()))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/outside.go", nil, storage.DefaultWriteOptions()))

	require.Eventually(t, func() bool { return in.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	waitQuiet()
	assert.Equal(t, []protocol.ChangeNotification{
		{URI: "vslsfs://share/src/pkg/a.go", Type: protocol.ChangeCreated},
	}, in.snapshot())
}

func TestDispatcher_WorkspaceExcludes(t *testing.T) {
	ctx := context.Background()
	f := newSeededFixture(t, func(b *billy.MemoryFS) {
		require.NoError(t, b.CreateDirectory(ctx, shareRoot+"/.git"))
	}, WithWatchExcludes(".git/**"))

	_, p := f.guest(t)
	in := listen(t, p)

	_, err := call(t, p, protocol.OpWatch, "vslsfs://share/", protocol.WatchOptions{Recursive: true})
	require.NoError(t, err)

	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/.git/HEAD", nil, storage.DefaultWriteOptions()))
	require.NoError(t, f.backend.WriteFile(ctx, shareRoot+"/main.go", nil, storage.DefaultWriteOptions()))

	require.Eventually(t, func() bool { return in.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	waitQuiet()
	assert.Equal(t, "vslsfs://share/main.go", in.snapshot()[0].URI)
}

func TestDispatcher_WatchRegistrationsDroppedOnStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, p := f.guest(t)

	_, err := call(t, p, protocol.OpWatch, "vslsfs://share/a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, f.d.Watches())

	require.NoError(t, f.d.Stop(ctx))
	assert.Equal(t, 0, f.d.Watches())
}

func TestDispatcher_WatchWithoutWatcher(t *testing.T) {
	ctx := context.Background()
	n := loopback.NewNetwork(shareRoot)
	hs := n.Join(session.RoleHost)
	gs := n.Join(session.RoleGuest)

	// An invalid watch pattern leaves the dispatcher without a watcher.
	d := NewDispatcher(hs, billy.NewMemory(), WithWatchPattern("[bad"))
	require.NoError(t, d.Start(ctx))
	defer func() { _ = d.Stop(ctx) }()

	p, err := gs.SharedService(ctx, protocol.DefaultServiceName)
	require.NoError(t, err)
	_, err = p.Request(ctx, string(protocol.OpWatch), []any{"vslsfs://share/a.txt"})
	requireCode(t, err, errors.CodeStorage)
}

func TestDispatcher_WatchLocalDisk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	n := loopback.NewNetwork(root)
	hs := n.Join(session.RoleHost)
	gs := n.Join(session.RoleGuest)

	d := NewDispatcher(hs, billy.NewLocal())
	require.NoError(t, d.Start(ctx))
	defer func() { _ = d.Stop(ctx) }()

	p, err := gs.SharedService(ctx, protocol.DefaultServiceName)
	require.NoError(t, err)
	in := listen(t, p)

	target := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	_, err = p.Request(ctx, string(protocol.OpWatch), []any{"vslsfs://share/a.txt"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte("v2"), 0o644)
		for _, n := range in.snapshot() {
			if n.URI == "vslsfs://share/a.txt" && n.Type == protocol.ChangeChanged {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchRegistry_Match(t *testing.T) {
	tr := NewDispatcher(nil, nil).translator
	mk := func(peer, uri, local string, recursive bool) *registration {
		base, err := tr.Parse(uri)
		require.NoError(t, err)
		return &registration{peer: session.PeerID(peer), uri: uri, base: base, local: local, recursive: recursive}
	}

	r := newWatchRegistry()
	assert.True(t, r.add(mk("g1", "vslsfs://share/a.txt", "/share/a.txt", false)))
	assert.False(t, r.add(mk("g1", "vslsfs://share/a.txt", "/share/a.txt", false)))
	assert.True(t, r.add(mk("g1", "vslsfs://share/", "/share", true)))
	assert.True(t, r.add(mk("g2", "vslsfs://share/a.txt", "/share/a.txt", false)))

	got := r.match("/share/a.txt")
	assert.ElementsMatch(t, []target{
		{peer: "g1", uri: "vslsfs://share/a.txt"},
		{peer: "g2", uri: "vslsfs://share/a.txt"},
	}, got)

	assert.Equal(t, []target{{peer: "g1", uri: "vslsfs://share/b/c.txt"}}, r.match("/share/b/c.txt"))
	assert.Empty(t, r.match("/elsewhere/a.txt"))
	assert.Equal(t, []target{{peer: "g1", uri: "vslsfs://share/"}}, r.match("/share"))
}
