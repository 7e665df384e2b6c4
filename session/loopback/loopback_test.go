package loopback

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/session"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSession_Resolve(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	n := NewNetwork(root)
	host := n.Join(session.RoleHost)

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"vsls:/a/b.txt", filepath.Join(root, "a", "b.txt"), false},
		{"vsls://share/a.txt", filepath.Join(root, "a.txt"), false},
		{"vsls://share", root, false},
		{"vsls:/", root, false},
		{"vsls:/a/../b", filepath.Join(root, "b"), false},
		{"vsls:/../etc/passwd", "", true},
		{"vsls:/a/../../x", "", true},
		{"vslsfs:/a", "", true},
		{"vsls:opaque", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := host.ResolveSharedPathToLocal(mustURL(t, tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	guest := n.Join(session.RoleGuest)
	_, err := guest.ResolveSharedPathToLocal(mustURL(t, "vsls:/a"))
	require.Error(t, err)
}

func TestSession_RoleChanges(t *testing.T) {
	n := NewNetwork(t.TempDir())
	s := n.Join(session.RoleNone)

	var got []session.Role
	unsubscribe := s.OnRoleChanged(func(r session.Role) { got = append(got, r) })

	s.SetRole(session.RoleHost)
	s.SetRole(session.RoleHost)
	s.SetRole(session.RoleGuest)
	unsubscribe()
	s.SetRole(session.RoleHost)

	assert.Equal(t, []session.Role{session.RoleHost, session.RoleGuest}, got)
	assert.Equal(t, session.RoleHost, s.Role())
}

func TestSession_ShareService(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(t.TempDir())
	host := n.Join(session.RoleHost)
	guest := n.Join(session.RoleGuest)

	svc, err := guest.ShareService(ctx, "fs")
	require.NoError(t, err)
	assert.Nil(t, svc, "guests cannot share")

	p, err := guest.SharedService(ctx, "fs")
	require.NoError(t, err)
	assert.Nil(t, p)

	svc, err = host.ShareService(ctx, "fs")
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Equal(t, "fs", svc.Name())

	again, err := host.ShareService(ctx, "fs")
	require.NoError(t, err)
	assert.Nil(t, again, "a shared name cannot be taken twice")

	p, err = guest.SharedService(ctx, "fs")
	require.NoError(t, err)
	assert.NotNil(t, p)

	require.Error(t, guest.UnshareService(ctx, "fs"))
	require.NoError(t, host.UnshareService(ctx, "fs"))
	require.Error(t, host.UnshareService(ctx, "fs"))
}

func TestProxy_Request(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(t.TempDir())
	host := n.Join(session.RoleHost)
	guest := n.Join(session.RoleGuest)

	svc, err := host.ShareService(ctx, "fs")
	require.NoError(t, err)

	var seen *session.Call
	svc.OnRequest("echo", func(ctx context.Context, call *session.Call) (any, error) {
		seen = call
		var s string
		if err := json.Unmarshal(call.Args[0], &s); err != nil {
			return nil, err
		}
		return map[string]string{"echo": s}, nil
	})
	svc.OnRequest("fail", func(ctx context.Context, call *session.Call) (any, error) {
		return nil, errors.Storage(assert.AnError, "delete", "/x")
	})

	p, err := guest.SharedService(ctx, "fs")
	require.NoError(t, err)

	result, err := p.Request(ctx, "echo", []any{"hi", []byte{1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, string(result))
	require.NotNil(t, seen)
	assert.Equal(t, guest.ID(), seen.Peer)
	assert.Equal(t, `"AQ=="`, string(seen.Args[1]))

	_, err = p.Request(ctx, "fail", nil)
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))

	_, err = p.Request(ctx, "missing", nil)
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
	assert.Contains(t, err.Error(), "method not found")
}

func TestProxy_RequestTimeout(t *testing.T) {
	n := NewNetwork(t.TempDir())
	host := n.Join(session.RoleHost)
	guest := n.Join(session.RoleGuest)

	svc, err := host.ShareService(context.Background(), "fs")
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	svc.OnRequest("slow", func(ctx context.Context, call *session.Call) (any, error) {
		<-release
		return nil, nil
	})

	p, err := guest.SharedService(context.Background(), "fs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Request(ctx, "slow", nil)
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
}

func TestProxy_AfterUnshareAndLeave(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(t.TempDir())
	host := n.Join(session.RoleHost)
	guest := n.Join(session.RoleGuest)

	svc, err := host.ShareService(ctx, "fs")
	require.NoError(t, err)
	svc.OnRequest("ping", func(context.Context, *session.Call) (any, error) { return "pong", nil })

	p, err := guest.SharedService(ctx, "fs")
	require.NoError(t, err)

	host.Leave()
	assert.False(t, host.Connected())
	assert.Equal(t, session.RoleNone, host.Role())

	_, err = p.Request(ctx, "ping", nil)
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))

	guest.Leave()
	_, err = p.Request(ctx, "ping", nil)
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
}

func TestService_Notify(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(t.TempDir())
	host := n.Join(session.RoleHost)
	g1 := n.Join(session.RoleGuest)
	g2 := n.Join(session.RoleGuest)

	svc, err := host.ShareService(ctx, "fs")
	require.NoError(t, err)

	var mu sync.Mutex
	received := map[session.PeerID][]string{}
	for _, g := range []*Session{g1, g2} {
		p, err := g.SharedService(ctx, "fs")
		require.NoError(t, err)
		id := g.ID()
		p.OnNotify("change", func(payload json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			received[id] = append(received[id], string(payload))
		})
	}

	require.NoError(t, svc.Notify(ctx, g1.ID(), "change", map[string]int{"type": 1}))

	mu.Lock()
	assert.Equal(t, []string{`{"type":1}`}, received[g1.ID()])
	assert.Empty(t, received[g2.ID()])
	mu.Unlock()

	g2.Leave()
	err = svc.Notify(ctx, g2.ID(), "change", nil)
	assert.Equal(t, errors.CodeTransport, errors.GetCode(err))
}
