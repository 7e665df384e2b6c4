package netsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"

	"go.lsp.dev/jsonrpc2"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/session"
)

// Guest is the consuming side of a network session. It implements
// session.Session with RoleGuest while its connection is up.
type Guest struct {
	conn   jsonrpc2.Conn
	logger *logging.Logger
	done   chan struct{}

	mu           sync.Mutex
	connected    bool
	listeners    map[int]func(session.Role)
	nextListener int
	subs         map[string]map[int]func(json.RawMessage)
	nextSub      int
	pending      []notification
	wake         chan struct{}
}

type notification struct {
	method string
	params json.RawMessage
}

// Dial joins the session hosted at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Guest, error) {
	o := buildOptions(opts)

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeSessionUnavailable,
			"failed to join session", map[string]interface{}{"addr": addr})
	}

	g := &Guest{
		conn:      jsonrpc2.NewConn(jsonrpc2.NewStream(nc)),
		logger:    o.logger.With("component", "netsession", "side", "guest"),
		done:      make(chan struct{}),
		connected: true,
		listeners: make(map[int]func(session.Role)),
		subs:      make(map[string]map[int]func(json.RawMessage)),
		wake:      make(chan struct{}, 1),
	}
	g.conn.Go(context.Background(), g.handle)
	go g.deliver()
	go g.watch()

	g.logger.Info(ctx, "joined session", "addr", addr)
	return g, nil
}

// handle queues notifications from the host for deliver. Subscribers run
// off the read loop so they may issue requests of their own. The host never
// calls guests, so calls are refused.
func (g *Guest) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	g.mu.Lock()
	if len(g.subs[req.Method()]) == 0 {
		g.mu.Unlock()
		return reply(ctx, nil, fmt.Errorf("method not found: %s", req.Method()))
	}
	g.pending = append(g.pending, notification{
		method: req.Method(),
		params: append(json.RawMessage(nil), req.Params()...),
	})
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return reply(ctx, nil, nil)
}

// deliver hands queued notifications to subscribers in arrival order until
// the connection closes.
func (g *Guest) deliver() {
	for {
		select {
		case <-g.wake:
		case <-g.conn.Done():
			return
		}

		for {
			g.mu.Lock()
			if len(g.pending) == 0 {
				g.mu.Unlock()
				break
			}
			n := g.pending[0]
			g.pending = g.pending[1:]
			subs := g.subs[n.method]
			fns := make([]func(json.RawMessage), 0, len(subs))
			for _, fn := range subs {
				fns = append(fns, fn)
			}
			g.mu.Unlock()

			for _, fn := range fns {
				fn(n.params)
			}
		}
	}
}

func (g *Guest) watch() {
	<-g.conn.Done()

	g.mu.Lock()
	g.connected = false
	fns := make([]func(session.Role), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	g.logger.Info(context.Background(), "left session")
	for _, fn := range fns {
		fn(session.RoleNone)
	}
	close(g.done)
}

// Close leaves the session and waits until role listeners were told.
func (g *Guest) Close() error {
	err := g.conn.Close()
	<-g.done
	return err
}

// Done is closed once the guest has left the session.
func (g *Guest) Done() <-chan struct{} { return g.done }

// Role returns RoleGuest while connected.
func (g *Guest) Role() session.Role {
	if !g.Connected() {
		return session.RoleNone
	}
	return session.RoleGuest
}

// Connected reports whether the connection to the host is up.
func (g *Guest) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// OnRoleChanged registers fn for role changes.
func (g *Guest) OnRoleChanged(fn func(session.Role)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextListener
	g.nextListener++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// ResolveSharedPathToLocal fails: only the host has the shared folder.
func (g *Guest) ResolveSharedPathToLocal(u *url.URL) (string, error) {
	return "", fmt.Errorf("guest cannot resolve %s to a local path", u)
}

// ShareService returns nil: guests do not share services.
func (g *Guest) ShareService(context.Context, string) (session.Service, error) {
	return nil, nil
}

// UnshareService always fails with CodeNotFound.
func (g *Guest) UnshareService(_ context.Context, name string) error {
	return errors.WithContext(
		errors.Newf(errors.CodeNotFound, "service %q is not shared by this guest", name),
		"service", name)
}

// SharedService asks the host for name. It returns nil when the host does
// not share it or the guest is disconnected.
func (g *Guest) SharedService(ctx context.Context, name string) (session.ServiceProxy, error) {
	if !g.Connected() {
		return nil, nil
	}
	var shared bool
	if _, err := g.conn.Call(ctx, methodLookup, []string{name}, &shared); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeTransport, "failed to look up service"),
			"service", name)
	}
	if !shared {
		return nil, nil
	}
	return &proxy{guest: g, name: name}, nil
}

func (g *Guest) subscribe(method string, fn func(json.RawMessage)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[method] == nil {
		g.subs[method] = make(map[int]func(json.RawMessage))
	}
	id := g.nextSub
	g.nextSub++
	g.subs[method][id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs[method], id)
		if len(g.subs[method]) == 0 {
			delete(g.subs, method)
		}
	}
}

type proxy struct {
	guest *Guest
	name  string
}

func (p *proxy) Request(ctx context.Context, op string, args []any) (json.RawMessage, error) {
	if !p.guest.Connected() {
		return nil, errors.WithContext(
			errors.New(errors.CodeTransport, "session disconnected"),
			errors.ContextOp, op)
	}
	if args == nil {
		args = []any{}
	}

	var raw json.RawMessage
	if _, err := p.guest.conn.Call(ctx, p.name+"/"+op, args, &raw); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeTransport, "request failed"),
			errors.ContextOp, op)
	}
	return session.DecodeReply(raw)
}

func (p *proxy) OnNotify(name string, fn func(json.RawMessage)) func() {
	return p.guest.subscribe(p.name+"/"+name, fn)
}

// Compile-time interface checks.
var (
	_ session.Session      = (*Guest)(nil)
	_ session.ServiceProxy = (*proxy)(nil)
)
