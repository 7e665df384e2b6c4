package netsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.lsp.dev/jsonrpc2"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
)

const methodLookup = "session/lookupService"

// Option configures a Host or Guest.
type Option func(*options)

type options struct {
	logger        *logging.Logger
	sessionScheme string
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.NewNopLogger(), sessionScheme: protocol.DefaultSessionScheme}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSessionScheme sets the scheme of the session URIs the host resolves.
func WithSessionScheme(scheme string) Option {
	return func(o *options) {
		if scheme != "" {
			o.sessionScheme = scheme
		}
	}
}

// Host is the sharing side of a network session. It implements
// session.Session with RoleHost until it is closed.
type Host struct {
	root          string
	sessionScheme string
	logger        *logging.Logger
	listener      net.Listener

	mu           sync.RWMutex
	closed       bool
	peers        map[session.PeerID]jsonrpc2.Conn
	nextPeer     int
	services     map[string]*service
	listeners    map[int]func(session.Role)
	nextListener int

	wg sync.WaitGroup
}

// Listen shares the directory root with guests that connect to addr.
func Listen(ctx context.Context, addr, root string, opts ...Option) (*Host, error) {
	o := buildOptions(opts)

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeSessionUnavailable,
			"failed to listen for guests", map[string]interface{}{"addr": addr})
	}

	h := &Host{
		root:          filepath.Clean(root),
		sessionScheme: o.sessionScheme,
		logger:        o.logger.With("component", "netsession", "side", "host"),
		listener:      l,
		peers:         make(map[session.PeerID]jsonrpc2.Conn),
		services:      make(map[string]*service),
		listeners:     make(map[int]func(session.Role)),
	}

	h.wg.Add(1)
	go h.accept()

	h.logger.Info(ctx, "listening for guests", "addr", l.Addr().String(), "root", h.root)
	return h, nil
}

// Addr returns the address guests dial.
func (h *Host) Addr() net.Addr { return h.listener.Addr() }

// Peers returns the connected guests in id order.
func (h *Host) Peers() []session.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]session.PeerID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Host) accept() {
	defer h.wg.Done()
	for {
		nc, err := h.listener.Accept()
		if err != nil {
			return
		}
		h.serve(nc)
	}
}

func (h *Host) serve(nc net.Conn) {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(nc))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.nextPeer++
	peer := session.PeerID(fmt.Sprintf("peer-%d", h.nextPeer))
	h.peers[peer] = conn
	h.mu.Unlock()

	ctx := context.Background()
	h.logger.Info(ctx, "guest joined", "peer", string(peer), "remote", nc.RemoteAddr().String())
	conn.Go(ctx, h.handler(peer))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-conn.Done()
		h.mu.Lock()
		delete(h.peers, peer)
		h.mu.Unlock()
		h.logger.Info(ctx, "guest left", "peer", string(peer))
	}()
}

// handler answers requests from one guest. Each request runs on its own
// goroutine so a slow storage call does not hold up the connection.
func (h *Host) handler(peer session.PeerID) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		go h.handle(ctx, peer, reply, req)
		return nil
	}
}

func (h *Host) handle(ctx context.Context, peer session.PeerID, reply jsonrpc2.Replier, req jsonrpc2.Request) {
	method := req.Method()
	if method == methodLookup {
		var args []string
		if err := json.Unmarshal(req.Params(), &args); err != nil || len(args) != 1 {
			_ = reply(ctx, nil, fmt.Errorf("%s expects one service name", methodLookup))
			return
		}
		_ = reply(ctx, h.service(args[0]) != nil, nil)
		return
	}

	env := h.dispatch(ctx, peer, method, req.Params())
	if err := reply(ctx, env, nil); err != nil {
		h.logger.Debug(ctx, "failed to send reply", "peer", string(peer), "method", method, "error", err)
	}
}

// dispatch runs a service handler and wraps its outcome in a reply envelope.
func (h *Host) dispatch(ctx context.Context, peer session.PeerID, method string, params json.RawMessage) *session.Reply {
	fail := func(err error) *session.Reply {
		env, _ := session.EncodeReply(nil, err)
		return env
	}

	i := strings.LastIndex(method, "/")
	if i <= 0 {
		return fail(errors.Newf(errors.CodeTransport, "method not found: %s", method))
	}
	name, op := method[:i], method[i+1:]

	svc := h.service(name)
	if svc == nil {
		return fail(errors.WithContext(
			errors.Newf(errors.CodeTransport, "service %q is not shared", name),
			"service", name))
	}
	handler, ok := svc.handler(op)
	if !ok {
		return fail(session.ErrMethodNotFound(name, op))
	}

	var args []json.RawMessage
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return fail(errors.WithContext(
				errors.Wrap(err, errors.CodeInvalidArgument, "params must be a positional array"),
				errors.ContextOp, op))
		}
	}

	env, err := session.EncodeReply(handler(ctx, &session.Call{Peer: peer, Op: op, Args: args}))
	if err != nil {
		return fail(err)
	}
	return env
}

func (h *Host) service(name string) *service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.services[name]
}

// Close stops accepting guests, drops every connection and reports
// RoleNone to role listeners.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]jsonrpc2.Conn, 0, len(h.peers))
	for _, c := range h.peers {
		conns = append(conns, c)
	}
	h.services = make(map[string]*service)
	fns := make([]func(session.Role), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	err := h.listener.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	h.wg.Wait()

	for _, fn := range fns {
		fn(session.RoleNone)
	}
	return err
}

// Role returns RoleHost until the host is closed.
func (h *Host) Role() session.Role {
	if !h.Connected() {
		return session.RoleNone
	}
	return session.RoleHost
}

// Connected reports whether the host still accepts guests.
func (h *Host) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed
}

// OnRoleChanged registers fn for role changes.
func (h *Host) OnRoleChanged(fn func(session.Role)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// ResolveSharedPathToLocal maps a session URI under the shared root.
func (h *Host) ResolveSharedPathToLocal(u *url.URL) (string, error) {
	return session.ResolveUnder(h.root, h.sessionScheme, u)
}

// ShareService publishes a service to guests. It returns nil when the host
// is closed or name is already shared.
func (h *Host) ShareService(_ context.Context, name string) (session.Service, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil
	}
	if _, ok := h.services[name]; ok {
		return nil, nil
	}
	svc := &service{host: h, name: name, handlers: make(map[string]session.Handler)}
	h.services[name] = svc
	return svc, nil
}

// UnshareService withdraws a service.
func (h *Host) UnshareService(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.services[name]; !ok {
		return errors.WithContext(
			errors.Newf(errors.CodeNotFound, "service %q is not shared", name),
			"service", name)
	}
	delete(h.services, name)
	return nil
}

// SharedService returns nil: a host consumes no services.
func (h *Host) SharedService(context.Context, string) (session.ServiceProxy, error) {
	return nil, nil
}

type service struct {
	host *Host
	name string

	mu       sync.RWMutex
	handlers map[string]session.Handler
}

func (v *service) Name() string { return v.name }

func (v *service) OnRequest(op string, h session.Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[op] = h
}

func (v *service) handler(op string) (session.Handler, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	h, ok := v.handlers[op]
	return h, ok
}

func (v *service) Notify(ctx context.Context, peer session.PeerID, name string, payload any) error {
	v.host.mu.RLock()
	conn, ok := v.host.peers[peer]
	v.host.mu.RUnlock()
	if !ok {
		return errors.WithContext(
			errors.Newf(errors.CodeTransport, "peer %s is not connected", peer),
			"peer", string(peer))
	}
	if err := conn.Notify(ctx, v.name+"/"+name, payload); err != nil {
		return errors.WithContext(
			errors.Wrap(err, errors.CodeTransport, "failed to send notification"),
			"peer", string(peer))
	}
	return nil
}

// Compile-time interface checks.
var (
	_ session.Session = (*Host)(nil)
	_ session.Service = (*service)(nil)
)
