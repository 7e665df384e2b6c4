// Package loopback is an in-process session network. One participant hosts
// a folder on the local disk and any number of guests reach it through
// shared services, with every argument and result passed through JSON the
// way a real transport would.
package loopback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
)

// Network connects the participants of one session.
type Network struct {
	root          string
	sessionScheme string

	mu       sync.RWMutex
	services map[serviceKey]*service
	members  map[session.PeerID]*Session
	nextID   int
}

// serviceKey names a service shared by one participant.
type serviceKey struct {
	owner session.PeerID
	name  string
}

// NewNetwork creates a network whose host shares the directory root.
func NewNetwork(root string) *Network {
	return &Network{
		root:          filepath.Clean(root),
		sessionScheme: protocol.DefaultSessionScheme,
		services:      make(map[serviceKey]*service),
		members:       make(map[session.PeerID]*Session),
	}
}

// Root returns the shared directory.
func (n *Network) Root() string { return n.root }

// Join adds a connected participant with the given role.
func (n *Network) Join(role session.Role) *Session {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s := &Session{
		net:       n,
		id:        session.PeerID(fmt.Sprintf("peer-%d", n.nextID)),
		role:      role,
		connected: true,
		listeners: make(map[int]func(session.Role)),
		subs:      make(map[string]map[int]func(json.RawMessage)),
	}
	n.members[s.id] = s
	return s
}

func (n *Network) member(id session.PeerID) (*Session, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.members[id]
	return s, ok
}

// lookup finds the service shared under name, preferring the one shared by
// the participant that currently hosts.
func (n *Network) lookup(name string) (*service, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var found *service
	for key, svc := range n.services {
		if key.name != name {
			continue
		}
		if svc.owner.Role() == session.RoleHost {
			return svc, true
		}
		found = svc
	}
	return found, found != nil
}

func (n *Network) resolve(u *url.URL) (string, error) {
	return session.ResolveUnder(n.root, n.sessionScheme, u)
}

// Session is one participant. It implements session.Session.
type Session struct {
	net *Network
	id  session.PeerID

	mu           sync.Mutex
	role         session.Role
	connected    bool
	listeners    map[int]func(session.Role)
	nextListener int
	// subs holds notification callbacks per service and notification name.
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int
}

// ID returns the participant's peer id.
func (s *Session) ID() session.PeerID { return s.id }

// Role returns the current role.
func (s *Session) Role() session.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Connected reports whether the participant is still in the session.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetRole changes the role and notifies role listeners synchronously.
// Setting the current role again is a no-op.
func (s *Session) SetRole(role session.Role) {
	s.mu.Lock()
	if s.role == role {
		s.mu.Unlock()
		return
	}
	s.role = role
	listeners := make([]func(session.Role), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(role)
	}
}

// Leave disconnects the participant. Its role drops to RoleNone and every
// service it shared is withdrawn.
func (s *Session) Leave() {
	s.net.mu.Lock()
	for key := range s.net.services {
		if key.owner == s.id {
			delete(s.net.services, key)
		}
	}
	delete(s.net.members, s.id)
	s.net.mu.Unlock()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.SetRole(session.RoleNone)
}

// OnRoleChanged registers fn for role changes.
func (s *Session) OnRoleChanged(fn func(session.Role)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// ResolveSharedPathToLocal maps a session URI to a path under the shared
// root. Only the host has local paths.
func (s *Session) ResolveSharedPathToLocal(u *url.URL) (string, error) {
	if role := s.Role(); role != session.RoleHost {
		return "", fmt.Errorf("participant %s is %s, not host", s.id, role)
	}
	return s.net.resolve(u)
}

// ShareService shares a service under name. It returns nil when the
// participant is not a connected host or already shares name.
func (s *Session) ShareService(ctx context.Context, name string) (session.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Connected() || s.Role() != session.RoleHost {
		return nil, nil
	}

	key := serviceKey{owner: s.id, name: name}
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if _, ok := s.net.services[key]; ok {
		return nil, nil
	}
	svc := &service{
		name:     name,
		owner:    s,
		handlers: make(map[string]session.Handler),
	}
	s.net.services[key] = svc
	return svc, nil
}

// UnshareService withdraws a service this participant shared.
func (s *Session) UnshareService(ctx context.Context, name string) error {
	key := serviceKey{owner: s.id, name: name}
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if _, ok := s.net.services[key]; !ok {
		return errors.WithContext(
			errors.Newf(errors.CodeNotFound, "service %q is not shared by %s", name, s.id),
			"service", name)
	}
	delete(s.net.services, key)
	return nil
}

// SharedService returns a proxy for the service shared under name, or nil
// when none is. Requests go to whichever participant shares the service
// at the time of the request.
func (s *Session) SharedService(ctx context.Context, name string) (session.ServiceProxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Connected() {
		return nil, nil
	}
	if _, ok := s.net.lookup(name); !ok {
		return nil, nil
	}
	return &proxy{session: s, name: name}, nil
}

func (s *Session) subscribe(service, name string, fn func(json.RawMessage)) func() {
	key := service + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(json.RawMessage))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[key][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}

func (s *Session) deliver(service, name string, payload json.RawMessage) {
	key := service + "/" + name
	s.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// service is a service shared by a host.
type service struct {
	name  string
	owner *Session

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
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeTransport, "notify cancelled")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.CodeTransport, "failed to encode notification")
	}
	target, ok := v.owner.net.member(peer)
	if !ok || !target.Connected() {
		return errors.WithContext(
			errors.Newf(errors.CodeTransport, "peer %s is not connected", peer),
			"peer", string(peer))
	}
	target.deliver(v.name, name, data)
	return nil
}

// proxy is a guest's handle on a shared service.
type proxy struct {
	session *Session
	name    string
}

func (p *proxy) Request(ctx context.Context, op string, args []any) (json.RawMessage, error) {
	if !p.session.Connected() {
		return nil, errors.New(errors.CodeTransport, "session disconnected")
	}
	svc, ok := p.session.net.lookup(p.name)
	if !ok {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeTransport, "service %q is no longer shared", p.name),
			"service", p.name)
	}
	h, ok := svc.handler(op)
	if !ok {
		return nil, session.ErrMethodNotFound(p.name, op)
	}

	call := &session.Call{Peer: p.session.id, Op: op, Args: make([]json.RawMessage, len(args))}
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeTransport, "failed to encode argument %d", i)
		}
		call.Args[i] = data
	}

	done := make(chan []byte, 1)
	go func() {
		reply, err := session.EncodeReply(h(ctx, call))
		if err != nil {
			reply, _ = session.EncodeReply(nil, err)
		}
		data, _ := json.Marshal(reply)
		done <- data
	}()

	select {
	case data := <-done:
		return session.DecodeReply(data)
	case <-ctx.Done():
		return nil, errors.WithContext(
			errors.Wrap(ctx.Err(), errors.CodeTransport, "request abandoned"),
			errors.ContextOp, op)
	}
}

func (p *proxy) OnNotify(name string, fn func(json.RawMessage)) func() {
	return p.session.subscribe(p.name, name, fn)
}

// Compile-time interface checks.
var (
	_ session.Session      = (*Session)(nil)
	_ session.Service      = (*service)(nil)
	_ session.ServiceProxy = (*proxy)(nil)
)
