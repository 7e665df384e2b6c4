// Package guest implements the guest side of the shared filesystem: a
// provider.FileSystemProvider that forwards every call to the host's
// dispatcher as exactly one request.
package guest

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/internal/logging"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/provider"
	"github.com/jmgilman/vslsfs/session"
)

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithServiceName sets the name of the host's shared service.
func WithServiceName(name string) Option {
	return func(p *Proxy) {
		if name != "" {
			p.serviceName = name
		}
	}
}

// WithRequestTimeout bounds every request. Zero means no bound beyond the
// caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// Proxy forwards filesystem calls to the host. It implements
// provider.FileSystemProvider.
//
// Failures keep the code the host reported (STORAGE_ERROR,
// SCHEME_MISMATCH, ...). Failures of the channel itself are
// TRANSPORT_ERROR. Both are the same errors.Error type.
type Proxy struct {
	svc         session.ServiceProxy
	logger      *logging.Logger
	serviceName string
	timeout     time.Duration
	unsubscribe func()

	mu        sync.RWMutex
	closed    bool
	listeners map[int]func([]provider.FileChangeEvent)
	nextID    int
	watches   map[int]*localWatch
}

// localWatch is the guest's record of a watch request.
type localWatch struct {
	uri       *url.URL
	recursive bool
}

// NewProxy connects to the host's shared service and subscribes to its
// change notifications.
func NewProxy(ctx context.Context, sess session.Session, opts ...Option) (*Proxy, error) {
	p := &Proxy{
		logger:      logging.NewNopLogger(),
		serviceName: protocol.DefaultServiceName,
		listeners:   make(map[int]func([]provider.FileChangeEvent)),
		watches:     make(map[int]*localWatch),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "guest", "service", p.serviceName)

	if sess == nil || !sess.Connected() {
		return nil, errors.New(errors.CodeSessionUnavailable, "no connected session")
	}
	svc, err := sess.SharedService(ctx, p.serviceName)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeSessionUnavailable,
			"failed to connect to shared service", map[string]interface{}{"service": p.serviceName})
	}
	if svc == nil {
		return nil, errors.WithContext(
			errors.New(errors.CodeSessionUnavailable, "host does not share the filesystem service"),
			"service", p.serviceName)
	}

	p.svc = svc
	p.unsubscribe = svc.OnNotify(protocol.NotificationChange, p.onChange)
	return p, nil
}

// Close detaches the proxy from the change notifications. Later calls fail
// with SESSION_UNAVAILABLE.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.listeners = make(map[int]func([]provider.FileChangeEvent))
	p.watches = make(map[int]*localWatch)
	p.mu.Unlock()

	p.unsubscribe()
}

func (p *Proxy) request(ctx context.Context, op protocol.Op, args []any) (json.RawMessage, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errors.WithContext(
			errors.New(errors.CodeSessionUnavailable, "guest filesystem proxy is closed"),
			errors.ContextOp, string(op))
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.svc.Request(ctx, string(op), args)
	if err != nil {
		var e errors.Error
		if !errors.As(err, &e) {
			err = errors.Wrap(err, errors.CodeTransport, "request failed")
		}
		p.logger.WithOperation(string(op)).Debug(ctx, "request failed", "code", errors.GetCode(err), "error", err)
		return nil, errors.WithContext(err, errors.ContextOp, string(op))
	}
	return result, nil
}

// call issues one request and decodes its result into out, if out is set.
func (p *Proxy) call(ctx context.Context, op protocol.Op, args []any, out any) error {
	result, err := p.request(ctx, op, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return errors.WithContext(
			errors.Wrap(err, errors.CodeTransport, "malformed result"),
			errors.ContextOp, string(op))
	}
	return nil
}

// Copy copies a file or directory tree on the host.
func (p *Proxy) Copy(ctx context.Context, src, dst *url.URL, opts protocol.CopyOptions) error {
	req := protocol.CopyRequest{Source: src.String(), Destination: dst.String(), Options: opts}
	return p.call(ctx, protocol.OpCopy, req.Args(), nil)
}

// CreateDirectory creates a directory on the host.
func (p *Proxy) CreateDirectory(ctx context.Context, u *url.URL) error {
	return p.call(ctx, protocol.OpCreateDirectory, protocol.URIRequest{URI: u.String()}.Args(), nil)
}

// Delete removes a file or directory on the host.
func (p *Proxy) Delete(ctx context.Context, u *url.URL, opts protocol.DeleteOptions) error {
	return p.call(ctx, protocol.OpDelete, protocol.DeleteRequest{URI: u.String(), Options: opts}.Args(), nil)
}

// ReadFile returns the contents of a file on the host.
func (p *Proxy) ReadFile(ctx context.Context, u *url.URL) ([]byte, error) {
	var data []byte
	if err := p.call(ctx, protocol.OpReadFile, protocol.URIRequest{URI: u.String()}.Args(), &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ReadDirectory lists a directory on the host.
func (p *Proxy) ReadDirectory(ctx context.Context, u *url.URL) ([]protocol.DirEntry, error) {
	var entries []protocol.DirEntry
	if err := p.call(ctx, protocol.OpReadDirectory, protocol.URIRequest{URI: u.String()}.Args(), &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []protocol.DirEntry{}
	}
	return entries, nil
}

// Rename moves a file or directory on the host.
func (p *Proxy) Rename(ctx context.Context, oldURI, newURI *url.URL, opts protocol.RenameOptions) error {
	req := protocol.RenameRequest{OldURI: oldURI.String(), NewURI: newURI.String(), Options: opts}
	return p.call(ctx, protocol.OpRename, req.Args(), nil)
}

// Stat returns metadata of a file on the host.
func (p *Proxy) Stat(ctx context.Context, u *url.URL) (protocol.FileStat, error) {
	var st protocol.FileStat
	err := p.call(ctx, protocol.OpStat, protocol.URIRequest{URI: u.String()}.Args(), &st)
	return st, err
}

// WriteFile replaces the contents of a file on the host.
func (p *Proxy) WriteFile(ctx context.Context, u *url.URL, content []byte, opts protocol.WriteFileOptions) error {
	req := protocol.WriteFileRequest{URI: u.String(), Content: content, Options: opts}
	return p.call(ctx, protocol.OpWriteFile, req.Args(), nil)
}

// Watch asks the host to report changes to u. The host keeps watching for
// the rest of the session; disposing the result only stops this proxy from
// emitting events for u.
//
// The watch is recorded before the request is sent so changes reported
// while the request is in flight are not lost.
func (p *Proxy) Watch(ctx context.Context, u *url.URL, opts protocol.WatchOptions) (provider.Disposable, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watches[id] = &localWatch{uri: u, recursive: opts.Recursive}
	p.mu.Unlock()

	dispose := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watches, id)
	}

	if err := p.call(ctx, protocol.OpWatch, protocol.WatchRequest{URI: u.String(), Options: opts}.Args(), nil); err != nil {
		dispose()
		return nil, err
	}
	return provider.DisposableFunc(dispose), nil
}

// OnDidChangeFile registers a listener for change events.
func (p *Proxy) OnDidChangeFile(fn func([]provider.FileChangeEvent)) provider.Disposable {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return provider.DisposableFunc(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	})
}

func (p *Proxy) onChange(payload json.RawMessage) {
	ctx := context.Background()

	n, err := protocol.DecodeChange(payload)
	if err != nil {
		p.logger.Warn(ctx, "dropping malformed change notification", "error", err)
		return
	}
	u, err := url.Parse(n.URI)
	if err != nil {
		p.logger.Warn(ctx, "dropping change notification with malformed uri", "uri", n.URI, "error", err)
		return
	}

	p.mu.RLock()
	if p.closed || !p.watching(u) {
		p.mu.RUnlock()
		return
	}
	listeners := make([]func([]provider.FileChangeEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.RUnlock()

	events := []provider.FileChangeEvent{{Type: n.Type, URI: u}}
	for _, fn := range listeners {
		fn(events)
	}
}

// watching reports whether a live local watch covers u. Callers hold mu.
func (p *Proxy) watching(u *url.URL) bool {
	for _, w := range p.watches {
		if covers(w, u) {
			return true
		}
	}
	return false
}

func covers(w *localWatch, u *url.URL) bool {
	if w.uri.Scheme != u.Scheme || w.uri.Host != u.Host || w.uri.Opaque != u.Opaque {
		return false
	}
	base, target := cleanPath(w.uri.Path), cleanPath(u.Path)
	if base == target {
		return true
	}
	if !w.recursive {
		return false
	}
	return base == "/" || strings.HasPrefix(target, base+"/")
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

var _ provider.FileSystemProvider = (*Proxy)(nil)
