// Package translate maps the filesystem's virtual URIs onto paths on the
// host's disk.
//
// A virtual URI carries the filesystem's reserved scheme ("vslsfs" by
// default). The session only understands its own scheme ("vsls"), so a
// virtual URI is rewritten to the session scheme, keeping every other
// component, and then handed to the session's address translation.
package translate

import (
	"context"
	"net/url"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
)

// Option configures a Translator.
type Option func(*Translator)

// WithScheme sets the reserved virtual URI scheme.
func WithScheme(scheme string) Option {
	return func(t *Translator) {
		if scheme != "" {
			t.scheme = scheme
		}
	}
}

// WithSessionScheme sets the scheme the session's address translation
// accepts.
func WithSessionScheme(scheme string) Option {
	return func(t *Translator) {
		if scheme != "" {
			t.sessionScheme = scheme
		}
	}
}

// Translator resolves virtual URIs against a session. It holds no state of
// its own; every call consults the session.
type Translator struct {
	locator       session.Locator
	scheme        string
	sessionScheme string
}

// New creates a Translator. A nil locator makes every Resolve fail with
// SESSION_UNAVAILABLE.
func New(locator session.Locator, opts ...Option) *Translator {
	t := &Translator{
		locator:       locator,
		scheme:        protocol.DefaultScheme,
		sessionScheme: protocol.DefaultSessionScheme,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Scheme returns the reserved virtual URI scheme.
func (t *Translator) Scheme() string { return t.scheme }

// Parse parses raw and checks that it is a virtual URI.
func (t *Translator) Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidArgument, "malformed URI"),
			"uri", raw)
	}
	if u.Scheme == "" {
		return nil, errors.WithContext(
			errors.New(errors.CodeInvalidArgument, "URI has no scheme"),
			"uri", raw)
	}
	if u.Scheme != t.scheme {
		return nil, errors.WithContextMap(
			errors.Newf(errors.CodeSchemeMismatch, "URI scheme %q is not %q", u.Scheme, t.scheme),
			map[string]interface{}{"uri": raw, "scheme": u.Scheme})
	}
	return u, nil
}

// Resolve maps a virtual URI string to a local path.
func (t *Translator) Resolve(ctx context.Context, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CodeSessionUnavailable, "resolve cancelled")
	}

	u, err := t.Parse(raw)
	if err != nil {
		return "", err
	}
	if t.locator == nil || !t.locator.Connected() {
		return "", errors.WithContext(
			errors.New(errors.CodeSessionUnavailable, "no connected session"),
			"uri", raw)
	}

	shared := t.ToSessionURI(u)
	local, err := t.locator.ResolveSharedPathToLocal(shared)
	if err != nil {
		return "", errors.WrapWithContext(err, errors.CodeResolutionFailed,
			"cannot resolve shared path", map[string]interface{}{"uri": raw})
	}
	if local == "" {
		return "", errors.WithContext(
			errors.New(errors.CodeResolutionFailed, "shared path resolved to nothing"),
			"uri", raw)
	}
	return local, nil
}

// ToSessionURI returns a copy of u with the scheme replaced by the session
// scheme.
func (t *Translator) ToSessionURI(u *url.URL) *url.URL {
	out := *u
	if u.User != nil {
		user := *u.User
		out.User = &user
	}
	out.Scheme = t.sessionScheme
	return &out
}

// ToVirtualURI returns a copy of u with the scheme replaced by the virtual
// scheme.
func (t *Translator) ToVirtualURI(u *url.URL) *url.URL {
	out := *u
	if u.User != nil {
		user := *u.User
		out.User = &user
	}
	out.Scheme = t.scheme
	return &out
}
