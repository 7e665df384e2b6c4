// Package session defines the collaboration session the filesystem runs on
// top of. The session itself (connection, authentication, role
// assignment) lives outside this module; the host dispatcher and the guest
// proxy consume it only through these interfaces.
package session

import (
	"context"
	"encoding/json"
	"net/url"
)

// Role is the local participant's role in a session.
type Role int

const (
	// RoleNone means no session, or a session without a role yet.
	RoleNone Role = iota
	// RoleHost means the local disk is the source of truth.
	RoleHost
	// RoleGuest means files are accessed through the host.
	RoleGuest
)

// String returns a string representation of the Role.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// PeerID identifies a session participant.
type PeerID string

// Locator translates session-relative URIs into local paths.
type Locator interface {
	// Connected reports whether the session transport is connected.
	Connected() bool

	// ResolveSharedPathToLocal maps a URI with the session's own scheme to
	// a path on the local disk.
	ResolveSharedPathToLocal(u *url.URL) (string, error)
}

// Session is the local participant's view of a collaboration session.
type Session interface {
	Locator

	// Role returns the current role.
	Role() Role

	// OnRoleChanged registers fn to be called with the new role whenever it
	// changes. The returned function removes the registration.
	OnRoleChanged(fn func(Role)) (unsubscribe func())

	// ShareService exposes a named RPC service to the other participants.
	// It returns a nil Service and nil error when the session refuses.
	ShareService(ctx context.Context, name string) (Service, error)

	// UnshareService withdraws a service shared with ShareService.
	UnshareService(ctx context.Context, name string) error

	// SharedService connects to a service shared by the host. It returns a
	// nil ServiceProxy and nil error when no such service is shared.
	SharedService(ctx context.Context, name string) (ServiceProxy, error)
}

// Call is one incoming request.
type Call struct {
	// Peer is the participant that issued the request.
	Peer PeerID
	// Op is the operation name.
	Op string
	// Args are the positional arguments, still encoded.
	Args []json.RawMessage
}

// Handler serves one operation. The returned value is JSON encoded and sent
// back to the caller; an error is sent as an errors.ErrorResponse.
type Handler func(ctx context.Context, call *Call) (any, error)

// Service is the host side of a shared RPC service.
type Service interface {
	// Name returns the name the service is shared under.
	Name() string

	// OnRequest installs the handler for op. Requests for operations
	// without a handler fail in the transport.
	OnRequest(op string, h Handler)

	// Notify sends an unsolicited notification to one participant.
	Notify(ctx context.Context, peer PeerID, name string, payload any) error
}

// ServiceProxy is the guest side of a shared RPC service.
type ServiceProxy interface {
	// Request issues one request and waits for its reply. Transport
	// failures are TRANSPORT_ERROR; failures reported by the host keep the
	// host's error code.
	Request(ctx context.Context, op string, args []any) (json.RawMessage, error)

	// OnNotify registers fn for notifications with the given name. The
	// returned function removes the registration.
	OnNotify(name string, fn func(payload json.RawMessage)) (unsubscribe func())
}
