// Package netsession carries a session over TCP using JSON-RPC 2.0.
//
// The host listens and every accepted connection becomes a guest peer. A
// request for operation op on service svc is sent as method "svc/op" with
// the argument list as positional params; the result is the session reply
// envelope, so remote error codes survive the trip. Notifications travel the
// other way as method "svc/name". Guests learn whether a service is shared
// through the "session/lookupService" method.
//
// When the connection drops, the guest's role becomes RoleNone and its
// role listeners fire, which is how a controller notices that the host left.
package netsession
