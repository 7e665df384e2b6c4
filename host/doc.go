// Package host implements the host side of the shared filesystem.
//
// A Dispatcher shares one RPC service on the session and serves the
// operations of package protocol against a storage.Backend. Every request
// is decoded strictly, every URI is translated through the session, and
// every backend failure is returned as STORAGE_ERROR tagged with the
// operation, the local path and a failure reason. Nothing is retried.
//
// # Lifecycle
//
// A Dispatcher moves through Inactive, Starting, Active and Stopped.
// Requests are only served while Active. A request that passed that check
// before Stop runs to completion and its reply is sent if the transport
// still can; requests arriving after Stop fail with SESSION_UNAVAILABLE and
// never touch storage. A stopped Dispatcher cannot be restarted.
//
// # Watching
//
// On activation the Dispatcher opens one watcher over the whole workspace.
// A watch request only records a registration for the calling participant;
// when the workspace watcher reports a change at a registered path (or
// below it, for recursive registrations) that participant receives one
// change notification. There is no unwatch operation: registrations live
// until the Dispatcher stops. Repeated watch requests for the same URI by
// the same participant are collapsed into one registration.
package host
