// Package storage defines the local storage backend the host dispatcher
// executes guest requests against.
//
// The contract is split into small interfaces that compose into Backend:
//
//   - ReadBackend: ReadFile, ReadDir, Stat
//   - WriteBackend: WriteFile, CreateDirectory
//   - ManageBackend: Copy, Delete, Rename
//   - WatchBackend: Watch
//
// All paths are host-local paths as produced by the session's address
// translation. Backends report failures as *fs.PathError values wrapping
// fs.ErrNotExist, fs.ErrExist, fs.ErrPermission or one of the sentinels in
// this package, so callers can classify them with Reason.
//
// Implementations live in subpackages; see storage/billy for the go-billy
// backed local and in-memory backends.
package storage
