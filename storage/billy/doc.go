// Package billy provides go-billy backed implementations of
// storage.Backend.
//
// LocalFS wraps billy's osfs rooted at "/" and serves host-local absolute
// paths straight from disk; its watchers are driven by fsnotify. MemoryFS
// wraps billy's memfs and publishes its own mutations to in-process
// watchers, which makes it the backend of choice for tests and demos.
//
// Usage:
//
//	backend := billy.NewLocal(billy.WithTrashDir("/home/me/.vslsfs-trash"))
//	data, err := backend.ReadFile(ctx, "/home/me/project/main.go")
//
//	w, err := backend.Watch("/home/me/project", "**")
//	for ev := range w.Events() {
//	    fmt.Println(ev.Op, ev.Path)
//	}
//
// # Thread Safety
//
// Backends are safe for concurrent use. MemoryFS serializes access with a
// lock because memfs is not.
package billy
