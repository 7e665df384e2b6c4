package billy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/vslsfs/storage"
)

const (
	defaultCopyConcurrency = 4
	defaultFileMode        = 0o644
	defaultDirMode         = 0o755
)

// Option configures backend creation.
type Option func(*config)

type config struct {
	trashDir        string
	copyConcurrency int
}

// WithTrashDir enables delete-to-trash. Entries deleted with UseTrash are
// moved into dir instead of being removed. Without a trash directory,
// UseTrash deletes permanently.
func WithTrashDir(dir string) Option {
	return func(c *config) {
		c.trashDir = dir
	}
}

// WithCopyConcurrency sets how many files of one directory are copied in
// parallel. Values below 1 are ignored.
func WithCopyConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.copyConcurrency = n
		}
	}
}

func newConfig(defaults config, opts []Option) config {
	cfg := defaults
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// backend implements the storage operations shared by LocalFS and MemoryFS.
type backend struct {
	bfs             billy.Filesystem
	trashDir        string
	copyConcurrency int

	// mu is set for filesystems that are not safe for concurrent use.
	mu *sync.RWMutex
	// changed publishes mutations for backends without an OS watcher.
	changed func(p string, op storage.EventOp)
}

// normalize converts paths to forward slashes and cleans them.
func normalize(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

func pathError(op, p string, err error) error {
	return &fs.PathError{Op: op, Path: p, Err: err}
}

func (b *backend) rlock() func() {
	if b.mu == nil {
		return func() {}
	}
	b.mu.RLock()
	return b.mu.RUnlock
}

func (b *backend) lock() func() {
	if b.mu == nil {
		return func() {}
	}
	b.mu.Lock()
	return b.mu.Unlock
}

func (b *backend) emit(p string, op storage.EventOp) {
	if b.changed != nil {
		b.changed(p, op)
	}
}

// exists reports whether p exists without following a final symlink.
func (b *backend) exists(p string) (fs.FileInfo, bool, error) {
	info, err := b.bfs.Lstat(p)
	if err == nil {
		return info, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	return nil, false, err
}

// ReadFile reads the whole file.
func (b *backend) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer b.rlock()()

	name = normalize(name)
	info, err := b.bfs.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, pathError("read", name, storage.ErrIsDirectory)
	}

	f, err := b.bfs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// ReadDir lists a directory. Symlinked entries report the type of their
// target; broken links report fs.ModeIrregular.
func (b *backend) ReadDir(ctx context.Context, name string) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer b.rlock()()

	name = normalize(name)
	info, err := b.bfs.Stat(name)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, pathError("readdir", name, storage.ErrNotDirectory)
	}

	infos, err := b.bfs.ReadDir(name)
	if err != nil {
		return nil, err
	}

	entries := make([]storage.Entry, 0, len(infos))
	for _, fi := range infos {
		entry := storage.Entry{Name: fi.Name(), Mode: fi.Mode().Type()}
		if fi.Mode()&fs.ModeSymlink != 0 {
			entry.Symlink = true
			entry.Mode = fs.ModeIrregular
			if target, err := b.bfs.Stat(b.bfs.Join(name, fi.Name())); err == nil {
				entry.Mode = target.Mode().Type()
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stat returns file metadata. The change time is not portable across
// billy backends and is reported as the modification time.
func (b *backend) Stat(ctx context.Context, name string) (storage.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.FileInfo{}, err
	}
	defer b.rlock()()

	name = normalize(name)
	linfo, err := b.bfs.Lstat(name)
	if err != nil {
		return storage.FileInfo{}, err
	}

	out := storage.FileInfo{
		Mode:       linfo.Mode().Type(),
		Size:       linfo.Size(),
		ModTime:    linfo.ModTime(),
		ChangeTime: linfo.ModTime(),
	}
	if linfo.Mode()&fs.ModeSymlink != 0 {
		out.Symlink = true
		out.Mode = fs.ModeIrregular
		if target, err := b.bfs.Stat(name); err == nil {
			out.Mode = target.Mode().Type()
			out.Size = target.Size()
			out.ModTime = target.ModTime()
			out.ChangeTime = target.ModTime()
		}
	}
	return out, nil
}

// WriteFile replaces the contents of name.
func (b *backend) WriteFile(ctx context.Context, name string, data []byte, opts storage.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer b.lock()()

	name = normalize(name)
	info, err := b.bfs.Stat(name)
	existed := err == nil
	switch {
	case existed:
		if info.IsDir() {
			return pathError("write", name, storage.ErrIsDirectory)
		}
		if !opts.Overwrite {
			return pathError("write", name, fs.ErrExist)
		}
	case errors.Is(err, fs.ErrNotExist):
		if !opts.Create {
			return pathError("write", name, fs.ErrNotExist)
		}
		if err := b.checkParent("write", name); err != nil {
			return err
		}
	default:
		return err
	}

	f, err := b.bfs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, defaultFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if existed {
		b.emit(name, storage.OpChanged)
	} else {
		b.emit(name, storage.OpCreated)
	}
	return nil
}

// checkParent fails unless the parent of name is an existing directory.
func (b *backend) checkParent(op, name string) error {
	parent, err := b.bfs.Stat(path.Dir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return pathError(op, name, fs.ErrNotExist)
	}
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return pathError(op, name, storage.ErrNotDirectory)
	}
	return nil
}

// checkMove rejects moving or copying src into itself or over one of its
// ancestors, and requires the parent of dst to exist.
func (b *backend) checkMove(op, src, dst string) error {
	if storage.Within(dst, src) || storage.Within(src, dst) {
		return pathError(op, dst, fs.ErrInvalid)
	}
	return b.checkParent(op, dst)
}

// CreateDirectory creates name and any missing parents.
func (b *backend) CreateDirectory(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer b.lock()()

	name = normalize(name)
	info, ok, err := b.exists(name)
	if err != nil {
		return err
	}
	if ok {
		if info.IsDir() {
			return nil
		}
		return pathError("mkdir", name, fs.ErrExist)
	}

	if err := b.bfs.MkdirAll(name, defaultDirMode); err != nil {
		return err
	}
	b.emit(name, storage.OpCreated)
	return nil
}

// Delete removes a file or directory.
func (b *backend) Delete(ctx context.Context, name string, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer b.lock()()

	name = normalize(name)
	info, ok, err := b.exists(name)
	if err != nil {
		return err
	}
	if !ok {
		return pathError("delete", name, fs.ErrNotExist)
	}

	if info.IsDir() && !opts.Recursive {
		children, err := b.bfs.ReadDir(name)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return pathError("delete", name, storage.ErrNotEmpty)
		}
	}

	switch {
	case opts.UseTrash && b.trashDir != "":
		err = b.moveToTrash(name)
	case info.IsDir():
		err = util.RemoveAll(b.bfs, name)
	default:
		err = b.bfs.Remove(name)
	}
	if err != nil {
		return err
	}

	b.emit(name, storage.OpDeleted)
	return nil
}

func (b *backend) moveToTrash(name string) error {
	trash := normalize(b.trashDir)
	if err := b.bfs.MkdirAll(trash, defaultDirMode); err != nil {
		return err
	}
	target := b.bfs.Join(trash, fmt.Sprintf("%s.%d", path.Base(name), time.Now().UnixNano()))
	return b.bfs.Rename(name, target)
}

// Rename moves oldname to newname.
func (b *backend) Rename(ctx context.Context, oldname, newname string, opts storage.RenameOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer b.lock()()

	oldname, newname = normalize(oldname), normalize(newname)
	if _, ok, err := b.exists(oldname); err != nil {
		return err
	} else if !ok {
		return pathError("rename", oldname, fs.ErrNotExist)
	}
	if oldname == newname {
		return nil
	}
	if err := b.checkMove("rename", oldname, newname); err != nil {
		return err
	}

	if err := b.clearDestination("rename", newname, opts.Overwrite); err != nil {
		return err
	}
	if err := b.bfs.Rename(oldname, newname); err != nil {
		return err
	}

	b.emit(oldname, storage.OpDeleted)
	b.emit(newname, storage.OpCreated)
	return nil
}

// clearDestination fails with fs.ErrExist if dst exists and overwrite is
// false, and removes it otherwise.
func (b *backend) clearDestination(op, dst string, overwrite bool) error {
	_, ok, err := b.exists(dst)
	if err != nil || !ok {
		return err
	}
	if !overwrite {
		return pathError(op, dst, fs.ErrExist)
	}
	if err := util.RemoveAll(b.bfs, dst); err != nil {
		return err
	}
	b.emit(dst, storage.OpDeleted)
	return nil
}

// Copy copies a file or a directory tree.
func (b *backend) Copy(ctx context.Context, src, dst string, opts storage.CopyOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer b.lock()()

	src, dst = normalize(src), normalize(dst)
	info, err := b.bfs.Stat(src)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if err := b.checkMove("copy", src, dst); err != nil {
		return err
	}

	if err := b.clearDestination("copy", dst, opts.Overwrite); err != nil {
		return err
	}

	if info.IsDir() {
		err = b.copyTree(ctx, src, dst)
	} else {
		err = b.copyFile(src, dst, info.Mode().Perm())
	}
	if err != nil {
		return err
	}

	b.emit(dst, storage.OpCreated)
	return nil
}

// copyTree copies directories depth-first and the files of each directory
// in parallel.
func (b *backend) copyTree(ctx context.Context, src, dst string) error {
	if err := b.bfs.MkdirAll(dst, defaultDirMode); err != nil {
		return err
	}

	infos, err := b.bfs.ReadDir(src)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.copyConcurrency)

	for _, fi := range infos {
		from := b.bfs.Join(src, fi.Name())
		to := b.bfs.Join(dst, fi.Name())

		if fi.IsDir() {
			if err := b.copyTree(egCtx, from, to); err != nil {
				_ = eg.Wait()
				return err
			}
			continue
		}

		perm := fi.Mode().Perm()
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			return b.copyFile(from, to, perm)
		})
	}

	return eg.Wait()
}

func (b *backend) copyFile(src, dst string, perm fs.FileMode) error {
	in, err := b.bfs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if perm == 0 {
		perm = defaultFileMode
	}
	out, err := b.bfs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
