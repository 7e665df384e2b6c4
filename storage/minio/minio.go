// Package minio serves shared folders out of an S3-compatible bucket.
//
// Host-local paths map onto object keys below the configured prefix.
// Directories are virtual: a directory exists while any key lives below it,
// and CreateDirectory writes a zero-byte "name/" marker so empty
// directories survive. Buckets have no change feed, so Watch reports
// storage.ErrUnsupported and the host serves without change notifications.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/vslsfs/storage"
)

// BucketFS implements storage.Backend on a bucket.
type BucketFS struct {
	client          *minio.Client
	bucket          string
	prefix          string
	copyConcurrency int
}

// New creates a bucket backend. It does not contact the server.
func New(cfg Config) (*BucketFS, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	concurrency := cfg.CopyConcurrency
	if concurrency <= 0 {
		concurrency = defaultCopyConcurrency
	}

	return &BucketFS{
		client:          client,
		bucket:          cfg.Bucket,
		prefix:          normalizePrefix(cfg.Prefix),
		copyConcurrency: concurrency,
	}, nil
}

// Type returns storage.TypeObject.
func (b *BucketFS) Type() storage.Type { return storage.TypeObject }

// key maps a host-local path onto an object key. The root maps onto the
// prefix itself.
func (b *BucketFS) key(name string) string {
	rel := strings.Trim(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	switch {
	case rel == "":
		return b.prefix
	case b.prefix == "":
		return rel
	default:
		return b.prefix + "/" + rel
	}
}

// dirKey returns the listing prefix for the directory at key.
func dirKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// stat classifies key. Directories have no metadata of their own.
func (b *BucketFS) stat(ctx context.Context, key string) (storage.FileInfo, error) {
	if key == b.prefix {
		return storage.FileInfo{Mode: fs.ModeDir}, nil
	}

	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return storage.FileInfo{
			Size:       info.Size,
			ModTime:    info.LastModified,
			ChangeTime: info.LastModified,
		}, nil
	}
	if terr := translate(err); !errors.Is(terr, fs.ErrNotExist) {
		return storage.FileInfo{}, terr
	}

	ok, err := b.hasChildren(ctx, dirKey(key), true)
	if err != nil {
		return storage.FileInfo{}, err
	}
	if !ok {
		return storage.FileInfo{}, fs.ErrNotExist
	}
	return storage.FileInfo{Mode: fs.ModeDir}, nil
}

// hasChildren reports whether any key lives below prefix. With
// includeMarker false the directory's own marker does not count.
func (b *BucketFS) hasChildren(ctx context.Context, prefix string, includeMarker bool) (bool, error) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range b.client.ListObjects(lctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if object.Err != nil {
			return false, translate(object.Err)
		}
		if object.Key == prefix && !includeMarker {
			continue
		}
		return true, nil
	}
	return false, nil
}

// ReadFile reads the whole object.
func (b *BucketFS) ReadFile(ctx context.Context, name string) ([]byte, error) {
	key := b.key(name)
	info, err := b.stat(ctx, key)
	if err != nil {
		return nil, pathError("read", name, err)
	}
	if info.Mode.IsDir() {
		return nil, pathError("read", name, storage.ErrIsDirectory)
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, pathError("read", name, translate(err))
	}
	defer func() { _ = obj.Close() }()

	buf := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, buf); err != nil {
		return nil, pathError("read", name, translate(err))
	}
	return buf, nil
}

// ReadDir lists a directory sorted by name.
func (b *BucketFS) ReadDir(ctx context.Context, name string) ([]storage.Entry, error) {
	key := b.key(name)
	info, err := b.stat(ctx, key)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}
	if !info.Mode.IsDir() {
		return nil, pathError("readdir", name, storage.ErrNotDirectory)
	}

	prefix := dirKey(key)
	var entries []storage.Entry
	for object := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if object.Err != nil {
			return nil, pathError("readdir", name, translate(object.Err))
		}
		if object.Key == prefix {
			continue
		}

		rel := strings.TrimPrefix(object.Key, prefix)
		entry := storage.Entry{Name: rel}
		if strings.HasSuffix(rel, "/") {
			entry.Name = strings.TrimSuffix(rel, "/")
			entry.Mode = fs.ModeDir
		}
		if entry.Name != "" {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat returns metadata for name. Directories report a zero size and
// modification time.
func (b *BucketFS) Stat(ctx context.Context, name string) (storage.FileInfo, error) {
	info, err := b.stat(ctx, b.key(name))
	if err != nil {
		return storage.FileInfo{}, pathError("stat", name, err)
	}
	return info, nil
}

// WriteFile uploads data as the object for name.
func (b *BucketFS) WriteFile(ctx context.Context, name string, data []byte, opts storage.WriteOptions) error {
	key := b.key(name)
	info, err := b.stat(ctx, key)
	switch {
	case err == nil:
		if info.Mode.IsDir() {
			return pathError("write", name, storage.ErrIsDirectory)
		}
		if !opts.Overwrite {
			return pathError("write", name, fs.ErrExist)
		}
	case errors.Is(err, fs.ErrNotExist):
		if !opts.Create {
			return pathError("write", name, fs.ErrNotExist)
		}
		if err := b.checkParent(ctx, "write", name); err != nil {
			return err
		}
	default:
		return pathError("write", name, err)
	}

	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return pathError("write", name, translate(err))
}

// checkParent fails unless the parent of name is a directory.
func (b *BucketFS) checkParent(ctx context.Context, op, name string) error {
	parent, err := b.stat(ctx, b.key(path.Dir(path.Clean("/"+name))))
	if err != nil {
		return pathError(op, name, err)
	}
	if !parent.Mode.IsDir() {
		return pathError(op, name, storage.ErrNotDirectory)
	}
	return nil
}

// checkMove rejects moving or copying into the source's own subtree or
// over one of its ancestors, and requires the parent of dst to exist.
func (b *BucketFS) checkMove(ctx context.Context, op, srcKey, dstKey, dst string) error {
	if storage.Within(dstKey, srcKey) || storage.Within(srcKey, dstKey) {
		return pathError(op, dst, fs.ErrInvalid)
	}
	return b.checkParent(ctx, op, dst)
}

// CreateDirectory writes a directory marker. Parents are implied by the
// key.
func (b *BucketFS) CreateDirectory(ctx context.Context, name string) error {
	key := b.key(name)
	info, err := b.stat(ctx, key)
	switch {
	case err == nil && info.Mode.IsDir():
		return nil
	case err == nil:
		return pathError("mkdir", name, fs.ErrExist)
	case !errors.Is(err, fs.ErrNotExist):
		return pathError("mkdir", name, err)
	}

	_, err = b.client.PutObject(ctx, b.bucket, dirKey(key), bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	return pathError("mkdir", name, translate(err))
}

// Delete removes an object or a directory tree. Buckets have no trash, so
// UseTrash deletes permanently.
func (b *BucketFS) Delete(ctx context.Context, name string, opts storage.DeleteOptions) error {
	key := b.key(name)
	info, err := b.stat(ctx, key)
	if err != nil {
		return pathError("delete", name, err)
	}

	if !info.Mode.IsDir() {
		err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
		return pathError("delete", name, translate(err))
	}

	if !opts.Recursive {
		nonEmpty, err := b.hasChildren(ctx, dirKey(key), false)
		if err != nil {
			return pathError("delete", name, err)
		}
		if nonEmpty {
			return pathError("delete", name, storage.ErrNotEmpty)
		}
	}
	return pathError("delete", name, b.removeTree(ctx, dirKey(key)))
}

// removeTree batch-deletes every key below prefix.
func (b *BucketFS) removeTree(ctx context.Context, prefix string) error {
	objects := make(chan minio.ObjectInfo, 100)
	var listErr error
	go func() {
		defer close(objects)
		for object := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			objects <- object
		}
	}()

	var first error
	for rerr := range b.client.RemoveObjects(ctx, b.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil && first == nil {
			first = rerr.Err
		}
	}
	if listErr != nil {
		return translate(listErr)
	}
	return translate(first)
}

// Rename moves oldname to newname by copying and then deleting. It is not
// atomic: a failure while deleting leaves both copies.
func (b *BucketFS) Rename(ctx context.Context, oldname, newname string, opts storage.RenameOptions) error {
	oldKey, newKey := b.key(oldname), b.key(newname)
	info, err := b.stat(ctx, oldKey)
	if err != nil {
		return pathError("rename", oldname, err)
	}
	if oldKey == newKey {
		return nil
	}
	if err := b.checkMove(ctx, "rename", oldKey, newKey, newname); err != nil {
		return err
	}
	if err := b.clearDestination(ctx, "rename", newname, newKey, opts.Overwrite); err != nil {
		return err
	}

	if !info.Mode.IsDir() {
		if err := b.copyObject(ctx, oldKey, newKey); err != nil {
			return pathError("rename", oldname, err)
		}
		err := b.client.RemoveObject(ctx, b.bucket, oldKey, minio.RemoveObjectOptions{})
		return pathError("rename", oldname, translate(err))
	}

	if _, err := b.copyTree(ctx, dirKey(oldKey), dirKey(newKey)); err != nil {
		return pathError("rename", oldname, err)
	}
	return pathError("rename", oldname, b.removeTree(ctx, dirKey(oldKey)))
}

// Copy copies an object or a directory tree.
func (b *BucketFS) Copy(ctx context.Context, src, dst string, opts storage.CopyOptions) error {
	srcKey, dstKey := b.key(src), b.key(dst)
	info, err := b.stat(ctx, srcKey)
	if err != nil {
		return pathError("copy", src, err)
	}
	if srcKey == dstKey {
		return nil
	}
	if err := b.checkMove(ctx, "copy", srcKey, dstKey, dst); err != nil {
		return err
	}
	if err := b.clearDestination(ctx, "copy", dst, dstKey, opts.Overwrite); err != nil {
		return err
	}

	if !info.Mode.IsDir() {
		return pathError("copy", src, b.copyObject(ctx, srcKey, dstKey))
	}
	_, err = b.copyTree(ctx, dirKey(srcKey), dirKey(dstKey))
	return pathError("copy", src, err)
}

// clearDestination fails with fs.ErrExist if the destination exists and
// overwrite is false, and removes it otherwise.
func (b *BucketFS) clearDestination(ctx context.Context, op, name, key string, overwrite bool) error {
	info, err := b.stat(ctx, key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return pathError(op, name, err)
	}
	if !overwrite {
		return pathError(op, name, fs.ErrExist)
	}
	if info.Mode.IsDir() {
		return pathError(op, name, b.removeTree(ctx, dirKey(key)))
	}
	err = b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	return pathError(op, name, translate(err))
}

func (b *BucketFS) copyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: b.bucket, Object: srcKey})
	return translate(err)
}

// copyTree copies every key below oldPrefix to newPrefix in parallel and
// returns the copied source keys.
func (b *BucketFS) copyTree(ctx context.Context, oldPrefix, newPrefix string) ([]string, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.copyConcurrency)

	var mu sync.Mutex
	var copied []string

	for object := range b.client.ListObjects(egCtx, b.bucket, minio.ListObjectsOptions{
		Prefix:    oldPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			_ = eg.Wait()
			return copied, translate(object.Err)
		}

		srcKey := object.Key
		eg.Go(func() error {
			dstKey := newPrefix + strings.TrimPrefix(srcKey, oldPrefix)
			if err := b.copyObject(egCtx, srcKey, dstKey); err != nil {
				return fmt.Errorf("copy object %s to %s: %w", srcKey, dstKey, err)
			}
			mu.Lock()
			copied = append(copied, srcKey)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return copied, err
	}
	return copied, nil
}

// Watch reports storage.ErrUnsupported: buckets have no change feed.
func (b *BucketFS) Watch(root, _ string) (storage.Watcher, error) {
	return nil, pathError("watch", root, storage.ErrUnsupported)
}

// Compile-time interface check.
var _ storage.Backend = (*BucketFS)(nil)
