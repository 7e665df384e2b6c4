// Package storagetest provides a conformance suite for storage.Backend
// implementations.
//
// Backend packages call Run from their tests with a factory returning a
// fresh backend and an existing, empty directory to work in:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) (storage.Backend, string) {
//	        return mybackend.New(), t.TempDir()
//	    })
//	}
package storagetest

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/vslsfs/storage"
)

// Factory returns a fresh backend and the directory a test should use.
type Factory func(t *testing.T) (storage.Backend, string)

// Run runs every conformance test, each against a fresh backend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend, root string)
	}{
		{"WriteReadRoundTrip", testWriteReadRoundTrip},
		{"WriteFileOptions", testWriteFileOptions},
		{"ReadFileErrors", testReadFileErrors},
		{"CreateDirectory", testCreateDirectory},
		{"ReadDir", testReadDir},
		{"Stat", testStat},
		{"Delete", testDelete},
		{"Rename", testRename},
		{"Copy", testCopy},
		{"MoveIntoItself", testMoveIntoItself},
		{"MissingParent", testMissingParent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, root := newBackend(t)
			tt.fn(t, b, root)
		})
	}
}

func testWriteReadRoundTrip(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	for _, data := range [][]byte{[]byte("hello"), {}, {0, 1, 2, 255}} {
		p := filepath.Join(root, "a.bin")
		require.NoError(t, b.WriteFile(ctx, p, data, storage.DefaultWriteOptions()))

		got, err := b.ReadFile(ctx, p)
		require.NoError(t, err)
		require.Equal(t, len(data), len(got))
		if len(data) > 0 {
			require.Equal(t, data, got)
		}
	}
}

func testWriteFileOptions(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	p := filepath.Join(root, "w.txt")

	err := b.WriteFile(ctx, p, []byte("x"), storage.WriteOptions{Create: false, Overwrite: true})
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, b.WriteFile(ctx, p, []byte("x"), storage.WriteOptions{Create: true}))

	err = b.WriteFile(ctx, p, []byte("y"), storage.WriteOptions{Create: true, Overwrite: false})
	require.ErrorIs(t, err, fs.ErrExist)

	err = b.WriteFile(ctx, filepath.Join(root, "missing", "w.txt"), []byte("x"), storage.DefaultWriteOptions())
	require.ErrorIs(t, err, fs.ErrNotExist)

	err = b.WriteFile(ctx, root, []byte("x"), storage.DefaultWriteOptions())
	require.ErrorIs(t, err, storage.ErrIsDirectory)
}

func testReadFileErrors(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()

	_, err := b.ReadFile(ctx, filepath.Join(root, "nope"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.ReadFile(ctx, root)
	require.ErrorIs(t, err, storage.ErrIsDirectory)
}

func testCreateDirectory(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	p := filepath.Join(root, "d", "e")
	require.NoError(t, b.CreateDirectory(ctx, p))
	require.NoError(t, b.CreateDirectory(ctx, p))

	info, err := b.Stat(ctx, p)
	require.NoError(t, err)
	require.True(t, info.Mode.IsDir())

	f := filepath.Join(root, "f")
	require.NoError(t, b.WriteFile(ctx, f, nil, storage.DefaultWriteOptions()))
	require.ErrorIs(t, b.CreateDirectory(ctx, f), fs.ErrExist)
}

func testReadDir(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	require.NoError(t, b.WriteFile(ctx, filepath.Join(root, "b.txt"), []byte("b"), storage.DefaultWriteOptions()))
	require.NoError(t, b.CreateDirectory(ctx, filepath.Join(root, "a")))

	entries, err := b.ReadDir(ctx, root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.True(t, entries[0].Mode.IsDir())
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.True(t, entries[1].Mode.IsRegular())

	_, err = b.ReadDir(ctx, filepath.Join(root, "b.txt"))
	require.ErrorIs(t, err, storage.ErrNotDirectory)
}

func testStat(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	p := filepath.Join(root, "s.txt")
	require.NoError(t, b.WriteFile(ctx, p, []byte("12345"), storage.DefaultWriteOptions()))

	info, err := b.Stat(ctx, p)
	require.NoError(t, err)
	assert.True(t, info.Mode.IsRegular())
	assert.False(t, info.Symlink)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.ModTime.IsZero())

	_, err = b.Stat(ctx, filepath.Join(root, "nope"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func testDelete(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	dir := filepath.Join(root, "d")
	require.NoError(t, b.CreateDirectory(ctx, filepath.Join(dir, "sub")))
	require.NoError(t, b.WriteFile(ctx, filepath.Join(dir, "sub", "x"), []byte("x"), storage.DefaultWriteOptions()))

	err := b.Delete(ctx, dir, storage.DeleteOptions{Recursive: false})
	require.ErrorIs(t, err, storage.ErrNotEmpty)

	require.NoError(t, b.Delete(ctx, dir, storage.DeleteOptions{Recursive: true}))
	_, err = b.Stat(ctx, dir)
	require.ErrorIs(t, err, fs.ErrNotExist)

	err = b.Delete(ctx, dir, storage.DeleteOptions{})
	require.ErrorIs(t, err, fs.ErrNotExist)

	empty := filepath.Join(root, "empty")
	require.NoError(t, b.CreateDirectory(ctx, empty))
	require.NoError(t, b.Delete(ctx, empty, storage.DeleteOptions{}))

	file := filepath.Join(root, "file.txt")
	require.NoError(t, b.WriteFile(ctx, file, []byte("f"), storage.DefaultWriteOptions()))
	require.NoError(t, b.Delete(ctx, file, storage.DeleteOptions{}))
	_, err = b.Stat(ctx, file)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func testRename(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	oldp := filepath.Join(root, "old.txt")
	newp := filepath.Join(root, "new.txt")
	require.NoError(t, b.WriteFile(ctx, oldp, []byte("old"), storage.DefaultWriteOptions()))
	require.NoError(t, b.WriteFile(ctx, newp, []byte("new"), storage.DefaultWriteOptions()))

	err := b.Rename(ctx, oldp, newp, storage.RenameOptions{Overwrite: false})
	require.ErrorIs(t, err, fs.ErrExist)

	require.NoError(t, b.Rename(ctx, oldp, newp, storage.RenameOptions{Overwrite: true}))
	_, err = b.Stat(ctx, oldp)
	require.ErrorIs(t, err, fs.ErrNotExist)
	got, err := b.ReadFile(ctx, newp)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)

	fresh := filepath.Join(root, "fresh.txt")
	require.NoError(t, b.Rename(ctx, newp, fresh, storage.RenameOptions{}))
	_, err = b.Stat(ctx, newp)
	require.ErrorIs(t, err, fs.ErrNotExist)

	err = b.Rename(ctx, filepath.Join(root, "nope"), newp, storage.RenameOptions{})
	require.ErrorIs(t, err, fs.ErrNotExist)

	dir := filepath.Join(root, "dir")
	require.NoError(t, b.CreateDirectory(ctx, dir))
	require.NoError(t, b.WriteFile(ctx, filepath.Join(dir, "in.txt"), []byte("in"), storage.DefaultWriteOptions()))
	moved := filepath.Join(root, "moved")
	require.NoError(t, b.Rename(ctx, dir, moved, storage.RenameOptions{}))
	got, err = b.ReadFile(ctx, filepath.Join(moved, "in.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in"), got)
	_, err = b.Stat(ctx, dir)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func testCopy(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	src := filepath.Join(root, "src")
	require.NoError(t, b.CreateDirectory(ctx, filepath.Join(src, "nested")))
	require.NoError(t, b.WriteFile(ctx, filepath.Join(src, "a.txt"), []byte("a"), storage.DefaultWriteOptions()))
	require.NoError(t, b.WriteFile(ctx, filepath.Join(src, "nested", "b.txt"), []byte("b"), storage.DefaultWriteOptions()))

	dst := filepath.Join(root, "dst")
	require.NoError(t, b.Copy(ctx, src, dst, storage.CopyOptions{}))

	got, err := b.ReadFile(ctx, filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)

	err = b.Copy(ctx, src, dst, storage.CopyOptions{Overwrite: false})
	require.ErrorIs(t, err, fs.ErrExist)
	require.NoError(t, b.Copy(ctx, src, dst, storage.CopyOptions{Overwrite: true}))

	err = b.Copy(ctx, src, filepath.Join(src, "nested", "inside"), storage.CopyOptions{})
	require.ErrorIs(t, err, fs.ErrInvalid)

	file := filepath.Join(root, "copy.txt")
	require.NoError(t, b.Copy(ctx, filepath.Join(src, "a.txt"), file, storage.CopyOptions{}))
	got, err = b.ReadFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	// The source is untouched.
	got, err = b.ReadFile(ctx, filepath.Join(src, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func testMoveIntoItself(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	dir := filepath.Join(root, "a")
	require.NoError(t, b.CreateDirectory(ctx, filepath.Join(dir, "sub")))
	require.NoError(t, b.WriteFile(ctx, filepath.Join(dir, "f.txt"), []byte("f"), storage.DefaultWriteOptions()))

	err := b.Rename(ctx, dir, filepath.Join(dir, "sub", "moved"), storage.RenameOptions{})
	require.ErrorIs(t, err, fs.ErrInvalid)
	err = b.Copy(ctx, dir, filepath.Join(dir, "sub", "copied"), storage.CopyOptions{})
	require.ErrorIs(t, err, fs.ErrInvalid)

	// Replacing an ancestor of the source would destroy the source.
	err = b.Rename(ctx, filepath.Join(dir, "sub"), dir, storage.RenameOptions{Overwrite: true})
	require.ErrorIs(t, err, fs.ErrInvalid)
	err = b.Copy(ctx, filepath.Join(dir, "f.txt"), dir, storage.CopyOptions{Overwrite: true})
	require.ErrorIs(t, err, fs.ErrInvalid)

	got, err := b.ReadFile(ctx, filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), got)
	info, err := b.Stat(ctx, filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.True(t, info.Mode.IsDir())
	_, err = b.Stat(ctx, filepath.Join(dir, "sub", "moved"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func testMissingParent(t *testing.T, b storage.Backend, root string) {
	ctx := context.Background()
	src := filepath.Join(root, "src.txt")
	require.NoError(t, b.WriteFile(ctx, src, []byte("s"), storage.DefaultWriteOptions()))

	err := b.Copy(ctx, src, filepath.Join(root, "missing", "dst.txt"), storage.CopyOptions{})
	require.ErrorIs(t, err, fs.ErrNotExist)
	err = b.Rename(ctx, src, filepath.Join(root, "missing", "dst.txt"), storage.RenameOptions{})
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.Stat(ctx, filepath.Join(root, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	got, err := b.ReadFile(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []byte("s"), got)

	file := filepath.Join(root, "file.txt")
	require.NoError(t, b.WriteFile(ctx, file, []byte("x"), storage.DefaultWriteOptions()))
	err = b.Copy(ctx, src, filepath.Join(file, "dst.txt"), storage.CopyOptions{})
	require.ErrorIs(t, err, storage.ErrNotDirectory)
}
