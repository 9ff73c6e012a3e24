package fs_test

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/matryer/is"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/memfs"
)

func newTestFS(t *testing.T, files map[string]string) *memfs.FS {
	t.Helper()
	cont := map[string]io.Reader{}
	for name, body := range files {
		cont[name] = strings.NewReader(body)
	}
	fsys, err := memfs.NewWith(cont)
	if err != nil {
		t.Fatal(err)
	}
	return fsys
}

func TestReadAll(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t, map[string]string{
		"a.txt":     "content a",
		"dir/b.txt": "content b",
	})
	b, err := ocflfs.ReadAll(ctx, fsys, "a.txt")
	is.NoErr(err)
	is.Equal("content a", string(b))
	_, err = ocflfs.ReadAll(ctx, fsys, "missing.txt")
	is.True(errors.Is(err, fs.ErrNotExist))
}

func TestReadDir(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t, map[string]string{
		"dir/b.txt":     "b",
		"dir/a.txt":     "a",
		"dir/sub/c.txt": "c",
	})
	entries, err := ocflfs.ReadDir(ctx, fsys, "dir")
	is.NoErr(err)
	is.Equal(3, len(entries))
	// entries are sorted by name
	is.Equal("a.txt", entries[0].Name())
	is.Equal("b.txt", entries[1].Name())
	is.Equal("sub", entries[2].Name())
	is.True(entries[2].IsDir())
	_, err = ocflfs.ReadDir(ctx, fsys, "missing")
	is.True(errors.Is(err, fs.ErrNotExist))
}

func TestCopy(t *testing.T) {
	t.Run("same FS", func(t *testing.T) {
		is := is.New(t)
		ctx := context.Background()
		fsys := newTestFS(t, map[string]string{"src.txt": "payload"})
		size, err := ocflfs.Copy(ctx, fsys, "dst.txt", fsys, "src.txt")
		is.NoErr(err)
		is.Equal(int64(len("payload")), size)
		b, err := ocflfs.ReadAll(ctx, fsys, "dst.txt")
		is.NoErr(err)
		is.Equal("payload", string(b))
	})
	t.Run("across FSs", func(t *testing.T) {
		is := is.New(t)
		ctx := context.Background()
		srcFS := newTestFS(t, map[string]string{"src.txt": "payload"})
		dstFS := memfs.New()
		size, err := ocflfs.Copy(ctx, dstFS, "dst.txt", srcFS, "src.txt")
		is.NoErr(err)
		is.Equal(int64(len("payload")), size)
		b, err := ocflfs.ReadAll(ctx, dstFS, "dst.txt")
		is.NoErr(err)
		is.Equal("payload", string(b))
	})
	t.Run("missing source", func(t *testing.T) {
		is := is.New(t)
		ctx := context.Background()
		fsys := memfs.New()
		_, err := ocflfs.Copy(ctx, fsys, "dst.txt", fsys, "missing.txt")
		is.True(err != nil)
	})
}

func TestWriteRemove(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	n, err := ocflfs.Write(ctx, fsys, "dir/file.txt", strings.NewReader("12345"))
	is.NoErr(err)
	is.Equal(int64(5), n)
	is.NoErr(ocflfs.Remove(ctx, fsys, "dir/file.txt"))
	_, err = ocflfs.ReadAll(ctx, fsys, "dir/file.txt")
	is.True(errors.Is(err, fs.ErrNotExist))
}

func TestWriteExisting(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	_, err := ocflfs.Write(ctx, fsys, "file.txt", strings.NewReader("original"))
	is.NoErr(err)

	// writes never clobber an existing file
	_, err = ocflfs.Write(ctx, fsys, "file.txt", strings.NewReader("usurper"))
	is.True(errors.Is(err, fs.ErrExist))
	b, err := ocflfs.ReadAll(ctx, fsys, "file.txt")
	is.NoErr(err)
	is.Equal("original", string(b))

	// replacing is explicit
	_, err = ocflfs.Replace(ctx, fsys, "file.txt", strings.NewReader("replaced"))
	is.NoErr(err)
	b, err = ocflfs.ReadAll(ctx, fsys, "file.txt")
	is.NoErr(err)
	is.Equal("replaced", string(b))
}

func TestRemoveAll(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t, map[string]string{
		"dir/a.txt":     "a",
		"dir/sub/b.txt": "b",
		"keep.txt":      "keep",
	})
	is.NoErr(ocflfs.RemoveAll(ctx, fsys, "dir"))
	_, err := ocflfs.ReadDir(ctx, fsys, "dir")
	is.True(errors.Is(err, fs.ErrNotExist))
	b, err := ocflfs.ReadAll(ctx, fsys, "keep.txt")
	is.NoErr(err)
	is.Equal("keep", string(b))
}

func TestWalkFiles(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t, map[string]string{
		"a.txt":         "a",
		"dir/b.txt":     "b",
		"dir/sub/c.txt": "c",
	})
	var found []string
	for ref, err := range ocflfs.WalkFiles(ctx, fsys, ".") {
		is.NoErr(err)
		found = append(found, ref.FullPath())
	}
	is.Equal(3, len(found))
}

func TestStatFile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := newTestFS(t, map[string]string{"a.txt": "hello"})
	info, err := ocflfs.StatFile(ctx, fsys, "a.txt")
	is.NoErr(err)
	is.Equal(int64(5), info.Size())
}
