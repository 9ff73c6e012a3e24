package local_test

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/local"
)

func TestNewFS(t *testing.T) {
	t.Run("creates FS with absolute path", func(t *testing.T) {
		is := is.New(t)
		tmpDir := t.TempDir()
		fsys, err := local.NewFS(tmpDir)
		is.NoErr(err)
		is.True(filepath.IsAbs(fsys.Root()))
	})
	t.Run("converts relative path to absolute", func(t *testing.T) {
		is := is.New(t)
		fsys, err := local.NewFS(".")
		is.NoErr(err)
		is.True(filepath.IsAbs(fsys.Root()))
	})
}

func TestWrite(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	n, err := fsys.Write(ctx, "a/b/file.txt", strings.NewReader("content"))
	is.NoErr(err)
	is.Equal(int64(len("content")), n)
	b, err := ocflfs.ReadAll(ctx, fsys, "a/b/file.txt")
	is.NoErr(err)
	is.Equal("content", string(b))

	t.Run("invalid path", func(t *testing.T) {
		is := is.New(t)
		_, err := fsys.Write(ctx, "../escape.txt", strings.NewReader(""))
		is.True(err != nil)
	})

	t.Run("existing file fails", func(t *testing.T) {
		is := is.New(t)
		_, err := fsys.Write(ctx, "a/b/file.txt", strings.NewReader("new content"))
		is.True(errors.Is(err, fs.ErrExist))
		// the original contents are untouched
		b, err := ocflfs.ReadAll(ctx, fsys, "a/b/file.txt")
		is.NoErr(err)
		is.Equal("content", string(b))
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		is := is.New(t)
		entries, err := ocflfs.ReadDir(ctx, fsys, "a/b")
		is.NoErr(err)
		is.Equal(1, len(entries))
		is.Equal("file.txt", entries[0].Name())
	})
}

func TestReplace(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	_, err = fsys.Replace(ctx, "file.txt", strings.NewReader("first"))
	is.NoErr(err)
	_, err = fsys.Replace(ctx, "file.txt", strings.NewReader("second"))
	is.NoErr(err)
	b, err := ocflfs.ReadAll(ctx, fsys, "file.txt")
	is.NoErr(err)
	is.Equal("second", string(b))
}

func TestOpenFile(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	_, err = fsys.Write(ctx, "file.txt", strings.NewReader("content"))
	is.NoErr(err)

	f, err := fsys.OpenFile(ctx, "file.txt")
	is.NoErr(err)
	info, err := f.Stat()
	is.NoErr(err)
	is.Equal(int64(len("content")), info.Size())
	is.NoErr(f.Close())

	t.Run("missing file", func(t *testing.T) {
		is := is.New(t)
		_, err := fsys.OpenFile(ctx, "missing.txt")
		is.True(errors.Is(err, fs.ErrNotExist))
	})
	t.Run("invalid path", func(t *testing.T) {
		is := is.New(t)
		_, err := fsys.OpenFile(ctx, "/absolute")
		is.True(err != nil)
	})
}

func TestDirEntries(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	for _, name := range []string{"dir/z.txt", "dir/a.txt", "dir/sub/x.txt"} {
		_, err := fsys.Write(ctx, name, strings.NewReader(name))
		is.NoErr(err)
	}
	entries, err := ocflfs.ReadDir(ctx, fsys, "dir")
	is.NoErr(err)
	is.Equal(3, len(entries))
	is.Equal("a.txt", entries[0].Name())
	is.Equal("sub", entries[1].Name())
	is.True(entries[1].IsDir())
	is.Equal("z.txt", entries[2].Name())
}

func TestRemove(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	_, err = fsys.Write(ctx, "file.txt", strings.NewReader("content"))
	is.NoErr(err)
	is.NoErr(fsys.Remove(ctx, "file.txt"))
	_, err = fsys.OpenFile(ctx, "file.txt")
	is.True(errors.Is(err, fs.ErrNotExist))

	t.Run("cannot remove root", func(t *testing.T) {
		is := is.New(t)
		is.True(fsys.Remove(ctx, ".") != nil)
	})
}

func TestRemoveAll(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)
	for _, name := range []string{"dir/a.txt", "dir/sub/b.txt", "keep.txt"} {
		_, err := fsys.Write(ctx, name, strings.NewReader(name))
		is.NoErr(err)
	}
	is.NoErr(fsys.RemoveAll(ctx, "dir"))
	_, err = ocflfs.ReadDir(ctx, fsys, "dir")
	is.True(errors.Is(err, fs.ErrNotExist))
	_, err = fsys.OpenFile(ctx, "keep.txt")
	is.NoErr(err)

	t.Run("missing dir is not an error", func(t *testing.T) {
		is := is.New(t)
		is.NoErr(fsys.RemoveAll(ctx, "never-existed"))
	})
	t.Run("cannot remove root", func(t *testing.T) {
		is := is.New(t)
		is.True(fsys.RemoveAll(ctx, ".") != nil)
	})
}
