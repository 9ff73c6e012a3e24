package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	ocflfs "github.com/ocflcore/ocfl/fs"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

type FS struct {
	ocflfs.DirEntriesFS
	// path is os-specific path to a directory
	path string
}

var _ ocflfs.WriteFS = (*FS)(nil)
var _ ocflfs.ReplaceFS = (*FS)(nil)
var _ ocflfs.DirEntriesFS = (*FS)(nil)

func NewFS(path string) (*FS, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("new backend: %w", err)
	}
	return &FS{
		path:         abs,
		DirEntriesFS: ocflfs.NewFS(os.DirFS(abs)),
	}, nil
}

func (fsys *FS) Root() string {
	return fsys.path
}

// Write writes src to a new file at name. It fails if name already exists.
// The bytes are staged in a temporary file and renamed into place, so
// readers never observe partial contents.
func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	return fsys.write(ctx, name, src, false)
}

// Replace writes src to name, atomically replacing any existing file.
func (fsys *FS) Replace(ctx context.Context, name string, src io.Reader) (int64, error) {
	return fsys.write(ctx, name, src, true)
}

func (fsys *FS) write(ctx context.Context, name string, src io.Reader, replace bool) (int64, error) {
	pathErr := func(err error) *fs.PathError {
		return &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  err,
		}
	}
	fullPath, err := fsys.osPath(name)
	if err != nil {
		return 0, pathErr(err)
	}
	if err := ctx.Err(); err != nil {
		return 0, pathErr(err)
	}
	if !replace {
		switch _, err := os.Lstat(fullPath); {
		case err == nil:
			return 0, pathErr(fs.ErrExist)
		case !errors.Is(err, fs.ErrNotExist):
			return 0, pathErr(err)
		}
	}
	parent := filepath.Dir(fullPath)
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return 0, pathErr(err)
	}
	// stage in the destination directory so the final rename is atomic
	tmp, err := os.CreateTemp(parent, ".write-*")
	if err != nil {
		return 0, pathErr(err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return n, pathErr(err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		cleanup()
		return n, pathErr(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, pathErr(err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return n, pathErr(err)
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fullPath, err := fsys.osPath(name)
	if err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	if name == "." {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  errors.New("cannot remove top-level directory"),
		}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	if err := os.Remove(fullPath); err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fullPath, err := fsys.osPath(name)
	if err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	if name == "." {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  errors.New("cannot remove top-level directory"),
		}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	if err := os.RemoveAll(fullPath + "/"); err != nil {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	return nil
}

func (fsys *FS) osPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	return filepath.Join(fsys.path, filepath.FromSlash(name)), nil
}
