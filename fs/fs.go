// Package fs defines the storage capability consumed by the rest of the
// module: a minimal read-only FS interface plus optional capabilities
// (directory listing, writes, server-side copies, optimized walks) that
// backends implement when they can. Package-level helpers dispatch to a
// backend's optimized implementation when present and fall back otherwise.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"slices"
	"strings"
)

var (
	ErrOpUnsupported = errors.New("operation not supported by the file system")
	ErrNotFile       = errors.New("not a file")
	ErrFileType      = errors.New("invalid file type for an OCFL context")
)

// FS is the minimal file system abstraction: the ability to open named files
// (not directories) for reading.
type FS interface {
	// OpenFile opens the named file for reading. It is like [io/fs.FS.Open],
	// except it returns an error if name is a directory.
	OpenFile(ctx context.Context, name string) (fs.File, error)
}

// DirEntriesFS is an FS that can also list the entries in a directory.
type DirEntriesFS interface {
	FS
	// DirEntries returns an iterator that yields an fs.DirEntry from the
	// named directory or an error (never both). Entries should be yielded in
	// sorted order. Yielding an error terminates iteration.
	DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error]
}

// FileWalker is an FS with an optimized implementation of WalkFiles.
type FileWalker interface {
	FS
	// WalkFiles returns an iterator that yields *FileRefs and/or an error.
	WalkFiles(ctx context.Context, dir string) iter.Seq2[*FileRef, error]
}

// WriteFS is a storage backend that supports write and remove operations.
type WriteFS interface {
	FS
	// Write writes the contents of buffer to a new file at name. It fails
	// with an error wrapping fs.ErrExist if name already exists. Partial
	// contents must never be visible to readers: implementations stage the
	// bytes and only expose name once the write completes.
	Write(ctx context.Context, name string, buffer io.Reader) (int64, error)
	// Remove the file with path name
	Remove(ctx context.Context, name string) error
	// Remove the directory with path name and all its contents. If the path
	// does not exist, return nil.
	RemoveAll(ctx context.Context, name string) error
}

// ReplaceFS is a WriteFS that can replace an existing file in a single
// operation, atomically with respect to readers.
type ReplaceFS interface {
	WriteFS
	// Replace writes the contents of buffer to name, replacing any existing
	// file. Readers see either the old contents or the new, never a mix.
	Replace(ctx context.Context, name string, buffer io.Reader) (int64, error)
}

// CopyFS is a storage backend that supports copying files without the bytes
// passing through the process (e.g., object-store server-side copy).
type CopyFS interface {
	WriteFS
	// Copy creates or updates the file at dst with the contents of src. If
	// dst exists, it is overwritten.
	Copy(ctx context.Context, dst string, src string) (int64, error)
}

// Copy copies src in srcFS to dst in dstFS. When srcFS and dstFS are the
// same reference and it implements CopyFS, the backend's own Copy is used;
// otherwise the bytes are streamed through the process.
func Copy(ctx context.Context, dstFS FS, dst string, srcFS FS, src string) (size int64, err error) {
	// FIXME: better way to compare src and dst FS
	if cpFS, ok := dstFS.(CopyFS); ok && dstFS == srcFS {
		size, err = cpFS.Copy(ctx, dst, src)
		if err != nil {
			err = fmt.Errorf("during copy: %w", err)
		}
		return
	}
	var srcF fs.File
	srcF, err = srcFS.OpenFile(ctx, src)
	if err != nil {
		err = fmt.Errorf("opening for copy: %w", err)
		return
	}
	defer func() {
		if closeErr := srcF.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	size, err = Replace(ctx, dstFS, dst, srcF)
	if err != nil {
		err = fmt.Errorf("writing during copy: %w", err)
	}
	return
}

// Replace writes r to name, replacing any existing file. Backends that
// implement ReplaceFS do this atomically; for other WriteFS backends Replace
// falls back to remove-then-write, which readers may briefly observe as a
// missing file.
func Replace(ctx context.Context, fsys FS, name string, r io.Reader) (int64, error) {
	if rpFS, ok := fsys.(ReplaceFS); ok {
		return rpFS.Replace(ctx, name, r)
	}
	writeFS, ok := fsys.(WriteFS)
	if !ok {
		return 0, &fs.PathError{Op: "replace", Path: name, Err: ErrOpUnsupported}
	}
	if err := writeFS.Remove(ctx, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	return writeFS.Write(ctx, name, r)
}

// DirEntries lists the named directory if fsys implements DirEntriesFS;
// otherwise it returns an iterator that yields a single fs.PathError
// wrapping ErrOpUnsupported.
func DirEntries(ctx context.Context, fsys FS, name string) iter.Seq2[fs.DirEntry, error] {
	dirFS, ok := fsys.(DirEntriesFS)
	if !ok {
		err := &fs.PathError{Op: "readdir", Path: name, Err: ErrOpUnsupported}
		return func(yield func(fs.DirEntry, error) bool) {
			yield(nil, err)
		}
	}
	return dirFS.DirEntries(ctx, name)
}

// ReadDir collects the entries yielded by DirEntries into a sorted slice. If
// an error is encountered, the slice holds the entries read up to that
// point.
func ReadDir(ctx context.Context, fsys FS, name string) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for entry, err := range DirEntries(ctx, fsys, name) {
		if entry != nil {
			entries = append(entries, entry)
		}
		if err != nil {
			return entries, err
		}
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// ReadAll returns the contents of the named file.
func ReadAll(ctx context.Context, fsys FS, name string) ([]byte, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove removes the named file if fsys is a WriteFS; otherwise it returns
// an fs.PathError wrapping ErrOpUnsupported.
func Remove(ctx context.Context, fsys FS, name string) error {
	writeFS, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: ErrOpUnsupported}
	}
	return writeFS.Remove(ctx, name)
}

// RemoveAll removes the named directory and its contents if fsys is a
// WriteFS; otherwise it returns an fs.PathError wrapping ErrOpUnsupported.
// As a special case, when name is "." the top-level directory's entries are
// removed one at a time, since backends refuse to remove their own root.
func RemoveAll(ctx context.Context, fsys FS, name string) error {
	writeFS, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "remove_all", Path: name, Err: ErrOpUnsupported}
	}
	if name != "." {
		return writeFS.RemoveAll(ctx, name)
	}
	for entry, err := range DirEntries(ctx, fsys, ".") {
		if err != nil {
			return err
		}
		removeFn := Remove
		if entry.IsDir() {
			removeFn = RemoveAll
		}
		if err := removeFn(ctx, fsys, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Write writes the contents of r to the named file if fsys is a WriteFS;
// otherwise it returns an fs.PathError wrapping ErrOpUnsupported.
func Write(ctx context.Context, fsys FS, name string, r io.Reader) (int64, error) {
	writeFS, ok := fsys.(WriteFS)
	if !ok {
		return 0, &fs.PathError{Op: "write", Path: name, Err: ErrOpUnsupported}
	}
	return writeFS.Write(ctx, name, r)
}

// StatFile returns file information for the named file in fsys.
func StatFile(ctx context.Context, fsys FS, name string) (fs.FileInfo, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// WalkFiles yields a *FileRef for every file below dir. If fsys is a
// FileWalker, its optimized implementation is used; otherwise dir is walked
// recursively with DirEntries.
func WalkFiles(ctx context.Context, fsys FS, dir string) iter.Seq2[*FileRef, error] {
	if walkFS, ok := fsys.(FileWalker); ok {
		return walkFS.WalkFiles(ctx, dir)
	}
	return func(yield func(*FileRef, error) bool) {
		fileWalk(ctx, fsys, dir, ".", yield)
	}
}

func fileWalk(ctx context.Context, fsys FS, walkRoot string, subDir string, yield func(*FileRef, error) bool) bool {
	for e, err := range DirEntries(ctx, fsys, path.Join(walkRoot, subDir)) {
		if err != nil {
			if !yield(nil, err) {
				return false
			}
			continue
		}
		entryPath := path.Join(subDir, e.Name())
		if e.IsDir() {
			if !fileWalk(ctx, fsys, walkRoot, entryPath, yield) {
				return false
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !yield(nil, err) {
				return false
			}
			continue
		}
		ref := &FileRef{
			FS:      fsys,
			BaseDir: walkRoot,
			Path:    entryPath,
			Info:    info,
		}
		if !yield(ref, nil) {
			return false
		}
	}
	return true
}
