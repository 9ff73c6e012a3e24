// Package cloud implements ocfl/fs backends for object stores accessed
// through a gocloud.dev blob.Bucket (S3, Azure, GCS, or in-memory).
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"strings"

	"github.com/ocflcore/ocfl"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var ErrNotDir = fmt.Errorf("not a directory")

// FS is a generic backend for cloud storage services using a blob.Bucket
type FS struct {
	*blob.Bucket
	log        *slog.Logger
	writerOpts *blob.WriterOptions
	readerOpts *blob.ReaderOptions

	// ObjectRootsUseWalkDirs switches ObjectRoots from the flat key-listing
	// strategy to a directory walk. The listing strategy is usually much
	// faster on object stores; the walk is better when the bucket has many
	// keys outside the storage root.
	ObjectRootsUseWalkDirs bool
}

var (
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.ReplaceFS    = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
	_ ocfl.ObjectRootsFS  = (*FS)(nil)
)

type fsOption func(*FS)

func NewFS(b *blob.Bucket, opts ...fsOption) *FS {
	fsys := &FS{
		Bucket: b,
	}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

func WithLogger(l *slog.Logger) fsOption {
	return func(fsys *FS) {
		fsys.log = l
	}
}

// WriterOptions returns a copy of fsys that uses opts for all writes.
func (fsys *FS) WriterOptions(opts *blob.WriterOptions) *FS {
	cp := *fsys
	cp.writerOpts = opts
	return &cp
}

// ReaderOptions returns a copy of fsys that uses opts for all reads.
func (fsys *FS) ReaderOptions(opts *blob.ReaderOptions) *FS {
	cp := *fsys
	cp.readerOpts = opts
	return &cp
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	fsys.debugLog(ctx, "openfile", "name", name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	reader, err := fsys.Bucket.NewReader(ctx, name, fsys.readerOpts)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, &fs.PathError{
			Op:   "openfile",
			Path: name,
			Err:  err,
		}
	}
	return &file{
		ReadCloser: reader,
		info: &fileInfo{
			name:    path.Base(name),
			size:    reader.Size(),
			modTime: reader.ModTime(),
		},
	}, nil
}

// DirEntries implements ocflfs.DirEntriesFS. Entries are yielded in sorted
// order (bucket keys are listed lexically). An empty listing for a directory
// other than "." yields fs.ErrNotExist, since object stores have no empty
// directories.
func (fsys *FS) DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		fsys.debugLog(ctx, "readdir", "name", name)
		if !fs.ValidPath(name) {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  fs.ErrInvalid,
			})
			return
		}
		opts := &blob.ListOptions{
			Delimiter: "/",
		}
		if name != "." {
			opts.Prefix = name + "/"
		}
		var count int
		list := fsys.Bucket.List(opts)
		for {
			item, err := list.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				if gcerrors.Code(err) == gcerrors.NotFound {
					err = errors.Join(err, fs.ErrNotExist)
				}
				yield(nil, &fs.PathError{
					Op:   "readdir",
					Path: name,
					Err:  err,
				})
				return
			}
			inf := &fileInfo{
				name:    path.Base(item.Key),
				size:    item.Size,
				modTime: item.ModTime,
			}
			if item.IsDir {
				inf.mode = fs.ModeDir
			} else {
				// blob keys are not os files; mark them irregular so callers
				// don't assume a local inode behind the entry.
				inf.mode = fs.ModeIrregular
			}
			count++
			if !yield(inf, nil) {
				return
			}
		}
		if count == 0 && name != "." {
			yield(nil, &fs.PathError{
				Op:   "readdir",
				Path: name,
				Err:  fs.ErrNotExist,
			})
		}
	}
}

// Write writes r to a new blob at name, failing if the key already exists.
// The bucket stages the blob's contents and only makes the key visible when
// the writer is closed, so readers never observe partial contents.
func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	fsys.debugLog(ctx, "write", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	switch exists, err := fsys.Bucket.Exists(ctx, name); {
	case err != nil:
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  err,
		}
	case exists:
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrExist,
		}
	}
	return fsys.put(ctx, name, r)
}

// Replace writes r to name, replacing any existing blob. The swap is atomic
// at the key level.
func (fsys *FS) Replace(ctx context.Context, name string, r io.Reader) (int64, error) {
	fsys.debugLog(ctx, "replace", "name", name)
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	return fsys.put(ctx, name, r)
}

func (fsys *FS) put(ctx context.Context, name string, r io.Reader) (int64, error) {
	writer, err := fsys.Bucket.NewWriter(ctx, name, fsys.writerOpts)
	if err != nil {
		return 0, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  err,
		}
	}
	n, writeErr := writer.ReadFrom(r)
	closeErr := writer.Close()
	if writeErr != nil {
		return n, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  writeErr,
		}
	}
	if closeErr != nil {
		return n, &fs.PathError{
			Op:   "write",
			Path: name,
			Err:  closeErr,
		}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "remove", "name", name)
	if !fs.ValidPath(name) {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	if name == "." {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  errors.New("cannot remove top-level directory"),
		}
	}
	if err := fsys.Bucket.Delete(ctx, name); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  err,
		}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	fsys.debugLog(ctx, "removeall", "name", name)
	if !fs.ValidPath(name) {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  fs.ErrInvalid,
		}
	}
	if name == "." {
		return &fs.PathError{
			Op:   "remove",
			Path: name,
			Err:  errors.New("cannot remove top-level directory"),
		}
	}
	listOpt := &blob.ListOptions{
		Prefix: name + "/",
	}
	list := fsys.Bucket.List(listOpt)
	for {
		next, err := list.Next(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return &fs.PathError{
				Op:   "remove",
				Path: name,
				Err:  err,
			}
		}
		if next == nil {
			break
		}
		fsys.debugLog(ctx, "removeall.delete", "name", next.Key)
		if err := fsys.Bucket.Delete(ctx, next.Key); err != nil {
			return &fs.PathError{
				Op:   "remove",
				Path: next.Key,
				Err:  err,
			}
		}
	}
	return nil
}

// Copy implements ocflfs.CopyFS using the bucket's server-side copy, so
// object bytes don't round-trip through this process.
func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	fsys.debugLog(ctx, "copy", "dst", dst, "src", src)
	for _, p := range []string{src, dst} {
		if !fs.ValidPath(p) || p == "." {
			return 0, &fs.PathError{
				Op:   "copy",
				Path: p,
				Err:  fs.ErrInvalid,
			}
		}
	}
	if err := fsys.Bucket.Copy(ctx, dst, src, &blob.CopyOptions{}); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return 0, &fs.PathError{
			Op:   "copy",
			Path: dst,
			Err:  err,
		}
	}
	attrs, err := fsys.Bucket.Attributes(ctx, dst)
	if err != nil {
		return 0, nil
	}
	return attrs.Size, nil
}

// ObjectRoots implements ocfl.ObjectRootsFS. The default strategy scans the
// bucket's flat key listing once, reconstructing object roots from key
// prefixes; set ObjectRootsUseWalkDirs to walk directories instead.
func (fsys *FS) ObjectRoots(ctx context.Context, dir string) ocfl.ObjectRootSeq {
	if fsys.ObjectRootsUseWalkDirs {
		return fsys.objectRootsWalkDirs(ctx, dir)
	}
	return fsys.objectRootsList(ctx, dir)
}

// objectRootsWalkDirs finds object roots through recursive directory
// listings, one request per directory.
func (fsys *FS) objectRootsWalkDirs(ctx context.Context, dir string) ocfl.ObjectRootSeq {
	fsys.debugLog(ctx, "objectroots", "dir", dir, "strategy", "walkdir")
	return func(yield func(*ocfl.ObjectRoot, error) bool) {
		fsys.walkObjectRoots(ctx, dir, yield)
	}
}

func (fsys *FS) walkObjectRoots(ctx context.Context, dir string, yield func(*ocfl.ObjectRoot, error) bool) bool {
	entries, err := ocflfs.ReadDir(ctx, fsys, dir)
	if err != nil {
		yield(nil, err)
		return false
	}
	objRoot := &ocfl.ObjectRoot{
		FS:    fsys,
		Path:  dir,
		State: ocfl.ParseObjectRootDir(entries),
	}
	if objRoot.State.HasNamaste() {
		// don't walk object subdirectories
		return yield(objRoot, nil)
	}
	for _, e := range entries {
		if e.IsDir() {
			if !fsys.walkObjectRoots(ctx, path.Join(dir, e.Name()), yield) {
				return false
			}
		}
	}
	return true
}

// objectRootsList finds object roots with a single, flat listing of every key
// under dir. Keys are listed lexically, so all of an object root's keys are
// contiguous and roots can be assembled without extra requests.
func (fsys *FS) objectRootsList(ctx context.Context, dir string) ocfl.ObjectRootSeq {
	fsys.debugLog(ctx, "objectroots", "dir", dir, "strategy", "listkeys")
	return func(yield func(*ocfl.ObjectRoot, error) bool) {
		if !fs.ValidPath(dir) {
			yield(nil, &fs.PathError{
				Op:   "objectroots",
				Path: dir,
				Err:  fs.ErrInvalid,
			})
			return
		}
		var opts blob.ListOptions
		if dir != "." {
			opts.Prefix = dir + "/"
		}
		var objRoot *ocfl.ObjectRoot
		list := fsys.Bucket.List(&opts)
		for {
			item, err := list.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				yield(nil, err)
				return
			}
			keyDir := path.Dir(item.Key)
			keyBase := path.Base(item.Key)
			if decl, err := ocfl.ParseNamaste(keyBase); err == nil && decl.IsObject() {
				// new object declaration: yield the previous object root
				if objRoot != nil && !yield(objRoot, nil) {
					return
				}
				objRoot = &ocfl.ObjectRoot{
					FS:   fsys,
					Path: keyDir,
					State: &ocfl.ObjectRootState{
						Spec:  decl.Version,
						Flags: ocfl.HasNamaste,
					},
				}
				continue
			}
			// only continue with this key if it's within the current object
			if objRoot == nil || !strings.HasPrefix(item.Key, objRoot.Path+"/") {
				continue
			}
			if keyDir == objRoot.Path {
				switch {
				case keyBase == "inventory.json":
					objRoot.State.Flags |= ocfl.HasInventory
				case strings.HasPrefix(keyBase, "inventory.json."):
					objRoot.State.SidecarAlg = strings.TrimPrefix(keyBase, "inventory.json.")
					objRoot.State.Flags |= ocfl.HasSidecar
				default:
					objRoot.State.Invalid = append(objRoot.State.Invalid, keyBase)
				}
				continue
			}
			// directories in the object root: versions and extensions
			child, _, _ := strings.Cut(strings.TrimPrefix(item.Key, objRoot.Path+"/"), "/")
			if child == "extensions" {
				objRoot.State.Flags |= ocfl.HasExtensions
				continue
			}
			var v ocfl.VNum
			if err := ocfl.ParseVNum(child, &v); err == nil {
				if !objRoot.State.HasVersionDir(v) {
					objRoot.State.VersionDirs = append(objRoot.State.VersionDirs, v)
				}
				continue
			}
			objRoot.State.Invalid = append(objRoot.State.Invalid, child)
		}
		if objRoot != nil {
			yield(objRoot, nil)
		}
	}
}

func (fsys *FS) debugLog(ctx context.Context, method string, args ...any) {
	if fsys.log == nil {
		return
	}
	fsys.log.DebugContext(ctx, method, args...)
}
