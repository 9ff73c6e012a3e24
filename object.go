package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/lock"
	"github.com/ocflcore/ocfl/logging"
)

// DefaultLockTimeout bounds how long an Object's write operations wait to
// acquire the object's write lock before failing with ErrLockTimeout.
var DefaultLockTimeout = 30 * time.Second

// objectLocks serializes concurrent writers to the same object root within
// this process; a distinct storage backend with its own multi-process
// coordination can enforce a stronger guarantee, but every backend in this
// module is only ever driven from a single process at a time.
var objectLocks lock.Table

// Object represents a single OCFL object addressed by its root directory.
type Object struct {
	fs          ocflfs.FS
	path        string
	id          string
	root        *Root
	mustExist   bool
	lockTimeout time.Duration
}

// ObjectOption is used to configure the behavior of [NewObject].
type ObjectOption func(*Object)

// ObjectWithID sets the identifier used for a new object's first version. It
// has no effect on an object that already exists.
func ObjectWithID(id string) ObjectOption {
	return func(o *Object) { o.id = id }
}

// objectWithRoot associates the object with the Root it was opened from, so
// its FS and storage root path are available without being passed again.
func objectWithRoot(r *Root) ObjectOption {
	return func(o *Object) { o.root = r }
}

// ObjectMustExist causes NewObject to confirm the object root's NAMASTE
// declaration is present, returning an error if it isn't.
func ObjectMustExist() ObjectOption {
	return func(o *Object) { o.mustExist = true }
}

// ObjectWithLockTimeout overrides DefaultLockTimeout for a single Object.
func ObjectWithLockTimeout(d time.Duration) ObjectOption {
	return func(o *Object) { o.lockTimeout = d }
}

// NewObject returns an *Object for the OCFL object at objPath in fsys. It
// doesn't read the object's inventory until a method that needs it is
// called, unless ObjectMustExist is given.
func NewObject(ctx context.Context, fsys ocflfs.FS, objPath string, opts ...ObjectOption) (*Object, error) {
	obj := &Object{fs: fsys, path: objPath}
	for _, opt := range opts {
		opt(obj)
	}
	if obj.mustExist {
		if _, err := GetObjectRoot(ctx, obj.FS(), obj.path); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// FS returns the FS used to access the object's contents.
func (obj *Object) FS() ocflfs.FS {
	if obj.fs != nil {
		return obj.fs
	}
	if obj.root != nil {
		return obj.root.FS()
	}
	return nil
}

// Path returns the object root's path relative to its FS.
func (obj *Object) Path() string {
	return obj.path
}

// ID returns the identifier set with ObjectWithID. It's empty for objects
// opened without an explicit ID, even if the object already exists; use
// ReadObject to get the ID recorded in an existing inventory.
func (obj *Object) ID() string {
	return obj.id
}

func (obj *Object) lockWait() time.Duration {
	if obj.lockTimeout > 0 {
		return obj.lockTimeout
	}
	return DefaultLockTimeout
}

// doInWriteLock runs fn while holding the object's write lock. The lock key
// is derived from the object's FS and path, so distinct *Object values that
// refer to the same storage location serialize against each other. If the
// lock isn't acquired before the object's configured timeout, doInWriteLock
// returns ErrLockTimeout without running fn.
func (obj *Object) doInWriteLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, obj.lockWait())
	defer cancel()
	key := fmt.Sprintf("%p:%s", obj.FS(), obj.path)
	err := objectLocks.Do(lockCtx, key, fn)
	if errors.Is(err, lock.ErrTimeout) {
		return fmt.Errorf("%w: object %q", ErrLockTimeout, obj.path)
	}
	return err
}

// readInventory reads and unmarshals the object's current inventory. If the
// object has an active mutable-HEAD overlay, the overlay's inventory is
// returned instead of the object root's, with MutableHead set to reflect the
// overlay's most recently allocated revision. readInventory returns an error
// wrapping ErrNotFound if the object doesn't exist yet.
func (obj *Object) readInventory(ctx context.Context) (*Inventory, error) {
	headPath := path.Join(obj.path, mutableHeadDir(), inventoryFile)
	switch f, err := obj.FS().OpenFile(ctx, headPath); {
	case err == nil:
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		inv, err := UnmarshalInventory(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptObject, err)
		}
		rev, err := obj.maxMutableHeadRevision(ctx)
		if err != nil {
			return nil, err
		}
		inv.MutableHead = &MutableHeadInfo{Revision: rev}
		return inv, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	f, err := obj.FS().OpenFile(ctx, path.Join(obj.path, inventoryFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: object inventory", ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	inv, err := UnmarshalInventory(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptObject, err)
	}
	return inv, nil
}

// maxMutableHeadRevision returns the highest revision number recorded in the
// mutable-HEAD overlay's revision marker directory.
func (obj *Object) maxMutableHeadRevision(ctx context.Context) (int, error) {
	entries, err := ocflfs.ReadDir(ctx, obj.FS(), path.Join(obj.path, mutableHeadRevisionsDir()))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	var max int
	for _, e := range entries {
		num, ok := strings.CutPrefix(e.Name(), "r")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(num); err == nil && n > max {
			max = n
		}
	}
	if max == 0 {
		max = 1
	}
	return max, nil
}

// readRootInventory reads the object root's inventory.json, ignoring any
// mutable-HEAD overlay.
func (obj *Object) readRootInventory(ctx context.Context) (*Inventory, error) {
	b, err := ocflfs.ReadAll(ctx, obj.FS(), path.Join(obj.path, inventoryFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: object inventory", ErrNotFound)
		}
		return nil, err
	}
	inv, err := UnmarshalInventory(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptObject, err)
	}
	return inv, nil
}

// stagingRoot returns the storage root path used to namespace this object's
// staging directory, and the writable FS backing it.
func (obj *Object) stagingRoot(ctx context.Context) (string, ocflfs.WriteFS, error) {
	writeFS, ok := obj.FS().(ocflfs.WriteFS)
	if !ok {
		return "", nil, fmt.Errorf("storage backend is not writable")
	}
	rootDir := ""
	if obj.root != nil {
		rootDir = obj.root.Path()
	}
	return rootDir, writeFS, nil
}

// NewVersionStage returns a Stage for the object's next version, backed by a
// fresh staging area that PutFile writes new content into. The stage starts
// from the object's current HEAD state (or an empty state, if the object
// doesn't exist yet).
func (obj *Object) NewVersionStage(ctx context.Context) (*Stage, error) {
	base, err := obj.readInventory(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if base != nil && base.MutableHead != nil {
		return nil, fmt.Errorf("%w: object has staged mutable-HEAD changes, commit or purge them first", ErrObjectOutOfSync)
	}
	stage, err := NewStage(base, "")
	if err != nil {
		return nil, err
	}
	rootDir, writeFS, err := obj.stagingRoot(ctx)
	if err != nil {
		return nil, err
	}
	objID := obj.id
	if objID == "" && base != nil {
		objID = base.ID
	}
	stageDir, err := createObjectTempDir(ctx, writeFS, rootDir, objID)
	if err != nil {
		return nil, err
	}
	stage.SetContentSource(&StageSource{FS: writeFS, Root: stageDir, Manifest: stage.manifest})
	return stage, nil
}

// PutFile implements the Add-File Processor: it streams r into the stage's
// staging area, computing its digest as it goes, and promotes the bytes to
// their content-addressed path the first time that digest is seen. It then
// binds logical to the digest in the stage's working state via Stage.AddFile.
// PutFile returns the file's digest so callers can also record fixity
// values for it.
func (obj *Object) PutFile(ctx context.Context, stage *Stage, r io.Reader, logical string, overwrite bool) (string, error) {
	src, ok := stage.source.(*StageSource)
	if !ok {
		return "", errors.New("stage has no writable staging area; use NewVersionStage")
	}
	writeFS, ok := src.FS.(ocflfs.WriteFS)
	if !ok {
		return "", fmt.Errorf("staging area is not writable")
	}
	alg, err := digestAlgorithm(stage.DigestAlgorithm)
	if err != nil {
		return "", err
	}
	// sanitize before any bytes are written: path mapper and content-path
	// constraint violations fail here with ErrInvalidPath
	contentPath, err := stage.contentPathFor(logical)
	if err != nil {
		return "", err
	}
	var digestVal string
	err = stage.doInFileLock(ctx, logical, func() error {
		digester := alg.Digester()
		uploadPath := joinStagePath(src.Root, path.Join(".uploads", contentPath))
		if _, err := ocflfs.Replace(ctx, writeFS, uploadPath, io.TeeReader(r, digester)); err != nil {
			return fmt.Errorf("writing staged content: %w", err)
		}
		digestVal = digester.String()
		if !stage.hasContent(digestVal) {
			finalPath := joinStagePath(src.Root, contentPath)
			if _, err := ocflfs.Copy(ctx, writeFS, finalPath, writeFS, uploadPath); err != nil {
				return fmt.Errorf("promoting staged content: %w", err)
			}
		}
		if err := writeFS.Remove(ctx, uploadPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing temporary upload: %w", err)
		}
		return stage.AddFile(digestVal, logical, overwrite)
	})
	if err != nil {
		return "", err
	}
	return digestVal, nil
}

// Commit applies c, whose Stage must have been produced by this object (via
// NewVersionStage or, for a brand new object, NewStage(nil, alg)), as the
// object's next version. Commit fails with ErrObjectOutOfSync if the object
// changed since c.Stage was built, or with ErrAlreadyExists if c.Stage was
// built for a new object and the object now exists.
func (obj *Object) Commit(ctx context.Context, c *Commit) error {
	if c.Stage == nil {
		return errors.New("commit is missing a stage")
	}
	if c.User.Name == "" {
		return errMissingUser
	}
	logger := c.Logger
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	// the staging directory is removed on every exit path; a failed commit's
	// stage can't be retried, since the update must be re-staged against the
	// object's current state.
	if src, ok := c.Stage.source.(*StageSource); ok {
		defer func() {
			writeFS, ok := src.FS.(ocflfs.WriteFS)
			if !ok {
				return
			}
			if err := ocflfs.RemoveAll(ctx, writeFS, src.Root); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.WarnContext(ctx, "removing staging directory failed", "dir", src.Root, "err", err)
			}
		}()
	}
	return obj.doInWriteLock(ctx, func() error {
		current, err := obj.readInventory(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if current != nil && current.MutableHead != nil {
			return fmt.Errorf("%w: object has staged mutable-HEAD changes, commit or purge them first", ErrObjectOutOfSync)
		}
		if err := checkHeadMatch(current, c.Stage.base); err != nil {
			return err
		}
		if c.NewHEAD > 0 && c.Stage.head.Num() != c.NewHEAD {
			return fmt.Errorf("%w: expected new head v%d, stage produces %s", ErrObjectOutOfSync, c.NewHEAD, c.Stage.head)
		}
		newInv, err := c.Stage.buildInventory(timeOrNow(c.Created), c.Message, &c.User)
		if err != nil {
			return err
		}
		if current == nil {
			spec := c.Spec
			if spec.Empty() {
				spec = Spec1_1
			}
			newInv.ID = c.ID
			if newInv.ID == "" {
				newInv.ID = obj.id
			}
			newInv.Type = spec.InventoryType()
		} else {
			newInv.ID = current.ID
			newInv.Type = current.Type
			if !c.Spec.Empty() {
				newInv.Type = c.Spec.InventoryType()
			}
		}
		if newInv.ID == "" {
			return fmt.Errorf("%w: object id is required for new objects", ErrInvalidPath)
		}
		if err := newInv.Validate(); err != nil {
			return err
		}
		if !c.AllowUnchanged && current != nil {
			if newInv.HeadVersion().State.Eq(current.HeadVersion().State) {
				return ErrUnchanged
			}
		}
		plan := &commitPlan{
			FS:            obj.FS(),
			Path:          obj.path,
			NewInventory:  newInv,
			PrevInventoy:  current,
			ContentSource: c.Stage.source,
		}
		plan.NewContent, err = newContentMap(newInv)
		if err != nil {
			return err
		}
		return plan.Run(ctx, logger)
	})
}

// checkHeadMatch confirms a staged update's base inventory is still
// consistent with the object's current state.
func checkHeadMatch(current, base *Inventory) error {
	switch {
	case current == nil && base != nil:
		return fmt.Errorf("%w: object no longer exists", ErrObjectOutOfSync)
	case current != nil && base == nil:
		return fmt.Errorf("%w: object already exists", ErrAlreadyExists)
	case current != nil && base != nil && current.Head.Num() != base.Head.Num():
		return fmt.Errorf("%w: expected head %s, found %s", ErrObjectOutOfSync, base.Head, current.Head)
	}
	return nil
}

// ReadObject returns the object's current inventory, which reflects any
// staged mutable-HEAD changes. It returns an error wrapping ErrNotFound if
// the object doesn't exist.
func (obj *Object) ReadObject(ctx context.Context) (*Inventory, error) {
	return obj.readInventory(ctx)
}

// GetObject returns the digest-indexed state for version v, or the object's
// current HEAD version if v is the zero value.
func (obj *Object) GetObject(ctx context.Context, v VNum) (*Version, error) {
	inv, err := obj.readInventory(ctx)
	if err != nil {
		return nil, err
	}
	if v.Empty() {
		v = inv.Head
	}
	ver, ok := inv.Versions[v]
	if !ok {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, v)
	}
	return ver, nil
}

// ListFiles returns the logical paths and digests recorded in version v, or
// the object's current HEAD version if v is the zero value.
func (obj *Object) ListFiles(ctx context.Context, v VNum) (DigestMap, error) {
	ver, err := obj.GetObject(ctx, v)
	if err != nil {
		return nil, err
	}
	return ver.State, nil
}

// OpenFile opens the file stored at logical path logical in version v of the
// object, or in the object's current HEAD version if v is the zero value. It
// returns an error wrapping ErrNotFound if the version or logical path
// doesn't exist.
func (obj *Object) OpenFile(ctx context.Context, v VNum, logical string) (fs.File, error) {
	inv, err := obj.readInventory(ctx)
	if err != nil {
		return nil, err
	}
	if v.Empty() {
		v = inv.Head
	}
	ver, ok := inv.Versions[v]
	if !ok {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, v)
	}
	digestVal := ver.State.DigestFor(logical)
	if digestVal == "" {
		return nil, fmt.Errorf("%w: %q in version %s", ErrNotFound, logical, v)
	}
	contentPaths := inv.Manifest[digestVal]
	if len(contentPaths) == 0 {
		return nil, fmt.Errorf("%w: no content path for %q", ErrCorruptObject, logical)
	}
	return obj.FS().OpenFile(ctx, path.Join(obj.path, contentPaths[0]))
}

// PurgeObject permanently deletes the object's entire root directory,
// including every version and any staged mutable-HEAD overlay. Unlike
// PurgeStagedChanges, this removes the object itself.
func (obj *Object) PurgeObject(ctx context.Context) error {
	return obj.doInWriteLock(ctx, func() error {
		writeFS, ok := obj.FS().(ocflfs.WriteFS)
		if !ok {
			return fmt.Errorf("storage backend is not writable")
		}
		if err := ocflfs.RemoveAll(ctx, writeFS, obj.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// objectContentSource supplies bytes for content being folded out of the
// mutable-HEAD overlay into a new immutable version: manifest maps each
// digest to its pre-fold path under the overlay, since foldManifestToVersion
// has already rewritten the inventory's manifest to the new, post-fold paths
// by the time the content is copied.
type objectContentSource struct {
	obj      *Object
	manifest DigestMap
}

// GetContent implements ContentSource.
func (s *objectContentSource) GetContent(digestVal string) (ocflfs.FS, string) {
	paths := s.manifest[digestVal]
	if len(paths) == 0 {
		return nil, ""
	}
	return s.obj.FS(), path.Join(s.obj.path, paths[0])
}
