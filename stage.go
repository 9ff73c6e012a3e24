package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/lock"
)

// ContentSource supplies the bytes backing content paths that a Stage
// references but that aren't yet present on the destination object's
// storage. GetContent returns the FS and path where the digest's bytes can
// be read, or a nil FS if the source doesn't have the digest.
type ContentSource interface {
	GetContent(digest string) (fsys ocflfs.FS, path string)
}

// StageSource is a ContentSource backed by a single FS, rooted so that
// GetContent's returned path is relative to Root.
type StageSource struct {
	FS       ocflfs.FS
	Root     string
	Manifest DigestMap // digest -> path relative to Root
}

// GetContent implements ContentSource.
func (s *StageSource) GetContent(digest string) (ocflfs.FS, string) {
	paths := s.Manifest[digest]
	if len(paths) == 0 {
		return nil, ""
	}
	return s.FS, joinStagePath(s.Root, paths[0])
}

func joinStagePath(root, name string) string {
	if root == "" || root == "." {
		return name
	}
	return root + "/" + name
}

// Stage represents a working copy of an object's next version state. It is
// built incrementally with AddFile, RemoveFile, RenameFile, and
// ReinstateFile, starting from a base inventory's HEAD state (CopyState
// mode) or from its mutable-HEAD state (CopyStateMutable mode), and is
// eventually handed to a Commit.
type Stage struct {
	DigestAlgorithm string
	State           DigestMap // next version's inverse-indexed state

	base     *Inventory           // inventory this stage extends, nil for a brand new object
	manifest DigestMap            // working copy of the full object manifest
	fixity   map[string]DigestMap // alternate-algorithm digests recorded for staged content
	head     VNum                 // version number this stage will become
	revision int                  // > 0 when this is a mutable-HEAD revision
	source   ContentSource

	pathMapper      LogicalPathMapper              // sanitizes logical paths into content path parts
	pathConstraints ContentPathConstraintProcessor // checks complete content paths

	mu        sync.Mutex // guards State, manifest, and fixity
	fileLocks lock.Table // serializes concurrent writers to the same logical path
}

// NewStage returns a Stage that copies the HEAD version state of base (the
// "CopyState" construction mode). If base is nil, the stage represents the
// first version of a new object.
func NewStage(base *Inventory, alg string) (*Stage, error) {
	st := &Stage{
		DigestAlgorithm: alg,
		base:            base,
		State:           DigestMap{},
		manifest:        DigestMap{},
		pathMapper:      DirectPathMapper{},
		pathConstraints: DefaultContentPathConstraints(),
	}
	if base != nil {
		if alg == "" {
			st.DigestAlgorithm = base.DigestAlgorithm
		}
		st.manifest = base.Manifest.Clone()
		if head := base.HeadVersion(); head != nil {
			st.State = head.State.Clone()
		}
		next, err := base.Head.Next()
		if err != nil {
			return nil, fmt.Errorf("determining next version number: %w", err)
		}
		st.head = next
	} else {
		st.head = V(1, 0)
	}
	if st.DigestAlgorithm == "" {
		st.DigestAlgorithm = DefaultDigestAlgorithm
	}
	return st, nil
}

// NewMutableStage returns a Stage in the "CopyStateMutable" construction
// mode: it copies the current mutable-HEAD state (or the base HEAD state, if
// no mutable-HEAD overlay exists yet) and reserves the next revision number.
// The stage's version number is the version the mutable HEAD is drafting:
// base.Head+1 when the overlay is first created, unchanged on later
// revisions.
func NewMutableStage(base *Inventory, alg string) (*Stage, error) {
	st, err := NewStage(base, alg)
	if err != nil {
		return nil, err
	}
	st.revision = 1
	if base != nil && base.MutableHead != nil {
		st.head = base.Head // base is already the overlay's draft version
		st.revision = base.MutableHead.Revision + 1
	}
	return st, nil
}

// SetContentSource attaches the ContentSource used to supply bytes for
// newly-staged content paths.
func (st *Stage) SetContentSource(src ContentSource) {
	st.source = src
}

// SetPathMapper replaces the stage's logical-path mapper. The default is
// DirectPathMapper; use PercentEncodingPathMapper when logical paths may
// contain characters that are unsafe on the storage backend.
func (st *Stage) SetPathMapper(m LogicalPathMapper) {
	st.pathMapper = m
}

// SetContentPathConstraints replaces the stage's content-path constraint
// processor. The default is DefaultContentPathConstraints().
func (st *Stage) SetContentPathConstraints(c ContentPathConstraintProcessor) {
	st.pathConstraints = c
}

// Head returns the version number this stage will produce. For a mutable-HEAD
// stage this is the draft version; its content paths are placed under the
// revision directory reported by Revision.
func (st *Stage) Head() VNum {
	return st.head
}

// Revision returns the mutable-HEAD revision number for this stage, or 0 if
// the stage isn't a mutable-HEAD revision.
func (st *Stage) Revision() int {
	return st.revision
}

// doInFileLock runs fn while holding the stage's lock for the logical path,
// serializing concurrent writers to the same path within one staged update.
// If ctx is done before the lock is acquired, doInFileLock returns an error
// wrapping ErrLockTimeout.
func (st *Stage) doInFileLock(ctx context.Context, logical string, fn func() error) error {
	err := st.fileLocks.Do(ctx, logical, fn)
	if errors.Is(err, lock.ErrTimeout) {
		return fmt.Errorf("%w: logical path %q", ErrLockTimeout, logical)
	}
	return err
}

// hasContent reports whether digestVal already has a content path in the
// working manifest.
func (st *Stage) hasContent(digestVal string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.manifest[digestVal]) > 0
}

// contentPathFor returns the content path a newly digested file should be
// written to: under the version directory for a normal stage, or under the
// mutable-HEAD revision directory for a mutable-HEAD stage. The logical path
// is sanitized by the stage's path mapper and the result is checked by its
// content-path constraint processor; violations fail with an error wrapping
// ErrInvalidPath before any bytes are written.
func (st *Stage) contentPathFor(logical string) (string, error) {
	part, err := st.pathMapper.ToContentPathPart(logical)
	if err != nil {
		return "", err
	}
	contentDir := DefaultContentDirectory
	if st.base != nil {
		contentDir = st.base.contentDir()
	}
	var contentPath string
	if st.revision > 0 {
		contentPath = fmt.Sprintf("%s/head/%s/r%d/%s", mutableHeadExtensionDir, contentDir, st.revision, part)
	} else {
		contentPath = st.head.String() + "/" + contentDir + "/" + part
	}
	if err := st.pathConstraints.Apply(contentPath); err != nil {
		return "", err
	}
	return contentPath, nil
}

// AddFile implements the addFile operation: if digest isn't already present
// in the working manifest, a new content path is allocated and bound to it;
// the logical path is then bound to digest in the working state. If logical
// is already present in the state, AddFile fails with ErrAlreadyExists
// unless overwrite is true.
func (st *Stage) AddFile(digestVal, logical string, overwrite bool) error {
	if !fs.ValidPath(logical) || logical == "." {
		return fmt.Errorf("%w: %q", ErrInvalidPath, logical)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing := st.State.DigestFor(logical); existing != "" {
		if !overwrite {
			return fmt.Errorf("%w: logical path %q", ErrAlreadyExists, logical)
		}
		st.State.Mutate(RemovePath(logical))
	}
	if len(st.manifest[digestVal]) == 0 {
		contentPath, err := st.contentPathFor(logical)
		if err != nil {
			return err
		}
		st.manifest[digestVal] = []string{contentPath}
	}
	st.State[digestVal] = append(st.State[digestVal], logical)
	return nil
}

// RemoveFile implements the removeFile operation: logical is deleted from
// the working state. If no content path in the working manifest is
// referenced anymore once it's removed, the manifest is not touched here;
// orphaned entries are collected when the stage is finalized into an
// inventory, since a digest might still be referenced by earlier versions.
func (st *Stage) RemoveFile(logical string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.State.DigestFor(logical) == "" {
		return fmt.Errorf("%w: logical path %q", ErrNotFound, logical)
	}
	st.State.Mutate(RemovePath(logical))
	return nil
}

// RenameFile implements the renameFile operation: equivalent to
// RemoveFile(src) followed by binding dst to src's digest using its existing
// content path (no new bytes are written).
func (st *Stage) RenameFile(src, dst string, overwrite bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	digestVal := st.State.DigestFor(src)
	if digestVal == "" {
		return fmt.Errorf("%w: logical path %q", ErrNotFound, src)
	}
	if existing := st.State.DigestFor(dst); existing != "" {
		if !overwrite {
			return fmt.Errorf("%w: logical path %q", ErrAlreadyExists, dst)
		}
		st.State.Mutate(RemovePath(dst))
	}
	st.State.Mutate(RemovePath(src))
	st.State[digestVal] = append(st.State[digestVal], dst)
	return nil
}

// ReinstateFile implements the reinstateFile operation: it looks up the
// digest bound to srcLogical in version srcVersion of the stage's base
// inventory and binds it to dstLogical in the working state. No new content
// path is created.
func (st *Stage) ReinstateFile(srcVersion VNum, srcLogical, dstLogical string, overwrite bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.base == nil {
		return fmt.Errorf("%w: no prior version to reinstate from", ErrNotFound)
	}
	srcVer, ok := st.base.Versions[srcVersion]
	if !ok {
		return fmt.Errorf("%w: version %s", ErrNotFound, srcVersion)
	}
	digestVal := srcVer.State.DigestFor(srcLogical)
	if digestVal == "" {
		return fmt.Errorf("%w: %q in version %s", ErrNotFound, srcLogical, srcVersion)
	}
	if existing := st.State.DigestFor(dstLogical); existing != "" {
		if !overwrite {
			return fmt.Errorf("%w: logical path %q", ErrAlreadyExists, dstLogical)
		}
		st.State.Mutate(RemovePath(dstLogical))
	}
	st.State[digestVal] = append(st.State[digestVal], dstLogical)
	return nil
}

// AddFixity records a digest for logical's content under an alternate
// algorithm (one other than the stage's primary algorithm). The value is
// written to the inventory's fixity block, keyed by the content path bound
// to logical.
func (st *Stage) AddFixity(logical string, algID string, digestVal string) error {
	if algID == st.DigestAlgorithm {
		return fmt.Errorf("%q is the primary digest algorithm, not a fixity algorithm", algID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	primary := st.State.DigestFor(logical)
	if primary == "" {
		return fmt.Errorf("%w: logical path %q", ErrNotFound, logical)
	}
	contentPaths := st.manifest[primary]
	if len(contentPaths) == 0 {
		return fmt.Errorf("%w: no content path for %q", ErrNotFound, logical)
	}
	if st.fixity == nil {
		st.fixity = map[string]DigestMap{}
	}
	if st.fixity[algID] == nil {
		st.fixity[algID] = DigestMap{}
	}
	for _, contentPath := range contentPaths {
		if st.fixity[algID].DigestFor(contentPath) == "" {
			st.fixity[algID][digestVal] = append(st.fixity[algID][digestVal], contentPath)
		}
	}
	return nil
}

// buildInventory finalizes the stage into the inventory for the object's
// next version, garbage-collecting manifest entries that are no longer
// referenced by any version's state and are not pinned by fixity.
func (st *Stage) buildInventory(created time.Time, message string, user *User) (*Inventory, error) {
	if err := st.State.Valid(); err != nil {
		return nil, fmt.Errorf("%w: staged state is invalid: %w", ErrCorruptObject, err)
	}
	inv := &Inventory{
		DigestAlgorithm:  st.DigestAlgorithm,
		Head:             st.head,
		ContentDirectory: DefaultContentDirectory,
		Manifest:         st.manifest.Clone(),
		Versions:         map[VNum]*Version{},
	}
	if st.base != nil {
		inv.ID = st.base.ID
		inv.Type = st.base.Type
		inv.ContentDirectory = st.base.ContentDirectory
		if st.base.Fixity != nil {
			inv.Fixity = make(map[string]DigestMap, len(st.base.Fixity))
			for algID, dm := range st.base.Fixity {
				inv.Fixity[algID] = dm.Clone()
			}
		}
		for v, rec := range st.base.Versions {
			inv.Versions[v] = rec
		}
	}
	// version timestamps never decrease
	if st.base != nil {
		if prev := st.base.HeadVersion(); prev != nil && created.Before(prev.Created) {
			created = prev.Created
		}
	}
	inv.Versions[st.head] = &Version{
		Created: created,
		Message: message,
		User:    user,
		State:   st.State.Clone(),
	}
	if len(st.fixity) > 0 {
		if inv.Fixity == nil {
			inv.Fixity = map[string]DigestMap{}
		}
		for algID, dm := range st.fixity {
			if inv.Fixity[algID] == nil {
				inv.Fixity[algID] = DigestMap{}
			}
			for digestVal, contentPaths := range dm {
				for _, p := range contentPaths {
					if inv.Fixity[algID].DigestFor(p) == "" {
						inv.Fixity[algID][digestVal] = append(inv.Fixity[algID][digestVal], p)
					}
				}
			}
		}
	}
	referenced := DigestMap{}
	for _, rec := range inv.Versions {
		for logical, digestVal := range rec.State.Paths() {
			referenced[digestVal] = append(referenced[digestVal], logical)
		}
	}
	for digestVal := range inv.Manifest {
		if len(referenced[digestVal]) > 0 {
			continue
		}
		if pinned := inv.pinnedByFixity(digestVal); pinned {
			continue
		}
		delete(inv.Manifest, digestVal)
	}
	// the caller sets ID and Type for brand new objects, then validates
	return inv, nil
}

// pinnedByFixity reports whether digestVal appears as a fixity value for any
// content path still present in the manifest.
func (inv *Inventory) pinnedByFixity(digestVal string) bool {
	for _, altMap := range inv.Fixity {
		if _, ok := altMap[digestVal]; ok {
			return true
		}
	}
	return false
}

// createObjectTempDir returns a fresh, empty staging directory for objectID
// under the storage root dir in fsys, siblings of object roots rather than
// nested inside them. The caller is responsible for removing it on every
// exit path.
func createObjectTempDir(ctx context.Context, fsys ocflfs.WriteFS, root string, objectID string) (string, error) {
	dir := stagingDirName(root, objectID)
	if err := ocflfs.RemoveAll(ctx, fsys, dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("clearing staging directory: %w", err)
	}
	return dir, nil
}

// stagingDirCount distinguishes staging directories created for the same
// object by concurrent updates in this process.
var stagingDirCount atomic.Int64

// stagingDirName derives a fresh staging directory name for objectID that is
// safe to use as a path segment, using the digest package's sha256 algorithm
// rather than the raw (possibly path-unsafe) object identifier.
func stagingDirName(root, objectID string) string {
	d := digest.SHA256.Digester()
	d.Write([]byte(objectID))
	name := fmt.Sprintf("%s-%d", d.String(), stagingDirCount.Add(1))
	return path.Join(root, ".ocfl-staging", name)
}
