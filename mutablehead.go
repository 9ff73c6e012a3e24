package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/logging"
)

// mutableHeadExtensionDir is the path, relative to an object root, of the
// mutable-HEAD extension's staging overlay.
const mutableHeadExtensionDir = ExtensionsDir + "/0005-mutable-head-0.1"

// mutableHeadDir returns the path of the mutable-HEAD overlay's "head"
// directory relative to an object root.
func mutableHeadDir() string {
	return path.Join(mutableHeadExtensionDir, "head")
}

// mutableHeadRevisionsDir returns the path of the overlay's revision marker
// directory relative to an object root. One marker file ("r1", "r2", ...) is
// written per staged revision, so the current revision number is recoverable
// from storage even when a revision adds no content.
func mutableHeadRevisionsDir() string {
	return path.Join(mutableHeadExtensionDir, "revisions")
}

// StageChanges allocates the next mutable-HEAD revision for obj, applies fn
// to a Stage in CopyStateMutable mode, and writes the resulting inventory to
// the mutable-HEAD overlay. If obj has no versions yet, an empty v1 is
// created and committed first, since the mutable-HEAD extension only ever
// revises an existing object.
func (obj *Object) StageChanges(ctx context.Context, c *Commit, fn func(*Stage) error) error {
	return obj.doInWriteLock(ctx, func() error {
		inv, err := obj.readInventory(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if inv == nil {
			if err := obj.commitEmptyFirstVersion(ctx, c); err != nil {
				return fmt.Errorf("creating initial version before staging mutable-HEAD changes: %w", err)
			}
			inv, err = obj.readInventory(ctx)
			if err != nil {
				return err
			}
		}
		stage, err := NewMutableStage(inv, "")
		if err != nil {
			return err
		}
		rootDir, writeFS, err := obj.stagingRoot(ctx)
		if err != nil {
			return err
		}
		objID := obj.id
		if objID == "" {
			objID = inv.ID
		}
		stageDir, err := createObjectTempDir(ctx, writeFS, rootDir, objID)
		if err != nil {
			return err
		}
		defer func() {
			if err := ocflfs.RemoveAll(ctx, writeFS, stageDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger := c.Logger
				if logger == nil {
					logger = logging.DisabledLogger()
				}
				logger.WarnContext(ctx, "removing staging directory failed", "dir", stageDir, "err", err)
			}
		}()
		stage.SetContentSource(&StageSource{FS: writeFS, Root: stageDir, Manifest: stage.manifest})
		if fn != nil {
			if err := fn(stage); err != nil {
				return err
			}
		}
		newInv := inv.Clone()
		newInv.Head = stage.head
		newInv.MutableHead = &MutableHeadInfo{Revision: stage.revision}
		newInv.Versions[stage.head] = &Version{
			Created: timeOrNow(c.Created),
			Message: c.Message,
			User:    &c.User,
			State:   stage.State.Clone(),
		}
		for dig, paths := range stage.manifest {
			if _, exists := newInv.Manifest[dig]; !exists {
				newInv.Manifest[dig] = paths
			}
		}
		return obj.writeMutableHeadRevision(ctx, newInv, stage, c.Logger)
	})
}

// CommitStagedChanges folds the object's mutable-HEAD overlay into a normal
// immutable version and deletes the overlay. Timestamps and message/user
// metadata come from c, not from the individual StageChanges calls that
// built the overlay.
func (obj *Object) CommitStagedChanges(ctx context.Context, c *Commit) error {
	if c.User.Name == "" {
		return errMissingUser
	}
	return obj.doInWriteLock(ctx, func() error {
		inv, err := obj.readInventory(ctx)
		if err != nil {
			return err
		}
		if inv.MutableHead == nil {
			return fmt.Errorf("%w: object has no staged mutable-HEAD changes", ErrNotFound)
		}
		// the overlay inventory's head is the draft version being sealed
		newInv := inv.Clone()
		newInv.MutableHead = nil
		newInv.Versions[inv.Head] = &Version{
			Created: timeOrNow(c.Created),
			Message: c.Message,
			User:    &c.User,
			State:   inv.Versions[inv.Head].State.Clone(),
		}
		collectOrphanedManifestEntries(newInv)
		// content staged under the overlay's revision directories moves into
		// the immutable version's content directory; rewrite the manifest's
		// content paths to their post-fold locations.
		revisionContent := extractRevisionManifest(inv)
		foldManifestToVersion(newInv, revisionContent, inv.Head)
		if err := newInv.Validate(); err != nil {
			return err
		}

		prev, err := obj.readRootInventory(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		plan := &commitPlan{
			FS:            obj.FS(),
			Path:          obj.path,
			NewInventory:  newInv,
			PrevInventoy:  prev,
			ContentSource: &objectContentSource{obj: obj, manifest: revisionContent},
		}
		plan.NewContent, err = newContentMap(newInv)
		if err != nil {
			return err
		}
		logger := c.Logger
		if logger == nil {
			logger = logging.DisabledLogger()
		}
		if err := plan.Run(ctx, logger); err != nil {
			return err
		}
		writeFS, ok := obj.FS().(ocflfs.WriteFS)
		if !ok {
			return fmt.Errorf("storage backend is not writable")
		}
		return ocflfs.RemoveAll(ctx, writeFS, path.Join(obj.path, mutableHeadExtensionDir))
	})
}

// PurgeStagedChanges deletes the object's mutable-HEAD overlay without
// otherwise changing the object.
func (obj *Object) PurgeStagedChanges(ctx context.Context) error {
	return obj.doInWriteLock(ctx, func() error {
		writeFS, ok := obj.FS().(ocflfs.WriteFS)
		if !ok {
			return fmt.Errorf("storage backend is not writable")
		}
		return ocflfs.RemoveAll(ctx, writeFS, path.Join(obj.path, mutableHeadExtensionDir))
	})
}

// commitEmptyFirstVersion creates an auto-generated v1 with no state. This
// is the only path that produces a version with no user content.
func (obj *Object) commitEmptyFirstVersion(ctx context.Context, c *Commit) error {
	stage, err := NewStage(nil, obj.defaultAlg())
	if err != nil {
		return err
	}
	inv, err := stage.buildInventory(timeOrNow(c.Created), c.Message, &c.User)
	if err != nil {
		return err
	}
	inv.ID = c.ID
	if inv.ID == "" {
		inv.ID = obj.id
	}
	spec := c.Spec
	if spec.Empty() {
		spec = Spec1_1
	}
	inv.Type = spec.InventoryType()
	if err := inv.Validate(); err != nil {
		return err
	}
	plan := &commitPlan{FS: obj.FS(), Path: obj.path, NewInventory: inv}
	logger := c.Logger
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	return plan.Run(ctx, logger)
}

func (obj *Object) defaultAlg() string {
	return DefaultDigestAlgorithm
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// writeMutableHeadRevision writes newInv to the mutable-HEAD overlay,
// transfers any content staged under this revision, and records the revision
// marker.
func (obj *Object) writeMutableHeadRevision(ctx context.Context, newInv *Inventory, stage *Stage, logger *slog.Logger) error {
	writeFS, ok := obj.FS().(ocflfs.WriteFS)
	if !ok {
		return fmt.Errorf("storage backend is not writable")
	}
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	revisionPrefix := fmt.Sprintf("%s/%s/r%d/", mutableHeadDir(), newInv.contentDir(), stage.revision)
	pm := PathMap{}
	for contentPath, dig := range newInv.Manifest.Paths() {
		if strings.HasPrefix(contentPath, revisionPrefix) {
			pm[contentPath] = dig
		}
	}
	newContent := pm.DigestMap()
	if len(newContent) > 0 && stage.source != nil {
		logger.DebugContext(ctx, "transferring mutable-HEAD content", "count", len(newContent), "revision", stage.revision)
		if err := copyContent(ctx, &copyContentOpts{
			Source:   stage.source,
			DestFS:   writeFS,
			DestRoot: obj.path,
			Manifest: newContent,
		}); err != nil {
			return fmt.Errorf("transferring mutable-HEAD content: %w", err)
		}
	}
	marker := path.Join(obj.path, mutableHeadRevisionsDir(), fmt.Sprintf("r%d", stage.revision))
	if _, err := ocflfs.Replace(ctx, writeFS, marker, strings.NewReader(fmt.Sprintf("r%d\n", stage.revision))); err != nil {
		return fmt.Errorf("writing revision marker: %w", err)
	}
	minv, err := marshalInventoryBytes(newInv)
	if err != nil {
		return err
	}
	// each revision replaces the previous revision's overlay inventory
	return writeInventoryDir(ctx, writeFS, minv, path.Join(obj.path, mutableHeadDir()), true)
}

// extractRevisionManifest returns the subset of inv's manifest whose content
// paths live under the mutable-HEAD overlay.
func extractRevisionManifest(inv *Inventory) DigestMap {
	pm := PathMap{}
	prefix := mutableHeadDir() + "/"
	for contentPath, dig := range inv.Manifest.Paths() {
		if strings.HasPrefix(contentPath, prefix) {
			pm[contentPath] = dig
		}
	}
	return pm.DigestMap()
}

// collectOrphanedManifestEntries removes manifest digests that no version's
// state references and that aren't pinned by fixity. Orphans appear when a
// later revision overwrites or removes content staged by an earlier one.
func collectOrphanedManifestEntries(inv *Inventory) {
	referenced := map[string]bool{}
	for _, rec := range inv.Versions {
		for digestVal := range rec.State {
			referenced[digestVal] = true
		}
	}
	for digestVal := range inv.Manifest {
		if referenced[digestVal] || inv.pinnedByFixity(digestVal) {
			continue
		}
		delete(inv.Manifest, digestVal)
	}
}

// foldManifestToVersion rewrites newInv's manifest entries that point into
// the mutable-HEAD overlay (revisionContent) so they point into the content
// directory of version head instead, preserving each path's position below
// its revision directory. The overlay itself is removed by the caller once
// the new version is installed.
func foldManifestToVersion(newInv *Inventory, revisionContent DigestMap, head VNum) {
	contentPrefix := mutableHeadDir() + "/" + newInv.contentDir() + "/"
	for _, oldPaths := range revisionContent {
		for _, oldPath := range oldPaths {
			rest := strings.TrimPrefix(oldPath, contentPrefix) // "r{N}/..."
			_, logicalPart, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			newPath := head.String() + "/" + newInv.contentDir() + "/" + logicalPart
			newInv.Manifest.Mutate(RenamePaths(oldPath, newPath))
		}
	}
}
