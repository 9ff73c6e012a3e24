package ocfl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/logging"
	"golang.org/x/sync/errgroup"
)

// Commit represents an update to object.
type Commit struct {
	ID      string // required for new objects in storage roots without a layout.
	Stage   *Stage // required
	Message string // may be empty
	User    User   // required

	// advanced options
	Created         time.Time // time.Now is used, if not set
	Spec            Spec      // OCFL specification version for the new object version
	NewHEAD         int       // enforces new object version number
	AllowUnchanged  bool
	ContentPathFunc func(oldPaths []string) (newPaths []string)

	Logger *slog.Logger
}

// Commit error wraps an error from a commit.
type CommitError struct {
	Err error // The wrapped error

	// Dirty indicates the object may be incomplete or invalid as a result of
	// the error.
	Dirty bool
}

func (c CommitError) Error() string {
	return c.Err.Error()
}

func (c CommitError) Unwrap() error {
	return c.Err
}

// commitPlan represents the set of actions need to complete an object update.
type commitPlan struct {
	FS            ocflfs.FS
	Path          string
	NewInventory  *Inventory
	PrevInventoy  *Inventory
	NewContent    DigestMap
	ContentSource ContentSource
}

func (p *commitPlan) Run(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.DisabledLogger()
	}
	newVersionDir := path.Join(p.Path, p.NewInventory.Head.String())
	// 1. a version directory that already exists means a concurrent writer
	// (or a crashed earlier commit) got here first: the staged work must be
	// discarded and re-staged against the object's new state.
	if p.PrevInventoy != nil {
		switch _, err := ocflfs.ReadDir(ctx, p.FS, newVersionDir); {
		case err == nil:
			err = fmt.Errorf("%w: version directory %s already exists", ErrObjectOutOfSync, p.NewInventory.Head)
			return &CommitError{Err: err}
		case !errors.Is(err, fs.ErrNotExist):
			return &CommitError{Err: fmt.Errorf("%w: %w", ErrStorageIO, err)}
		}
	}
	// 2. create or update the NAMASTE object declaration
	newSpec := p.NewInventory.Type.Spec
	var oldSpec Spec
	if p.PrevInventoy != nil {
		oldSpec = p.PrevInventoy.Type.Spec
	}
	if oldSpec != newSpec {
		if !oldSpec.Empty() {
			oldDecl := Namaste{Type: NamasteTypeObject, Version: oldSpec}
			logger.DebugContext(ctx, "deleting previous OCFL object declaration", "name", oldDecl)
			if err := ocflfs.Remove(ctx, p.FS, path.Join(p.Path, oldDecl.Name())); err != nil {
				return &CommitError{Err: err, Dirty: true}
			}
		}
		newDecl := Namaste{Type: NamasteTypeObject, Version: newSpec}
		logger.DebugContext(ctx, "writing new OCFL object declaration", "name", newDecl)
		if err := WriteDeclaration(ctx, p.FS, p.Path, newDecl); err != nil {
			return &CommitError{Err: err, Dirty: true}
		}
	}
	// 3. transfer files from stage to object
	if len(p.NewContent) > 0 {
		copyOpts := &copyContentOpts{
			Source:   p.ContentSource,
			DestFS:   p.FS,
			DestRoot: p.Path,
			Manifest: p.NewContent,
		}
		logger.DebugContext(ctx, "copying new object files", "count", len(p.NewContent))
		if err := copyContent(ctx, copyOpts); err != nil {
			err = fmt.Errorf("transferring new object contents: %w", err)
			return &CommitError{Err: err, Dirty: true}
		}
	}
	// 4. verify the digests of newly-written content match the manifest
	if len(p.NewContent) > 0 {
		logger.DebugContext(ctx, "verifying new object files", "count", len(p.NewContent))
		if err := verifyContent(ctx, p.FS, p.Path, p.NewInventory.DigestAlgorithm, p.NewContent); err != nil {
			return &CommitError{Err: err, Dirty: true}
		}
	}
	minv, err := marshalInventoryBytes(p.NewInventory)
	if err != nil {
		return &CommitError{Err: err, Dirty: true}
	}
	// 5. write the version directory's inventory and sidecar. An existing
	// inventory here is a concurrent writer's: leave it alone and surface
	// the conflict.
	logger.DebugContext(ctx, "writing version inventory", "dir", newVersionDir)
	if err := writeInventoryDir(ctx, p.FS, minv, newVersionDir, false); err != nil {
		if errors.Is(err, fs.ErrExist) {
			err = fmt.Errorf("%w: version %s was written concurrently", ErrObjectOutOfSync, p.NewInventory.Head)
			return &CommitError{Err: err}
		}
		err = fmt.Errorf("writing version inventory: %w", err)
		return &CommitError{Err: err, Dirty: true}
	}
	// 6. replace the root inventory and sidecar. If this fails the object
	// root still references the previous HEAD, so roll back by deleting the
	// newly installed version directory.
	logger.DebugContext(ctx, "replacing root inventory", "head", p.NewInventory.Head.String())
	if err := writeInventoryDir(ctx, p.FS, minv, p.Path, true); err != nil {
		err = fmt.Errorf("replacing root inventory: %w", err)
		logger.ErrorContext(ctx, "commit failed after installing the version directory; rolling back",
			"version", p.NewInventory.Head.String(), "err", err)
		if rbErr := p.rollback(ctx); rbErr != nil {
			logger.ErrorContext(ctx, "rollback failed; object requires manual repair",
				"version", p.NewInventory.Head.String(), "err", rbErr)
			err = fmt.Errorf("%w: %w", ErrCorruptObject, errors.Join(err, rbErr))
			return &CommitError{Err: err, Dirty: true}
		}
		return &CommitError{Err: err}
	}
	return nil
}

// rollback deletes the newly installed version directory, returning the
// object to its previous version.
func (p *commitPlan) rollback(ctx context.Context) error {
	writeFS, ok := p.FS.(ocflfs.WriteFS)
	if !ok {
		return fmt.Errorf("storage backend is not writable")
	}
	newVersionDir := path.Join(p.Path, p.NewInventory.Head.String())
	if err := ocflfs.RemoveAll(ctx, writeFS, newVersionDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// marshaledInventory holds an inventory serialized for writing, along with
// its digest sidecar contents.
type marshaledInventory struct {
	json    []byte
	sidecar string
	algID   string
}

func marshalInventoryBytes(inv *Inventory) (*marshaledInventory, error) {
	b, err := MarshalInventory(inv)
	if err != nil {
		return nil, fmt.Errorf("encoding inventory: %w", err)
	}
	alg, err := digestAlgorithm(inv.DigestAlgorithm)
	if err != nil {
		return nil, err
	}
	digester := alg.Digester()
	if _, err := digester.Write(b); err != nil {
		return nil, fmt.Errorf("digesting inventory: %w", err)
	}
	return &marshaledInventory{
		json:    b,
		sidecar: sidecarContents(digester.String()),
		algID:   inv.DigestAlgorithm,
	}, nil
}

// writeInventoryDir writes minv's inventory.json and digest sidecar to dir.
// With replace set, existing files are atomically replaced; otherwise an
// existing inventory fails with an error wrapping fs.ErrExist.
func writeInventoryDir(ctx context.Context, fsys ocflfs.FS, minv *marshaledInventory, dir string, replace bool) error {
	writeFS, ok := fsys.(ocflfs.WriteFS)
	if !ok {
		return fmt.Errorf("storage backend is not writable")
	}
	writeFn := func(name string, r io.Reader) (int64, error) {
		if replace {
			return ocflfs.Replace(ctx, writeFS, name, r)
		}
		return writeFS.Write(ctx, name, r)
	}
	invPath := path.Join(dir, inventoryFile)
	if _, err := writeFn(invPath, bytes.NewReader(minv.json)); err != nil {
		return fmt.Errorf("writing %s: %w", invPath, err)
	}
	sidecarPath := path.Join(dir, inventoryFile+"."+minv.algID)
	if _, err := writeFn(sidecarPath, strings.NewReader(minv.sidecar)); err != nil {
		return fmt.Errorf("writing %s: %w", sidecarPath, err)
	}
	return nil
}

// verifyContent re-digests every path in content, relative to root in fsys,
// and confirms the result matches its manifest digest. It guards against a
// storage backend silently truncating or corrupting a write.
func verifyContent(ctx context.Context, fsys ocflfs.FS, root string, algID string, content DigestMap) error {
	alg, err := digestAlgorithm(algID)
	if err != nil {
		return err
	}
	for dig, paths := range content {
		for _, p := range paths {
			if err := verifyContentPath(ctx, fsys, path.Join(root, p), alg, dig); err != nil {
				return fmt.Errorf("verifying %s: %w", p, err)
			}
		}
	}
	return nil
}

func verifyContentPath(ctx context.Context, fsys ocflfs.FS, fullPath string, alg digest.Algorithm, expected string) error {
	f, err := fsys.OpenFile(ctx, fullPath)
	if err != nil {
		return err
	}
	digester := alg.Digester()
	_, copyErr := io.Copy(digester, f)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if got := digester.String(); !strings.EqualFold(got, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrFixityMismatch, expected, got)
	}
	return nil
}

// newContentMap returns a DigestMap that is a subset of the inventory
// manifest for the digests and paths of new content
func newContentMap(inv *Inventory) (DigestMap, error) {
	pm := PathMap{}
	for pth, dig := range inv.Manifest.Paths() {
		// ignore manifest entries from previous versions
		if !strings.HasPrefix(pth, inv.Head.String()+"/") {
			continue
		}
		if _, exists := pm[pth]; exists {
			return nil, fmt.Errorf("path duplicate in manifest: %q", pth)
		}
		pm[pth] = dig
	}
	dm := pm.DigestMap()
	if err := dm.Valid(); err != nil {
		return nil, err
	}
	return dm, nil
}

type copyContentOpts struct {
	Source      ContentSource
	DestFS      ocflfs.FS
	DestRoot    string
	Manifest    DigestMap
	Concurrency int
}

// transfer dst/src names in files from srcFS to dstFS
func copyContent(ctx context.Context, c *copyContentOpts) error {
	if c.Source == nil {
		return errors.New("missing countent source")
	}
	conc := c.Concurrency
	if conc < 1 {
		conc = 1
	}
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(conc)
	for dig, dstNames := range c.Manifest {
		srcFS, srcPath := c.Source.GetContent(dig)
		if srcFS == nil {
			return fmt.Errorf("content source doesn't provide %q", dig)
		}
		for _, dstName := range dstNames {
			srcPath := srcPath
			dstPath := path.Join(c.DestRoot, dstName)
			grp.Go(func() error {
				_, err := ocflfs.Copy(ctx, c.DestFS, dstPath, srcFS, srcPath)
				return err
			})

		}
	}
	return grp.Wait()
}
