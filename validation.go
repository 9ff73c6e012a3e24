package ocfl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/ocflcore/ocfl/digest"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/logging"
	"github.com/ocflcore/ocfl/validation"
)

var (
	// ErrObjectRootStructure is returned for an object root directory with
	// unexpected files or directories.
	ErrObjectRootStructure = errors.New("unexpected object root contents")

	// ErrInventoryHeadMismatch is returned when a version's inventory is
	// inconsistent with the object root's inventory.
	ErrInventoryHeadMismatch = errors.New("inventory doesn't match object root state")
)

// ObjectValidation accumulates the results of validating one OCFL object.
// It's returned by [ValidateObject].
type ObjectValidation struct {
	validation.Log

	fs   ocflfs.FS
	path string

	skipDigests  bool
	fallbackSpec Spec
	algRegistry  digest.AlgorithmRegistry

	root *ObjectRoot
	inv  *Inventory
}

// ObjectValidationOption is used to configure [ValidateObject].
type ObjectValidationOption func(*ObjectValidation)

// ValidationLogger sets the logger that records validation fatal errors and
// warnings as they're found.
func ValidationLogger(l *slog.Logger) ObjectValidationOption {
	return func(v *ObjectValidation) { v.Log.Logger = l }
}

// ValidationSkipDigests skips the expensive step of re-digesting every file
// in the object to confirm it matches its manifest entry.
func ValidationSkipDigests() ObjectValidationOption {
	return func(v *ObjectValidation) { v.skipDigests = true }
}

// ValidationFallbackSpec sets the OCFL specification version assumed when an
// object's own declaration can't be read.
func ValidationFallbackSpec(spec Spec) ObjectValidationOption {
	return func(v *ObjectValidation) { v.fallbackSpec = spec }
}

// ValidationAlgorithms sets the registry used to resolve inventory digest
// algorithm names during validation.
func ValidationAlgorithms(reg digest.AlgorithmRegistry) ObjectValidationOption {
	return func(v *ObjectValidation) { v.algRegistry = reg }
}

func newObjectValidation(fsys ocflfs.FS, objPath string, opts ...ObjectValidationOption) *ObjectValidation {
	v := &ObjectValidation{
		Log:          validation.NewLog(context.Background(), logging.DisabledLogger()),
		fs:           fsys,
		path:         objPath,
		fallbackSpec: Spec1_1,
		algRegistry:  AlgRegistry(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateObject performs a complete, read-only validation pass over the
// OCFL object rooted at objPath in fsys: its NAMASTE declaration, root and
// version inventories, and (unless [ValidationSkipDigests] is given) the
// digests of every file referenced by the object's manifest.
func ValidateObject(ctx context.Context, fsys ocflfs.FS, objPath string, opts ...ObjectValidationOption) *ObjectValidation {
	v := newObjectValidation(fsys, objPath, opts...)
	v.Log = validation.NewLog(ctx, v.Log.Logger)
	root, err := GetObjectRoot(ctx, fsys, objPath)
	if err != nil {
		v.AddFatal(err)
		return v
	}
	v.root = root
	state := v.root.State
	for _, name := range state.Invalid {
		v.AddFatal(fmt.Errorf("%w: %q", ErrObjectRootStructure, name))
	}
	if err := v.root.ValidateNamaste(ctx); err != nil {
		v.AddFatal(err)
	}
	if !state.HasInventory() {
		v.AddFatal(fmt.Errorf("%w: missing root inventory.json", ErrCorruptObject))
		return v
	}
	if !state.HasSidecar() {
		v.AddFatal(fmt.Errorf("%w: missing root inventory sidecar", ErrCorruptObject))
		return v
	}
	inv, err := v.validateInventoryAt(ctx, ".", state.SidecarAlg)
	if err != nil {
		return v
	}
	v.inv = inv
	if err := inv.Validate(); err != nil {
		v.AddFatal(err)
	}
	if head := state.VersionDirs.Head(); !head.Empty() && head.Num() != inv.Head.Num() {
		v.AddFatal(fmt.Errorf("%w: object root's highest version directory is %s, inventory head is %s", ErrInventoryHeadMismatch, head, inv.Head))
	}
	if err := state.VersionDirs.Valid(); err != nil {
		v.AddFatal(err)
	}
	for _, vnum := range state.VersionDirs {
		v.validateVersionDir(ctx, vnum)
	}
	v.validateExtensionsDir(ctx)
	if !v.skipDigests && v.Valid() {
		v.validateManifestDigests(ctx)
	}
	return v
}

// validateInventoryAt reads and decodes the inventory.json at dir (relative
// to the object root), confirms its sidecar digest matches, and returns the
// decoded inventory. sidecarAlg is the algorithm named by the sidecar's file
// extension found in the directory listing.
func (v *ObjectValidation) validateInventoryAt(ctx context.Context, dir, sidecarAlg string) (*Inventory, error) {
	invPath := inventoryFile
	if dir != "." {
		invPath = path.Join(dir, inventoryFile)
	}
	fullPath := path.Join(v.path, invPath)
	b, err := ocflfs.ReadAll(ctx, v.fs, fullPath)
	if err != nil {
		err = fmt.Errorf("reading %s: %w", invPath, err)
		v.AddFatal(err)
		return nil, err
	}
	inv, err := UnmarshalInventory(b)
	if err != nil {
		v.AddFatal(err)
		return nil, err
	}
	alg, err := v.algRegistry.Get(sidecarAlg)
	if err != nil {
		err = fmt.Errorf("%w: sidecar algorithm %q", ErrCorruptObject, sidecarAlg)
		v.AddFatal(err)
		return nil, err
	}
	digester := alg.Digester()
	if _, err := digester.Write(b); err != nil {
		v.AddFatal(err)
		return nil, err
	}
	sidecarName := inventoryFile + "." + sidecarAlg
	sidecarPath := sidecarName
	if dir != "." {
		sidecarPath = path.Join(dir, sidecarName)
	}
	sidecarBytes, err := ocflfs.ReadAll(ctx, v.fs, path.Join(v.path, sidecarPath))
	if err != nil {
		err = fmt.Errorf("reading %s: %w", sidecarPath, err)
		v.AddFatal(err)
		return nil, err
	}
	expected, _, _ := strings.Cut(string(sidecarBytes), " ")
	if got := digester.String(); !strings.EqualFold(got, expected) {
		err := fmt.Errorf("%w: %s digest is %s, sidecar says %s", ErrFixityMismatch, invPath, got, expected)
		v.AddFatal(err)
		return nil, err
	}
	return inv, nil
}

// validateVersionDir checks the structure of a version directory and, if it
// has its own inventory, validates it and confirms it agrees with the root
// inventory's record of the same version.
func (v *ObjectValidation) validateVersionDir(ctx context.Context, vnum VNum) {
	log := v.Log.With("version", vnum.String())
	vDir := vnum.String()
	entries, err := ocflfs.ReadDir(ctx, v.fs, path.Join(v.path, vDir))
	if err != nil {
		log.AddFatal(err)
		return
	}
	var hasInventory bool
	var sidecarAlg string
	contentDir := v.inv.contentDir()
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == inventoryFile:
			hasInventory = true
		case strings.HasPrefix(name, sidecarPrefix):
			sidecarAlg = strings.TrimPrefix(name, sidecarPrefix)
		case e.IsDir() && name == contentDir:
			// expected content directory
		default:
			log.AddWarn(fmt.Errorf("%w: unexpected entry %q in %s", ErrObjectRootStructure, name, vDir))
		}
	}
	if !hasInventory {
		log.AddWarn(fmt.Errorf("missing inventory.json in %s", vDir))
		return
	}
	if sidecarAlg == "" {
		log.AddFatal(fmt.Errorf("%w: missing inventory sidecar in %s", ErrCorruptObject, vDir))
		return
	}
	inv, err := v.validateInventoryAt(ctx, vDir, sidecarAlg)
	if err != nil {
		return
	}
	if inv.Head.Num() != vnum.Num() {
		log.AddFatal(fmt.Errorf("%w: inventory head is %s, expected %s", ErrInventoryHeadMismatch, inv.Head, vnum))
	}
	if inv.ID != v.inv.ID {
		log.AddFatal(fmt.Errorf("%w: inventory id %q, expected %q", ErrInventoryHeadMismatch, inv.ID, v.inv.ID))
	}
	if vnum.Num() == v.inv.Head.Num() {
		return // the head version's inventory was already fully validated as the root inventory
	}
	rootVersion, ok := v.inv.Versions[vnum]
	if !ok {
		log.AddFatal(fmt.Errorf("%w: root inventory has no record of %s", ErrInventoryHeadMismatch, vnum))
		return
	}
	thisVersion, ok := inv.Versions[vnum]
	if !ok {
		log.AddFatal(fmt.Errorf("%w: inventory's own versions doesn't include %s", ErrInventoryHeadMismatch, vnum))
		return
	}
	if !thisVersion.State.Eq(rootVersion.State) {
		log.AddFatal(fmt.Errorf("%w: %s state differs from root inventory's record of %s", ErrInventoryHeadMismatch, vDir, vnum))
	}
}

// validateExtensionsDir checks that entries in the object's extensions
// directory, if present, are directories.
func (v *ObjectValidation) validateExtensionsDir(ctx context.Context) {
	if !v.root.State.HasExtensions() {
		return
	}
	entries, err := ocflfs.ReadDir(ctx, v.fs, path.Join(v.path, ExtensionsDir))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			v.AddWarn(err)
		}
		return
	}
	log := v.Log.With("dir", ExtensionsDir)
	for _, e := range entries {
		if !e.IsDir() {
			log.AddWarn(fmt.Errorf("%w: unexpected file %q", ErrObjectRootStructure, e.Name()))
		}
	}
}

// validateManifestDigests re-digests every content path in the object's
// manifest and confirms the result matches the manifest's recorded digest.
func (v *ObjectValidation) validateManifestDigests(ctx context.Context) {
	alg, err := v.algRegistry.Get(v.inv.DigestAlgorithm)
	if err != nil {
		v.AddFatal(err)
		return
	}
	files := make([]*digest.FileRef, 0, v.inv.Manifest.NumPaths())
	for contentPath, digestVal := range v.inv.Manifest.Paths() {
		files = append(files, &digest.FileRef{
			FileRef: ocflfs.FileRef{FS: v.fs, BaseDir: v.path, Path: contentPath},
			Digests: digest.Set{alg.ID(): digestVal},
		})
	}
	seq := func(yield func(*digest.FileRef) bool) {
		for _, f := range files {
			if !yield(f) {
				return
			}
		}
	}
	for err := range digest.ValidateFilesBatch(ctx, seq, v.algRegistry, 0) {
		v.AddFatal(err)
	}
}
