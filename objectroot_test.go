package ocfl_test

import (
	"context"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/fs/memfs"
)

func TestGetObjectRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "hello"})

	objRoot, err := ocfl.GetObjectRoot(ctx, root.FS(), "o1")
	is.NoErr(err)
	state := objRoot.State
	is.True(state.HasNamaste())
	is.True(state.HasInventory())
	is.True(state.HasSidecar())
	is.Equal("sha512", state.SidecarAlg)
	is.Equal(ocfl.Spec1_1, state.Spec)
	is.Equal(1, len(state.VersionDirs))
	is.True(state.HasVersionDir(ocfl.V(1, 0)))
	is.Equal(0, len(state.Invalid))

	// missing object
	_, err = ocfl.GetObjectRoot(ctx, root.FS(), "nope")
	is.True(err != nil)
}

func TestObjectRoots(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "1"})
	commitVersion(t, root, "o2", map[string]string{"f.txt": "2"})

	// the cloud-backed FS uses its key-listing strategy
	var found []string
	for objRoot, err := range ocfl.ObjectRoots(ctx, fsys, ".") {
		is.NoErr(err)
		is.True(objRoot.State.HasNamaste())
		found = append(found, objRoot.Path)
	}
	is.Equal(2, len(found))

	// the directory-walk strategy finds the same roots
	fsys.ObjectRootsUseWalkDirs = true
	var walked []string
	for objRoot, err := range ocfl.ObjectRoots(ctx, fsys, ".") {
		is.NoErr(err)
		walked = append(walked, objRoot.Path)
	}
	is.Equal(2, len(walked))
}

func TestObjectRootExists(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	objRoot := &ocfl.ObjectRoot{FS: fsys, Path: "missing"}
	exists, err := objRoot.Exists(ctx)
	is.NoErr(err)
	is.True(!exists)
}
