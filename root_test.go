package ocfl_test

import (
	"context"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/extension"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/memfs"
)

func TestInitRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	root, err := ocfl.NewRoot(ctx, fsys, ".", ocfl.InitRoot(ocfl.Spec1_1, "test root", extension.Ext0002()))
	is.NoErr(err)
	is.Equal(ocfl.Spec1_1, root.Spec())
	is.Equal("0002-flat-direct-storage-layout", root.LayoutName())
	is.Equal("test root", root.Description())

	// storage root declaration and layout config are on storage
	_, err = ocflfs.ReadAll(ctx, fsys, "0=ocfl_1.1")
	is.NoErr(err)
	_, err = ocflfs.ReadAll(ctx, fsys, "ocfl_layout.json")
	is.NoErr(err)
	_, err = ocflfs.ReadAll(ctx, fsys, "extensions/0002-flat-direct-storage-layout/config.json")
	is.NoErr(err)

	// reopening the root reads the same configuration back
	reopened, err := ocfl.NewRoot(ctx, fsys, ".")
	is.NoErr(err)
	is.Equal(ocfl.Spec1_1, reopened.Spec())
	is.Equal("0002-flat-direct-storage-layout", reopened.LayoutName())
}

func TestRootResolveID(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	layout := extension.Ext0003()
	root, err := ocfl.NewRoot(ctx, fsys, ".", ocfl.InitRoot(ocfl.Spec1_1, "", layout))
	is.NoErr(err)
	objPath, err := root.ResolveID("object-01")
	is.NoErr(err)
	is.Equal("3c0/ff4/240/object-01", objPath)
}

func TestRootNoLayout(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	// initialize a root with no layout extension
	root, err := ocfl.NewRoot(ctx, fsys, ".", ocfl.InitRoot(ocfl.Spec1_1, ""))
	is.NoErr(err)
	_, err = root.ResolveID("o1")
	is.Equal(ocfl.ErrLayoutUndefined, err)
	// objects can still be addressed by explicit directory
	obj, err := root.NewObjectDir(ctx, "objects/o1")
	is.NoErr(err)
	is.Equal("objects/o1", obj.Path())
}

func TestRootObjectsIteration(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	for _, id := range []string{"obj-a", "obj-b", "obj-c"} {
		commitVersion(t, root, id, map[string]string{"f.txt": "content of " + id})
	}
	found := map[string]bool{}
	for obj, err := range root.Objects(ctx) {
		is.NoErr(err)
		inv, err := obj.ReadObject(ctx)
		is.NoErr(err)
		found[inv.ID] = true
	}
	is.Equal(3, len(found))
	is.True(found["obj-a"])
	is.True(found["obj-b"])
	is.True(found["obj-c"])
}

func TestNotAStorageRoot(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	_, err := fsys.Write(ctx, "some/file.txt", strings.NewReader("data"))
	is.NoErr(err)
	_, err = ocfl.NewRoot(ctx, fsys, ".")
	is.True(err != nil)
}
