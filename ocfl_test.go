package ocfl_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/digest"
	"github.com/ocflcore/ocfl/extension"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/memfs"
)

var testUser = ocfl.User{Name: "Test User", Address: "mailto:test@example.com"}

func newTestRoot(t *testing.T) (*ocfl.Root, *memfs.FS) {
	t.Helper()
	ctx := context.Background()
	fsys := memfs.New()
	root, err := ocfl.NewRoot(ctx, fsys, ".", ocfl.InitRoot(ocfl.Spec1_1, "test storage root", extension.Ext0002()))
	if err != nil {
		t.Fatal("initializing test storage root:", err)
	}
	return root, fsys
}

// commitVersion stages files (logical path -> content) and commits them as
// the object's next version.
func commitVersion(t *testing.T, root *ocfl.Root, id string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	obj, err := root.NewObject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	stage, err := obj.NewVersionStage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for logical, content := range files {
		if _, err := obj.PutFile(ctx, stage, strings.NewReader(content), logical, true); err != nil {
			t.Fatalf("staging %q: %v", logical, err)
		}
	}
	err = obj.Commit(ctx, &ocfl.Commit{
		ID:      id,
		Stage:   stage,
		Message: "test commit",
		User:    testUser,
	})
	if err != nil {
		t.Fatal("commit:", err)
	}
}

func readLogical(t *testing.T, root *ocfl.Root, id string, v ocfl.VNum, logical string) string {
	t.Helper()
	ctx := context.Background()
	obj, err := root.NewObject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	f, err := obj.OpenFile(ctx, v, logical)
	if err != nil {
		t.Fatalf("opening %q: %v", logical, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// Scenario: put an object with one file and read it back, checking the
// storage layout directly.
func TestCreateAndRead(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "hello"})

	// logical read
	is.Equal("hello", readLogical(t, root, "o1", ocfl.VNum{}, "f.txt"))

	// storage layout
	b, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/content/f.txt")
	is.NoErr(err)
	is.Equal("hello", string(b))
	_, err = ocflfs.ReadAll(ctx, fsys, "o1/0=ocfl_object_1.1")
	is.NoErr(err)

	// manifest maps sha512("hello") to the content path
	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal("o1", inv.ID)
	is.Equal(1, inv.Head.Num())
	dig := digest.SHA512.Digester()
	dig.Write([]byte("hello"))
	paths := inv.Manifest[dig.String()]
	is.Equal(1, len(paths))
	is.Equal("v1/content/f.txt", paths[0])
}

// The inventory sidecar holds the digest of inventory.json.
func TestInventorySidecar(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "hello"})

	invBytes, err := ocflfs.ReadAll(ctx, fsys, "o1/inventory.json")
	is.NoErr(err)
	sidecar, err := ocflfs.ReadAll(ctx, fsys, "o1/inventory.json.sha512")
	is.NoErr(err)
	dig := digest.SHA512.Digester()
	dig.Write(invBytes)
	is.Equal(dig.String()+"  inventory.json\n", string(sidecar))

	// the version directory holds the same inventory
	vInvBytes, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/inventory.json")
	is.NoErr(err)
	is.Equal(string(invBytes), string(vInvBytes))
}

// Round-trip: the HEAD version reproduces the last-written content for every
// logical path.
func TestRoundTrip(t *testing.T) {
	is := is.New(t)
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{
		"a.txt":     "one",
		"dir/b.txt": "two",
	})
	commitVersion(t, root, "o1", map[string]string{
		"a.txt":     "one updated",
		"dir/b.txt": "two",
		"c.txt":     "three",
	})
	is.Equal("one updated", readLogical(t, root, "o1", ocfl.VNum{}, "a.txt"))
	is.Equal("two", readLogical(t, root, "o1", ocfl.VNum{}, "dir/b.txt"))
	is.Equal("three", readLogical(t, root, "o1", ocfl.VNum{}, "c.txt"))
	// v1 is still readable as written
	is.Equal("one", readLogical(t, root, "o1", ocfl.V(1, 0), "a.txt"))
}

// Prior versions' bytes and inventories don't change when a new version is
// installed.
func TestPriorVersionImmutability(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "v1 bytes"})
	v1Inv, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/inventory.json")
	is.NoErr(err)
	v1Content, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/content/f.txt")
	is.NoErr(err)

	commitVersion(t, root, "o1", map[string]string{"f.txt": "v2 bytes"})

	afterInv, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/inventory.json")
	is.NoErr(err)
	is.Equal(string(v1Inv), string(afterInv))
	afterContent, err := ocflfs.ReadAll(ctx, fsys, "o1/v1/content/f.txt")
	is.NoErr(err)
	is.Equal(string(v1Content), string(afterContent))
}

// Scenario: identical bytes written across versions (and within one version
// under two logical paths) produce exactly one content path.
func TestDeduplication(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"p1": "a"})
	commitVersion(t, root, "o1", map[string]string{"p1": "a", "p2": "a"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal(2, inv.Head.Num())
	dig := digest.SHA512.Digester()
	dig.Write([]byte("a"))
	paths := inv.Manifest[dig.String()]
	is.Equal(1, len(paths))
	is.Equal("v1/content/p1", paths[0])

	// no bytes under v2/content
	_, err = ocflfs.ReadDir(ctx, fsys, "o1/v2/content")
	is.True(errors.Is(err, fs.ErrNotExist))

	// both logical paths read back
	is.Equal("a", readLogical(t, root, "o1", ocfl.VNum{}, "p1"))
	is.Equal("a", readLogical(t, root, "o1", ocfl.VNum{}, "p2"))
}

// Scenario: rename binds the existing content path to a new logical path
// without writing bytes.
func TestRename(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"p1": "x"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	is.NoErr(stage.RenameFile("p1", "p2", false))
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "rename", User: testUser})
	is.NoErr(err)

	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	head := inv.HeadVersion()
	is.Equal("", head.State.DigestFor("p1"))
	is.True(head.State.DigestFor("p2") != "")
	is.Equal("x", readLogical(t, root, "o1", ocfl.VNum{}, "p2"))
	_, err = ocflfs.ReadDir(ctx, fsys, "o1/v2/content")
	is.True(errors.Is(err, fs.ErrNotExist))
}

// Scenario: removing every file yields a version with empty state and no
// content directory.
func TestRemoveAllFiles(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"p1": "y"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	is.NoErr(stage.RemoveFile("p1"))
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "remove all", User: testUser})
	is.NoErr(err)

	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal(2, inv.Head.Num())
	is.Equal(0, len(inv.HeadVersion().State))
	_, err = ocflfs.ReadDir(ctx, fsys, "o1/v2/content")
	is.True(errors.Is(err, fs.ErrNotExist))
}

// reinstate binds a prior version's digest to a new logical path without new
// content.
func TestReinstate(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"p1": "original"})
	commitVersion(t, root, "o1", map[string]string{"p1": "changed"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	is.NoErr(stage.ReinstateFile(ocfl.V(1, 0), "p1", "p1-restored", false))
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "reinstate", User: testUser})
	is.NoErr(err)
	is.Equal("original", readLogical(t, root, "o1", ocfl.VNum{}, "p1-restored"))
	is.Equal("changed", readLogical(t, root, "o1", ocfl.VNum{}, "p1"))
}

// For every manifest entry, the stored bytes' digest matches the manifest
// digest.
func TestFixity(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{
		"a.txt": "content a",
		"b.txt": "content b",
	})
	commitVersion(t, root, "o1", map[string]string{
		"a.txt": "content a",
		"b.txt": "content b revised",
	})
	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	for contentPath, expected := range inv.Manifest.Paths() {
		b, err := ocflfs.ReadAll(ctx, fsys, "o1/"+contentPath)
		is.NoErr(err)
		dig := digest.SHA512.Digester()
		dig.Write(b)
		is.Equal(expected, dig.String())
	}
}

// Full object validation passes for objects produced by the commit path.
func TestValidateCommittedObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"a.txt": "content a"})
	commitVersion(t, root, "o1", map[string]string{"a.txt": "content a", "b.txt": "content b"})
	result := root.ValidateObject(ctx, "o1")
	for _, err := range result.Fatal() {
		t.Error("validation:", err)
	}
	is.True(result.Valid())
}

// Two writers on the same object: exactly one installs v2; the other sees
// the object changed underneath it.
func TestConcurrentUpdate(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "v1"})

	// both writers stage against v1 before either commits
	const writers = 2
	objs := make([]*ocfl.Object, writers)
	stages := make([]*ocfl.Stage, writers)
	for i := 0; i < writers; i++ {
		obj, err := root.NewObject(ctx, "o1")
		is.NoErr(err)
		stage, err := obj.NewVersionStage(ctx)
		is.NoErr(err)
		content := fmt.Sprintf("v2 from writer %d", i)
		_, err = obj.PutFile(ctx, stage, strings.NewReader(content), "f.txt", true)
		is.NoErr(err)
		objs[i] = obj
		stages[i] = stage
	}
	results := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = objs[i].Commit(ctx, &ocfl.Commit{Stage: stages[i], Message: "concurrent", User: testUser})
		}(i)
	}
	wg.Wait()
	var oks, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			oks++
		case errors.Is(err, ocfl.ErrObjectOutOfSync):
			conflicts++
		default:
			t.Fatal("unexpected error:", err)
		}
	}
	is.Equal(1, oks)
	is.Equal(1, conflicts)

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal(2, inv.Head.Num())
}

// A version directory already on storage (a concurrent or crashed writer)
// surfaces ErrObjectOutOfSync before anything is written.
func TestCommitVersionDirExists(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "v1"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	_, err = obj.PutFile(ctx, stage, strings.NewReader("v2"), "f.txt", true)
	is.NoErr(err)

	// another writer's partial v2 appears before our install
	_, err = fsys.Write(ctx, "o1/v2/inventory.json", strings.NewReader("{}"))
	is.NoErr(err)

	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "conflict", User: testUser})
	is.True(errors.Is(err, ocfl.ErrObjectOutOfSync))

	// the object still reads at v1
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal(1, inv.Head.Num())
	is.Equal("v1", readLogical(t, root, "o1", ocfl.VNum{}, "f.txt"))
}

// Committing a version with unchanged state fails with ErrUnchanged unless
// AllowUnchanged is set.
func TestUnchangedCommit(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "same"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "no-op", User: testUser})
	is.True(errors.Is(err, ocfl.ErrUnchanged))

	stage, err = obj.NewVersionStage(ctx)
	is.NoErr(err)
	err = obj.Commit(ctx, &ocfl.Commit{Stage: stage, Message: "no-op", User: testUser, AllowUnchanged: true})
	is.NoErr(err)
	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	is.Equal(2, inv.Head.Num())
}

// Scenario: after purge, the object root is gone and iteration doesn't yield
// it.
func TestPurgeObject(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, fsys := newTestRoot(t)
	commitVersion(t, root, "o1", map[string]string{"f.txt": "bytes"})
	commitVersion(t, root, "o2", map[string]string{"g.txt": "bytes"})

	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	is.NoErr(obj.PurgeObject(ctx))

	_, err = ocflfs.ReadDir(ctx, fsys, "o1")
	is.True(errors.Is(err, fs.ErrNotExist))

	var ids []string
	for obj, err := range root.Objects(ctx) {
		is.NoErr(err)
		inv, err := obj.ReadObject(ctx)
		is.NoErr(err)
		ids = append(ids, inv.ID)
	}
	is.Equal(1, len(ids))
	is.Equal("o2", ids[0])
}

func TestObjectNotFound(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	obj, err := root.NewObject(ctx, "nope")
	is.NoErr(err)
	_, err = obj.ReadObject(ctx)
	is.True(errors.Is(err, ocfl.ErrNotFound))
	_, err = root.NewObject(ctx, "nope", ocfl.ObjectMustExist())
	is.True(err != nil)
}
