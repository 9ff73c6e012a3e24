package ocfl_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
)

func TestDirectPathMapper(t *testing.T) {
	is := is.New(t)
	mapper := ocfl.DirectPathMapper{}
	part, err := mapper.ToContentPathPart("dir/file.txt")
	is.NoErr(err)
	is.Equal("dir/file.txt", part)

	for _, bad := range []string{"", ".", "../up", "/abs", "a//b"} {
		if _, err := mapper.ToContentPathPart(bad); !errors.Is(err, ocfl.ErrInvalidPath) {
			t.Errorf("ToContentPathPart(%q) should fail with ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestPercentEncodingPathMapper(t *testing.T) {
	is := is.New(t)
	mapper := ocfl.PercentEncodingPathMapper{}
	cases := map[string]string{
		"plain/file.txt": "plain/file.txt",
		"a:b.txt":        "a%3ab.txt",
		"q?.txt":         "q%3f.txt",
		`back\slash`:     `back%5cslash`,
		"wild*card":      "wild%2acard",
		"50%off.txt":     "50%25off.txt",
		"trailing.":      "trailing%2e",
		"trailing ":      "trailing%20",
		"a<b>c.txt":      "a%3cb%3ec.txt",
		"dir:x/f|g.txt":  "dir%3ax/f%7cg.txt",
	}
	for in, expect := range cases {
		got, err := mapper.ToContentPathPart(in)
		is.NoErr(err)
		is.Equal(expect, got)
	}
	_, err := mapper.ToContentPathPart("../escape")
	is.True(errors.Is(err, ocfl.ErrInvalidPath))
}

func TestContentPathConstraints(t *testing.T) {
	t.Run("zero value applies no constraints", func(t *testing.T) {
		is := is.New(t)
		c := ocfl.ContentPathConstraints{}
		is.NoErr(c.Apply("v1/content/con.txt"))
		is.NoErr(c.Apply("v1/content/" + strings.Repeat("x", 300)))
	})
	t.Run("reserved names", func(t *testing.T) {
		c := ocfl.DefaultContentPathConstraints()
		for _, bad := range []string{
			"v1/content/con",
			"v1/content/CON.txt",
			"v1/content/aux",
			"v1/content/nul.dat",
			"v1/content/com1",
			"v1/content/lpt9.log",
			"v1/con/file.txt",
		} {
			if err := c.Apply(bad); !errors.Is(err, ocfl.ErrInvalidPath) {
				t.Errorf("Apply(%q) should fail with ErrInvalidPath, got %v", bad, err)
			}
		}
		if err := c.Apply("v1/content/console.txt"); err != nil {
			t.Errorf("Apply(console.txt) should pass: %v", err)
		}
	})
	t.Run("forbidden characters", func(t *testing.T) {
		is := is.New(t)
		c := ocfl.DefaultContentPathConstraints()
		is.True(errors.Is(c.Apply("v1/content/a:b.txt"), ocfl.ErrInvalidPath))
		is.True(errors.Is(c.Apply(`v1/content/a|b`), ocfl.ErrInvalidPath))
		is.NoErr(c.Apply("v1/content/a_b.txt"))
	})
	t.Run("length limits", func(t *testing.T) {
		is := is.New(t)
		c := ocfl.ContentPathConstraints{MaxPathLength: 32, MaxFilenameLength: 10}
		is.NoErr(c.Apply("v1/content/short.txt"))
		is.True(errors.Is(c.Apply("v1/content/a-very-long-filename"), ocfl.ErrInvalidPath))
		is.True(errors.Is(c.Apply("v1/content/a/b/c/d/e/f/g/h/i/j/k.txt"), ocfl.ErrInvalidPath))
	})
}

// path-mapper and constraint violations surface before any bytes land in
// the staging area
func TestPutFileInvalidPath(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)

	// default constraints reject windows-unsafe names
	_, err = obj.PutFile(ctx, stage, strings.NewReader("bytes"), "bad:name.txt", false)
	is.True(errors.Is(err, ocfl.ErrInvalidPath))
	_, err = obj.PutFile(ctx, stage, strings.NewReader("bytes"), "nul", false)
	is.True(errors.Is(err, ocfl.ErrInvalidPath))

	// the stage is still usable for valid paths
	_, err = obj.PutFile(ctx, stage, strings.NewReader("bytes"), "good.txt", false)
	is.NoErr(err)
	err = obj.Commit(ctx, &ocfl.Commit{ID: "o1", Stage: stage, Message: "ok", User: testUser})
	is.NoErr(err)
	is.Equal("bytes", readLogical(t, root, "o1", ocfl.VNum{}, "good.txt"))
}

// with the percent-encoding mapper, unsafe logical paths map to encoded
// content paths instead of failing
func TestPutFilePercentEncoded(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	root, _ := newTestRoot(t)
	obj, err := root.NewObject(ctx, "o1")
	is.NoErr(err)
	stage, err := obj.NewVersionStage(ctx)
	is.NoErr(err)
	stage.SetPathMapper(ocfl.PercentEncodingPathMapper{})

	dig, err := obj.PutFile(ctx, stage, strings.NewReader("encoded bytes"), "odd:name.txt", false)
	is.NoErr(err)
	err = obj.Commit(ctx, &ocfl.Commit{ID: "o1", Stage: stage, Message: "encoded", User: testUser})
	is.NoErr(err)

	inv, err := obj.ReadObject(ctx)
	is.NoErr(err)
	paths := inv.Manifest[dig]
	is.Equal(1, len(paths))
	is.Equal("v1/content/odd%3aname.txt", paths[0])
	// the logical path is unchanged in the version state
	is.Equal("encoded bytes", readLogical(t, root, "o1", ocfl.VNum{}, "odd:name.txt"))
}
