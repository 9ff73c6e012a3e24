package ocfl_test

import (
	"context"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/memfs"
)

func TestParseNamaste(t *testing.T) {
	is := is.New(t)
	n, err := ocfl.ParseNamaste("0=ocfl_object_1.1")
	is.NoErr(err)
	is.Equal(ocfl.NamasteTypeObject, n.Type)
	is.Equal(ocfl.Spec1_1, n.Version)
	is.True(n.IsObject())
	is.True(!n.IsRoot())

	n, err = ocfl.ParseNamaste("0=ocfl_1.0")
	is.NoErr(err)
	is.True(n.IsRoot())

	for _, bad := range []string{"", "inventory.json", "0=ocfl", "1=ocfl_object_1.1", "0=ocfl_object_x"} {
		if _, err := ocfl.ParseNamaste(bad); err == nil {
			t.Errorf("ParseNamaste(%q) should fail", bad)
		}
	}
}

func TestNamasteNameBody(t *testing.T) {
	is := is.New(t)
	n := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: ocfl.Spec1_1}
	is.Equal("0=ocfl_object_1.1", n.Name())
	is.Equal("ocfl_object_1.1\n", n.Body())
	is.Equal("", ocfl.Namaste{}.Name())
}

func TestWriteValidateDeclaration(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys := memfs.New()
	decl := ocfl.Namaste{Type: ocfl.NamasteTypeObject, Version: ocfl.Spec1_1}
	is.NoErr(ocfl.WriteDeclaration(ctx, fsys, "obj", decl))
	b, err := ocflfs.ReadAll(ctx, fsys, "obj/0=ocfl_object_1.1")
	is.NoErr(err)
	is.Equal(decl.Body(), string(b))
	is.NoErr(ocfl.ValidateNamaste(ctx, fsys, "obj/0=ocfl_object_1.1"))

	// corrupt contents fail validation
	_, err = fsys.Write(ctx, "bad/0=ocfl_object_1.1", strings.NewReader("wrong\n"))
	is.NoErr(err)
	is.True(ocfl.ValidateNamaste(ctx, fsys, "bad/0=ocfl_object_1.1") != nil)
}
