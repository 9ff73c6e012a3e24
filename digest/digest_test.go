package digest_test

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl/digest"
)

func TestAlgorithms(t *testing.T) {
	is := is.New(t)
	data := []byte("content")

	sum512 := sha512.Sum512(data)
	d := digest.SHA512.Digester()
	d.Write(data)
	is.Equal(hex.EncodeToString(sum512[:]), d.String())

	sum256 := sha256.Sum256(data)
	d = digest.SHA256.Digester()
	d.Write(data)
	is.Equal(hex.EncodeToString(sum256[:]), d.String())

	// size pseudo-algorithm counts bytes
	d = digest.SIZE.Digester()
	d.Write(data)
	is.Equal("7", d.String())

	// blake2b-512 produces 64-byte digests
	d = digest.BLAKE2B.Digester()
	d.Write(data)
	is.Equal(128, len(d.String()))
}

func TestMultiDigester(t *testing.T) {
	is := is.New(t)
	md := digest.NewMultiDigester(digest.SHA512, digest.MD5)
	_, err := io.Copy(md, strings.NewReader("content"))
	is.NoErr(err)
	sums := md.Sums()
	is.Equal(2, len(sums))
	is.True(sums["sha512"] != "")
	is.True(sums["md5"] != "")
	is.Equal(sums["sha512"], md.Sum("sha512"))
	is.Equal("", md.Sum("sha1"))
}

func TestRegistry(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	alg, err := reg.Get("sha512")
	is.NoErr(err)
	is.Equal("sha512", alg.ID())
	_, err = reg.Get("nope")
	is.True(errors.Is(err, digest.ErrUnknownAlg))

	algs := reg.GetAny("sha512", "nope", "md5")
	is.Equal(2, len(algs))
}

func TestSetAdd(t *testing.T) {
	is := is.New(t)
	s := digest.Set{"sha512": "ABC"}
	is.NoErr(s.Add(digest.Set{"sha512": "abc", "md5": "def"}))
	is.Equal(2, len(s))

	// conflicting value for the same algorithm
	err := s.Add(digest.Set{"md5": "different"})
	is.True(err != nil)
	var digestErr *digest.DigestError
	is.True(errors.As(err, &digestErr))
	is.Equal("md5", digestErr.Alg)
}

func TestValidate(t *testing.T) {
	is := is.New(t)
	data := "fixity content"
	d := digest.SHA512.Digester()
	d.Write([]byte(data))
	expect := digest.Set{"sha512": d.String()}
	reg := digest.NewRegistry()
	is.NoErr(digest.Validate(strings.NewReader(data), expect, reg))

	// comparison is case-insensitive
	upper := digest.Set{"sha512": strings.ToUpper(d.String())}
	is.NoErr(digest.Validate(strings.NewReader(data), upper, reg))

	wrong := digest.Set{"sha512": strings.Repeat("0", 128)}
	err := digest.Validate(strings.NewReader(data), wrong, reg)
	var digestErr *digest.DigestError
	is.True(errors.As(err, &digestErr))
}
