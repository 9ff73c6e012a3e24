package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

const (
	// algorithms from the OCFL spec

	SHA512  = alg(`sha512`)
	SHA256  = alg(`sha256`)
	SHA1    = alg(`sha1`)
	MD5     = alg(`md5`)
	BLAKE2B = alg(`blake2b-512`)

	// additional algorithms from the digest-algorithm extensions

	BLAKE2B_160 = alg("blake2b-160")
	BLAKE2B_256 = alg("blake2b-256")
	BLAKE2B_384 = alg("blake2b-384")
	SHA512_256  = alg("sha512/256")
	SIZE        = alg("size")
)

// Algorithm is implemented by digest algorithms
type Algorithm interface {
	// ID returns the algorithm name (e.g., 'sha512')
	ID() string
	// Digester returns a new digester for generating a new digest value
	Digester() Digester
}

// alg is a built-in Algorithm, identified by its name
type alg string

// ID implements Algorithm for alg
func (a alg) ID() string { return string(a) }

// Digester implements Algorithm for alg
func (a alg) Digester() Digester {
	switch a {
	case SHA512:
		return &hexDigester{Hash: sha512.New()}
	case SHA256:
		return &hexDigester{Hash: sha256.New()}
	case SHA1:
		return &hexDigester{Hash: sha1.New()}
	case MD5:
		return &hexDigester{Hash: md5.New()}
	case BLAKE2B:
		return &hexDigester{Hash: newBlake2b(64)}
	case BLAKE2B_160:
		return &hexDigester{Hash: newBlake2b(20)}
	case BLAKE2B_256:
		return &hexDigester{Hash: newBlake2b(32)}
	case BLAKE2B_384:
		return &hexDigester{Hash: newBlake2b(48)}
	case SHA512_256:
		return &hexDigester{Hash: sha512.New512_256()}
	case SIZE:
		return &sizeDigester{}
	}
	return nil
}

// builtin returns all built-in algorithms
func builtin() []Algorithm {
	return []Algorithm{
		SHA512, SHA256, SHA1, MD5, BLAKE2B,
		BLAKE2B_160, BLAKE2B_256, BLAKE2B_384, SHA512_256, SIZE,
	}
}

// hexDigester implements Digester over a hash.Hash, rendering the sum as
// lowercase hex
type hexDigester struct {
	hash.Hash
}

func (h hexDigester) String() string {
	return hex.EncodeToString(h.Sum(nil))
}

// sizeDigester implements the "size" pseudo-algorithm: its value is the
// number of bytes written
type sizeDigester struct {
	size int64
}

func (d *sizeDigester) Write(b []byte) (int, error) {
	l := len(b)
	d.size += int64(l)
	return l, nil
}

func (d *sizeDigester) String() string {
	return strconv.FormatInt(d.size, 10)
}

func newBlake2b(size int) hash.Hash {
	h, err := blake2b.New(size, nil)
	if err != nil {
		// blake2b.New only fails when a key is given; there is no key
		panic(err)
	}
	return h
}
