// Package extension implements OCFL community extensions, notably the
// storage-layout extensions that map object ids to object-root paths under a
// storage root. Extensions are registered by name and round-trip through
// their config.json representation.
package extension

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	// extension name key for config.json
	extensionName = "extensionName"
	// extensions directory name
	extensions = "extensions"
)

var (
	ErrMarshal         = errors.New("extension config doesn't include '" + extensionName + "' string")
	ErrNotLayout       = errors.New("not a layout extension")
	ErrUnknown         = errors.New("unrecognized extension")
	ErrInvalidLayoutID = errors.New("invalid object id for layout")
)

// register holds constructors for all known extensions, keyed by extension
// name. Constructors return instances with default config values.
var register = map[string]func() Extension{
	ext0002: Ext0002,
	ext0003: Ext0003,
	ext0004: Ext0004,
	ext0006: Ext0006,
	ext0007: Ext0007,
}

// Extension is implemented by all OCFL extensions.
type Extension interface {
	Name() string // Name returns the extension name
}

// Layout is an extension that maps object ids to storage root paths.
type Layout interface {
	Extension
	Resolve(id string) (path string, err error)
}

// Get returns a new instance of the named extension with default values.
func Get(name string) (Extension, error) {
	extfunc, ok := register[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknown, name)
	}
	return extfunc(), nil
}

// Register adds the extension returned by extfunc to the extension register,
// replacing any registered extension with the same name. The instance
// returned by extfunc must have default values.
func Register(extfunc func() Extension) {
	ext := extfunc()
	register[ext.Name()] = extfunc
}

// Registered returns the names of all registered extensions.
func Registered() []string {
	names := make([]string, 0, len(register))
	for name := range register {
		names = append(names, name)
	}
	return names
}

// IsRegistered returns true if the named extension is present in the
// register.
func IsRegistered(name string) bool {
	_, ok := register[name]
	return ok
}

// Unmarshal decodes an extension's config.json bytes and returns a new
// instance of the extension it names.
func Unmarshal(jsonBytes []byte) (Extension, error) {
	var header struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(jsonBytes, &header); err != nil {
		return nil, err
	}
	config, err := Get(header.Name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonBytes, config); err != nil {
		return nil, err
	}
	return config, nil
}

// getAlg returns a new hash for the digest algorithm names layout
// extensions accept, or nil for unknown names.
func getAlg(name string) hash.Hash {
	switch name {
	case `sha512`:
		return sha512.New()
	case `sha256`:
		return sha256.New()
	case `sha1`:
		return sha1.New()
	case `md5`:
		return md5.New()
	case `blake2b-512`:
		h, err := blake2b.New512(nil)
		if err != nil {
			panic(err)
		}
		return h
	default:
		return nil
	}
}
