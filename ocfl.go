// Package ocfl implements the core of an OCFL (Oxford Common File Layout)
// repository engine: reading, validating, and atomically updating versioned,
// content-addressed digital objects on top of a pluggable Storage capability.
// Storage roots and objects are accessed through [Root] and [Object]; updates
// are described with a [Commit] and a [Stage] and applied atomically.
package ocfl

import (
	"fmt"

	"github.com/ocflcore/ocfl/digest"
)

const (
	// ExtensionsDir is the name of the extensions subdirectory inside a
	// storage root or object root.
	ExtensionsDir = "extensions"
)

var (
	Spec1_0 = Spec("1.0")
	Spec1_1 = Spec("1.1")

	// ocflSpecs is the set of OCFL specification versions this module
	// understands.
	ocflSpecs = map[Spec]bool{
		Spec1_0: true,
		Spec1_1: true,
	}

	ErrOCFLVersion = fmt.Errorf("unsupported OCFL specification version")
)

// getOCFL confirms spec is an OCFL specification version this module
// supports and returns it unchanged.
func getOCFL(spec Spec) (Spec, error) {
	if !ocflSpecs[spec] {
		return "", fmt.Errorf("%w: %q", ErrOCFLVersion, spec)
	}
	return spec, nil
}

// AlgRegistry returns a digest algorithm registry with the built-in
// algorithms (sha512, sha256, sha1, md5, blake2b-512) registered.
func AlgRegistry() *digest.Registry {
	return digest.NewRegistry()
}

// digestAlgorithm resolves id (e.g. "sha512") to a digest.Algorithm using the
// built-in registry.
func digestAlgorithm(id string) (digest.Algorithm, error) {
	return AlgRegistry().Get(id)
}
