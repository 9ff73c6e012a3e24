package ocfl

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound is returned when a requested object, version, or logical
	// path does not exist.
	ErrNotFound = fmt.Errorf("not found: %w", fs.ErrNotExist)

	// ErrObjectOutOfSync is returned when a commit's base version doesn't
	// match the object's current HEAD, indicating the object changed
	// concurrently.
	ErrObjectOutOfSync = errors.New("object changed since it was read")

	// ErrAlreadyExists is returned when an operation would overwrite an
	// existing object, version, or logical path that must not be
	// overwritten.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidPath is returned when a logical or content path fails OCFL
	// path validation (empty segments, ".", "..", absolute paths, etc).
	ErrInvalidPath = errors.New("invalid path")

	// ErrFixityMismatch is returned when a file's digest doesn't match its
	// expected value.
	ErrFixityMismatch = errors.New("fixity mismatch")

	// ErrCorruptObject is returned when an object's inventory or on-disk
	// state fails validation.
	ErrCorruptObject = errors.New("corrupt object")

	// ErrLockTimeout is returned when acquiring an object's write lock
	// doesn't complete before the context deadline or configured timeout.
	ErrLockTimeout = errors.New("timed out waiting for object lock")

	// ErrStorageIO wraps unexpected errors from the underlying storage
	// backend.
	ErrStorageIO = errors.New("storage error")

	// ErrObjectNamasteNotExist is returned when an object root is missing
	// its OCFL object declaration file.
	ErrObjectNamasteNotExist = fmt.Errorf("missing OCFL object declaration: %w", fs.ErrNotExist)

	// ErrUnchanged is returned by Object.Commit when the staged version's
	// state is identical to the object's current HEAD and the commit
	// doesn't set Commit.AllowUnchanged.
	ErrUnchanged = errors.New("new version state is identical to current version")
)

// DigestErr is returned when content's digest conflicts with an expected value
type DigestErr struct {
	Name     string // Content path
	AlgID    string // Digest algorithm
	Got      string // Calculated digest
	Expected string // Expected digest
}

func (e DigestErr) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unexpected %s: %s, got: %s", e.AlgID, e.Expected, e.Got)
	}
	return fmt.Sprintf("unexpected %s for '%s': %s, got: %s", e.AlgID, e.Name, e.Expected, e.Got)
}

// MapDigestConflictErr indicates same digest found multiple times in the digest map
// (i.e., with different cases)
type MapDigestConflictErr struct {
	Digest string
}

func (d *MapDigestConflictErr) Error() string {
	return fmt.Sprintf("digest conflict for: '%s'", d.Digest)
}

// MapPathConflictErr indicates a path appears more than once in the digest map.
// It's also used in cases where the path as used as a directory in one instance
// and a file in another.
type MapPathConflictErr struct {
	Path string
}

func (p *MapPathConflictErr) Error() string {
	return fmt.Sprintf("path conflict for: '%s'", p.Path)
}

// MapPathInvalidErr indicates an invalid path in a Map.
type MapPathInvalidErr struct {
	Path string
}

func (p *MapPathInvalidErr) Error() string {
	return fmt.Sprintf("invalid path: '%s'", p.Path)
}

// ErrMapMakerExists reports that a path and digest pair is already present.
var ErrMapMakerExists = errors.New("path and digest exist")
