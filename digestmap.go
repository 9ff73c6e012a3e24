package ocfl

import (
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"path"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// DigestMap maps digest values to slices of file paths. It is the shape
// used for both a version's state (digest -> logical paths) and the
// manifest (digest -> content paths). The inverted index means identical
// content appears exactly once, regardless of how many paths reference it.
type DigestMap map[string][]string

// AllPaths returns a sorted slice of every path in the DigestMap.
func (m DigestMap) AllPaths() []string {
	pths := make([]string, 0, m.NumPaths())
	for _, paths := range m {
		pths = append(pths, paths...)
	}
	sort.Strings(pths)
	return pths
}

// Clone returns a deep copy of m.
func (m DigestMap) Clone() DigestMap {
	newM := maps.Clone(m)
	for d, p := range newM {
		newM[d] = slices.Clone(p)
	}
	return newM
}

// Eq returns true if m and other have the same content: the same
// (normalized) digests mapping to the same sets of paths. If either map has
// a digest conflict (the same digest under different cases), Eq returns
// false.
func (m DigestMap) Eq(other DigestMap) bool {
	if len(m) != len(other) {
		return false
	}
	if len(m) == 0 {
		return true
	}
	otherNorm, err := other.Normalize()
	if err != nil {
		return false
	}
	for dig, paths := range m {
		if len(paths) == 0 {
			return false
		}
		otherPaths := otherNorm[normalizeDigest(dig)]
		if len(paths) != len(otherPaths) {
			return false
		}
		sort.Strings(paths)
		sort.Strings(otherPaths)
		if slices.Compare(paths, otherPaths) != 0 {
			return false
		}
	}
	return true
}

// DigestFor returns the digest for path p, or an empty string if p isn't
// present.
func (m DigestMap) DigestFor(p string) string {
	if p == "" {
		return ""
	}
	for d, pths := range m {
		if slices.Contains(pths, p) {
			return d
		}
	}
	return ""
}

// Merge returns a new DigestMap built by normalizing and merging m1 and m2.
// If a path has different digests in m1 and m2, an error is returned unless
// replace is true, in which case m2's value wins.
func (m1 DigestMap) Merge(m2 DigestMap, replace bool) (DigestMap, error) {
	m1Norm, err := m1.Normalize()
	if err != nil {
		return nil, err
	}
	m2Norm, err := m2.Normalize()
	if err != nil {
		return nil, err
	}
	m1Paths := m1Norm.PathMap()
	m2Paths := m2Norm.PathMap()
	merged := DigestMap{}
	for pth, dig := range m1Paths {
		if dig2, ok := m2Paths[pth]; ok && dig != dig2 {
			// same path in m1 and m2, with different digests
			if !replace {
				return nil, &MapPathConflictErr{Path: pth}
			}
			dig = dig2
		}
		if !slices.Contains(merged[dig], pth) {
			merged[dig] = append(merged[dig], pth)
		}
	}
	for pth, dig := range m2Paths {
		if _, exists := m1Paths[pth]; exists {
			// already merged above
			continue
		}
		if !slices.Contains(merged[dig], pth) {
			merged[dig] = append(merged[dig], pth)
		}
	}
	if err := validPaths(merged.AllPaths()); err != nil {
		return nil, err
	}
	return merged, nil
}

// Mutate applies each path mutation to every digest's path slice in m. A
// digest whose paths are all removed is deleted from m. Mutate may leave m
// invalid.
func (m DigestMap) Mutate(fns ...PathMutation) {
	for digest := range m {
		for _, fn := range fns {
			m[digest] = fn(m[digest])
		}
		if len(m[digest]) == 0 {
			delete(m, digest)
		}
	}
}

// Normalize validates m and returns a copy with lowercase digests and
// sorted paths.
func (m DigestMap) Normalize() (norm DigestMap, err error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}
	norm = make(DigestMap, len(m))
	for digest, paths := range m {
		normPaths := slices.Clone(paths)
		slices.Sort(normPaths)
		norm[normalizeDigest(digest)] = normPaths
	}
	return
}

// NumPaths returns the number of paths in m.
func (m DigestMap) NumPaths() int {
	var n int
	for _, paths := range m {
		n += len(paths)
	}
	return n
}

// PathMap returns a PathMap with m's paths and corresponding digests. The
// result may be invalid if m is.
func (m DigestMap) PathMap() PathMap {
	paths := make(PathMap, m.NumPaths())
	maps.Insert(paths, m.Paths())
	return paths
}

// Paths is an iterator that yields each path/digest pair in m, in no
// particular order.
func (m DigestMap) Paths() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for d, paths := range m {
			for _, p := range paths {
				if !yield(p, d) {
					return
				}
			}
		}
	}
}

// Valid returns a non-nil error if m has case-conflicting digests, empty
// path slices, or invalid or conflicting paths.
func (m DigestMap) Valid() error {
	if err := m.validDigests(); err != nil {
		return err
	}
	for d, paths := range m {
		if len(paths) == 0 {
			return fmt.Errorf("no paths for digest %q", d)
		}
	}
	return validPaths(m.AllPaths())
}

// hasDigestCase reports whether any digest in m includes lowercase and
// uppercase characters, respectively.
func (m DigestMap) hasDigestCase() (hasLower bool, hasUpper bool) {
	for digest := range m {
		for _, r := range digest {
			switch {
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsUpper(r):
				hasUpper = true
			}
			if hasLower && hasUpper {
				return
			}
		}
	}
	return
}

// validDigests returns a *MapDigestConflictErr if m includes the same digest
// under different cases.
func (m DigestMap) validDigests() error {
	hasLower, hasUpper := m.hasDigestCase()
	if !hasLower || !hasUpper {
		// digests are uniformly cased, so no conflicts are possible
		return nil
	}
	norms := make(map[string]bool, len(m))
	for d := range m {
		norm := normalizeDigest(d)
		if norms[norm] {
			return &MapDigestConflictErr{Digest: d}
		}
		norms[norm] = true
	}
	return nil
}

// validPaths checks that paths are valid and mutually consistent, returning
// a *MapPathInvalidErr or *MapPathConflictErr if not.
func validPaths(paths []string) error {
	for _, p := range paths {
		if !validPath(p) {
			return &MapPathInvalidErr{Path: p}
		}
	}
	// sort, then confirm each path is distinct from the next and isn't used
	// as a directory by it
	if !slices.IsSorted(paths) {
		slices.Sort(paths)
	}
	n := len(paths)
	if n <= 1 {
		return nil
	}
	for i, p := range paths[:n-1] {
		next := paths[i+1]
		if p == next || strings.HasPrefix(next, p+"/") {
			return &MapPathConflictErr{Path: p}
		}
	}
	return nil
}

// validPath reports whether p can be used as a logical or content path.
func validPath(p string) bool {
	// fs.ValidPath is nearly perfect for OCFL, except it accepts "."
	if p == "." {
		return false
	}
	return fs.ValidPath(p)
}

func normalizeDigest(d string) string {
	return strings.ToLower(d)
}

// PathMap maps file paths to digest strings.
type PathMap map[string]string

// DigestMap returns a new DigestMap with pm's paths and digests. The result
// may be invalid if pm includes invalid paths or digests.
func (pm PathMap) DigestMap() DigestMap {
	dm := DigestMap{}
	for pth, dig := range pm {
		dm[dig] = append(dm[dig], pth)
	}
	return dm
}

// SortedPaths is an iterator that yields pm's path/digest pairs in sorted
// order (by path).
func (pm PathMap) SortedPaths() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		paths := slices.Collect(maps.Keys(pm))
		slices.Sort(paths)
		for _, p := range paths {
			if !yield(p, pm[p]) {
				return
			}
		}
	}
}

// PathMutation is used with [DigestMap.Mutate] to change the paths bound to
// a digest.
type PathMutation func(oldPaths []string) (newPaths []string)

// RenamePaths returns a PathMutation that renames occurrences of src to
// dst. If src matches a full path, it is replaced with dst. If src matches
// a directory (including '.'), all occurrences of the directory prefix are
// replaced with dst (which may be '.').
func RenamePaths(src, dst string) PathMutation {
	return func(paths []string) []string {
		if src == "." {
			// src is the root: dst becomes the parent of all paths
			for i, p := range paths {
				paths[i] = path.Join(dst, p)
			}
			return paths
		}
		if idx := slices.Index(paths, src); idx >= 0 {
			// src is a file: rename it to dst
			paths[idx] = dst
			return paths
		}
		// src may be a directory: move its contents under dst
		for i, p := range paths {
			if suffix, found := strings.CutPrefix(p, src+"/"); found {
				paths[i] = path.Join(dst, suffix)
			}
		}
		return paths
	}
}

// RemovePath returns a PathMutation that removes name.
func RemovePath(name string) PathMutation {
	return func(paths []string) []string {
		if idx := slices.Index(paths, name); idx >= 0 {
			return slices.Delete(paths, idx, idx+1)
		}
		return paths
	}
}
