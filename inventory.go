package ocfl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/ocflcore/ocfl/digest"
)

// DefaultContentDirectory is used for an inventory's contentDirectory value
// when one isn't set explicitly.
const DefaultContentDirectory = "content"

// DefaultDigestAlgorithm is the primary digest algorithm used for new
// objects unless overridden.
var DefaultDigestAlgorithm = digest.SHA512.ID()

// User identifies the person or agent responsible for a version.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Version is the inventory's record of one version: its creation time,
// optional message and user, and its inverse-indexed state (digest -> the
// set of logical paths with that digest's content).
type Version struct {
	Created time.Time `json:"created"`
	Message string    `json:"message,omitempty"`
	User    *User     `json:"user,omitempty"`
	State   DigestMap `json:"state"`
}

// MutableHeadInfo records that an object has a mutable-HEAD extension
// overlay staged alongside its inventory. It isn't part of the OCFL
// inventory JSON; it's derived from the presence of the extension
// directory on storage.
type MutableHeadInfo struct {
	Revision int // most recently allocated revision number
}

// Inventory is the complete in-memory state of one OCFL object, as described
// by its inventory.json document.
type Inventory struct {
	ID               string               `json:"id"`
	Type             InventoryType        `json:"type"`
	DigestAlgorithm  string               `json:"digestAlgorithm"`
	Head             VNum                 `json:"head"`
	ContentDirectory string               `json:"contentDirectory,omitempty"`
	Fixity           map[string]DigestMap `json:"fixity,omitempty"`
	Manifest         DigestMap            `json:"manifest"`
	Versions         map[VNum]*Version    `json:"versions"`

	// MutableHead is set when the object has an active mutable-HEAD
	// overlay. It is never serialized as part of the inventory JSON.
	MutableHead *MutableHeadInfo `json:"-"`
}

// NewInventory returns the inventory for the first version of a new object.
func NewInventory(id string, spec Spec, alg string) (*Inventory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: object id is required", ErrInvalidPath)
	}
	if alg != digest.SHA512.ID() && alg != digest.SHA256.ID() {
		return nil, fmt.Errorf("%w: digest algorithm must be sha512 or sha256", ErrCorruptObject)
	}
	if _, err := getOCFL(spec); err != nil {
		return nil, err
	}
	return &Inventory{
		ID:              id,
		Type:            spec.InventoryType(),
		DigestAlgorithm: alg,
		Manifest:        DigestMap{},
		Versions:        map[VNum]*Version{},
	}, nil
}

// contentDir returns the inventory's configured content directory name.
func (inv *Inventory) contentDir() string {
	if inv.ContentDirectory == "" {
		return DefaultContentDirectory
	}
	return inv.ContentDirectory
}

// VNums returns the inventory's version numbers in ascending order.
func (inv *Inventory) VNums() VNums {
	vnums := make(VNums, 0, len(inv.Versions))
	for v := range inv.Versions {
		vnums = append(vnums, v)
	}
	sort.Slice(vnums, func(i, j int) bool { return vnums[i].Num() < vnums[j].Num() })
	return vnums
}

// HeadVersion returns the Version record for inv.Head, or nil if the
// inventory has no versions yet.
func (inv *Inventory) HeadVersion() *Version {
	return inv.Versions[inv.Head]
}

// Clone returns a deep-enough copy of inv for building a successor
// inventory: Manifest and Versions are copied, but individual Version
// records are shared until replaced.
func (inv *Inventory) Clone() *Inventory {
	next := &Inventory{
		ID:               inv.ID,
		Type:             inv.Type,
		DigestAlgorithm:  inv.DigestAlgorithm,
		Head:             inv.Head,
		ContentDirectory: inv.ContentDirectory,
		Manifest:         inv.Manifest.Clone(),
		Versions:         make(map[VNum]*Version, len(inv.Versions)),
	}
	if inv.Fixity != nil {
		next.Fixity = make(map[string]DigestMap, len(inv.Fixity))
		for alg, dm := range inv.Fixity {
			next.Fixity[alg] = dm.Clone()
		}
	}
	for v, rec := range inv.Versions {
		next.Versions[v] = rec
	}
	if inv.MutableHead != nil {
		mh := *inv.MutableHead
		next.MutableHead = &mh
	}
	return next
}

// ContentPath returns the content path for logical path under a new content
// entry written in version v: "v{N}/{contentDirectory}/{logical}".
func (inv *Inventory) ContentPath(v VNum, logical string) string {
	return path.Join(v.String(), inv.contentDir(), logical)
}

// Validate checks inv against the invariants that must hold for any
// inventory written to storage.
func (inv *Inventory) Validate() error {
	if inv.ID == "" {
		return fmt.Errorf("%w: missing object id", ErrCorruptObject)
	}
	if err := inv.Type.Spec.Valid(); err != nil {
		return fmt.Errorf("%w: invalid inventory type: %w", ErrCorruptObject, err)
	}
	if inv.DigestAlgorithm != digest.SHA512.ID() && inv.DigestAlgorithm != digest.SHA256.ID() {
		return fmt.Errorf("%w: unrecognized digest algorithm %q", ErrCorruptObject, inv.DigestAlgorithm)
	}
	if err := inv.Head.Valid(); err != nil {
		return fmt.Errorf("%w: invalid head version: %w", ErrCorruptObject, err)
	}
	if err := inv.Manifest.Valid(); err != nil {
		return fmt.Errorf("%w: invalid manifest: %w", ErrCorruptObject, err)
	}
	vnums := inv.VNums()
	if err := vnums.Valid(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptObject, err)
	}
	if head := vnums.Head(); !head.Empty() && head.Num() != inv.Head.Num() {
		return fmt.Errorf("%w: head %s doesn't match highest version directory %s", ErrCorruptObject, inv.Head, head)
	}
	manifestPaths := inv.Manifest.PathMap()
	for vnum, version := range inv.Versions {
		if version == nil {
			return fmt.Errorf("%w: version %s has no record", ErrCorruptObject, vnum)
		}
		if err := version.State.Valid(); err != nil {
			return fmt.Errorf("%w: version %s has invalid state: %w", ErrCorruptObject, vnum, err)
		}
		for _, digestVal := range version.State.Paths() {
			contentPaths := inv.Manifest[digestVal]
			if len(contentPaths) == 0 {
				return fmt.Errorf("%w: version %s references digest %s not present in manifest", ErrCorruptObject, vnum, digestVal)
			}
		}
	}
	for contentPath := range manifestPaths {
		vnumPart, _, found := cutFirstSegment(contentPath)
		if !found {
			return fmt.Errorf("%w: manifest path %q has no version directory prefix", ErrCorruptObject, contentPath)
		}
		var v VNum
		if err := ParseVNum(vnumPart, &v); err != nil {
			return fmt.Errorf("%w: manifest path %q has invalid version directory: %w", ErrCorruptObject, contentPath, err)
		}
		if v.Num() > inv.Head.Num() {
			return fmt.Errorf("%w: manifest path %q belongs to version after head", ErrCorruptObject, contentPath)
		}
	}
	return nil
}

func cutFirstSegment(p string) (first string, rest string, found bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return p, "", false
}

// MarshalInventory encodes inv as canonical inventory.json bytes.
func MarshalInventory(inv *Inventory) ([]byte, error) {
	return json.Marshal(inv)
}

// UnmarshalInventory decodes inventory.json bytes into a new *Inventory.
func UnmarshalInventory(b []byte) (*Inventory, error) {
	inv := &Inventory{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(inv); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}
	return inv, nil
}

// sidecarContents returns the expected contents of an inventory sidecar file
// for the given inventory digest.
func sidecarContents(digestVal string) string {
	return digestVal + "  " + inventoryFile + "\n"
}

var errMissingUser = errors.New("commit is missing a user")
