package ocfl

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid  = errors.New("invalid version number")
	ErrVNumPadding  = errors.New("version number has inconsistent zero-padding")
	vnumRegexp      = regexp.MustCompile(`^v(0*)([1-9][0-9]*)$`)
)

// VNum represents an OCFL object version number, i.e, v1, v2, v3, etc., or a
// zero-padded version number, e.g., v0001, v0002, v0003. All version numbers
// in an object must share the same padding width.
type VNum struct {
	num     int
	padding int // total width of the version number string (0 means no padding)
}

// V returns a new VNum with the given version number and padding. If padding
// is 0, the version number is rendered without zero-padding (e.g., "v1").
func V(num int, padding int) VNum {
	return VNum{num: num, padding: padding}
}

// ParseVNum parses name as a version number string (e.g., "v1", "v0003") and
// sets the value pointed to by v. An error is returned if name isn't a valid
// version number string.
func ParseVNum(name string, v *VNum) error {
	matches := vnumRegexp.FindStringSubmatch(name)
	if matches == nil {
		return fmt.Errorf("%w: %q", ErrVNumInvalid, name)
	}
	zeros, digits := matches[1], matches[2]
	num, err := strconv.Atoi(digits)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrVNumInvalid, name)
	}
	padding := 0
	if zeros != "" {
		padding = len(name)
	}
	if v != nil {
		*v = VNum{num: num, padding: padding}
	}
	return nil
}

// Num returns v's version number.
func (v VNum) Num() int {
	return v.num
}

// Padding returns the zero-padded width of v's string representation, or 0
// if v isn't padded.
func (v VNum) Padding() int {
	return v.padding
}

// Valid returns an error if v doesn't represent a valid version number.
func (v VNum) Valid() error {
	if v.num < 1 {
		return fmt.Errorf("%w: version number must be greater than 0", ErrVNumInvalid)
	}
	if v.padding > 0 && v.padding < len(strconv.Itoa(v.num))+1 {
		return fmt.Errorf("%w: padding too narrow for %d", ErrVNumInvalid, v.num)
	}
	return nil
}

// String returns v's on-storage representation (e.g., "v1" or "v0001").
func (v VNum) String() string {
	digits := strconv.Itoa(v.num)
	if v.padding == 0 {
		return "v" + digits
	}
	zeros := v.padding - len(digits) - 1
	if zeros < 0 {
		zeros = 0
	}
	return "v" + zerosString(zeros) + digits
}

func zerosString(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}

// Next returns the version number immediately following v, using the same
// padding.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if err := next.Valid(); err != nil {
		return VNum{}, err
	}
	if next.padding > 0 && len(strconv.Itoa(next.num)) > next.padding-1 {
		return VNum{}, fmt.Errorf("%w: next version number exceeds padding width", ErrVNumInvalid)
	}
	return next, nil
}

// Empty returns true if v is the zero value.
func (v VNum) Empty() bool {
	return v.num == 0 && v.padding == 0
}

// MarshalText implements encoding.TextMarshaler so that VNum can be used
// directly as an inventory JSON map key or value.
func (v VNum) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

// VNums is a slice of VNum, typically representing all version directories
// found in an object root.
type VNums []VNum

// Head returns the largest version number in vs, or the zero value VNum if
// vs is empty.
func (vs VNums) Head() VNum {
	if len(vs) == 0 {
		return VNum{}
	}
	head := vs[0]
	for _, v := range vs[1:] {
		if v.num > head.num {
			head = v
		}
	}
	return head
}

// Padding returns the common zero-padding width used by all version numbers
// in vs, or 0 if vs is empty or uses no padding.
func (vs VNums) Padding() int {
	if len(vs) == 0 {
		return 0
	}
	return vs[0].padding
}

// Valid confirms that all version numbers in vs share the same padding and
// form an unbroken sequence from v1 to head.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return nil
	}
	sorted := make(VNums, len(vs))
	copy(sorted, vs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].num < sorted[j].num })
	padding := sorted[0].padding
	for i, v := range sorted {
		if err := v.Valid(); err != nil {
			return err
		}
		if v.padding != padding {
			return fmt.Errorf("%w: %q and %q", ErrVNumPadding, sorted[0], v)
		}
		if v.num != i+1 {
			return fmt.Errorf("%w: missing version v%d", ErrVNumInvalid, i+1)
		}
	}
	return nil
}
