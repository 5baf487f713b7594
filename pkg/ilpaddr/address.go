// Package ilpaddr implements the ILP address type: a validated,
// dot-separated sequence of segments used to route Prepare packets.
package ilpaddr

import (
	"fmt"
	"strings"
)

// MaxLength is the maximum encoded length of an address, in bytes.
const MaxLength = 1023

// schemes is the fixed set of valid first segments.
var schemes = map[string]struct{}{
	"g":       {},
	"private": {},
	"example": {},
	"peer":    {},
	"self":    {},
	"test":    {},
	"test1":   {},
	"test2":   {},
	"test3":   {},
	"local":   {},
}

// Address is an immutable, validated ILP address. The zero value is not a
// valid address; construct one with Parse.
type Address struct {
	raw string
}

// Parse validates s as an ILP address and returns the resulting Address.
func Parse(s string) (Address, error) {
	if len(s) == 0 {
		return Address{}, fmt.Errorf("ilpaddr: empty address")
	}
	if len(s) > MaxLength {
		return Address{}, fmt.Errorf("ilpaddr: address exceeds %d bytes", MaxLength)
	}
	segs := strings.Split(s, ".")
	if _, ok := schemes[segs[0]]; !ok {
		return Address{}, fmt.Errorf("ilpaddr: unknown scheme %q", segs[0])
	}
	for _, seg := range segs[1:] {
		if err := validateSegment(seg); err != nil {
			return Address{}, fmt.Errorf("ilpaddr: %w", err)
		}
	}
	return Address{raw: s}, nil
}

func validateSegment(seg string) error {
	if len(seg) == 0 {
		return fmt.Errorf("empty segment")
	}
	for _, r := range seg {
		if !isSegmentRune(r) {
			return fmt.Errorf("invalid character %q in segment %q", r, seg)
		}
	}
	return nil
}

func isSegmentRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '~' || r == '-':
		return true
	default:
		return false
	}
}

// IsValid reports whether s parses as a valid ILP address.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the address's wire representation.
func (a Address) String() string { return a.raw }

// IsZero reports whether a is the unconstructed zero value.
func (a Address) IsZero() bool { return a.raw == "" }

// Scheme returns the address's first segment.
func (a Address) Scheme() string {
	if i := strings.IndexByte(a.raw, '.'); i >= 0 {
		return a.raw[:i]
	}
	return a.raw
}

// Segments returns the address's dot-separated segments. The returned
// slice is always non-empty for a validly-constructed Address.
func (a Address) Segments() []string {
	return strings.Split(a.raw, ".")
}

// WithSuffix returns a new Address formed by appending suffix as one or
// more additional segments (suffix may itself contain dots). The result
// is validated as a whole.
func (a Address) WithSuffix(suffix string) (Address, error) {
	if suffix == "" {
		return a, nil
	}
	return Parse(a.raw + "." + suffix)
}

// Equal reports whether a and b represent the same address.
func (a Address) Equal(b Address) bool { return a.raw == b.raw }

// StartsWith reports whether a is equal to prefix or a proper descendant of
// prefix (i.e. a == prefix, or a's wire form starts with prefix + ".").
// This implements the longest-prefix matching rule used by the router
// (§4.3): a destination matches a routing-table prefix P when the
// destination equals P or starts with P followed by a dot.
func (a Address) StartsWith(prefix string) bool {
	if a.raw == prefix {
		return true
	}
	return strings.HasPrefix(a.raw, prefix+".")
}
