// Package secret wraps sensitive byte strings (bearer tokens, STREAM
// shared secrets, BTP auth tokens) so they zeroise on Destroy and never
// leak their bytes through equality checks, logging, or %v formatting.
package secret

import (
	"crypto/subtle"
	"fmt"
)

// Value holds a sensitive byte string. The zero Value is empty, not nil.
type Value struct {
	b []byte
}

// New wraps b. The caller must not retain a reference to b afterward.
func New(b []byte) Value {
	return Value{b: b}
}

// NewString wraps s as a Value.
func NewString(s string) Value {
	return New([]byte(s))
}

// Bytes returns the underlying bytes. Callers must not mutate the
// returned slice.
func (v Value) Bytes() []byte { return v.b }

// IsEmpty reports whether v holds no bytes.
func (v Value) IsEmpty() bool { return len(v.b) == 0 }

// Equal reports whether v and other hold the same bytes, compared in
// constant time (per spec.md §6.6 "constant-time comparison" for
// HTTP/BTP auth tokens).
func (v Value) Equal(other Value) bool {
	if len(v.b) != len(other.b) {
		return false
	}
	return subtle.ConstantTimeCompare(v.b, other.b) == 1
}

// Destroy zeroes the underlying bytes in place (best-effort — the GC may
// have already copied them elsewhere).
func (v *Value) Destroy() {
	for i := range v.b {
		v.b[i] = 0
	}
	v.b = nil
}

// String implements fmt.Stringer by redacting the payload, so a Value
// never leaks its bytes via logging or %v/%s formatting.
func (v Value) String() string {
	if v.IsEmpty() {
		return "secret(empty)"
	}
	return fmt.Sprintf("secret(%d bytes)", len(v.b))
}

// GoString implements fmt.GoStringer, redacting %#v the same way.
func (v Value) GoString() string { return v.String() }
