// Package oer implements the Octet Encoding Rules primitives used by the
// ILP packet wire format: variable-length unsigned integers and
// length-prefixed octet strings.
package oer

import (
	"fmt"
	"io"
)

// ErrUnexpectedEOF is returned when the input is truncated mid-field.
var ErrUnexpectedEOF = fmt.Errorf("oer: unexpected end of input")

// ErrInvalidLength is returned when a declared length prefix exceeds the
// bytes actually remaining in the input.
var ErrInvalidLength = fmt.Errorf("oer: declared length exceeds remaining input")

// ReadVarOctetString reads an OER length-prefixed octet string from r.
//
// The length prefix is itself OER-encoded: a first byte with the high bit
// clear is the length directly (0-127); a first byte with the high bit set
// holds, in its low 7 bits, the count of following big-endian length bytes.
func ReadVarOctetString(r io.Reader) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("oer: read octet string: %w", err)
	}
	return buf, nil
}

// WriteVarOctetString writes data to w as an OER length-prefixed octet
// string.
func WriteVarOctetString(w io.Writer, data []byte) error {
	if err := writeLength(w, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("oer: write octet string: %w", err)
	}
	return nil
}

// ReadVarUint reads an OER variable-length unsigned integer: a var octet
// string whose bytes are the big-endian encoding of the value.
func ReadVarUint(r io.Reader) (uint64, error) {
	b, err := ReadVarOctetString(r)
	if err != nil {
		return 0, err
	}
	if len(b) > 8 {
		return 0, fmt.Errorf("oer: var uint too large (%d bytes)", len(b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// WriteVarUint writes v to w as an OER variable-length unsigned integer,
// using the minimum number of bytes (no leading zero byte unless v is 0,
// which is encoded as a single zero byte).
func WriteVarUint(w io.Writer, v uint64) error {
	if v == 0 {
		return WriteVarOctetString(w, []byte{0})
	}
	var tmp [8]byte
	i := 8
	for v > 0 {
		i--
		tmp[i] = byte(v)
		v >>= 8
	}
	return WriteVarOctetString(w, tmp[i:])
}

func readLength(r io.Reader) (int, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, ErrUnexpectedEOF
	}
	b := first[0]
	if b&0x80 == 0 {
		return int(b), nil
	}
	numBytes := int(b &^ 0x80)
	if numBytes == 0 || numBytes > 8 {
		return 0, fmt.Errorf("oer: invalid length-of-length byte 0x%02x", b)
	}
	lenBuf := make([]byte, numBytes)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, ErrUnexpectedEOF
	}
	var n uint64
	for _, c := range lenBuf {
		n = n<<8 | uint64(c)
	}
	if n > (1 << 32) {
		return 0, ErrInvalidLength
	}
	return int(n), nil
}

func writeLength(w io.Writer, n int) error {
	if n < 0 {
		return fmt.Errorf("oer: negative length %d", n)
	}
	if n < 128 {
		_, err := w.Write([]byte{byte(n)})
		return err
	}
	var tmp [8]byte
	i := 8
	v := uint64(n)
	for v > 0 {
		i--
		tmp[i] = byte(v)
		v >>= 8
	}
	lenBytes := tmp[i:]
	prefix := byte(0x80 | len(lenBytes))
	if _, err := w.Write([]byte{prefix}); err != nil {
		return err
	}
	_, err := w.Write(lenBytes)
	return err
}
