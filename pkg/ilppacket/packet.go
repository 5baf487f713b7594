// Package ilppacket implements the three ILP packet kinds (Prepare,
// Fulfill, Reject) and their OER wire codec (spec.md §3.2, §4.1).
package ilppacket

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/oer"
)

// Type tags, dispatched on the first wire byte.
const (
	TypePrepare byte = 12
	TypeFulfill byte = 13
	TypeReject  byte = 14
)

// Prepare is the two-phase conditional transfer request packet.
type Prepare struct {
	Amount             uint64
	ExpiresAt          time.Time
	ExecutionCondition [32]byte
	Destination        ilpaddr.Address
	Data               []byte
}

// Fulfill is the successful response to a Prepare.
type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

// Reject is the unsuccessful response to a Prepare.
type Reject struct {
	Code        string // exactly 3 ASCII bytes
	TriggeredBy ilpaddr.Address // zero value encodes as empty
	Message     string
	Data        []byte
}

// CheckFulfillment reports whether fulfill.Fulfillment is the correct
// preimage for prepare.ExecutionCondition (invariant 1, spec.md §8),
// factored out here (as original_source/src/ilp/fulfillment_checker.rs
// factors it in the source this spec was distilled from) so both the
// validator service and STREAM share one implementation.
func CheckFulfillment(prepare *Prepare, fulfill *Fulfill) error {
	sum := sha256.Sum256(fulfill.Fulfillment[:])
	if !bytes.Equal(sum[:], prepare.ExecutionCondition[:]) {
		return fmt.Errorf("ilppacket: fulfillment does not match execution condition")
	}
	return nil
}

// Clone returns a shallow copy of p, safe to mutate (e.g. adjusting
// Amount or ExpiresAt) without racing with other holders of the
// original pointer.
func (p *Prepare) Clone() *Prepare {
	c := *p
	return &c
}

// WriteTo encodes p to w in OER wire format.
func (p *Prepare) WriteTo(w io.Writer) error {
	var body bytes.Buffer
	if err := writeFixedAmount(&body, p.Amount); err != nil {
		return err
	}
	if err := writeTimestamp(&body, p.ExpiresAt); err != nil {
		return err
	}
	if _, err := body.Write(p.ExecutionCondition[:]); err != nil {
		return err
	}
	if err := oer.WriteVarOctetString(&body, []byte(p.Destination.String())); err != nil {
		return err
	}
	if err := oer.WriteVarOctetString(&body, p.Data); err != nil {
		return err
	}
	return writeEnvelope(w, TypePrepare, body.Bytes())
}

func writeFixedAmount(w io.Writer, amount uint64) error {
	var b [8]byte
	v := amount
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	_, err := w.Write(b[:])
	return err
}

func writeTimestamp(w io.Writer, t time.Time) error {
	s := t.UTC().Format("20060102150405") + fmt.Sprintf("%03d", t.UTC().Nanosecond()/1e6)
	if len(s) != 17 {
		return fmt.Errorf("ilppacket: malformed timestamp %q", s)
	}
	_, err := w.Write([]byte(s))
	return err
}

func readTimestamp(r io.Reader) (time.Time, error) {
	var buf [17]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return time.Time{}, fmt.Errorf("ilppacket: %w", oer.ErrUnexpectedEOF)
	}
	s := string(buf[:])
	// Go layouts only recognise fractional seconds after a separator, so
	// the trailing 3-digit millisecond field is split off with a dot.
	t, err := time.Parse("20060102150405.000", s[:14]+"."+s[14:])
	if err != nil {
		return time.Time{}, fmt.Errorf("ilppacket: invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ReadPrepare decodes a Prepare envelope (type tag already stripped) from r.
func ReadPrepare(r io.Reader) (*Prepare, error) {
	var amtBuf [8]byte
	if _, err := io.ReadFull(r, amtBuf[:]); err != nil {
		return nil, fmt.Errorf("ilppacket: read amount: %w", oer.ErrUnexpectedEOF)
	}
	var amount uint64
	for _, b := range amtBuf {
		amount = amount<<8 | uint64(b)
	}
	expiresAt, err := readTimestamp(r)
	if err != nil {
		return nil, err
	}
	var cond [32]byte
	if _, err := io.ReadFull(r, cond[:]); err != nil {
		return nil, fmt.Errorf("ilppacket: read condition: %w", oer.ErrUnexpectedEOF)
	}
	destBytes, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read destination: %w", err)
	}
	dest, err := ilpaddr.Parse(string(destBytes))
	if err != nil {
		return nil, fmt.Errorf("ilppacket: invalid destination: %w", err)
	}
	data, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read data: %w", err)
	}
	return &Prepare{
		Amount:             amount,
		ExpiresAt:          expiresAt,
		ExecutionCondition: cond,
		Destination:        dest,
		Data:               data,
	}, nil
}

// WriteTo encodes f to w in OER wire format.
func (f *Fulfill) WriteTo(w io.Writer) error {
	var body bytes.Buffer
	if _, err := body.Write(f.Fulfillment[:]); err != nil {
		return err
	}
	if err := oer.WriteVarOctetString(&body, f.Data); err != nil {
		return err
	}
	return writeEnvelope(w, TypeFulfill, body.Bytes())
}

// ReadFulfill decodes a Fulfill envelope (type tag already stripped) from r.
func ReadFulfill(r io.Reader) (*Fulfill, error) {
	var fulfillment [32]byte
	if _, err := io.ReadFull(r, fulfillment[:]); err != nil {
		return nil, fmt.Errorf("ilppacket: read fulfillment: %w", oer.ErrUnexpectedEOF)
	}
	data, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read data: %w", err)
	}
	return &Fulfill{Fulfillment: fulfillment, Data: data}, nil
}

// WriteTo encodes j to w in OER wire format.
func (j *Reject) WriteTo(w io.Writer) error {
	if len(j.Code) != 3 {
		return fmt.Errorf("ilppacket: reject code must be 3 bytes, got %q", j.Code)
	}
	var body bytes.Buffer
	if _, err := body.Write([]byte(j.Code)); err != nil {
		return err
	}
	triggeredBy := ""
	if !j.TriggeredBy.IsZero() {
		triggeredBy = j.TriggeredBy.String()
	}
	if err := oer.WriteVarOctetString(&body, []byte(triggeredBy)); err != nil {
		return err
	}
	if err := oer.WriteVarOctetString(&body, []byte(j.Message)); err != nil {
		return err
	}
	if err := oer.WriteVarOctetString(&body, j.Data); err != nil {
		return err
	}
	return writeEnvelope(w, TypeReject, body.Bytes())
}

// ReadReject decodes a Reject envelope (type tag already stripped) from r.
func ReadReject(r io.Reader) (*Reject, error) {
	var code [3]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return nil, fmt.Errorf("ilppacket: read code: %w", oer.ErrUnexpectedEOF)
	}
	triggeredByBytes, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read triggered_by: %w", err)
	}
	var triggeredBy ilpaddr.Address
	if len(triggeredByBytes) > 0 {
		triggeredBy, err = ilpaddr.Parse(string(triggeredByBytes))
		if err != nil {
			return nil, fmt.Errorf("ilppacket: invalid triggered_by: %w", err)
		}
	}
	msg, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read message: %w", err)
	}
	data, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("ilppacket: read data: %w", err)
	}
	return &Reject{Code: string(code[:]), TriggeredBy: triggeredBy, Message: string(msg), Data: data}, nil
}

func writeEnvelope(w io.Writer, typ byte, body []byte) error {
	if _, err := w.Write([]byte{typ}); err != nil {
		return err
	}
	return oer.WriteVarOctetString(w, body)
}

// Packet is the sum type returned by Read: exactly one of Prepare, Fulfill,
// or Reject is non-nil.
type Packet struct {
	Prepare *Prepare
	Fulfill *Fulfill
	Reject  *Reject
}

// ErrUnknownPacket is returned by Read when the type tag is not one of
// Prepare/Fulfill/Reject.
var ErrUnknownPacket = fmt.Errorf("ilppacket: unknown packet type")

// Read dispatches on the first byte of r and decodes the corresponding
// packet kind.
func Read(r io.Reader) (Packet, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Packet{}, fmt.Errorf("ilppacket: read type tag: %w", oer.ErrUnexpectedEOF)
	}
	envelope, err := oer.ReadVarOctetString(r)
	if err != nil {
		return Packet{}, fmt.Errorf("ilppacket: read envelope: %w", err)
	}
	body := bytes.NewReader(envelope)
	switch tag[0] {
	case TypePrepare:
		p, err := ReadPrepare(body)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Prepare: p}, nil
	case TypeFulfill:
		f, err := ReadFulfill(body)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Fulfill: f}, nil
	case TypeReject:
		j, err := ReadReject(body)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Reject: j}, nil
	default:
		return Packet{}, ErrUnknownPacket
	}
}

// WriteTo encodes whichever field of pk is set.
func (pk Packet) WriteTo(w io.Writer) error {
	switch {
	case pk.Prepare != nil:
		return pk.Prepare.WriteTo(w)
	case pk.Fulfill != nil:
		return pk.Fulfill.WriteTo(w)
	case pk.Reject != nil:
		return pk.Reject.WriteTo(w)
	default:
		return fmt.Errorf("ilppacket: empty packet")
	}
}

// Bytes encodes pk and returns the resulting byte slice.
func (pk Packet) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := pk.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
