package stream

import (
	"bytes"
	"fmt"
	"io"

	"ilpconnector/pkg/oer"
)

// PacketType mirrors the enclosing ILP packet's type, carried inside the
// encrypted STREAM packet so a receiver can tell Fulfill from Reject even
// though both arrive over the same "data" channel on different legs
// (spec.md §4.9).
type PacketType byte

const (
	PacketTypePrepare PacketType = 12
	PacketTypeFulfill PacketType = 13
	PacketTypeReject  PacketType = 14
)

const currentVersion = 1

// Packet is the plaintext STREAM packet, encrypted end-to-end inside the
// ILP packet's data field (spec.md §4.9):
//
//	version(1)=1, packet_type(1), sequence(var-uint), prepare_amount(var-uint),
//	frames(count-prefixed list of tagged frames)
type Packet struct {
	Sequence      uint64
	Type          PacketType
	PrepareAmount uint64
	Frames        []Frame
}

// Marshal encodes the packet to its plaintext wire form.
func (p *Packet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(currentVersion)
	buf.WriteByte(byte(p.Type))
	if err := oer.WriteVarUint(&buf, p.Sequence); err != nil {
		return nil, fmt.Errorf("stream: write sequence: %w", err)
	}
	if err := oer.WriteVarUint(&buf, p.PrepareAmount); err != nil {
		return nil, fmt.Errorf("stream: write prepare_amount: %w", err)
	}
	if err := oer.WriteVarUint(&buf, uint64(len(p.Frames))); err != nil {
		return nil, fmt.Errorf("stream: write frame count: %w", err)
	}
	for _, f := range p.Frames {
		if err := encodeFrame(&buf, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ParsePacket decodes a plaintext STREAM packet previously produced by
// Marshal (i.e. after Decrypt has been applied to the ILP packet's data).
func ParsePacket(data []byte) (*Packet, error) {
	r := bytes.NewReader(data)
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("stream: read header: %w", err)
	}
	if header[0] != currentVersion {
		return nil, fmt.Errorf("stream: unsupported version %d", header[0])
	}
	p := &Packet{Type: PacketType(header[1])}
	seq, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, fmt.Errorf("stream: read sequence: %w", err)
	}
	p.Sequence = seq
	amount, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, fmt.Errorf("stream: read prepare_amount: %w", err)
	}
	p.PrepareAmount = amount
	count, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, fmt.Errorf("stream: read frame count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		f, err := decodeFrame(r)
		if err != nil {
			return nil, fmt.Errorf("stream: read frame %d: %w", i, err)
		}
		p.Frames = append(p.Frames, f)
	}
	return p, nil
}

// EncryptedPacket produces the ciphertext to place in an ILP packet's
// data field, along with the condition (for a Prepare) or fulfillment
// the response must present, per spec.md §4.9.
func (p *Packet) EncryptedPacket(sharedSecret []byte) (ciphertext []byte, fulfillment [32]byte, err error) {
	plaintext, err := p.Marshal()
	if err != nil {
		return nil, fulfillment, err
	}
	ciphertext, err = Encrypt(sharedSecret, plaintext)
	if err != nil {
		return nil, fulfillment, err
	}
	fulfillment = GenerateFulfillment(sharedSecret, ciphertext)
	return ciphertext, fulfillment, nil
}

// DecryptPacket reverses EncryptedPacket: it decrypts ciphertext under
// sharedSecret and parses the resulting plaintext STREAM packet.
func DecryptPacket(sharedSecret, ciphertext []byte) (*Packet, error) {
	plaintext, err := Decrypt(sharedSecret, ciphertext)
	if err != nil {
		return nil, err
	}
	return ParsePacket(plaintext)
}
