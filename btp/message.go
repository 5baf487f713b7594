// Package btp implements the Bilateral Transfer Protocol framing used
// between directly-connected ILP peers: a length-prefixed binary
// message format carried over websocket (spec.md §4.10, §6.2).
package btp

import (
	"bytes"
	"fmt"
	"io"

	"ilpconnector/pkg/oer"
)

// MessageType is the BTP frame's top-level type tag.
type MessageType byte

const (
	TypeResponse MessageType = 1
	TypeError    MessageType = 2
	TypeMessage  MessageType = 6
)

// MaxMessageSize is the hard cap on a single BTP frame (spec.md §6.2).
const MaxMessageSize = 40000

// ProtocolData is one named, typed sub-message inside a BTP packet.
// ILP packets travel as the entry named "ilp" (spec.md §4.10).
type ProtocolData struct {
	ProtocolName string
	ContentType  uint8
	Data         []byte
}

// Packet is a decoded BTP frame: {type, request_id, protocol_data} for
// Message/Response, plus an error code/message for Error.
type Packet struct {
	Type         MessageType
	RequestID    uint32
	ErrorCode    string
	ErrorMessage string
	ProtocolData []ProtocolData
}

// ILPData returns the payload of the "ilp" protocol_data entry, if any.
func (p *Packet) ILPData() ([]byte, bool) {
	for _, pd := range p.ProtocolData {
		if pd.ProtocolName == "ilp" {
			return pd.Data, true
		}
	}
	return nil, false
}

// Marshal encodes the packet to its wire form.
func (p *Packet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Type))
	var idBuf [4]byte
	idBuf[0] = byte(p.RequestID >> 24)
	idBuf[1] = byte(p.RequestID >> 16)
	idBuf[2] = byte(p.RequestID >> 8)
	idBuf[3] = byte(p.RequestID)
	buf.Write(idBuf[:])

	var payload bytes.Buffer
	if p.Type == TypeError {
		if err := oer.WriteVarOctetString(&payload, []byte(p.ErrorCode)); err != nil {
			return nil, err
		}
		if err := oer.WriteVarOctetString(&payload, []byte(p.ErrorMessage)); err != nil {
			return nil, err
		}
	}
	if err := oer.WriteVarUint(&payload, uint64(len(p.ProtocolData))); err != nil {
		return nil, err
	}
	for _, pd := range p.ProtocolData {
		if err := oer.WriteVarOctetString(&payload, []byte(pd.ProtocolName)); err != nil {
			return nil, err
		}
		payload.WriteByte(pd.ContentType)
		if err := oer.WriteVarOctetString(&payload, pd.Data); err != nil {
			return nil, err
		}
	}
	if err := oer.WriteVarOctetString(&buf, payload.Bytes()); err != nil {
		return nil, err
	}
	if buf.Len() > MaxMessageSize {
		return nil, fmt.Errorf("btp: encoded message %d bytes exceeds max %d", buf.Len(), MaxMessageSize)
	}
	return buf.Bytes(), nil
}

// ParsePacket decodes a BTP frame read off the websocket.
func ParsePacket(raw []byte) (*Packet, error) {
	if len(raw) > MaxMessageSize {
		return nil, fmt.Errorf("btp: message %d bytes exceeds max %d", len(raw), MaxMessageSize)
	}
	r := bytes.NewReader(raw)
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("btp: read header: %w", err)
	}
	p := &Packet{
		Type: MessageType(header[0]),
		RequestID: uint32(header[1])<<24 | uint32(header[2])<<16 |
			uint32(header[3])<<8 | uint32(header[4]),
	}
	payload, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("btp: read payload: %w", err)
	}
	pr := bytes.NewReader(payload)
	if p.Type == TypeError {
		code, err := oer.ReadVarOctetString(pr)
		if err != nil {
			return nil, fmt.Errorf("btp: read error code: %w", err)
		}
		msg, err := oer.ReadVarOctetString(pr)
		if err != nil {
			return nil, fmt.Errorf("btp: read error message: %w", err)
		}
		p.ErrorCode = string(code)
		p.ErrorMessage = string(msg)
	}
	count, err := oer.ReadVarUint(pr)
	if err != nil {
		return nil, fmt.Errorf("btp: read protocol_data count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		name, err := oer.ReadVarOctetString(pr)
		if err != nil {
			return nil, fmt.Errorf("btp: read protocol_data[%d] name: %w", i, err)
		}
		var ct [1]byte
		if _, err := io.ReadFull(pr, ct[:]); err != nil {
			return nil, fmt.Errorf("btp: read protocol_data[%d] content_type: %w", i, err)
		}
		data, err := oer.ReadVarOctetString(pr)
		if err != nil {
			return nil, fmt.Errorf("btp: read protocol_data[%d] data: %w", i, err)
		}
		p.ProtocolData = append(p.ProtocolData, ProtocolData{
			ProtocolName: string(name),
			ContentType:  ct[0],
			Data:         data,
		})
	}
	return p, nil
}

// NewILPMessage wraps ilpData as a BTP Message carrying a single "ilp"
// protocol_data entry (spec.md §4.10).
func NewILPMessage(requestID uint32, ilpData []byte) *Packet {
	return &Packet{
		Type:      TypeMessage,
		RequestID: requestID,
		ProtocolData: []ProtocolData{
			{ProtocolName: "ilp", ContentType: 0, Data: ilpData},
		},
	}
}

// NewILPResponse wraps ilpData as a BTP Response to requestID.
func NewILPResponse(requestID uint32, ilpData []byte) *Packet {
	return &Packet{
		Type:      TypeResponse,
		RequestID: requestID,
		ProtocolData: []ProtocolData{
			{ProtocolName: "ilp", ContentType: 0, Data: ilpData},
		},
	}
}

// NewError wraps a failure as a BTP Error response to requestID.
func NewError(requestID uint32, code, message string) *Packet {
	return &Packet{Type: TypeError, RequestID: requestID, ErrorCode: code, ErrorMessage: message}
}

// authProtocolData builds the three auth protocol_data entries sent as
// the handshake's first Message (spec.md §4.10).
func authProtocolData(username string, token []byte) []ProtocolData {
	return []ProtocolData{
		{ProtocolName: "auth", ContentType: 0},
		{ProtocolName: "auth_username", ContentType: 0, Data: []byte(username)},
		{ProtocolName: "auth_token", ContentType: 0, Data: token},
	}
}
