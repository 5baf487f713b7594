package stream

import (
	"bytes"
	"fmt"
	"io"

	"ilpconnector/pkg/oer"
)

// FrameType tags the kind of a STREAM frame (spec.md §4.9).
type FrameType byte

const (
	FrameConnectionClose          FrameType = 0x01
	FrameConnectionNewAddress     FrameType = 0x02
	FrameConnectionAssetDetails   FrameType = 0x03
	FrameConnectionMaxData        FrameType = 0x04
	FrameConnectionDataBlocked    FrameType = 0x05
	FrameConnectionMaxStreamId    FrameType = 0x06
	FrameConnectionStreamIdBlocked FrameType = 0x07
	FrameStreamClose              FrameType = 0x10
	FrameStreamMoney              FrameType = 0x11
	FrameStreamMaxMoney           FrameType = 0x12
	FrameStreamMoneyBlocked       FrameType = 0x13
	FrameStreamData               FrameType = 0x14
	FrameStreamMaxData            FrameType = 0x15
	FrameStreamDataBlocked        FrameType = 0x16
)

// Frame is any STREAM frame: it knows its own tag and how to encode its
// body. Frames are wrapped on the wire as tag(1) ‖ oer.VarOctetString(body).
type Frame interface {
	Type() FrameType
	encodeBody() []byte
}

func encodeFrame(w io.Writer, f Frame) error {
	if _, err := w.Write([]byte{byte(f.Type())}); err != nil {
		return fmt.Errorf("stream: write frame tag: %w", err)
	}
	return oer.WriteVarOctetString(w, f.encodeBody())
}

// decodeFrame reads one tagged frame from r. An unrecognized tag yields an
// UnknownFrame carrying the raw body, so forward-compatible peers don't
// choke on frame types they don't understand yet (spec.md §4.9).
func decodeFrame(r io.Reader) (Frame, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err // may be io.EOF, meaning "no more frames"
	}
	body, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, fmt.Errorf("stream: read frame body: %w", err)
	}
	br := bytes.NewReader(body)
	t := FrameType(tag[0])
	switch t {
	case FrameConnectionClose:
		return decodeConnectionClose(br)
	case FrameConnectionNewAddress:
		return decodeConnectionNewAddress(br)
	case FrameConnectionAssetDetails:
		return decodeConnectionAssetDetails(br)
	case FrameConnectionMaxData:
		return decodeConnectionMaxData(br)
	case FrameConnectionDataBlocked:
		return decodeConnectionDataBlocked(br)
	case FrameConnectionMaxStreamId:
		return decodeConnectionMaxStreamId(br)
	case FrameConnectionStreamIdBlocked:
		return decodeConnectionStreamIdBlocked(br)
	case FrameStreamClose:
		return decodeStreamClose(br)
	case FrameStreamMoney:
		return decodeStreamMoney(br)
	case FrameStreamMaxMoney:
		return decodeStreamMaxMoney(br)
	case FrameStreamMoneyBlocked:
		return decodeStreamMoneyBlocked(br)
	case FrameStreamData:
		return decodeStreamData(br)
	case FrameStreamMaxData:
		return decodeStreamMaxData(br)
	case FrameStreamDataBlocked:
		return decodeStreamDataBlocked(br)
	default:
		return UnknownFrame{Tag: t, Body: body}, nil
	}
}

// UnknownFrame preserves an unrecognized frame's raw bytes so it can be
// round-tripped or simply ignored by the receiver.
type UnknownFrame struct {
	Tag  FrameType
	Body []byte
}

func (f UnknownFrame) Type() FrameType   { return f.Tag }
func (f UnknownFrame) encodeBody() []byte { return f.Body }

// --- connection-level frames ---

type ConnectionCloseFrame struct {
	Code    uint8
	Message string
}

func (f ConnectionCloseFrame) Type() FrameType { return FrameConnectionClose }
func (f ConnectionCloseFrame) encodeBody() []byte {
	var buf bytes.Buffer
	buf.WriteByte(f.Code)
	oer.WriteVarOctetString(&buf, []byte(f.Message))
	return buf.Bytes()
}
func decodeConnectionClose(r io.Reader) (Frame, error) {
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return nil, err
	}
	msg, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, err
	}
	return ConnectionCloseFrame{Code: code[0], Message: string(msg)}, nil
}

type ConnectionNewAddressFrame struct {
	SourceAccount string
}

func (f ConnectionNewAddressFrame) Type() FrameType { return FrameConnectionNewAddress }
func (f ConnectionNewAddressFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarOctetString(&buf, []byte(f.SourceAccount))
	return buf.Bytes()
}
func decodeConnectionNewAddress(r io.Reader) (Frame, error) {
	addr, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, err
	}
	return ConnectionNewAddressFrame{SourceAccount: string(addr)}, nil
}

type ConnectionAssetDetailsFrame struct {
	AssetCode  string
	AssetScale uint8
}

func (f ConnectionAssetDetailsFrame) Type() FrameType { return FrameConnectionAssetDetails }
func (f ConnectionAssetDetailsFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarOctetString(&buf, []byte(f.AssetCode))
	buf.WriteByte(f.AssetScale)
	return buf.Bytes()
}
func decodeConnectionAssetDetails(r io.Reader) (Frame, error) {
	code, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, err
	}
	var scale [1]byte
	if _, err := io.ReadFull(r, scale[:]); err != nil {
		return nil, err
	}
	return ConnectionAssetDetailsFrame{AssetCode: string(code), AssetScale: scale[0]}, nil
}

type ConnectionMaxDataFrame struct{ MaxOffset uint64 }

func (f ConnectionMaxDataFrame) Type() FrameType { return FrameConnectionMaxData }
func (f ConnectionMaxDataFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.MaxOffset)
	return buf.Bytes()
}
func decodeConnectionMaxData(r io.Reader) (Frame, error) {
	v, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return ConnectionMaxDataFrame{MaxOffset: v}, nil
}

type ConnectionDataBlockedFrame struct{ MaxOffset uint64 }

func (f ConnectionDataBlockedFrame) Type() FrameType { return FrameConnectionDataBlocked }
func (f ConnectionDataBlockedFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.MaxOffset)
	return buf.Bytes()
}
func decodeConnectionDataBlocked(r io.Reader) (Frame, error) {
	v, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return ConnectionDataBlockedFrame{MaxOffset: v}, nil
}

type ConnectionMaxStreamIdFrame struct{ MaxStreamId uint64 }

func (f ConnectionMaxStreamIdFrame) Type() FrameType { return FrameConnectionMaxStreamId }
func (f ConnectionMaxStreamIdFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.MaxStreamId)
	return buf.Bytes()
}
func decodeConnectionMaxStreamId(r io.Reader) (Frame, error) {
	v, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return ConnectionMaxStreamIdFrame{MaxStreamId: v}, nil
}

type ConnectionStreamIdBlockedFrame struct{ MaxStreamId uint64 }

func (f ConnectionStreamIdBlockedFrame) Type() FrameType { return FrameConnectionStreamIdBlocked }
func (f ConnectionStreamIdBlockedFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.MaxStreamId)
	return buf.Bytes()
}
func decodeConnectionStreamIdBlocked(r io.Reader) (Frame, error) {
	v, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return ConnectionStreamIdBlockedFrame{MaxStreamId: v}, nil
}

// --- per-stream frames ---

type StreamCloseFrame struct {
	StreamID uint64
	Code     uint8
	Message  string
}

func (f StreamCloseFrame) Type() FrameType { return FrameStreamClose }
func (f StreamCloseFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	buf.WriteByte(f.Code)
	oer.WriteVarOctetString(&buf, []byte(f.Message))
	return buf.Bytes()
}
func decodeStreamClose(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return nil, err
	}
	msg, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, err
	}
	return StreamCloseFrame{StreamID: id, Code: code[0], Message: string(msg)}, nil
}

type StreamMoneyFrame struct {
	StreamID uint64
	Shares   uint64
}

func (f StreamMoneyFrame) Type() FrameType { return FrameStreamMoney }
func (f StreamMoneyFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.Shares)
	return buf.Bytes()
}
func decodeStreamMoney(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	shares, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return StreamMoneyFrame{StreamID: id, Shares: shares}, nil
}

type StreamMaxMoneyFrame struct {
	StreamID      uint64
	ReceiveMax    uint64
	TotalReceived uint64
}

func (f StreamMaxMoneyFrame) Type() FrameType { return FrameStreamMaxMoney }
func (f StreamMaxMoneyFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.ReceiveMax)
	oer.WriteVarUint(&buf, f.TotalReceived)
	return buf.Bytes()
}
func decodeStreamMaxMoney(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	max, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	total, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return StreamMaxMoneyFrame{StreamID: id, ReceiveMax: max, TotalReceived: total}, nil
}

type StreamMoneyBlockedFrame struct {
	StreamID  uint64
	SendMax   uint64
	TotalSent uint64
}

func (f StreamMoneyBlockedFrame) Type() FrameType { return FrameStreamMoneyBlocked }
func (f StreamMoneyBlockedFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.SendMax)
	oer.WriteVarUint(&buf, f.TotalSent)
	return buf.Bytes()
}
func decodeStreamMoneyBlocked(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	max, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	total, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return StreamMoneyBlockedFrame{StreamID: id, SendMax: max, TotalSent: total}, nil
}

type StreamDataFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
}

func (f StreamDataFrame) Type() FrameType { return FrameStreamData }
func (f StreamDataFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.Offset)
	oer.WriteVarOctetString(&buf, f.Data)
	return buf.Bytes()
}
func decodeStreamData(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	offset, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	data, err := oer.ReadVarOctetString(r)
	if err != nil {
		return nil, err
	}
	return StreamDataFrame{StreamID: id, Offset: offset, Data: data}, nil
}

type StreamMaxDataFrame struct {
	StreamID  uint64
	MaxOffset uint64
}

func (f StreamMaxDataFrame) Type() FrameType { return FrameStreamMaxData }
func (f StreamMaxDataFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.MaxOffset)
	return buf.Bytes()
}
func decodeStreamMaxData(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	max, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return StreamMaxDataFrame{StreamID: id, MaxOffset: max}, nil
}

type StreamDataBlockedFrame struct {
	StreamID  uint64
	MaxOffset uint64
}

func (f StreamDataBlockedFrame) Type() FrameType { return FrameStreamDataBlocked }
func (f StreamDataBlockedFrame) encodeBody() []byte {
	var buf bytes.Buffer
	oer.WriteVarUint(&buf, f.StreamID)
	oer.WriteVarUint(&buf, f.MaxOffset)
	return buf.Bytes()
}
func decodeStreamDataBlocked(r io.Reader) (Frame, error) {
	id, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	max, err := oer.ReadVarUint(r)
	if err != nil {
		return nil, err
	}
	return StreamDataBlockedFrame{StreamID: id, MaxOffset: max}, nil
}
