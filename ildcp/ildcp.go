// Package ildcp implements the ILP Dynamic Configuration Protocol: the
// mechanism a child node uses to learn its own assigned address, asset
// code, and asset scale from its parent at connection start, over the
// reserved peer.config address (SPEC_FULL.md §4.14, supplemented feature).
package ildcp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/pkg/oer"
	"ilpconnector/service"
)

// ReservedConfigAddress is the destination a child addresses its
// peer.config request to.
const ReservedConfigAddress = "peer.config"

// peerProtocolFulfillment is the fixed fulfillment shared by every peer
// protocol packet: 32 zero bytes (the condition is its sha256), matching
// the convention in
// ccp.PeerProtocolFulfillment and settlement's local copy. Kept as a
// private local copy here too, to avoid a cross-package dependency.
var peerProtocolFulfillment = [32]byte{}
var peerProtocolCondition = sha256.Sum256(peerProtocolFulfillment[:])

// Response is the decoded {address, asset_scale, asset_code} a parent
// sends back for a peer.config request.
type Response struct {
	ClientAddress ilpaddr.Address
	AssetScale    uint8
	AssetCode     string
}

// Marshal OER-encodes r: var-octet-string(address) ‖ 1 byte scale ‖
// var-octet-string(asset_code).
func (r Response) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := oer.WriteVarOctetString(&buf, []byte(r.ClientAddress.String())); err != nil {
		return nil, fmt.Errorf("ildcp: write address: %w", err)
	}
	buf.WriteByte(r.AssetScale)
	if err := oer.WriteVarOctetString(&buf, []byte(r.AssetCode)); err != nil {
		return nil, fmt.Errorf("ildcp: write asset_code: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseResponse decodes data produced by Marshal.
func ParseResponse(data []byte) (Response, error) {
	r := bytes.NewReader(data)
	addr, err := oer.ReadVarOctetString(r)
	if err != nil {
		return Response{}, fmt.Errorf("ildcp: read address: %w", err)
	}
	parsed, err := ilpaddr.Parse(string(addr))
	if err != nil {
		return Response{}, fmt.Errorf("ildcp: invalid address in response: %w", err)
	}
	var scale [1]byte
	if _, err := r.Read(scale[:]); err != nil {
		return Response{}, fmt.Errorf("ildcp: read asset_scale: %w", err)
	}
	code, err := oer.ReadVarOctetString(r)
	if err != nil {
		return Response{}, fmt.Errorf("ildcp: read asset_code: %w", err)
	}
	return Response{ClientAddress: parsed, AssetScale: scale[0], AssetCode: string(code)}, nil
}

// Server answers peer.config requests from child accounts using the
// requesting account's own configured Address/AssetCode/AssetScale: the
// parent already assigned these statically, ILDCP just lets the child
// confirm them dynamically rather than requiring static config on both
// sides.
type Server struct {
	Next service.IncomingService
}

// NewServer constructs a Server wrapping next.
func NewServer(next service.IncomingService) *Server {
	return &Server{Next: next}
}

func (s *Server) SendIncoming(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	if req.Prepare.Destination.String() != ReservedConfigAddress {
		return s.Next.SendIncoming(ctx, req)
	}
	account := req.FromAccount
	if account.Address.IsZero() {
		return nil, ilperr.New(ilperr.CodeF00BadRequest, "account has no assigned address to report via ildcp", account.Address)
	}
	resp := Response{ClientAddress: account.Address, AssetScale: account.AssetScale, AssetCode: account.AssetCode}
	data, err := resp.Marshal()
	if err != nil {
		return nil, ilperr.Wrap(err, account.Address)
	}
	return &ilppacket.Fulfill{Fulfillment: peerProtocolFulfillment, Data: data}, nil
}

// Sender is the minimal interface a child node needs to issue a
// peer.config prepare: the rest of its outgoing stack (BTP/HTTP dial,
// correlation) is provided by the transport package in use.
type Sender func(ctx context.Context, prepare *ilppacket.Prepare) (*ilppacket.Fulfill, *ilperr.Reject)

// Query sends a peer.config prepare via send and decodes the resulting
// Response — the child's half of the handshake performed at connection
// start.
func Query(ctx context.Context, send Sender) (Response, error) {
	dest, err := ilpaddr.Parse(ReservedConfigAddress)
	if err != nil {
		return Response{}, fmt.Errorf("ildcp: %w", err)
	}
	prepare := &ilppacket.Prepare{
		Destination:        dest,
		Amount:             0,
		ExpiresAt:          time.Now().Add(30 * time.Second),
		ExecutionCondition: peerProtocolCondition,
	}
	fulfill, reject := send(ctx, prepare)
	if reject != nil {
		return Response{}, fmt.Errorf("ildcp: peer.config request rejected: %s", reject.Message)
	}
	return ParseResponse(fulfill.Data)
}
