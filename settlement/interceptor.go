package settlement

import (
	"context"
	"crypto/sha256"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"

	"github.com/sirupsen/logrus"
)

// ReservedSettleAddress is the destination a peer's settlement engine
// uses to deliver an opaque message to this node's engine (spec.md
// §4.11, §6.5).
const ReservedSettleAddress = "peer.settle"

// peerProtocolFulfillment is the fixed fulfillment shared by every peer
// protocol packet (CCP's peer.route.* and this package's peer.settle):
// 32 zero bytes (the condition is its sha256), matching the convention documented in
// ccp/message.go. Kept as a private copy here rather than importing
// package ccp for one constant, the same decoupling ccp/manager.go uses
// for PacketSender.
var peerProtocolFulfillment = [32]byte{}
var peerProtocolCondition = sha256.Sum256(peerProtocolFulfillment[:])

// PeerProtocolCondition is the execution_condition every peer.settle
// Prepare must carry. Interceptor does not check it, and no layer ahead
// of it on the incoming chain does either: a peer.settle prepare is
// matched by destination address, not by condition (spec.md §6.5).
func PeerProtocolCondition() [32]byte { return peerProtocolCondition }

// Interceptor sits ahead of the router on the incoming chain and
// forwards any prepare addressed to peer.settle to the local settlement
// engine's /messages endpoint, returning its reply body as the Fulfill
// data (spec.md §4.11, §4.2).
type Interceptor struct {
	Next   service.IncomingService
	Client *Client
	Logger *logrus.Logger
}

// NewInterceptor constructs an Interceptor wrapping next.
func NewInterceptor(next service.IncomingService, client *Client, logger *logrus.Logger) *Interceptor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interceptor{Next: next, Client: client, Logger: logger}
}

func (i *Interceptor) SendIncoming(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	if req.Prepare.Destination.String() != ReservedSettleAddress {
		return i.Next.SendIncoming(ctx, req)
	}

	account := req.FromAccount
	if account.SettlementEngineURL == "" {
		return nil, ilperr.New(ilperr.CodeF00BadRequest, "no settlement_engine_url configured for account", account.Address)
	}

	reply, err := i.Client.Message(ctx, account.SettlementEngineURL, account.ID.String(), req.Prepare.Data)
	if err != nil {
		i.Logger.WithError(err).WithField("account", account.Username).Error("settlement: forward peer.settle message failed")
		return nil, ilperr.Wrap(err, account.Address)
	}
	return &ilppacket.Fulfill{Fulfillment: peerProtocolFulfillment, Data: reply}, nil
}
