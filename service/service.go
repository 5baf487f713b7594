// Package service implements the pipeline's two dual traits
// (IncomingService, OutgoingService) and the middleware layers that
// compose on top of them (spec.md §4.2–§4.7). A layer is a struct
// holding the next service plus its own state, composed bottom-up at
// startup, following the teacher's own composition-over-inheritance
// style (core/account_and_balance_operations.go's AccountManager wraps
// a *Ledger the same way each layer here wraps a "next").
package service

import (
	"context"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"
)

// IncomingRequest is handed to the incoming chain once a transport
// adapter has authenticated the sender to an account (spec.md §2).
type IncomingRequest struct {
	FromAccount store.Account
	Prepare     *ilppacket.Prepare
}

// OutgoingRequest is built by the router once it has resolved the
// prepare's destination to an account (spec.md §2, §4.3).
type OutgoingRequest struct {
	From           store.Account
	To             store.Account
	OriginalAmount uint64
	Prepare        *ilppacket.Prepare
}

// IncomingService handles a request from a directly-connected sender and
// returns exactly one of (Fulfill, Reject) — never both, never neither
// (spec.md §4.2 "must not drop a response").
type IncomingService interface {
	SendIncoming(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject)
}

// OutgoingService forwards a resolved request toward its destination
// account.
type OutgoingService interface {
	SendOutgoing(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject)
}

// IncomingFunc adapts a plain function to IncomingService.
type IncomingFunc func(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject)

func (f IncomingFunc) SendIncoming(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	return f(ctx, req)
}

// OutgoingFunc adapts a plain function to OutgoingService.
type OutgoingFunc func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject)

func (f OutgoingFunc) SendOutgoing(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	return f(ctx, req)
}
