package service

import (
	"context"
	"time"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"

	"github.com/sirupsen/logrus"
)

// Clock abstracts time.Now for deterministic tests, following the
// teacher's own pattern of injecting a clock function into time-
// sensitive components rather than calling time.Now directly.
type Clock func() time.Time

// ValidatorIncoming drops expired prepares before they enter the chain
// (spec.md §4.7 "Incoming").
type ValidatorIncoming struct {
	Next  IncomingService
	Now   Clock
	Logger *logrus.Logger
}

func (v *ValidatorIncoming) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *ValidatorIncoming) SendIncoming(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	if !req.Prepare.ExpiresAt.After(v.now()) {
		return nil, ilperr.New(ilperr.CodeR00TransferTimedOut, "prepare already expired", req.FromAccount.Address)
	}
	return v.Next.SendIncoming(ctx, req)
}

// ValidatorOutgoing attaches a minimum expiry reduction and checks the
// returned fulfillment against the prepare's condition before it
// propagates further back up the chain (spec.md §4.7 "Outgoing"), using
// the shared ilppacket.CheckFulfillment helper also used by STREAM.
type ValidatorOutgoing struct {
	Next   OutgoingService
	Now    Clock
	Logger *logrus.Logger
}

func (v *ValidatorOutgoing) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *ValidatorOutgoing) SendOutgoing(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	reduced := req.Prepare.ExpiresAt.Add(-time.Duration(req.To.RoundTripTimeMS) * time.Millisecond)
	if !reduced.After(v.now()) {
		return nil, ilperr.New(ilperr.CodeR00TransferTimedOut, "insufficient time remaining after round-trip reduction", req.From.Address)
	}

	next := req.Prepare.Clone()
	next.ExpiresAt = reduced
	out := &OutgoingRequest{From: req.From, To: req.To, OriginalAmount: req.OriginalAmount, Prepare: next}

	fulfill, reject := v.Next.SendOutgoing(ctx, out)
	if reject != nil {
		return nil, reject
	}
	if err := ilppacket.CheckFulfillment(req.Prepare, fulfill); err != nil {
		return nil, ilperr.New(ilperr.CodeF05WrongCondition, err.Error(), req.From.Address)
	}
	return fulfill, nil
}
