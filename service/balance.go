package service

import (
	"context"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"

	"github.com/sirupsen/logrus"
)

// SettlementEnqueuer hands a settle-this-amount request off to the
// settlement client without blocking the response path (spec.md §4.5
// phase 3 "the response is not gated on the store write"). Defined here,
// not imported from package settlement, to keep service free of a
// dependency on the settlement transport.
type SettlementEnqueuer interface {
	EnqueueSettlement(account store.Account, amount uint64)
}

// BalanceService wraps every outgoing send with the four-phase balance
// update of spec.md §4.5, grounded on the mutex-guarded ledger map in
// core/account_and_balance_operations.go's AccountManager.Transfer,
// generalized from a single atomic transfer to a prepare/fulfill/reject
// lifecycle split across the store's three balance-mutation calls.
type BalanceService struct {
	Next       OutgoingService
	Store      store.Store
	Settlement SettlementEnqueuer
	Logger     *logrus.Logger
}

func (s *BalanceService) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

func (s *BalanceService) SendOutgoing(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	if req.OriginalAmount == 0 {
		// Zero-amount packets skip all balance work (spec.md §4.5).
		return s.Next.SendOutgoing(ctx, req)
	}

	if err := s.Store.UpdateBalancesForPrepare(ctx, req.From.ID, req.OriginalAmount); err != nil {
		return nil, ilperr.New(ilperr.CodeT04InsufficientLiq, "insufficient liquidity", req.From.Address)
	}

	fulfill, reject := s.Next.SendOutgoing(ctx, req)

	if reject != nil {
		go s.commitReject(req)
		return nil, reject
	}

	go s.commitFulfill(req)
	return fulfill, nil
}

// commitReject runs the reject-phase balance rollback after the
// response has already been handed back to the caller (spec.md §4.5
// "Phases 3 and 4 must occur after the Fulfill/Reject is returned").
func (s *BalanceService) commitReject(req *OutgoingRequest) {
	ctx := context.Background()
	if err := s.Store.UpdateBalancesForReject(ctx, req.From.ID, req.OriginalAmount); err != nil {
		s.logger().WithError(err).Error("balance: rollback on reject failed")
	}
}

// commitFulfill runs the fulfill-phase balance increment and settlement
// enqueue after the response has already been handed back to the caller
// (spec.md §4.5 "Phases 3 and 4 must occur after the Fulfill/Reject is
// returned").
func (s *BalanceService) commitFulfill(req *OutgoingRequest) {
	ctx := context.Background()
	_, amountToSettle, shouldSettle, err := s.Store.UpdateBalancesForFulfill(ctx, req.To.ID, req.Prepare.Amount)
	if err != nil {
		s.logger().WithError(err).Error("balance: fulfill-phase increment failed")
		return
	}
	if !shouldSettle || amountToSettle == 0 {
		return
	}
	if s.Settlement == nil {
		s.logger().Warn("balance: settlement threshold crossed but no settlement client configured")
		return
	}
	s.Settlement.EnqueueSettlement(req.To, amountToSettle)
}
