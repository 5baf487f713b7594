package service

import (
	"context"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"

	"github.com/sirupsen/logrus"
)

// RateLimitService enforces per-account packet-count and amount-per-
// minute limits on the incoming chain (spec.md §4.6). The token-bucket
// bookkeeping itself lives in the store (the only component the node
// shares mutably, per spec.md §5); this layer is a thin incoming-chain
// adapter around store.ApplyRateLimits/RefundThroughputLimit, in the
// spirit of the teacher's x/time/rate token-bucket usage promoted to a
// first-class dependency here.
type RateLimitService struct {
	Next   IncomingService
	Store  store.Store
	Logger *logrus.Logger
}

func (s *RateLimitService) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

func (s *RateLimitService) SendIncoming(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	result, err := s.Store.ApplyRateLimits(ctx, req.FromAccount.ID, req.Prepare.Amount)
	if err != nil {
		s.logger().WithError(err).Error("rate-limit: store call failed")
		return nil, ilperr.Wrap(err, req.FromAccount.Address)
	}
	switch result {
	case store.RateLimitPacketLimit:
		return nil, ilperr.New(ilperr.CodeT05RateLimited, "packets_per_minute exceeded", req.FromAccount.Address)
	case store.RateLimitAmountLimit:
		return nil, ilperr.New(ilperr.CodeT04InsufficientLiq, "amount_per_minute exceeded", req.FromAccount.Address)
	}

	fulfill, reject := s.Next.SendIncoming(ctx, req)
	if reject != nil {
		if err := s.Store.RefundThroughputLimit(ctx, req.FromAccount.ID, req.Prepare.Amount); err != nil {
			s.logger().WithError(err).Warn("rate-limit: refund on reject failed")
		}
	}
	return fulfill, reject
}
