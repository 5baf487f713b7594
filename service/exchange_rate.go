package service

import (
	"context"
	"math"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"

	"github.com/sirupsen/logrus"
)

// ExchangeRateService adjusts the outgoing prepare amount for asset code
// and scale differences before forwarding (spec.md §4.4), grounded on
// the teacher's fee-adjusted reserve-ratio math in core/amm.go's Quote
// (here simplified from a multi-hop AMM path to a single store-provided
// rate pair, since ILP conversion is a lookup, not a swap).
type ExchangeRateService struct {
	Next   OutgoingService
	Store  store.Store
	Logger *logrus.Logger

	// Spread is the non-negative fractional node-operator fee applied on
	// cross-asset conversions (spec.md §4.4).
	Spread float64
}

func (s *ExchangeRateService) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

func (s *ExchangeRateService) SendOutgoing(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	amount := req.Prepare.Amount
	scaleDiff := int(req.To.AssetScale) - int(req.From.AssetScale)

	var newAmountF float64
	if req.From.AssetCode == req.To.AssetCode {
		newAmountF = float64(amount) * math.Pow(10, float64(scaleDiff))
	} else {
		rates, err := s.Store.GetExchangeRates(ctx, []string{req.From.AssetCode, req.To.AssetCode})
		if err != nil || len(rates) != 2 || rates[0] == 0 {
			s.logger().WithError(err).Warn("exchange-rate: missing rates")
			return nil, ilperr.New(ilperr.CodeT00InternalError, "exchange rates unavailable", req.From.Address)
		}
		rFrom, rTo := rates[0], rates[1]
		newAmountF = float64(amount) * (rTo / rFrom) * math.Pow(10, float64(scaleDiff)) * (1 - s.Spread)
	}

	newAmountF = math.Floor(newAmountF)
	if newAmountF < 0 || newAmountF > math.MaxUint64 {
		return nil, ilperr.New(ilperr.CodeF08AmountTooLarge, "converted amount overflows", req.From.Address)
	}

	next := req.Prepare.Clone()
	next.Amount = uint64(newAmountF)
	out := &OutgoingRequest{
		From:           req.From,
		To:             req.To,
		OriginalAmount: req.OriginalAmount,
		Prepare:        next,
	}
	return s.Next.SendOutgoing(ctx, out)
}
