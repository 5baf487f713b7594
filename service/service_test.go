package service

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"

	"github.com/google/uuid"
)

func mustAddr(t *testing.T, s string) ilpaddr.Address {
	t.Helper()
	a, err := ilpaddr.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return a
}

func newAccount(t *testing.T, addr, assetCode string, scale uint8) store.Account {
	t.Helper()
	return store.Account{
		ID:         uuid.New(),
		Username:   addr,
		Address:    mustAddr(t, addr),
		AssetCode:  assetCode,
		AssetScale: scale,
	}
}

func preparePacket(t *testing.T, dest ilpaddr.Address, amount uint64) *ilppacket.Prepare {
	t.Helper()
	cond := sha256.Sum256([]byte("preimage"))
	return &ilppacket.Prepare{
		Amount:             amount,
		ExpiresAt:          time.Now().Add(time.Minute),
		ExecutionCondition: cond,
		Destination:        dest,
	}
}

// TestExchangeRateSameAsset covers S1: same asset code, no spread, no
// scale change.
func TestExchangeRateSameAsset(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	from := newAccount(t, "g.a", "XYZ", 9)
	to := newAccount(t, "g.b", "XYZ", 9)

	var captured *OutgoingRequest
	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		captured = req
		return &ilppacket.Fulfill{}, nil
	})
	svc := &ExchangeRateService{Next: terminal, Store: s}

	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 100, Prepare: preparePacket(t, to.Address, 100)}
	if _, reject := svc.SendOutgoing(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}
	if captured.Prepare.Amount != 100 {
		t.Fatalf("got %d want 100", captured.Prepare.Amount)
	}
}

// TestExchangeRateScaleChange covers S2.
func TestExchangeRateScaleChange(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	from := newAccount(t, "g.a", "ABC", 9)
	to := newAccount(t, "g.c", "ABC", 6)

	var captured *OutgoingRequest
	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		captured = req
		return &ilppacket.Fulfill{}, nil
	})
	svc := &ExchangeRateService{Next: terminal, Store: s}

	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 1_000_000, Prepare: preparePacket(t, to.Address, 1_000_000)}
	if _, reject := svc.SendOutgoing(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}
	if captured.Prepare.Amount != 1000 {
		t.Fatalf("got %d want 1000", captured.Prepare.Amount)
	}
}

// TestExchangeRateFXWithSpread covers S3.
func TestExchangeRateFXWithSpread(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	s.SetExchangeRate("XYZ", 2.0)
	s.SetExchangeRate("ABC", 1.0)

	from := newAccount(t, "g.a", "XYZ", 9)
	to := newAccount(t, "g.c", "ABC", 6)

	var captured *OutgoingRequest
	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		captured = req
		return &ilppacket.Fulfill{}, nil
	})
	svc := &ExchangeRateService{Next: terminal, Store: s, Spread: 0.02}

	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 1_000_000, Prepare: preparePacket(t, to.Address, 1_000_000)}
	if _, reject := svc.SendOutgoing(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}
	if captured.Prepare.Amount != 490 {
		t.Fatalf("got %d want 490", captured.Prepare.Amount)
	}
}

func TestExchangeRateMissingRates(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	from := newAccount(t, "g.a", "XYZ", 9)
	to := newAccount(t, "g.c", "ABC", 6)
	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("should not forward")
		return nil, nil
	})
	svc := &ExchangeRateService{Next: terminal, Store: s}
	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 100, Prepare: preparePacket(t, to.Address, 100)}
	_, reject := svc.SendOutgoing(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeT00InternalError {
		t.Fatalf("expected T00, got %v", reject)
	}
}

func TestRouterUnreachable(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	r := &Router{Store: s, Next: OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("should not forward")
		return nil, nil
	})}
	from := newAccount(t, "g.a", "XYZ", 9)
	req := &IncomingRequest{FromAccount: from, Prepare: preparePacket(t, mustAddr(t, "g.unknown.dest"), 100)}
	_, reject := r.SendIncoming(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeF02Unreachable {
		t.Fatalf("expected F02, got %v", reject)
	}
}

func TestRouterForwardsToResolvedAccount(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	to := newAccount(t, "g.us.nexus.bob", "XYZ", 9)
	to.RoutingRelation = store.Child
	s.PutAccount(to)
	if err := s.SetRoutes(context.Background(), map[string]uuid.UUID{"g.us.nexus": to.ID}); err != nil {
		t.Fatal(err)
	}

	var captured *OutgoingRequest
	r := &Router{Store: s, Next: OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		captured = req
		return &ilppacket.Fulfill{}, nil
	})}
	from := newAccount(t, "g.a", "XYZ", 9)
	req := &IncomingRequest{FromAccount: from, Prepare: preparePacket(t, to.Address, 100)}
	if _, reject := r.SendIncoming(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}
	if captured.To.ID != to.ID {
		t.Fatalf("resolved wrong account")
	}
}

// TestBalanceServiceSettlementTrigger covers S6.
func TestBalanceServiceSettlementTrigger(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	from := newAccount(t, "g.a", "XYZ", 9)
	from.Balance.MinBalance = -1000
	to := newAccount(t, "g.b", "XYZ", 9)
	to.Balance.SettleThreshold = 50
	to.Balance.SettleTo = 0
	to.SettlementEngineURL = "http://settle.example"
	to.Balance.MinBalance = -1000
	s.PutAccount(from)
	s.PutAccount(to)
	// S6 starts the destination account at a balance of -100.
	if err := s.UpdateBalancesForPrepare(context.Background(), to.ID, 100); err != nil {
		t.Fatal(err)
	}

	settled := make(chan uint64, 1)
	enqueuer := settlementFunc(func(acct store.Account, amount uint64) { settled <- amount })

	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		return &ilppacket.Fulfill{}, nil
	})
	svc := &BalanceService{Next: terminal, Store: s, Settlement: enqueuer}

	prepare := preparePacket(t, to.Address, 200)
	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 200, Prepare: prepare}
	if _, reject := svc.SendOutgoing(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}

	select {
	case amount := <-settled:
		if amount != 100 {
			t.Fatalf("settlement amount: got %d want 100", amount)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for settlement enqueue")
	}
}

type settlementFunc func(store.Account, uint64)

func (f settlementFunc) EnqueueSettlement(acct store.Account, amount uint64) { f(acct, amount) }

func TestBalanceServiceInsufficientLiquidity(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	from := newAccount(t, "g.a", "XYZ", 9)
	from.Balance.MinBalance = 0
	to := newAccount(t, "g.b", "XYZ", 9)
	s.PutAccount(from)
	s.PutAccount(to)

	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("should not forward")
		return nil, nil
	})
	svc := &BalanceService{Next: terminal, Store: s}
	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 100, Prepare: preparePacket(t, to.Address, 100)}
	_, reject := svc.SendOutgoing(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeT04InsufficientLiq {
		t.Fatalf("expected T04, got %v", reject)
	}
}

// TestRateLimitServicePacketLimit covers S4.
func TestRateLimitServicePacketLimit(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	acct := newAccount(t, "g.a", "XYZ", 9)
	acct.Rate.PacketsPerMinute = 1
	s.PutAccount(acct)

	terminal := IncomingFunc(func(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		return &ilppacket.Fulfill{}, nil
	})
	svc := &RateLimitService{Next: terminal, Store: s}

	req := &IncomingRequest{FromAccount: acct, Prepare: preparePacket(t, mustAddr(t, "g.dest"), 1)}
	if _, reject := svc.SendIncoming(context.Background(), req); reject != nil {
		t.Fatalf("first packet unexpected reject: %v", reject)
	}
	_, reject := svc.SendIncoming(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeT05RateLimited {
		t.Fatalf("expected T05 on second packet, got %v", reject)
	}
}

func TestValidatorIncomingExpired(t *testing.T) {
	terminal := IncomingFunc(func(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("should not forward")
		return nil, nil
	})
	v := &ValidatorIncoming{Next: terminal}
	from := newAccount(t, "g.a", "XYZ", 9)
	p := preparePacket(t, mustAddr(t, "g.dest"), 1)
	p.ExpiresAt = time.Now().Add(-time.Second)
	req := &IncomingRequest{FromAccount: from, Prepare: p}
	_, reject := v.SendIncoming(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeR00TransferTimedOut {
		t.Fatalf("expected R00, got %v", reject)
	}
}

func TestValidatorOutgoingWrongCondition(t *testing.T) {
	to := newAccount(t, "g.b", "XYZ", 9)
	to.RoundTripTimeMS = 10

	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		return &ilppacket.Fulfill{Fulfillment: [32]byte{0xFF}}, nil
	})
	v := &ValidatorOutgoing{Next: terminal}

	from := newAccount(t, "g.a", "XYZ", 9)
	prepare := preparePacket(t, to.Address, 100)
	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 100, Prepare: prepare}
	_, reject := v.SendOutgoing(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeF05WrongCondition {
		t.Fatalf("expected F05, got %v", reject)
	}
}

// TestComposedOutgoingChainCreditsConvertedAmount exercises the full
// router -> exchangeRate -> balance -> validatorOut chain the way
// cmd/ilp-node wires it, and asserts the destination account is
// credited the converted (not the original) amount. Regression for a
// wiring bug where BalanceService sat upstream of ExchangeRateService
// and credited the un-converted incoming amount.
func TestComposedOutgoingChainCreditsConvertedAmount(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	s.SetExchangeRate("XYZ", 2.0)
	s.SetExchangeRate("ABC", 1.0)

	from := newAccount(t, "g.a", "XYZ", 9)
	from.Balance.MinBalance = -1_000_000
	to := newAccount(t, "g.c.bob", "ABC", 6)
	to.RoutingRelation = store.Child
	s.PutAccount(from)
	s.PutAccount(to)
	if err := s.SetRoutes(context.Background(), map[string]uuid.UUID{to.Address.String(): to.ID}); err != nil {
		t.Fatal(err)
	}

	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		return &ilppacket.Fulfill{}, nil
	})
	validatorOut := &ValidatorOutgoing{Next: terminal}
	balance := &BalanceService{Next: validatorOut, Store: s}
	exchangeRate := &ExchangeRateService{Next: balance, Store: s, Spread: 0.02}
	router := &Router{Store: s, Next: exchangeRate}

	// The terminal answers with a zero fulfillment, so the prepare carries
	// its condition for ValidatorOutgoing to accept the reply.
	prepare := preparePacket(t, to.Address, 1_000_000)
	var zeroFulfillment [32]byte
	prepare.ExecutionCondition = sha256.Sum256(zeroFulfillment[:])
	req := &IncomingRequest{FromAccount: from, Prepare: prepare}
	if _, reject := router.SendIncoming(context.Background(), req); reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}

	// commitFulfill runs in a goroutine; poll for the credited balance.
	deadline := time.Now().Add(time.Second)
	var balanceAfter int64
	for time.Now().Before(deadline) {
		balanceAfter, err = s.GetBalance(context.Background(), to.ID)
		if err != nil {
			t.Fatal(err)
		}
		if balanceAfter != 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if balanceAfter != 490 {
		t.Fatalf("to.balance = %d, want 490 (converted amount, not the original 1_000_000)", balanceAfter)
	}
}

func TestValidatorOutgoingExpiryExhausted(t *testing.T) {
	to := newAccount(t, "g.b", "XYZ", 9)
	to.RoundTripTimeMS = 600_000 // 10 minutes, longer than the prepare's 1-minute lifetime

	terminal := OutgoingFunc(func(ctx context.Context, req *OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("should not forward")
		return nil, nil
	})
	v := &ValidatorOutgoing{Next: terminal}
	from := newAccount(t, "g.a", "XYZ", 9)
	req := &OutgoingRequest{From: from, To: to, OriginalAmount: 100, Prepare: preparePacket(t, to.Address, 100)}
	_, reject := v.SendOutgoing(context.Background(), req)
	if reject == nil || reject.Code != ilperr.CodeR00TransferTimedOut {
		t.Fatalf("expected R00, got %v", reject)
	}
}
