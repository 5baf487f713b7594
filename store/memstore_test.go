package store

import (
	"context"
	"testing"

	"ilpconnector/pkg/ilpaddr"

	"github.com/google/uuid"
)

func newTestAccount(t *testing.T, addr string) Account {
	t.Helper()
	a, err := ilpaddr.Parse(addr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", addr, err)
	}
	return Account{
		ID:         uuid.New(),
		Username:   addr,
		Address:    a,
		AssetCode:  "XYZ",
		AssetScale: 9,
	}
}

func TestUpdateBalancesForPrepareInsufficientFunds(t *testing.T) {
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	acct := newTestAccount(t, "g.a")
	acct.Balance.MinBalance = 0
	s.PutAccount(acct)
	if err := s.UpdateBalancesForPrepare(ctx, acct.ID, 100); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPrepareFulfillRollsBalanceForward(t *testing.T) {
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	from := newTestAccount(t, "g.a")
	from.Balance.MinBalance = -1000
	to := newTestAccount(t, "g.b")
	s.PutAccount(from)
	s.PutAccount(to)

	if err := s.UpdateBalancesForPrepare(ctx, from.ID, 100); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	bal, _ := s.GetBalance(ctx, from.ID)
	if bal != -100 {
		t.Fatalf("from balance: got %d want -100", bal)
	}

	newBal, toSettle, shouldSettle, err := s.UpdateBalancesForFulfill(ctx, to.ID, 100)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if shouldSettle {
		t.Fatalf("unexpected settlement trigger")
	}
	if newBal != 100 || toSettle != 0 {
		t.Fatalf("got newBal=%d toSettle=%d", newBal, toSettle)
	}
}

func TestFulfillTriggersSettlement(t *testing.T) {
	// S6: to.balance = -100, settle_threshold = 50, settle_to = 0;
	// fulfill for outgoing 200 => post-balance 100, settle 100, balance -> 0.
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	to := newTestAccount(t, "g.b")
	to.Balance.SettleThreshold = 50
	to.Balance.SettleTo = 0
	to.SettlementEngineURL = "http://settle.example"
	s.PutAccount(to)
	s.balances[to.ID] = -100

	newBal, amountToSettle, shouldSettle, err := s.UpdateBalancesForFulfill(ctx, to.ID, 200)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if !shouldSettle {
		t.Fatal("expected settlement to trigger")
	}
	if amountToSettle != 100 {
		t.Fatalf("amountToSettle: got %d want 100", amountToSettle)
	}
	if newBal != 0 {
		t.Fatalf("newBal: got %d want 0", newBal)
	}
}

func TestApplyRateLimitsPacketLimit(t *testing.T) {
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	acct := newTestAccount(t, "g.a")
	acct.Rate.PacketsPerMinute = 1
	s.PutAccount(acct)

	res, err := s.ApplyRateLimits(ctx, acct.ID, 0)
	if err != nil || res != RateLimitOK {
		t.Fatalf("first packet: res=%v err=%v", res, err)
	}
	res, err = s.ApplyRateLimits(ctx, acct.ID, 0)
	if err != nil || res != RateLimitPacketLimit {
		t.Fatalf("second packet: res=%v err=%v", res, err)
	}
}

func TestIdempotencyRoundTrip(t *testing.T) {
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	rec, err := s.LoadIdempotentData(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Found {
		t.Fatal("expected not found")
	}
	if err := s.SaveIdempotentData(ctx, "k1", 200, []byte("ok"), [32]byte{1}); err != nil {
		t.Fatal(err)
	}
	rec, err = s.LoadIdempotentData(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Found || rec.StatusCode != 200 || string(rec.Body) != "ok" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUncreditedSettlementRescale(t *testing.T) {
	s, err := NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	acct := newTestAccount(t, "g.a")
	if err := s.SaveUncreditedSettlementAmount(ctx, acct.ID, 1_000_000, 9); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadUncreditedSettlementAmount(ctx, acct.ID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1000 {
		t.Fatalf("got %d want 1000", got)
	}
	// Second load drains the entry.
	got, err = s.LoadUncreditedSettlementAmount(ctx, acct.ID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("expected drained entry, got %d", got)
	}
}
