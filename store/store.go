package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations; callers translate
// these into ilperr.Reject codes (spec.md §7: "store failures surface as
// T00" except where a more specific reject is named below).
var (
	ErrAccountNotFound  = errors.New("store: account not found")
	ErrUsernameNotFound = errors.New("store: username not found")
	ErrAuthFailed       = errors.New("store: authentication failed")
	ErrInsufficientFunds = errors.New("store: balance below min_balance")
)

// RateLimitResult is the outcome of ApplyRateLimits.
type RateLimitResult int

const (
	RateLimitOK RateLimitResult = iota
	RateLimitPacketLimit
	RateLimitAmountLimit
)

// Route is one entry of the effective routing table: an address prefix
// mapped to the account that should receive traffic for it (spec.md
// §3.4).
type Route struct {
	Prefix    string
	AccountID uuid.UUID
}

// RoutingTable is an immutable snapshot of the effective routing table
// (static ∪ local ∪ default). Routes are in no particular order; the
// router chooses among them itself. Readers obtain a snapshot and never
// observe a partial update (spec.md §5 "Shared resources").
type RoutingTable struct {
	Routes []Route
}

// IdempotentRecord is what LoadIdempotentData returns for a previously
// seen Idempotency-Key (spec.md §6.6, §4.11).
type IdempotentRecord struct {
	Found      bool
	StatusCode int
	Body       []byte
	InputHash  [32]byte
}

// Store is the storage contract consumed by the pipeline (spec.md §6.6).
// Every method is safe for concurrent use; mutations are assumed atomic
// per call (spec.md §5 "Store: the only component that may be shared
// mutably").
type Store interface {
	GetAccounts(ctx context.Context, ids []uuid.UUID) ([]Account, error)
	GetAccountByUsername(ctx context.Context, username string) (uuid.UUID, error)
	GetAccountByHTTPAuth(ctx context.Context, username string, token []byte) (Account, error)
	GetAccountByBTPAuth(ctx context.Context, username string, token []byte) (Account, error)

	GetBalance(ctx context.Context, account uuid.UUID) (int64, error)

	// UpdateBalancesForPrepare atomically decrements from's balance by
	// amount; returns ErrInsufficientFunds if the post-decrement balance
	// would fall below min_balance (spec.md §4.5 phase 1).
	UpdateBalancesForPrepare(ctx context.Context, from uuid.UUID, amount uint64) error

	// UpdateBalancesForFulfill atomically increments to's balance by
	// amount and reports whether (and how much) to settle (spec.md §4.5
	// phase 3).
	UpdateBalancesForFulfill(ctx context.Context, to uuid.UUID, amount uint64) (newBalance int64, amountToSettle uint64, shouldSettle bool, err error)

	// UpdateBalancesForReject atomically rolls back from's balance by
	// amount (spec.md §4.5 phase 4).
	UpdateBalancesForReject(ctx context.Context, from uuid.UUID, amount uint64) error

	// RefundSettlement re-adds amount to to's balance after a failed
	// settlement-engine call (spec.md §9 open question (a)).
	RefundSettlement(ctx context.Context, to uuid.UUID, amount uint64) error

	ApplyRateLimits(ctx context.Context, account uuid.UUID, amount uint64) (RateLimitResult, error)
	RefundThroughputLimit(ctx context.Context, account uuid.UUID, amount uint64) error

	GetExchangeRates(ctx context.Context, assetCodes []string) ([]float64, error)

	RoutingTable(ctx context.Context) (RoutingTable, error)
	SetRoutes(ctx context.Context, routes map[string]uuid.UUID) error
	GetLocalAndConfiguredRoutes(ctx context.Context) (RoutingTable, error)
	GetAccountsToSendRoutesTo(ctx context.Context, ignore uuid.UUID) ([]Account, error)
	GetAccountsToReceiveRoutesFrom(ctx context.Context) ([]Account, error)

	LoadIdempotentData(ctx context.Context, key string) (IdempotentRecord, error)
	SaveIdempotentData(ctx context.Context, key string, statusCode int, body []byte, inputHash [32]byte) error

	SaveUncreditedSettlementAmount(ctx context.Context, account uuid.UUID, amount uint64, scale uint8) error
	LoadUncreditedSettlementAmount(ctx context.Context, account uuid.UUID, localScale uint8) (uint64, error)
}
