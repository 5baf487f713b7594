package store

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// MemStore is an in-memory Store implementation for tests and
// single-node deployments, grounded on the teacher's `CurrentStore()`
// package-level accessor (core/escrow.go) and the mutex-guarded balance
// map in core/account_and_balance_operations.go, generalized from a
// single ledger map to the full §6.6 contract.
type MemStore struct {
	mu sync.RWMutex

	accounts map[uuid.UUID]Account
	usernames map[string]uuid.UUID
	balances  map[uuid.UUID]int64

	packetLimiters map[uuid.UUID]*rate.Limiter
	amountLimiters map[uuid.UUID]*rate.Limiter

	exchangeRates map[string]float64
	routes        map[string]uuid.UUID

	idempotency *lru.Cache[string, IdempotentRecord]

	uncredited map[uuid.UUID]uncreditedEntry
}

type uncreditedEntry struct {
	amount uint64
	scale  uint8
}

// NewMemStore constructs an empty MemStore. idempotencyCacheSize bounds
// the LRU cache of idempotency records (0 selects a sensible default).
func NewMemStore(idempotencyCacheSize int) (*MemStore, error) {
	if idempotencyCacheSize <= 0 {
		idempotencyCacheSize = 4096
	}
	cache, err := lru.New[string, IdempotentRecord](idempotencyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("store: new idempotency cache: %w", err)
	}
	return &MemStore{
		accounts:       make(map[uuid.UUID]Account),
		usernames:      make(map[string]uuid.UUID),
		balances:       make(map[uuid.UUID]int64),
		packetLimiters: make(map[uuid.UUID]*rate.Limiter),
		amountLimiters: make(map[uuid.UUID]*rate.Limiter),
		exchangeRates:  make(map[string]float64),
		routes:         make(map[string]uuid.UUID),
		idempotency:    cache,
		uncredited:     make(map[uuid.UUID]uncreditedEntry),
	}, nil
}

// PutAccount inserts or replaces acct; an admin-API operation, never
// called by the pipeline itself (spec.md §3.3 "never mutated by the
// pipeline").
func (s *MemStore) PutAccount(acct Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.RoundTripTimeMS == 0 {
		acct.RoundTripTimeMS = DefaultRoundTripTimeMS
	}
	s.accounts[acct.ID] = acct
	s.usernames[acct.Username] = acct.ID
	if _, ok := s.balances[acct.ID]; !ok {
		s.balances[acct.ID] = 0
	}
	if acct.Rate.PacketsPerMinute > 0 {
		s.packetLimiters[acct.ID] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(acct.Rate.PacketsPerMinute)), int(acct.Rate.PacketsPerMinute))
	}
	if acct.Rate.AmountPerMinute > 0 {
		limit := acct.Rate.AmountPerMinute
		if limit > math.MaxInt32 {
			limit = math.MaxInt32
		}
		s.amountLimiters[acct.ID] = rate.NewLimiter(rate.Limit(float64(limit)/60.0), int(limit))
	}
}

// SetExchangeRate records the rate for an asset code, consumed by
// GetExchangeRates (admin/polling operation, spec.md §9 "exchange-rate
// polling").
func (s *MemStore) SetExchangeRate(assetCode string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchangeRates[assetCode] = rate
}

func (s *MemStore) GetAccounts(ctx context.Context, ids []uuid.UUID) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) GetAccountByUsername(ctx context.Context, username string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return uuid.Nil, ErrUsernameNotFound
	}
	return id, nil
}

func (s *MemStore) GetAccountByHTTPAuth(ctx context.Context, username string, token []byte) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return Account{}, ErrAuthFailed
	}
	a := s.accounts[id]
	if a.HTTPIncomingToken.IsEmpty() || subtle.ConstantTimeCompare(a.HTTPIncomingToken.Bytes(), token) != 1 {
		return Account{}, ErrAuthFailed
	}
	return a, nil
}

func (s *MemStore) GetAccountByBTPAuth(ctx context.Context, username string, token []byte) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return Account{}, ErrAuthFailed
	}
	a := s.accounts[id]
	if a.BTPIncomingToken.IsEmpty() || subtle.ConstantTimeCompare(a.BTPIncomingToken.Bytes(), token) != 1 {
		return Account{}, ErrAuthFailed
	}
	return a, nil
}

func (s *MemStore) GetBalance(ctx context.Context, account uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[account]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return bal, nil
}

func (s *MemStore) UpdateBalancesForPrepare(ctx context.Context, from uuid.UUID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[from]
	if !ok {
		return ErrAccountNotFound
	}
	next := s.balances[from] - int64(amount)
	if next < acct.Balance.MinBalance {
		return ErrInsufficientFunds
	}
	s.balances[from] = next
	return nil
}

func (s *MemStore) UpdateBalancesForFulfill(ctx context.Context, to uuid.UUID, amount uint64) (int64, uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[to]
	if !ok {
		return 0, 0, false, ErrAccountNotFound
	}
	newBalance := s.balances[to] + int64(amount)
	shouldSettle := acct.SettlementEngineURL != "" &&
		newBalance >= acct.Balance.SettleThreshold &&
		acct.Balance.SettleTo < acct.Balance.SettleThreshold
	if !shouldSettle {
		s.balances[to] = newBalance
		return newBalance, 0, false, nil
	}
	amountToSettle := uint64(newBalance - acct.Balance.SettleTo)
	s.balances[to] = acct.Balance.SettleTo
	return acct.Balance.SettleTo, amountToSettle, true, nil
}

func (s *MemStore) UpdateBalancesForReject(ctx context.Context, from uuid.UUID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[from]; !ok {
		return ErrAccountNotFound
	}
	s.balances[from] += int64(amount)
	return nil
}

func (s *MemStore) RefundSettlement(ctx context.Context, to uuid.UUID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[to]; !ok {
		return ErrAccountNotFound
	}
	s.balances[to] += int64(amount)
	return nil
}

func (s *MemStore) ApplyRateLimits(ctx context.Context, account uuid.UUID, amount uint64) (RateLimitResult, error) {
	s.mu.RLock()
	packetLimiter := s.packetLimiters[account]
	amountLimiter := s.amountLimiters[account]
	s.mu.RUnlock()

	if packetLimiter != nil && !packetLimiter.Allow() {
		return RateLimitPacketLimit, nil
	}
	if amountLimiter != nil {
		n := amount
		if n > math.MaxInt32 {
			n = math.MaxInt32
		}
		if !amountLimiter.AllowN(time.Now(), int(n)) {
			return RateLimitAmountLimit, nil
		}
	}
	return RateLimitOK, nil
}

func (s *MemStore) RefundThroughputLimit(ctx context.Context, account uuid.UUID, amount uint64) error {
	s.mu.RLock()
	limiter := s.amountLimiters[account]
	s.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	n := amount
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	limiter.AllowN(time.Now(), -int(n))
	return nil
}

func (s *MemStore) GetExchangeRates(ctx context.Context, assetCodes []string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(assetCodes))
	for i, code := range assetCodes {
		r, ok := s.exchangeRates[code]
		if !ok {
			return nil, fmt.Errorf("store: no exchange rate for asset %q", code)
		}
		out[i] = r
	}
	return out, nil
}

func (s *MemStore) RoutingTable(ctx context.Context) (RoutingTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotRoutesLocked(), nil
}

func (s *MemStore) GetLocalAndConfiguredRoutes(ctx context.Context) (RoutingTable, error) {
	return s.RoutingTable(ctx)
}

func (s *MemStore) snapshotRoutesLocked() RoutingTable {
	routes := make([]Route, 0, len(s.routes))
	for prefix, id := range s.routes {
		routes = append(routes, Route{Prefix: prefix, AccountID: id})
	}
	return RoutingTable{Routes: routes}
}

func (s *MemStore) SetRoutes(ctx context.Context, routes map[string]uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix, id := range routes {
		s.routes[prefix] = id
	}
	return nil
}

func (s *MemStore) GetAccountsToSendRoutesTo(ctx context.Context, ignore uuid.UUID) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for id, a := range s.accounts {
		if id == ignore {
			continue
		}
		if a.RoutingRelation == Child || a.RoutingRelation == Peer {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemStore) GetAccountsToReceiveRoutesFrom(ctx context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, a := range s.accounts {
		if a.RoutingRelation == Parent || a.RoutingRelation == Peer {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemStore) LoadIdempotentData(ctx context.Context, key string) (IdempotentRecord, error) {
	rec, ok := s.idempotency.Get(key)
	if !ok {
		return IdempotentRecord{}, nil
	}
	rec.Found = true
	return rec, nil
}

func (s *MemStore) SaveIdempotentData(ctx context.Context, key string, statusCode int, body []byte, inputHash [32]byte) error {
	s.idempotency.Add(key, IdempotentRecord{Found: true, StatusCode: statusCode, Body: body, InputHash: inputHash})
	return nil
}

func (s *MemStore) SaveUncreditedSettlementAmount(ctx context.Context, account uuid.UUID, amount uint64, scale uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.uncredited[account]
	if existing.scale == 0 {
		existing.scale = scale
	}
	existing.amount += rescale(amount, scale, existing.scale)
	s.uncredited[account] = existing
	return nil
}

func (s *MemStore) LoadUncreditedSettlementAmount(ctx context.Context, account uuid.UUID, localScale uint8) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.uncredited[account]
	if !ok {
		return 0, nil
	}
	delete(s.uncredited, account)
	return rescale(entry.amount, entry.scale, localScale), nil
}

// rescale converts amount from asset scale `from` to asset scale `to`,
// matching the exchange-rate service's 10^(to-from) scaling rule
// (spec.md §4.4).
func rescale(amount uint64, from, to uint8) uint64 {
	if from == to {
		return amount
	}
	diff := int(to) - int(from)
	f := float64(amount) * math.Pow(10, float64(diff))
	if f < 0 {
		return 0
	}
	return uint64(f)
}

var _ Store = (*MemStore)(nil)
