// Package store defines the account model and the storage contract the
// rest of the node is built against (spec.md §3.3, §6.6), plus an
// in-memory implementation for tests and single-node deployments.
package store

import (
	"fmt"
	"strings"
	"unicode"

	"ilpconnector/internal/secret"
	"ilpconnector/pkg/ilpaddr"

	"github.com/google/uuid"
)

// RoutingRelation classifies the trust/peering relationship of an account
// for routing and CCP purposes.
type RoutingRelation int

const (
	NonRoutingAccount RoutingRelation = iota
	Parent
	Peer
	Child
)

func (r RoutingRelation) String() string {
	switch r {
	case Parent:
		return "Parent"
	case Peer:
		return "Peer"
	case Child:
		return "Child"
	default:
		return "NonRoutingAccount"
	}
}

// BalanceLimits bounds an account's ledger balance and settlement
// triggers (spec.md §4.5).
type BalanceLimits struct {
	MinBalance     int64
	SettleThreshold int64
	SettleTo       int64
}

// RateLimits bounds an account's incoming traffic (spec.md §4.6). A zero
// value for either field means "no limit".
type RateLimits struct {
	PacketsPerMinute uint32
	AmountPerMinute  uint64
}

// Account is the contract-level account abstraction (spec.md §3.3).
type Account struct {
	ID       uuid.UUID
	Username string
	Address  ilpaddr.Address

	AssetCode  string
	AssetScale uint8

	HTTPEndpoint    string
	HTTPIncomingToken secret.Value
	HTTPOutgoingToken secret.Value

	BTPURL            string
	BTPIncomingToken  secret.Value
	BTPOutgoingToken  secret.Value

	Balance BalanceLimits
	Rate    RateLimits

	RoutingRelation RoutingRelation

	// RoundTripTimeMS is added, as the minimum expiry reduction, by the
	// validator service's outgoing leg (spec.md §4.7). Defaults to 500.
	RoundTripTimeMS uint32

	SettlementEngineURL string
}

// DefaultRoundTripTimeMS is used when an account's RoundTripTimeMS is
// unset (spec.md §3.3).
const DefaultRoundTripTimeMS = 500

// NormalizeUsername lower-cases s for use as an account username and
// checks it against the grammar `[\w]{2,32}` (spec.md §3.3), counting
// Unicode letters and digits as word characters. It applies no NFKC
// normalization: Go's standard library has no NFKC transform
// (golang.org/x/text/unicode/norm covers NFC/NFD/NFKC but is not part of
// this pack's dependency surface), so a username in another Unicode
// normalization form is kept as given.
func NormalizeUsername(s string) (string, error) {
	folded := strings.ToLower(s)
	count := 0
	for _, r := range folded {
		count++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", fmt.Errorf("store: invalid username %q", s)
		}
	}
	if count < 2 || count > 32 {
		return "", fmt.Errorf("store: username %q must be 2-32 characters", s)
	}
	return folded, nil
}
