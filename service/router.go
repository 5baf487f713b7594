package service

import (
	"context"
	"sort"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Router is the hinge between the incoming and outgoing chains (spec.md
// §4.3). It implements IncomingService; its Next is an OutgoingService.
// The mutex-guarded-map read pattern here follows the teacher's
// `peerLock`-guarded peer map in core/network.go, generalized from a
// live peer list to a read-mostly routing table snapshot.
type Router struct {
	Store  store.Store
	Next   OutgoingService
	Logger *logrus.Logger
}

func (r *Router) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

// SendIncoming resolves req.Prepare.Destination to an account by
// longest-prefix match and forwards to the outgoing chain.
func (r *Router) SendIncoming(ctx context.Context, req *IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	table, err := r.Store.RoutingTable(ctx)
	if err != nil {
		r.logger().WithError(err).Error("router: load routing table")
		return nil, ilperr.Wrap(err, req.FromAccount.Address)
	}

	accountID, ok := bestMatch(table, req.Prepare.Destination)
	if !ok {
		return nil, ilperr.New(ilperr.CodeF02Unreachable, "no route found for destination", req.FromAccount.Address)
	}

	accounts, err := r.Store.GetAccounts(ctx, []uuid.UUID{accountID})
	if err != nil || len(accounts) == 0 {
		return nil, ilperr.New(ilperr.CodeF02Unreachable, "destination account could not be loaded", req.FromAccount.Address)
	}

	out := &OutgoingRequest{
		From:           req.FromAccount,
		To:             accounts[0],
		OriginalAmount: req.Prepare.Amount,
		Prepare:        req.Prepare,
	}
	return r.Next.SendOutgoing(ctx, out)
}

// bestMatch finds the longest routing-table prefix matching dest,
// breaking ties deterministically by account id ordering (spec.md §4.3
// "Ties ... broken deterministically by account id ordering").
func bestMatch(table store.RoutingTable, dest ilpaddr.Address) (uuid.UUID, bool) {
	var (
		bestPrefix string
		bestID     uuid.UUID
		found      bool
	)
	candidates := append([]store.Route(nil), table.Routes...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AccountID.String() < candidates[j].AccountID.String() })
	for _, route := range candidates {
		if !dest.StartsWith(route.Prefix) {
			continue
		}
		if !found || len(route.Prefix) > len(bestPrefix) {
			bestPrefix = route.Prefix
			bestID = route.AccountID
			found = true
		}
	}
	return bestID, found
}
