package ccp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/store"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBroadcastInterval is the default period between route_update
// broadcasts to downstream peers (spec.md §4.8).
const DefaultBroadcastInterval = 30 * time.Second

// PacketSender dispatches a CCP payload to a peer account as an ILP
// Prepare addressed to ReservedControlAddress/ReservedUpdateAddress,
// using the fixed peer-protocol condition, and returns the Fulfill's
// data (or a Reject). Defined here rather than depending on package
// service, mirroring the channel-based decoupling spec.md §9 calls for
// ("do not close the loop with shared-mutable pointers; pass message
// channels").
type PacketSender interface {
	SendCCPPacket(ctx context.Context, to store.Account, destination string, data []byte) ([]byte, *ilperr.Reject)
}

// Manager is the long-running CCP route manager (spec.md §4.8),
// grounded on the monotone mutex-guarded epoch counters in
// core/consensus.go and the per-peer map in core/peer_management.go
// (minus libp2p): each known peer gets a *PeerRouteState instead of a
// pubsub subscription.
type Manager struct {
	Self   ilpaddr.Address
	Store  store.Store
	Sender PacketSender
	Logger *logrus.Logger

	BroadcastInterval time.Duration

	mu           sync.RWMutex
	received     map[uuid.UUID]*PeerRouteState // keyed by peer account id
	sentAcked    map[uuid.UUID]uint32          // per downstream peer, last epoch they've acked
	localTableID uuid.UUID
	localEpoch   uint32
	localRoutes  map[string]selectedRoute
	localJournal []journalEntry // this node's own add/withdraw history, for sendUpdateTo

	recentEpochCache *lru.Cache[uuid.UUID, uint32]
}

// selectedRoute is the winning route for a prefix after best-route
// selection, paired with the peer account it was learned from (needed
// to key store.SetRoutes and to avoid re-advertising it back to that
// peer).
type selectedRoute struct {
	route      Route
	fromPeerID uuid.UUID
}

// NewManager constructs a Manager with a freshly-minted routing_table_id
// (spec.md §4.8 "minted at startup").
func NewManager(self ilpaddr.Address, s store.Store, sender PacketSender, logger *logrus.Logger) (*Manager, error) {
	cache, err := lru.New[uuid.UUID, uint32](1024)
	if err != nil {
		return nil, fmt.Errorf("ccp: new epoch cache: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		Self:              self,
		Store:             s,
		Sender:            sender,
		Logger:            logger,
		BroadcastInterval: DefaultBroadcastInterval,
		received:          make(map[uuid.UUID]*PeerRouteState),
		sentAcked:         make(map[uuid.UUID]uint32),
		localTableID:      uuid.New(),
		localRoutes:       make(map[string]selectedRoute),
		recentEpochCache:  cache,
	}, nil
}

// HandleRouteUpdateRequest applies an incoming route update from a
// Parent/Peer account (spec.md §4.8 "Receiving"). An update from any
// other routing relation is rejected here with F00.
func (m *Manager) HandleRouteUpdateRequest(ctx context.Context, from store.Account, req RouteUpdateRequest) (*RouteControlRequest, *ilperr.Reject) {
	if from.RoutingRelation != store.Parent && from.RoutingRelation != store.Peer {
		return nil, ilperr.New(ilperr.CodeF00BadRequest, "route updates only accepted from Parent/Peer accounts", m.Self)
	}

	m.mu.Lock()
	state, ok := m.received[from.ID]
	if !ok {
		state = NewPeerRouteState(req.RoutingTableID)
		m.received[from.ID] = state
	} else if state.RoutingTableID != req.RoutingTableID {
		state.ResetForNewTable(req.RoutingTableID)
	}

	if req.FromEpoch > state.CurrentEpoch {
		gapFrom := state.CurrentEpoch
		m.mu.Unlock()
		m.Logger.WithFields(logrus.Fields{"peer": from.Username, "want_from": gapFrom, "got_from": req.FromEpoch}).
			Warn("ccp: epoch gap detected, requesting resync")
		return &RouteControlRequest{Mode: ModeSync, LastKnownRoutingTableID: state.RoutingTableID, LastKnownEpoch: gapFrom}, nil
	}

	state.ApplyUpdate(req.FromEpoch, req.ToEpoch, req.NewRoutes, req.WithdrawnRoutePrefixes)
	m.mu.Unlock()

	m.recentEpochCache.Add(from.ID, req.ToEpoch)

	if err := m.rebuildLocalRoutes(ctx); err != nil {
		m.Logger.WithError(err).Error("ccp: rebuild local routes failed")
	}
	return nil, nil
}

// HandleRouteControlRequest processes a peer's request to resume
// receiving updates from a given epoch, triggering an immediate send
// (spec.md §4.8 "route_control_request").
func (m *Manager) HandleRouteControlRequest(ctx context.Context, to store.Account, req RouteControlRequest) *ilperr.Reject {
	m.mu.Lock()
	m.sentAcked[to.ID] = req.LastKnownEpoch
	m.mu.Unlock()
	if err := m.sendUpdateTo(ctx, to); err != nil {
		return ilperr.Wrap(err, m.Self)
	}
	return nil
}

// rebuildLocalRoutes recomputes the best route per prefix across all
// received peer states plus the store's own admin-configured routes,
// then persists the result (spec.md §4.8 "re-run local best-route
// selection").
func (m *Manager) rebuildLocalRoutes(ctx context.Context) error {
	m.mu.Lock()
	candidates := make(map[string]map[uuid.UUID]Route)
	for peerID, state := range m.received {
		for prefix, route := range state.Routes {
			if candidates[prefix] == nil {
				candidates[prefix] = make(map[uuid.UUID]Route)
			}
			candidates[prefix][peerID] = route.Prepend(m.Self)
		}
	}

	newRoutes := make(map[string]selectedRoute, len(candidates))
	var added []Route
	for prefix, byPeer := range candidates {
		peerID, best, ok := BestRoute(byPeer)
		if !ok {
			continue
		}
		newRoutes[prefix] = selectedRoute{route: best, fromPeerID: peerID}
		if old, existed := m.localRoutes[prefix]; !existed || comparePaths(old.route.Path, best.Path) != 0 {
			added = append(added, best)
		}
	}
	var withdrawn []string
	for prefix := range m.localRoutes {
		if _, stillPresent := newRoutes[prefix]; !stillPresent {
			withdrawn = append(withdrawn, prefix)
		}
	}

	if len(added) > 0 || len(withdrawn) > 0 {
		m.localEpoch++
		for _, prefix := range withdrawn {
			m.localJournal = append(m.localJournal, journalEntry{withdrawn: true, route: Route{Prefix: prefix}, epoch: m.localEpoch})
		}
		for _, r := range added {
			m.localJournal = append(m.localJournal, journalEntry{route: r, epoch: m.localEpoch})
		}
	}
	m.localRoutes = newRoutes
	ids := make(map[string]uuid.UUID, len(newRoutes))
	for prefix, sel := range newRoutes {
		ids[prefix] = sel.fromPeerID
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return m.Store.SetRoutes(ctx, ids)
}

// sendUpdateTo emits a route_update_request to peer carrying the journal
// slice since its last acked epoch (spec.md §4.8 "Sending"), so a
// prefix withdrawn since the last send reaches peer as a withdrawal
// rather than being silently dropped from NewRoutes.
func (m *Manager) sendUpdateTo(ctx context.Context, peer store.Account) error {
	m.mu.RLock()
	acked := m.sentAcked[peer.ID]
	tableID := m.localTableID
	toEpoch := m.localEpoch
	journal := journalEntriesSince(m.localJournal, acked)
	m.mu.RUnlock()

	if acked >= toEpoch {
		return nil // nothing new
	}

	var newRoutes []Route
	var withdrawn []string
	for _, e := range journal {
		if e.withdrawn {
			withdrawn = append(withdrawn, e.route.Prefix)
			continue
		}
		if e.route.ShouldAdvertiseTo(peer.Address) {
			newRoutes = append(newRoutes, e.route)
		}
	}

	req := RouteUpdateRequest{
		Speaker:                m.Self,
		RoutingTableID:         tableID,
		FromEpoch:              acked,
		ToEpoch:                toEpoch,
		NewRoutes:              newRoutes,
		WithdrawnRoutePrefixes: withdrawn,
	}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("ccp: marshal route_update_request: %w", err)
	}
	if m.Sender == nil {
		return nil
	}
	if _, reject := m.Sender.SendCCPPacket(ctx, peer, ReservedUpdateAddress, data); reject != nil {
		return fmt.Errorf("ccp: send to %s: %s", peer.Username, reject.Message)
	}

	m.mu.Lock()
	m.sentAcked[peer.ID] = toEpoch
	m.mu.Unlock()
	return nil
}

// Run starts the periodic broadcast loop (spec.md §4.8 "Sending ...
// periodically"); it returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.BroadcastInterval
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcastOnce(ctx)
		}
	}
}

func (m *Manager) broadcastOnce(ctx context.Context) {
	peers, err := m.Store.GetAccountsToSendRoutesTo(ctx, uuid.Nil)
	if err != nil {
		m.Logger.WithError(err).Error("ccp: load broadcast peers failed")
		return
	}
	for _, peer := range peers {
		if err := m.sendUpdateTo(ctx, peer); err != nil {
			m.Logger.WithError(err).WithField("peer", peer.Username).Warn("ccp: broadcast to peer failed")
		}
	}
}
