// Package ccp implements the Connector-to-Connector route-propagation
// protocol: a monotone-epoch journal per peer, route-update send/receive,
// best-route selection and loop prevention (spec.md §3.5, §4.8).
package ccp

import (
	"bytes"
	"sort"

	"ilpconnector/pkg/ilpaddr"

	"github.com/google/uuid"
)

// ReservedControlAddress and ReservedUpdateAddress are the two fixed
// destinations CCP traffic is addressed to (spec.md §4.8, §6.5).
const (
	ReservedControlAddress = "peer.route.control"
	ReservedUpdateAddress  = "peer.route.update"
)

// Route is one entry of a peer's advertised routing table (spec.md
// §3.5).
type Route struct {
	Prefix string
	Path   []ilpaddr.Address
	Auth   [32]byte
	Props  map[string]string
}

// clone returns a deep-enough copy of r so stored journal entries are
// immune to the caller mutating Path/Props afterward.
func (r Route) clone() Route {
	path := append([]ilpaddr.Address(nil), r.Path...)
	var props map[string]string
	if r.Props != nil {
		props = make(map[string]string, len(r.Props))
		for k, v := range r.Props {
			props[k] = v
		}
	}
	return Route{Prefix: r.Prefix, Path: path, Auth: r.Auth, Props: props}
}

// containsAddress reports whether addr already appears in the route's
// path, used for loop prevention (spec.md §4.8).
func (r Route) containsAddress(addr ilpaddr.Address) bool {
	for _, p := range r.Path {
		if p.Equal(addr) {
			return true
		}
	}
	return false
}

// journalEntry is one slot of a peer's epoch journal: either a Route
// addition or a withdrawal of Prefix (spec.md §3.5 "(withdrawn?, Route)
// entries"), stamped with the epoch it was applied as part of. epoch is
// a tag, not a slice index — a single applied update can add several
// journal entries while only advancing the epoch by one.
type journalEntry struct {
	withdrawn bool
	route     Route
	epoch     uint32
}

// journalEntriesSince returns the suffix of journal whose epoch is >
// fromEpoch, i.e. everything a peer that has already seen fromEpoch is
// missing. Epochs are non-decreasing in append order, so a forward scan
// suffices.
func journalEntriesSince(journal []journalEntry, fromEpoch uint32) []journalEntry {
	for i, e := range journal {
		if e.epoch > fromEpoch {
			return journal[i:]
		}
	}
	return nil
}

// PeerRouteState is the per-peer CCP state the node keeps for every
// account it receives routes from (spec.md §3.5), grounded on the
// teacher's per-peer subscription map in core/peer_management.go (here
// storing an epoch journal instead of a pubsub handle) and the
// mutex-guarded monotone counters in core/consensus.go.
type PeerRouteState struct {
	RoutingTableID uuid.UUID
	CurrentEpoch   uint32
	Routes         map[string]Route // prefix -> current route
	journal        []journalEntry
}

// NewPeerRouteState constructs empty state for a freshly-seen peer.
func NewPeerRouteState(tableID uuid.UUID) *PeerRouteState {
	return &PeerRouteState{RoutingTableID: tableID, Routes: make(map[string]Route)}
}

// ResetForNewTable discards all cached routes when the peer's
// routing_table_id changes (spec.md §4.8 "treat update as fresh").
func (p *PeerRouteState) ResetForNewTable(tableID uuid.UUID) {
	p.RoutingTableID = tableID
	p.CurrentEpoch = 0
	p.Routes = make(map[string]Route)
	p.journal = nil
}

// ApplyUpdate applies additions/withdrawals stamped [fromEpoch, toEpoch)
// to p's journal and routing view, in order. The caller must already
// have verified fromEpoch <= p.CurrentEpoch (no gap).
func (p *PeerRouteState) ApplyUpdate(fromEpoch, toEpoch uint32, newRoutes []Route, withdrawnPrefixes []string) {
	for _, prefix := range withdrawnPrefixes {
		p.journal = append(p.journal, journalEntry{withdrawn: true, route: Route{Prefix: prefix}, epoch: toEpoch})
		delete(p.Routes, prefix)
	}
	for _, r := range newRoutes {
		c := r.clone()
		p.journal = append(p.journal, journalEntry{route: c, epoch: toEpoch})
		p.Routes[c.Prefix] = c
	}
	if toEpoch > p.CurrentEpoch {
		p.CurrentEpoch = toEpoch
	}
}

// JournalSince returns the journal entries applied after fromEpoch, for
// broadcasting to a downstream peer (spec.md §4.8 "Sending").
func (p *PeerRouteState) JournalSince(fromEpoch uint32) []journalEntry {
	return journalEntriesSince(p.journal, fromEpoch)
}

// BestRoute selects, among candidates for the same prefix, the route
// with the shortest path, tie-broken by lexicographic path comparison
// then by peerID (spec.md §4.8 "Best-route selection").
func BestRoute(candidates map[uuid.UUID]Route) (uuid.UUID, Route, bool) {
	type entry struct {
		peerID uuid.UUID
		route  Route
	}
	var entries []entry
	for id, r := range candidates {
		entries = append(entries, entry{peerID: id, route: r})
	}
	if len(entries) == 0 {
		return uuid.Nil, Route{}, false
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].route.Path) != len(entries[j].route.Path) {
			return len(entries[i].route.Path) < len(entries[j].route.Path)
		}
		if c := comparePaths(entries[i].route.Path, entries[j].route.Path); c != 0 {
			return c < 0
		}
		return entries[i].peerID.String() < entries[j].peerID.String()
	})
	best := entries[0]
	return best.peerID, best.route, true
}

func comparePaths(a, b []ilpaddr.Address) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := bytes.Compare([]byte(a[i].String()), []byte(b[i].String())); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Prepend returns a copy of r with own prepended to its path, used when
// re-advertising a received route to other peers (spec.md §4.8).
func (r Route) Prepend(own ilpaddr.Address) Route {
	c := r.clone()
	c.Path = append([]ilpaddr.Address{own}, c.Path...)
	return c
}

// ShouldAdvertiseTo reports whether r may be re-advertised to peer
// (whose own address is peerAddr), implementing loop prevention: never
// advertise a route back to a peer whose address already appears in its
// path (spec.md §4.8).
func (r Route) ShouldAdvertiseTo(peerAddr ilpaddr.Address) bool {
	return !r.containsAddress(peerAddr)
}
