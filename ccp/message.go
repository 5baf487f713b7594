package ccp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"ilpconnector/pkg/ilpaddr"

	"github.com/google/uuid"
)

// PeerProtocolFulfillment/PeerProtocolCondition are the fixed
// fulfillment/condition pair shared by every CCP packet (spec.md §6.5:
// "both carry the peer-protocol fixed fulfillment condition ... identical
// 32 bytes across all peer protocol packets"). The preimage is 32 zero
// bytes, matching the convention of the protocol this spec distills.
var (
	PeerProtocolFulfillment = [32]byte{}
	PeerProtocolCondition   = sha256.Sum256(PeerProtocolFulfillment[:])
)

// ControlMode is the requested resync mode of a RouteControlRequest.
type ControlMode uint8

const (
	ModeIdle ControlMode = iota
	ModeSync
)

// RouteControlRequest asks a peer to (re)start sending route updates
// from a given epoch (spec.md §4.8 "route_control_request").
type RouteControlRequest struct {
	Mode                    ControlMode `json:"mode"`
	LastKnownRoutingTableID uuid.UUID   `json:"last_known_routing_table_id"`
	LastKnownEpoch          uint32      `json:"last_known_epoch"`
}

// wireRoute is Route's JSON-serializable shadow: ilpaddr.Address and
// [32]byte don't round-trip through encoding/json without help.
type wireRoute struct {
	Prefix string            `json:"prefix"`
	Path   []string          `json:"path"`
	Auth   string            `json:"auth"` // hex
	Props  map[string]string `json:"props,omitempty"`
}

func toWireRoute(r Route) wireRoute {
	path := make([]string, len(r.Path))
	for i, a := range r.Path {
		path[i] = a.String()
	}
	return wireRoute{Prefix: r.Prefix, Path: path, Auth: fmt.Sprintf("%x", r.Auth), Props: r.Props}
}

func fromWireRoute(w wireRoute) (Route, error) {
	path := make([]ilpaddr.Address, len(w.Path))
	for i, s := range w.Path {
		a, err := ilpaddr.Parse(s)
		if err != nil {
			return Route{}, fmt.Errorf("ccp: invalid path segment %q: %w", s, err)
		}
		path[i] = a
	}
	var auth [32]byte
	if w.Auth != "" {
		b, err := hex.DecodeString(w.Auth)
		if err != nil {
			return Route{}, fmt.Errorf("ccp: invalid auth hex: %w", err)
		}
		if len(b) != len(auth) {
			return Route{}, fmt.Errorf("ccp: invalid auth length %d", len(b))
		}
		copy(auth[:], b)
	}
	return Route{Prefix: w.Prefix, Path: path, Auth: auth, Props: w.Props}, nil
}

// RouteUpdateRequest carries a journal slice [FromEpoch, ToEpoch) of
// route additions/withdrawals, stamped with the sender's current
// routing_table_id (spec.md §4.8 "route_update_request").
type RouteUpdateRequest struct {
	Speaker                ilpaddr.Address
	RoutingTableID         uuid.UUID
	FromEpoch              uint32
	ToEpoch                uint32
	NewRoutes              []Route
	WithdrawnRoutePrefixes []string
}

type wireRouteUpdateRequest struct {
	Speaker                string      `json:"speaker"`
	RoutingTableID         uuid.UUID   `json:"routing_table_id"`
	FromEpoch              uint32      `json:"from_epoch"`
	ToEpoch                uint32      `json:"to_epoch"`
	NewRoutes              []wireRoute `json:"new_routes"`
	WithdrawnRoutePrefixes []string    `json:"withdrawn_route_prefixes"`
}

// Marshal encodes m for transport as an ILP Prepare's data field.
func (m RouteUpdateRequest) Marshal() ([]byte, error) {
	w := wireRouteUpdateRequest{
		Speaker:                m.Speaker.String(),
		RoutingTableID:         m.RoutingTableID,
		FromEpoch:              m.FromEpoch,
		ToEpoch:                m.ToEpoch,
		WithdrawnRoutePrefixes: m.WithdrawnRoutePrefixes,
	}
	for _, r := range m.NewRoutes {
		w.NewRoutes = append(w.NewRoutes, toWireRoute(r))
	}
	return json.Marshal(w)
}

// UnmarshalRouteUpdateRequest decodes data produced by Marshal.
func UnmarshalRouteUpdateRequest(data []byte) (RouteUpdateRequest, error) {
	var w wireRouteUpdateRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return RouteUpdateRequest{}, fmt.Errorf("ccp: decode route_update_request: %w", err)
	}
	speaker, err := ilpaddr.Parse(w.Speaker)
	if err != nil {
		return RouteUpdateRequest{}, fmt.Errorf("ccp: invalid speaker: %w", err)
	}
	m := RouteUpdateRequest{
		Speaker:                speaker,
		RoutingTableID:         w.RoutingTableID,
		FromEpoch:              w.FromEpoch,
		ToEpoch:                w.ToEpoch,
		WithdrawnRoutePrefixes: w.WithdrawnRoutePrefixes,
	}
	for _, wr := range w.NewRoutes {
		r, err := fromWireRoute(wr)
		if err != nil {
			return RouteUpdateRequest{}, err
		}
		m.NewRoutes = append(m.NewRoutes, r)
	}
	return m, nil
}

// Marshal encodes m for transport.
func (m RouteControlRequest) Marshal() ([]byte, error) { return json.Marshal(m) }

// UnmarshalRouteControlRequest decodes data produced by Marshal.
func UnmarshalRouteControlRequest(data []byte) (RouteControlRequest, error) {
	var m RouteControlRequest
	if err := json.Unmarshal(data, &m); err != nil {
		return RouteControlRequest{}, fmt.Errorf("ccp: decode route_control_request: %w", err)
	}
	return m, nil
}
