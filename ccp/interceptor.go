package ccp

import (
	"context"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"

	"github.com/sirupsen/logrus"
)

// InterceptorService sits ahead of the router on the incoming chain and
// diverts any prepare addressed to peer.route.control/peer.route.update
// to the Manager instead of letting it fall through to normal routing
// (spec.md §4.2, §4.8, §6.5; supplemented feature §4.14, mirroring the
// original's CcpRouteManagerBuilder producing an interceptor
// IncomingService rather than leaving this as just a route-manager
// concept).
type InterceptorService struct {
	Next    service.IncomingService
	Manager *Manager
	Logger  *logrus.Logger
}

// NewInterceptorService constructs an InterceptorService wrapping next.
func NewInterceptorService(next service.IncomingService, manager *Manager, logger *logrus.Logger) *InterceptorService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &InterceptorService{Next: next, Manager: manager, Logger: logger}
}

func (s *InterceptorService) SendIncoming(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	switch req.Prepare.Destination.String() {
	case ReservedUpdateAddress:
		return s.handleUpdate(ctx, req)
	case ReservedControlAddress:
		return s.handleControl(ctx, req)
	default:
		return s.Next.SendIncoming(ctx, req)
	}
}

func (s *InterceptorService) handleUpdate(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	update, err := UnmarshalRouteUpdateRequest(req.Prepare.Data)
	if err != nil {
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, "malformed route_update_request: "+err.Error(), req.FromAccount.Address)
	}

	resync, reject := s.Manager.HandleRouteUpdateRequest(ctx, req.FromAccount, update)
	if reject != nil {
		return nil, reject
	}

	var data []byte
	if resync != nil {
		data, err = resync.Marshal()
		if err != nil {
			s.Logger.WithError(err).Error("ccp: marshal resync control request failed")
			data = nil
		}
	}
	return &ilppacket.Fulfill{Fulfillment: PeerProtocolFulfillment, Data: data}, nil
}

func (s *InterceptorService) handleControl(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	control, err := UnmarshalRouteControlRequest(req.Prepare.Data)
	if err != nil {
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, "malformed route_control_request: "+err.Error(), req.FromAccount.Address)
	}
	if reject := s.Manager.HandleRouteControlRequest(ctx, req.FromAccount, control); reject != nil {
		return nil, reject
	}
	return &ilppacket.Fulfill{Fulfillment: PeerProtocolFulfillment}, nil
}
