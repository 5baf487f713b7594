package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"ilpconnector/btp"
	"ilpconnector/ccp"
	"ilpconnector/ildcp"
	"ilpconnector/internal/config"
	"ilpconnector/internal/secret"
	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"
	"ilpconnector/settlement"
	"ilpconnector/store"
	ilphttp "ilpconnector/transport/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// node bundles the constructed pipeline and background tasks of a
// running connector (spec.md §2: "the pipeline is built once at
// startup from static configuration").
type node struct {
	cfg    *config.Config
	logger *logrus.Logger

	store      store.Store
	incoming   service.IncomingService
	ccpManager *ccp.Manager
	enqueuer   *settlement.Enqueuer
	btpServer  *btp.Server
	httpServer *ilphttp.Server
}

func buildNode(cfg *config.Config, logger *logrus.Logger) (*node, error) {
	st, err := store.NewMemStore(4096)
	if err != nil {
		return nil, fmt.Errorf("ilp-node: new store: %w", err)
	}

	selfAddr, err := ilpaddr.Parse(cfg.Node.ILPAddress)
	if err != nil {
		return nil, fmt.Errorf("ilp-node: invalid node.ilp_address: %w", err)
	}

	for _, ac := range cfg.Accounts {
		account, err := accountFromConfig(ac)
		if err != nil {
			return nil, fmt.Errorf("ilp-node: account %q: %w", ac.Username, err)
		}
		st.PutAccount(account)
		if account.RoutingRelation != store.NonRoutingAccount {
			if err := st.SetRoutes(context.Background(), map[string]uuid.UUID{account.Address.String(): account.ID}); err != nil {
				return nil, fmt.Errorf("ilp-node: set route for %q: %w", ac.Username, err)
			}
		}
	}

	httpOutgoing := ilphttp.NewClient()
	btpOutgoing := btp.NewOutgoingClient(logger)
	dispatcher := service.OutgoingFunc(func(ctx context.Context, req *service.OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		switch {
		case req.To.BTPURL != "":
			return btpOutgoing.SendOutgoing(ctx, req)
		case req.To.HTTPEndpoint != "":
			return httpOutgoing.SendOutgoing(ctx, req)
		default:
			return nil, ilperr.New(ilperr.CodeF02Unreachable, "destination account has no configured transport", req.From.Address)
		}
	})

	settlementClient := settlement.NewClient(logger)
	settlementClient.MaxAttempts = cfg.Settlement.MaxAttempts
	settlementClient.RetryWaitServer = time.Duration(cfg.Settlement.RetryWaitServerMS) * time.Millisecond
	settlementClient.RetryWaitOther = time.Duration(cfg.Settlement.RetryWaitOtherMS) * time.Millisecond

	enqueuer := settlement.NewEnqueuer(settlementClient, st, logger)

	// Exchange-rate conversion must sit upstream of the balance service:
	// commitFulfill credits req.Prepare.Amount, which exchangeRate
	// rewrites to the destination-asset amount (spec.md §4.4, §4.5 phase
	// 3). Reversing this order would credit `to` in the wrong asset/scale.
	validatorOut := &service.ValidatorOutgoing{Next: dispatcher, Logger: logger}
	balance := &service.BalanceService{Next: validatorOut, Store: st, Settlement: enqueuer, Logger: logger}
	exchangeRate := &service.ExchangeRateService{Next: balance, Store: st, Logger: logger, Spread: cfg.ExchangeRate.SpreadPercent / 100}

	router := &service.Router{Store: st, Next: exchangeRate, Logger: logger}
	validatorIn := &service.ValidatorIncoming{Next: router, Logger: logger}
	rateLimited := &service.RateLimitService{Next: validatorIn, Store: st, Logger: logger}
	settleIntercepted := settlement.NewInterceptor(rateLimited, settlementClient, logger)

	sender := &ccpPacketSender{self: selfAddr, dispatch: dispatcher}
	manager, err := ccp.NewManager(selfAddr, st, sender, logger)
	if err != nil {
		return nil, fmt.Errorf("ilp-node: new ccp manager: %w", err)
	}
	if cfg.CCP.BroadcastIntervalMS > 0 {
		manager.BroadcastInterval = time.Duration(cfg.CCP.BroadcastIntervalMS) * time.Millisecond
	}
	ccpIntercepted := ccp.NewInterceptorService(settleIntercepted, manager, logger)

	incoming := ildcp.NewServer(ccpIntercepted)

	n := &node{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		incoming:   incoming,
		ccpManager: manager,
		enqueuer:   enqueuer,
	}

	n.btpServer = btp.NewServer(st, n.btpHandlerFor, logger)
	n.httpServer = ilphttp.NewServer(st, incoming, logger)
	return n, nil
}

// btpHandlerFor builds the per-connection ILP handler for an
// authenticated BTP peer, decoding each "ilp" frame as a Prepare and
// encoding the pipeline's Fulfill/Reject back into raw ILP bytes.
func (n *node) btpHandlerFor(account store.Account) btp.Handler {
	return func(ctx context.Context, ilpData []byte) ([]byte, error) {
		prepare, err := ilppacket.ReadPrepare(bytes.NewReader(ilpData))
		if err != nil {
			return nil, fmt.Errorf("ilp-node: malformed prepare: %w", err)
		}
		fulfill, reject := n.incoming.SendIncoming(ctx, &service.IncomingRequest{FromAccount: account, Prepare: prepare})
		var pkt ilppacket.Packet
		if reject != nil {
			pkt = ilppacket.Packet{Reject: &ilppacket.Reject{
				Code:        reject.Code,
				TriggeredBy: reject.TriggeredBy,
				Message:     reject.Message,
				Data:        reject.Data,
			}}
		} else {
			pkt = ilppacket.Packet{Fulfill: fulfill}
		}
		return pkt.Bytes()
	}
}

// run starts the node's background tasks. It blocks until ctx is
// cancelled.
func (n *node) run(ctx context.Context) {
	workerCount := n.cfg.Settlement.WorkerCount
	n.enqueuer.Start(ctx, workerCount)
	n.ccpManager.Run(ctx)
}

// ccpPacketSender implements ccp.PacketSender over the node's outgoing
// dispatcher, bypassing the balance/exchange-rate legs since CCP
// traffic carries no value (spec.md §4.8, §6.5).
type ccpPacketSender struct {
	self     ilpaddr.Address
	dispatch service.OutgoingService
}

func (s *ccpPacketSender) SendCCPPacket(ctx context.Context, to store.Account, destination string, data []byte) ([]byte, *ilperr.Reject) {
	dest, err := ilpaddr.Parse(destination)
	if err != nil {
		return nil, ilperr.New(ilperr.CodeF00BadRequest, err.Error(), s.self)
	}
	prepare := &ilppacket.Prepare{
		Destination:        dest,
		Amount:             0,
		ExpiresAt:          time.Now().Add(30 * time.Second),
		ExecutionCondition: ccp.PeerProtocolCondition,
		Data:               data,
	}
	fulfill, reject := s.dispatch.SendOutgoing(ctx, &service.OutgoingRequest{
		From:    store.Account{Address: s.self},
		To:      to,
		Prepare: prepare,
	})
	if reject != nil {
		return nil, reject
	}
	return fulfill.Data, nil
}

func accountFromConfig(ac config.AccountConfig) (store.Account, error) {
	addr, err := ilpaddr.Parse(ac.Address)
	if err != nil {
		return store.Account{}, err
	}
	rtt := ac.RoundTripTimeMS
	if rtt == 0 {
		rtt = store.DefaultRoundTripTimeMS
	}
	return store.Account{
		ID:       uuid.New(),
		Username: ac.Username,
		Address:  addr,

		AssetCode:  ac.AssetCode,
		AssetScale: ac.AssetScale,

		HTTPEndpoint:      ac.HTTPEndpoint,
		HTTPIncomingToken: secret.NewString(ac.HTTPIncomingToken),
		HTTPOutgoingToken: secret.NewString(ac.HTTPOutgoingToken),

		BTPURL:           ac.BTPURL,
		BTPIncomingToken: secret.NewString(ac.BTPIncomingToken),
		BTPOutgoingToken: secret.NewString(ac.BTPOutgoingToken),

		Balance: store.BalanceLimits{
			MinBalance:      ac.MinBalance,
			SettleThreshold: ac.SettleThreshold,
			SettleTo:        ac.SettleTo,
		},
		Rate: store.RateLimits{
			PacketsPerMinute: ac.PacketsPerMinute,
			AmountPerMinute:  ac.AmountPerMinute,
		},

		RoutingRelation:     routingRelationFromString(ac.RoutingRelation),
		RoundTripTimeMS:     rtt,
		SettlementEngineURL: ac.SettlementEngineURL,
	}, nil
}

func routingRelationFromString(s string) store.RoutingRelation {
	switch s {
	case "parent", "Parent":
		return store.Parent
	case "peer", "Peer":
		return store.Peer
	case "child", "Child":
		return store.Child
	default:
		return store.NonRoutingAccount
	}
}

// registerRoutes mounts both transports on one mux.Router, used when the
// node serves BTP and ILP-over-HTTP from a single listen address.
func (n *node) registerRoutes(r *mux.Router) {
	n.httpServer.RegisterRoutes(r)
	n.btpServer.RegisterRoutes(r)
}
