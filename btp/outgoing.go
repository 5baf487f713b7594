package btp

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"

	"github.com/sirupsen/logrus"
)

// OutgoingClient is the outgoing leg of the BTP transport: it maintains
// one lazily-dialed Connection per destination account and forwards a
// resolved request's Prepare as an ILP-data BTP Message, decoding the
// raw ILP reply back into Fulfill/Reject. It implements
// service.OutgoingService, the BTP counterpart of transport/http.Client.
type OutgoingClient struct {
	Logger *logrus.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewOutgoingClient constructs an OutgoingClient.
func NewOutgoingClient(logger *logrus.Logger) *OutgoingClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OutgoingClient{Logger: logger, conns: make(map[string]*Connection)}
}

func (c *OutgoingClient) connectionFor(ctx context.Context, accountKey, url, username string, token []byte) (*Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[accountKey]; ok && !conn.IsClosed() {
		return conn, nil
	}

	conn, err := Dial(ctx, url, username, token, nil, c.Logger)
	if err != nil {
		return nil, err
	}
	c.conns[accountKey] = conn
	return conn, nil
}

func (c *OutgoingClient) SendOutgoing(ctx context.Context, req *service.OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	body, err := req.Prepare.Bytes()
	if err != nil {
		return nil, ilperr.Wrap(err, req.From.Address)
	}

	conn, err := c.connectionFor(ctx, req.To.Address.String(), req.To.BTPURL, req.To.Username, req.To.BTPOutgoingToken.Bytes())
	if err != nil {
		return nil, ilperr.New(ilperr.CodeT01PeerUnreachable, fmt.Sprintf("btp: dial failed: %v", err), req.From.Address)
	}

	reply, err := conn.SendAndWait(ctx, body, DefaultRequestTimeout)
	if err != nil {
		return nil, ilperr.New(ilperr.CodeT01PeerUnreachable, fmt.Sprintf("btp: request failed: %v", err), req.From.Address)
	}

	pkt, err := ilppacket.Read(bytes.NewReader(reply))
	if err != nil {
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, fmt.Sprintf("btp: malformed response: %v", err), req.From.Address)
	}
	switch {
	case pkt.Fulfill != nil:
		return pkt.Fulfill, nil
	case pkt.Reject != nil:
		return nil, &ilperr.Reject{
			Code:        pkt.Reject.Code,
			Message:     pkt.Reject.Message,
			TriggeredBy: pkt.Reject.TriggeredBy,
			Data:        pkt.Reject.Data,
		}
	default:
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, "btp: response was neither fulfill nor reject", req.From.Address)
	}
}
