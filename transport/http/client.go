package ilphttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"
)

// DefaultTimeout is the http.Client timeout NewClient sets; it bounds
// every outgoing POST, alongside any deadline on the caller's context.
const DefaultTimeout = 30 * time.Second

// Client is the outgoing leg of the ILP-over-HTTP transport: it POSTs a
// resolved request's Prepare to the destination account's HTTPEndpoint
// and decodes whichever of Fulfill/Reject comes back. It implements
// service.OutgoingService so it can sit at the tail of the outgoing
// chain, the mirror image of Server on the incoming side.
type Client struct {
	HTTPClient *http.Client
}

// NewClient constructs a Client with a bounded-timeout http.Client.
func NewClient() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: DefaultTimeout}}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) SendOutgoing(ctx context.Context, req *service.OutgoingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
	body, err := req.Prepare.Bytes()
	if err != nil {
		return nil, ilperr.Wrap(err, req.From.Address)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.To.HTTPEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ilperr.Wrap(err, req.From.Address)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if len(req.To.HTTPOutgoingToken.Bytes()) > 0 {
		httpReq.Header.Set("Authorization", "Bearer "+string(req.To.HTTPOutgoingToken.Bytes()))
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, ilperr.New(ilperr.CodeT01PeerUnreachable, fmt.Sprintf("ilp-over-http request failed: %v", err), req.From.Address)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxContentLength+1))
	if err != nil {
		return nil, ilperr.Wrap(err, req.From.Address)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ilperr.New(ilperr.CodeT01PeerUnreachable, fmt.Sprintf("ilp-over-http peer returned status %d", resp.StatusCode), req.From.Address)
	}

	pkt, err := ilppacket.Read(bytes.NewReader(respBody))
	if err != nil {
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, fmt.Sprintf("malformed response packet: %v", err), req.From.Address)
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
		return nil, ilperr.New(ilperr.CodeF01InvalidPacket, "response was neither fulfill nor reject", req.From.Address)
	}
}
