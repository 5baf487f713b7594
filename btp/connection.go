package btp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AuthTimeout is the hard deadline to receive the handshake's auth
// Message after a websocket connection opens (spec.md §4.10).
const AuthTimeout = 10 * time.Second

// DefaultRequestTimeout bounds how long SendAndWait waits for a
// Response/Error before giving up, since BTP request_ids are not
// ordered and a peer may simply never reply (spec.md §5).
const DefaultRequestTimeout = 30 * time.Second

// Handler processes an inbound BTP Message's "ilp" payload and returns
// the bytes to carry back in the Response (or an error, mapped to a BTP
// Error by the caller).
type Handler func(ctx context.Context, ilpData []byte) ([]byte, error)

// Connection is one BTP websocket connection, in either the server or
// client role, with per-request_id response correlation (spec.md §4.10
// "Correlation"), grounded on the teacher's pooled-connection shape in
// core/connection_pool.go (keyed map + reaper) adapted from a pool of
// net.Conn to a single *websocket.Conn's in-flight request table.
type Connection struct {
	ws      *websocket.Conn
	Handler Handler
	Logger  *logrus.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]chan *Packet
	closed  bool
}

// NewConnection wraps an already-authenticated websocket connection.
func NewConnection(ws *websocket.Conn, handler Handler, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Connection{
		ws:      ws,
		Handler: handler,
		Logger:  logger,
		pending: make(map[uint32]chan *Packet),
	}
}

func randomRequestID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("btp: generate request_id: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// writePacket serializes and writes p under the connection's write lock;
// gorilla/websocket connections must not be written to concurrently.
func (c *Connection) writePacket(p *Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Send transmits p without waiting for a reply (used for Responses and
// Errors, which are themselves replies).
func (c *Connection) Send(p *Packet) error {
	return c.writePacket(p)
}

// SendAndWait sends ilpData as a Message with a fresh random request_id
// and blocks until the peer's Response/Error with that id arrives, ctx
// is cancelled, or timeout elapses.
func (c *Connection) SendAndWait(ctx context.Context, ilpData []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	reqID, err := randomRequestID()
	if err != nil {
		return nil, err
	}
	ch := make(chan *Packet, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if err := c.writePacket(NewILPMessage(reqID, ilpData)); err != nil {
		return nil, fmt.Errorf("btp: send message: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Type == TypeError {
			return nil, fmt.Errorf("btp: peer error %s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		data, _ := resp.ILPData()
		return data, nil
	case <-timer.C:
		return nil, fmt.Errorf("btp: request %d timed out after %s", reqID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadLoop reads frames until the connection closes or ctx is done,
// dispatching Messages to Handler and delivering Responses/Errors to
// any waiting SendAndWait call. It returns the terminal read error.
func (c *Connection) ReadLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("btp: read: %w", err)
		}
		pkt, err := ParsePacket(raw)
		if err != nil {
			c.Logger.WithError(err).Warn("btp: dropping malformed frame")
			continue
		}
		switch pkt.Type {
		case TypeMessage:
			c.handleMessage(ctx, pkt)
		case TypeResponse, TypeError:
			c.mu.Lock()
			ch, ok := c.pending[pkt.RequestID]
			c.mu.Unlock()
			if ok {
				ch <- pkt
			}
		}
	}
}

func (c *Connection) handleMessage(ctx context.Context, pkt *Packet) {
	ilpData, ok := pkt.ILPData()
	if !ok || c.Handler == nil {
		_ = c.Send(NewError(pkt.RequestID, "F00", "no ilp protocol_data or no handler configured"))
		return
	}
	result, err := c.Handler(ctx, ilpData)
	if err != nil {
		_ = c.Send(NewError(pkt.RequestID, "T00", err.Error()))
		return
	}
	_ = c.Send(NewILPResponse(pkt.RequestID, result))
}

// Close closes the underlying websocket.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

// IsClosed reports whether Close has been called on c.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
