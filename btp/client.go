package btp

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Dial opens a client-side BTP connection to url, performs the auth
// handshake with username/token, and returns a ready Connection with its
// read loop already running in the background. handler processes any
// Messages the peer sends back over the same connection (spec.md §4.10).
func Dial(ctx context.Context, url, username string, token []byte, handler Handler, logger *logrus.Logger) (*Connection, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dialCtx, cancel := context.WithTimeout(ctx, AuthTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("btp: dial %s: %w", url, err)
	}

	authReqID, err := randomRequestID()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	authPkt := &Packet{Type: TypeMessage, RequestID: authReqID, ProtocolData: authProtocolData(username, token)}
	data, err := authPkt.Marshal()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("btp: send auth: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(AuthTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("btp: read auth reply: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	reply, err := ParsePacket(raw)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("btp: parse auth reply: %w", err)
	}
	if reply.Type == TypeError {
		_ = ws.Close()
		return nil, fmt.Errorf("btp: auth rejected: %s %s", reply.ErrorCode, reply.ErrorMessage)
	}

	conn := NewConnection(ws, handler, logger)
	go func() {
		if err := conn.ReadLoop(ctx); err != nil {
			logger.WithError(err).WithField("url", url).Debug("btp: client connection closed")
		}
	}()
	return conn, nil
}
