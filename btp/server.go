package btp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ilpconnector/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server accepts incoming BTP websocket connections at
// /accounts/{username}/ilp/btp (spec.md §6.2), authenticates the
// handshake, and hands each connection's "ilp" traffic to a per-account
// Handler built by NewHandler. Grounded on cmd/explorer/server.go's
// gorilla/mux route registration, generalized from JSON REST handlers to
// a websocket upgrade handler.
type Server struct {
	Store      store.Store
	Logger     *logrus.Logger
	NewHandler func(account store.Account) Handler

	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[uuid.UUID]*Connection
}

// NewServer constructs a Server. newHandler builds the per-connection
// ILP handler once the peer account has been authenticated.
func NewServer(s store.Store, newHandler func(store.Account) Handler, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		Store:       s,
		Logger:      logger,
		NewHandler:  newHandler,
		upgrader:    websocket.Upgrader{ReadBufferSize: MaxMessageSize, WriteBufferSize: MaxMessageSize},
		connections: make(map[uuid.UUID]*Connection),
	}
}

// RegisterRoutes mounts the BTP upgrade endpoint on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/{username}/ilp/btp", s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.WithError(err).Warn("btp: upgrade failed")
		return
	}

	account, err := s.authenticate(conn, username)
	if err != nil {
		s.Logger.WithError(err).WithField("username", username).Warn("btp: handshake failed")
		_ = conn.Close()
		return
	}

	handler := Handler(nil)
	if s.NewHandler != nil {
		handler = s.NewHandler(account)
	}
	btpConn := NewConnection(conn, handler, s.Logger)

	s.mu.Lock()
	s.connections[account.ID] = btpConn
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.connections, account.ID)
			s.mu.Unlock()
		}()
		// r.Context() is cancelled as soon as handleUpgrade returns, so the
		// hijacked connection's read loop runs on its own context.
		if err := btpConn.ReadLoop(context.Background()); err != nil {
			s.Logger.WithError(err).WithField("account", account.Username).Debug("btp: connection closed")
		}
	}()
}

// authenticate enforces the handshake: the first frame must be a
// Message carrying auth/auth_username/auth_token protocol_data within
// AuthTimeout (spec.md §4.10).
func (s *Server) authenticate(conn *websocket.Conn, pathUsername string) (store.Account, error) {
	_ = conn.SetReadDeadline(time.Now().Add(AuthTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return store.Account{}, fmt.Errorf("btp: read auth frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	pkt, err := ParsePacket(raw)
	if err != nil {
		return store.Account{}, fmt.Errorf("btp: parse auth frame: %w", err)
	}
	if pkt.Type != TypeMessage {
		return store.Account{}, fmt.Errorf("btp: expected auth Message, got type %d", pkt.Type)
	}

	var username string
	var token []byte
	var sawAuth bool
	for _, pd := range pkt.ProtocolData {
		switch pd.ProtocolName {
		case "auth":
			sawAuth = true
		case "auth_username":
			username = string(pd.Data)
		case "auth_token":
			token = pd.Data
		}
	}
	if !sawAuth {
		return store.Account{}, fmt.Errorf("btp: missing auth protocol_data entry")
	}
	if username == "" {
		username = pathUsername
	}

	account, err := s.Store.GetAccountByBTPAuth(context.Background(), username, token)
	if err != nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, mustMarshal(NewError(pkt.RequestID, "F00", "authentication failed")))
		return store.Account{}, fmt.Errorf("btp: authenticate %q: %w", username, err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, mustMarshal(NewILPResponse(pkt.RequestID, nil))); err != nil {
		return store.Account{}, fmt.Errorf("btp: write auth response: %w", err)
	}
	return account, nil
}

func mustMarshal(p *Packet) []byte {
	data, err := p.Marshal()
	if err != nil {
		// Only hand-built Packet values with bounded fields reach here;
		// Marshal only fails on a >MaxMessageSize payload.
		return []byte{}
	}
	return data
}
