// Package ilphttp implements the ILP-over-HTTP transport adapter
// (spec.md §6.3): a single POST endpoint per account that accepts a raw
// ILP Prepare and returns a raw Fulfill or Reject.
package ilphttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"
	"ilpconnector/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MaxContentLength is the hard cap on a posted ILP Prepare body
// (spec.md §6.3).
const MaxContentLength = 40000

// ProblemDetail is an RFC 7807 problem+json body, returned on
// authentication failure.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Server mounts the ILP-over-HTTP endpoint, grounded on
// cmd/explorer/server.go's gorilla/mux route registration and
// http.Error/JSON-writer helpers, generalized from a read-only ledger
// API to a single authenticated POST endpoint.
type Server struct {
	Store  store.Store
	Next   service.IncomingService
	Logger *logrus.Logger
}

// NewServer constructs a Server.
func NewServer(s store.Store, next service.IncomingService, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{Store: s, Next: next, Logger: logger}
}

// RegisterRoutes mounts the endpoint on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/{username}/ilp", s.handlePost).Methods(http.MethodPost)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	if r.ContentLength > MaxContentLength {
		writeProblem(w, http.StatusRequestEntityTooLarge, "prepare body exceeds max content length")
		return
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "missing or malformed Authorization header")
		return
	}

	account, err := s.Store.GetAccountByHTTPAuth(r.Context(), username, token)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxContentLength+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > MaxContentLength {
		writeProblem(w, http.StatusRequestEntityTooLarge, "prepare body exceeds max content length")
		return
	}

	prepare, err := ilppacket.ReadPrepare(bytes.NewReader(body))
	if err != nil {
		http.Error(w, "malformed ILP Prepare", http.StatusBadRequest)
		return
	}

	fulfill, reject := s.Next.SendIncoming(r.Context(), &service.IncomingRequest{FromAccount: account, Prepare: prepare})
	s.writeResult(w, fulfill, reject)
}

func (s *Server) writeResult(w http.ResponseWriter, fulfill *ilppacket.Fulfill, reject *ilperr.Reject) {
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
	data, err := pkt.Bytes()
	if err != nil {
		s.Logger.WithError(err).Error("transport/http: encode response failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func bearerToken(header string) ([]byte, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return nil, false
	}
	return []byte(token), true
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Type:   fmt.Sprintf("https://interledger.org/problems/%d", status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}
