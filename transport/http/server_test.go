package ilphttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ilpconnector/internal/secret"
	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"
	"ilpconnector/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func newTestAccount(t *testing.T, username, token string) store.Account {
	t.Helper()
	addr, err := ilpaddr.Parse("g.connector." + username)
	if err != nil {
		t.Fatal(err)
	}
	return store.Account{
		ID:                uuid.New(),
		Username:          username,
		Address:           addr,
		AssetCode:         "USD",
		AssetScale:        2,
		HTTPIncomingToken: secret.NewString(token),
	}
}

func newTestPrepare(t *testing.T) *ilppacket.Prepare {
	t.Helper()
	dest, err := ilpaddr.Parse("g.connector.bob")
	if err != nil {
		t.Fatal(err)
	}
	return &ilppacket.Prepare{
		Amount:      100,
		ExpiresAt:   time.Now().Add(time.Minute),
		Destination: dest,
	}
}

func TestHandlePostFulfillSuccess(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	account := newTestAccount(t, "alice", "alice-token")
	s.PutAccount(account)

	var fulfillment [32]byte
	fulfillment[0] = 1
	next := service.IncomingFunc(func(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		return &ilppacket.Fulfill{Fulfillment: fulfillment}, nil
	})

	server := NewServer(s, next, nil)
	router := mux.NewRouter()
	server.RegisterRoutes(router)
	ts := httptest.NewServer(router)
	defer ts.Close()

	prepare := newTestPrepare(t)
	var buf bytes.Buffer
	if err := prepare.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/accounts/alice/ilp", &buf)
	req.Header.Set("Authorization", "Bearer alice-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	pkt, err := ilppacket.Read(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Fulfill == nil || pkt.Fulfill.Fulfillment != fulfillment {
		t.Fatalf("expected fulfill echoed back, got %+v", pkt)
	}
}

func TestHandlePostAuthFailureReturnsProblemJSON(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	account := newTestAccount(t, "alice", "alice-token")
	s.PutAccount(account)

	server := NewServer(s, service.IncomingFunc(func(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("pipeline must not be invoked on auth failure")
		return nil, nil
	}), nil)
	router := mux.NewRouter()
	server.RegisterRoutes(router)
	ts := httptest.NewServer(router)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/accounts/alice/ilp", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem+json content type, got %q", ct)
	}
	var problem ProblemDetail
	if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
		t.Fatal(err)
	}
	if problem.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected problem body: %+v", problem)
	}
}

func TestHandlePostMalformedBody(t *testing.T) {
	s, err := store.NewMemStore(0)
	if err != nil {
		t.Fatal(err)
	}
	account := newTestAccount(t, "alice", "alice-token")
	s.PutAccount(account)

	server := NewServer(s, service.IncomingFunc(func(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		t.Fatal("pipeline must not be invoked for malformed ILP")
		return nil, nil
	}), nil)
	router := mux.NewRouter()
	server.RegisterRoutes(router)
	ts := httptest.NewServer(router)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/accounts/alice/ilp", bytes.NewReader([]byte{0xFF, 0xFF}))
	req.Header.Set("Authorization", "Bearer alice-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
