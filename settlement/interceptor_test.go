package settlement

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ilpconnector/pkg/ilpaddr"
	"ilpconnector/pkg/ilperr"
	"ilpconnector/pkg/ilppacket"
	"ilpconnector/service"
	"ilpconnector/store"

	"github.com/google/uuid"
)

func TestInterceptorForwardsPeerSettleMessages(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("engine-reply"))
	}))
	defer ts.Close()

	addr, err := ilpaddr.Parse("g.connector.alice")
	if err != nil {
		t.Fatal(err)
	}
	account := store.Account{ID: uuid.New(), Username: "alice", Address: addr, SettlementEngineURL: ts.URL}
	dest, err := ilpaddr.Parse(ReservedSettleAddress)
	if err != nil {
		t.Fatal(err)
	}

	reachedNext := false
	next := service.IncomingFunc(func(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		reachedNext = true
		return nil, nil
	})

	interceptor := NewInterceptor(next, NewClient(nil), nil)
	fulfill, reject := interceptor.SendIncoming(context.Background(), &service.IncomingRequest{
		FromAccount: account,
		Prepare: &ilppacket.Prepare{
			Destination: dest,
			ExpiresAt:   time.Now().Add(time.Minute),
			Data:        []byte("settle-msg"),
		},
	})
	if reject != nil {
		t.Fatalf("unexpected reject: %v", reject)
	}
	if reachedNext {
		t.Fatal("peer.settle traffic must not reach the router")
	}
	if fulfill == nil || !bytes.Equal(fulfill.Data, []byte("engine-reply")) {
		t.Fatalf("expected engine reply as fulfill data, got %+v", fulfill)
	}
	if fulfill.Fulfillment != peerProtocolFulfillment {
		t.Fatalf("expected fixed peer-protocol fulfillment, got %x", fulfill.Fulfillment)
	}
}

func TestInterceptorPassesThroughOtherDestinations(t *testing.T) {
	addr, err := ilpaddr.Parse("g.connector.alice")
	if err != nil {
		t.Fatal(err)
	}
	account := store.Account{ID: uuid.New(), Address: addr}
	dest, err := ilpaddr.Parse("g.connector.bob")
	if err != nil {
		t.Fatal(err)
	}

	reachedNext := false
	next := service.IncomingFunc(func(ctx context.Context, req *service.IncomingRequest) (*ilppacket.Fulfill, *ilperr.Reject) {
		reachedNext = true
		return nil, nil
	})

	interceptor := NewInterceptor(next, NewClient(nil), nil)
	interceptor.SendIncoming(context.Background(), &service.IncomingRequest{
		FromAccount: account,
		Prepare:     &ilppacket.Prepare{Destination: dest, ExpiresAt: time.Now().Add(time.Minute)},
	})
	if !reachedNext {
		t.Fatal("non-peer.settle traffic must reach the router")
	}
}
