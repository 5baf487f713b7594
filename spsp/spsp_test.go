package spsp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueryDecodesResponse(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != ContentType {
			t.Errorf("expected Accept header %s, got %s", ContentType, r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", ContentType)
		json.NewEncoder(w).Encode(map[string]string{
			"destination_account": "g.connector.alice",
			"shared_secret":       base64.StdEncoding.EncodeToString(secret),
		})
	}))
	defer ts.Close()

	result, err := Query(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if result.DestinationAccount.String() != "g.connector.alice" {
		t.Fatalf("unexpected destination account: %s", result.DestinationAccount.String())
	}
	if string(result.SharedSecret) != string(secret) {
		t.Fatalf("unexpected shared secret: %x", result.SharedSecret)
	}
}

func TestQueryRejectsNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	if _, err := Query(context.Background(), ts.URL); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestQueryRejectsInvalidDestinationAccount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"destination_account": "",
			"shared_secret":       base64.StdEncoding.EncodeToString([]byte("secret")),
		})
	}))
	defer ts.Close()

	if _, err := Query(context.Background(), ts.URL); err == nil {
		t.Fatal("expected error for invalid destination account")
	}
}
