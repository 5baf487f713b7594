package btp

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	p := NewILPMessage(42, []byte("ilp-prepare-bytes"))
	data, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeMessage || got.RequestID != 42 {
		t.Fatalf("header mismatch: %+v", got)
	}
	ilpData, ok := got.ILPData()
	if !ok || !bytes.Equal(ilpData, []byte("ilp-prepare-bytes")) {
		t.Fatalf("ilp data mismatch: %q", ilpData)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	p := NewError(7, "F00", "bad request")
	data, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeError || got.ErrorCode != "F00" || got.ErrorMessage != "bad request" {
		t.Fatalf("error mismatch: %+v", got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	p := NewILPResponse(99, []byte("fulfill-bytes"))
	data, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeResponse || got.RequestID != 99 {
		t.Fatalf("header mismatch: %+v", got)
	}
}

func TestParsePacketOversize(t *testing.T) {
	raw := make([]byte, MaxMessageSize+1)
	if _, err := ParsePacket(raw); err == nil {
		t.Fatal("expected oversize message to be rejected")
	}
}

func TestAuthProtocolData(t *testing.T) {
	entries := authProtocolData("alice", []byte("secret-token"))
	if len(entries) != 3 {
		t.Fatalf("expected 3 auth entries, got %d", len(entries))
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.ProtocolName] = true
	}
	for _, want := range []string{"auth", "auth_username", "auth_token"} {
		if !names[want] {
			t.Fatalf("missing auth protocol_data entry %q", want)
		}
	}
}
