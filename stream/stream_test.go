package stream

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := []byte("shared-secret-material-32bytes!")
	plaintext := []byte("hello stream")
	ciphertext, err := Encrypt(secret, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decrypt(secret, ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongSecretFails(t *testing.T) {
	secret := []byte("shared-secret-material-32bytes!")
	wrong := []byte("a-totally-different-secret-xx!!")
	ciphertext, err := Encrypt(secret, []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(wrong, ciphertext); err == nil {
		t.Fatal("expected decrypt with wrong secret to fail")
	}
}

func TestFulfillmentDeterministic(t *testing.T) {
	secret := []byte("shared-secret")
	ciphertext := []byte("some-ciphertext-bytes")
	f1 := GenerateFulfillment(secret, ciphertext)
	f2 := GenerateFulfillment(secret, ciphertext)
	if f1 != f2 {
		t.Fatal("fulfillment generation must be deterministic")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		Sequence:      7,
		Type:          PacketTypePrepare,
		PrepareAmount: 1000,
		Frames: []Frame{
			StreamMoneyFrame{StreamID: 1, Shares: 1000},
			StreamDataFrame{StreamID: 1, Offset: 0, Data: []byte("payload")},
			ConnectionNewAddressFrame{SourceAccount: "g.alice.~1234"},
		},
	}
	data, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParsePacket(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sequence != 7 || got.Type != PacketTypePrepare || got.PrepareAmount != 1000 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got.Frames))
	}
	money, ok := got.Frames[0].(StreamMoneyFrame)
	if !ok || money.StreamID != 1 || money.Shares != 1000 {
		t.Fatalf("frame 0 mismatch: %+v", got.Frames[0])
	}
	data2, ok := got.Frames[1].(StreamDataFrame)
	if !ok || string(data2.Data) != "payload" {
		t.Fatalf("frame 1 mismatch: %+v", got.Frames[1])
	}
	addr, ok := got.Frames[2].(ConnectionNewAddressFrame)
	if !ok || addr.SourceAccount != "g.alice.~1234" {
		t.Fatalf("frame 2 mismatch: %+v", got.Frames[2])
	}
}

// TestTamperedDataFailsCondition implements spec.md's S5 scenario: the
// sender builds a Prepare with the correct condition, but the ciphertext
// is altered by one byte in transit. The receiver's decrypt must fail,
// so the connector layer rejects with F05 rather than ever delivering
// forged STREAM data.
func TestTamperedDataFailsCondition(t *testing.T) {
	secret := []byte("shared-secret-material-32bytes!")
	p := &Packet{Sequence: 1, Type: PacketTypePrepare, PrepareAmount: 500}
	ciphertext, fulfillment, err := p.EncryptedPacket(secret)
	if err != nil {
		t.Fatal(err)
	}
	condition := ConditionFromFulfillment(fulfillment)

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := DecryptPacket(secret, tampered); err == nil {
		t.Fatal("expected decrypt of tampered ciphertext to fail")
	}

	// A receiver deriving the fulfillment from the tampered bytes must not
	// reproduce the condition the sender committed to.
	forgedFulfillment := GenerateFulfillment(secret, tampered)
	if ConditionFromFulfillment(forgedFulfillment) == condition {
		t.Fatal("tampered ciphertext must not reproduce the original condition")
	}
}

func TestApportionAmountProportional(t *testing.T) {
	streams := []*DataMoneyStream{
		{ID: 1, SendMax: 300},
		{ID: 3, SendMax: 700},
	}
	shares := ApportionAmount(1000, streams)
	if shares[1] != 300 || shares[3] != 700 {
		t.Fatalf("expected proportional split 300/700, got %+v", shares)
	}
}

func TestApportionAmountRemainderToLowestStreamID(t *testing.T) {
	streams := []*DataMoneyStream{
		{ID: 5, SendMax: 1},
		{ID: 3, SendMax: 1},
		{ID: 1, SendMax: 1},
	}
	shares := ApportionAmount(10, streams)
	total := shares[1] + shares[3] + shares[5]
	if total != 10 {
		t.Fatalf("shares must sum to total amount, got %d", total)
	}
	base := uint64(10) / 3
	if shares[1] <= base && (shares[3] > base || shares[5] > base) {
		t.Fatalf("expected remainder assigned to lowest stream id 1, got %+v", shares)
	}
}

func TestApportionAmountSkipsExhaustedStreams(t *testing.T) {
	streams := []*DataMoneyStream{
		{ID: 1, SendMax: 100, TotalSent: 100}, // exhausted
		{ID: 3, SendMax: 100},
	}
	shares := ApportionAmount(50, streams)
	if shares[1] != 0 {
		t.Fatalf("exhausted stream must receive nothing, got %d", shares[1])
	}
	if shares[3] != 50 {
		t.Fatalf("remaining capacity should receive full amount, got %d", shares[3])
	}
}

func TestConnectionSequenceStrictlyIncreasing(t *testing.T) {
	c := NewConnection([]byte("secret"), 1)
	var last uint64
	for i := 0; i < 5; i++ {
		seq := c.NextSequence()
		if seq <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", seq, last)
		}
		last = seq
	}
	if first := uint64(1); last != first+4 {
		t.Fatalf("expected sequences 1..5, ended at %d", last)
	}
}

func TestConnectionBuildMoneyPacket(t *testing.T) {
	c := NewConnection([]byte("secret"), 1)
	s := c.OpenStream()
	s.SendMax = 1000

	p, shares, err := c.BuildMoneyPacket(1000)
	if err != nil {
		t.Fatal(err)
	}
	if shares[s.ID] != 1000 {
		t.Fatalf("expected full amount apportioned to only open stream, got %+v", shares)
	}
	if p.PrepareAmount != 1000 || p.Type != PacketTypePrepare {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestDataMoneyStreamReceiveDataInOrder(t *testing.T) {
	s := &DataMoneyStream{ID: 1}
	if got := s.ReceiveData(0, []byte("hello ")); string(got) != "hello " {
		t.Fatalf("got %q", got)
	}
	if got := s.ReceiveData(6, []byte("world")); string(got) != "world" {
		t.Fatalf("got %q", got)
	}
	if s.DataRecvOffset != 11 {
		t.Fatalf("DataRecvOffset = %d, want 11", s.DataRecvOffset)
	}
}

// TestDataMoneyStreamReceiveDataOutOfOrder covers the §4.9 reassembly
// requirement: a chunk arriving ahead of DataRecvOffset is buffered, not
// released, until the gap before it closes.
func TestDataMoneyStreamReceiveDataOutOfOrder(t *testing.T) {
	s := &DataMoneyStream{ID: 1}

	// "world" arrives first, at offset 6 — must not be released yet.
	if got := s.ReceiveData(6, []byte("world")); got != nil {
		t.Fatalf("out-of-order chunk released early: %q", got)
	}
	if s.DataRecvOffset != 0 {
		t.Fatalf("DataRecvOffset advanced on buffered chunk: %d", s.DataRecvOffset)
	}

	// The gap-filling chunk arrives and must release both, in order.
	got := s.ReceiveData(0, []byte("hello "))
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
	if s.DataRecvOffset != 11 {
		t.Fatalf("DataRecvOffset = %d, want 11", s.DataRecvOffset)
	}
}

// TestDataMoneyStreamReceiveDataThreeWayOutOfOrder exercises a buffer
// with more than one pending out-of-order chunk, released in a single
// contiguous run once the first gap closes.
func TestDataMoneyStreamReceiveDataThreeWayOutOfOrder(t *testing.T) {
	s := &DataMoneyStream{ID: 1}

	if got := s.ReceiveData(10, []byte("third.")); got != nil {
		t.Fatalf("chunk 3 released early: %q", got)
	}
	if got := s.ReceiveData(5, []byte("second")); got != nil {
		t.Fatalf("chunk 2 released early: %q", got)
	}
	got := s.ReceiveData(0, []byte("first."))
	if string(got) != "first.secondthird." {
		t.Fatalf("got %q, want %q", got, "first.secondthird.")
	}
	if s.DataRecvOffset != uint64(len("first.secondthird.")) {
		t.Fatalf("DataRecvOffset = %d", s.DataRecvOffset)
	}
}

func TestDataMoneyStreamReceiveDataDuplicateIgnored(t *testing.T) {
	s := &DataMoneyStream{ID: 1}
	if got := s.ReceiveData(0, []byte("hello")); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := s.ReceiveData(0, []byte("hello")); got != nil {
		t.Fatalf("duplicate chunk re-released: %q", got)
	}
	if s.DataRecvOffset != 5 {
		t.Fatalf("DataRecvOffset advanced on duplicate: %d", s.DataRecvOffset)
	}
}

func TestConnectionReceiveDataFrameCreatesStream(t *testing.T) {
	c := NewConnection([]byte("secret"), 1)
	got := c.ReceiveDataFrame(StreamDataFrame{StreamID: 9, Offset: 0, Data: []byte("payload")})
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
	if s := c.Stream(9); s.DataRecvOffset != 7 {
		t.Fatalf("DataRecvOffset = %d, want 7", s.DataRecvOffset)
	}
}

func TestConnectionBuildMoneyPacketNoCapacity(t *testing.T) {
	c := NewConnection([]byte("secret"), 1)
	c.OpenStream() // SendMax defaults to 0
	if _, _, err := c.BuildMoneyPacket(100); err == nil {
		t.Fatal("expected error when no stream has send capacity")
	}
}
