package ilpaddr

import "testing"

func TestParseValid(t *testing.T) {
	valid := []string{
		"g.us.nexus.bob",
		"private.foo",
		"example.a-b_c~d",
		"test1.x",
		"peer.route.control",
		"self",
		"local.node1",
	}
	for _, s := range valid {
		if _, err := Parse(s); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", s, err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	invalid := []string{
		"",
		"unknown.scheme",
		"g.",
		"g..b",
		"g.has space",
		"g.has/slash",
	}
	for _, s := range invalid {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error, got none", s)
		}
	}
}

func TestParseTooLong(t *testing.T) {
	s := "g."
	for len(s) <= MaxLength {
		s += "a"
	}
	if _, err := Parse(s); err == nil {
		t.Error("expected error for over-length address")
	}
}

func TestWithSuffixRoundTrip(t *testing.T) {
	a, err := Parse("g.us.nexus")
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.WithSuffix("bob")
	if err != nil {
		t.Fatal(err)
	}
	want := "g.us.nexus.bob"
	if b.String() != want {
		t.Errorf("got %q want %q", b.String(), want)
	}
	segs := b.Segments()
	if segs[len(segs)-1] != "bob" {
		t.Errorf("last segment round trip failed: %v", segs)
	}
}

func TestWithSuffixInvalid(t *testing.T) {
	a, _ := Parse("g.us")
	if _, err := a.WithSuffix("bad space"); err == nil {
		t.Error("expected error from invalid suffix")
	}
}

func TestStartsWith(t *testing.T) {
	a, _ := Parse("g.us.nexus.bob")
	if !a.StartsWith("g.us.nexus") {
		t.Error("expected prefix match")
	}
	if !a.StartsWith("g.us.nexus.bob") {
		t.Error("expected exact match")
	}
	if a.StartsWith("g.us.nexu") {
		t.Error("unexpected match on partial segment")
	}
	if a.StartsWith("g.eu") {
		t.Error("unexpected match on unrelated prefix")
	}
}

func TestEqualAndScheme(t *testing.T) {
	a, _ := Parse("g.us.bob")
	b, _ := Parse("g.us.bob")
	c, _ := Parse("g.us.alice")
	if !a.Equal(b) {
		t.Error("expected equal addresses to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different addresses to compare unequal")
	}
	if a.Scheme() != "g" {
		t.Errorf("got scheme %q want g", a.Scheme())
	}
}
