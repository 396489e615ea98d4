package xlat

import (
	"net/netip"
	"testing"
)

func TestNewPool6RejectsInvalidLen(t *testing.T) {
	t.Parallel()

	_, err := NewPool6(Prefix6{Addr: netip.MustParseAddr("2001:db8::"), Len: 70})
	if err != ErrInvalidPrefixLen {
		t.Errorf("NewPool6 with len=70 = %v, want ErrInvalidPrefixLen", err)
	}
}

func TestPool6AddRemoveCount(t *testing.T) {
	t.Parallel()

	p, err := NewPool6()
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}
	pre := Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96}
	if err := p.Add(pre); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := p.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	if !p.Remove(pre) {
		t.Fatal("Remove() = false, want true")
	}
	if got := p.Count(); got != 0 {
		t.Fatalf("Count() after Remove = %d, want 0", got)
	}
}

func TestPool6Match(t *testing.T) {
	t.Parallel()

	p, err := NewPool6(Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96})
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}

	in := netip.MustParseAddr("64:ff9b::c000:201")
	if _, ok := p.Match(in); !ok {
		t.Error("Match() = false for address under the configured prefix")
	}

	out := netip.MustParseAddr("2001:db8::1")
	if _, ok := p.Match(out); ok {
		t.Error("Match() = true for address outside any configured prefix")
	}
}

func TestPool6Translate6To4(t *testing.T) {
	t.Parallel()

	p, err := NewPool6(Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96})
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}

	got, err := p.Translate6To4(netip.MustParseAddr("64:ff9b::c000:201"))
	if err != nil {
		t.Fatalf("Translate6To4: %v", err)
	}
	want := netip.MustParseAddr("192.0.2.1")
	if got != want {
		t.Errorf("Translate6To4 = %s, want %s", got, want)
	}

	if _, err := p.Translate6To4(netip.MustParseAddr("2001:db8::1")); err != ErrNoMatchingPrefix {
		t.Errorf("Translate6To4 for unmatched addr = %v, want ErrNoMatchingPrefix", err)
	}
}

func TestPool6Any(t *testing.T) {
	t.Parallel()

	p, err := NewPool6()
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}
	if _, ok := p.Any(); ok {
		t.Error("Any() on empty pool = true, want false")
	}

	pre := Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96}
	if err := p.Add(pre); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := p.Any()
	if !ok || got != pre {
		t.Errorf("Any() = %+v, %v, want %+v, true", got, ok, pre)
	}
}
