package xlat

import (
	"net/netip"
	"testing"
)

func TestIsHairpinMatchesLiveBIBEntry(t *testing.T) {
	t.Parallel()

	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)

	dst := Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000}
	e := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: dst,
		Proto: ProtoUDP,
	}
	if err := bibUDP.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := isHairpin(bibUDP, bibTCP, bibICMP, ProtoUDP, dst)
	if !ok || got != e {
		t.Errorf("isHairpin = %+v, %v, want %+v, true", got, ok, e)
	}
}

func TestIsHairpinNoMatch(t *testing.T) {
	t.Parallel()

	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)

	_, ok := isHairpin(bibUDP, bibTCP, bibICMP, ProtoUDP, Endpoint{Addr: netip.MustParseAddr("198.51.100.1"), ID: 80})
	if ok {
		t.Error("isHairpin = true for an address with no BIB entry")
	}
}

func TestIsHairpinChecksCorrectTableByProto(t *testing.T) {
	t.Parallel()

	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)

	dst := Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000}
	e := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: dst,
		Proto: ProtoTCP,
	}
	if err := bibTCP.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// An identical destination looked up under ProtoUDP must miss since
	// the entry only lives in the TCP table.
	if _, ok := isHairpin(bibUDP, bibTCP, bibICMP, ProtoUDP, dst); ok {
		t.Error("isHairpin(ProtoUDP) matched a TCP-only BIB entry")
	}
	if _, ok := isHairpin(bibUDP, bibTCP, bibICMP, ProtoTCP, dst); !ok {
		t.Error("isHairpin(ProtoTCP) did not match")
	}
}

func TestIsHairpinUnknownProto(t *testing.T) {
	t.Parallel()

	pool4 := NewPool4()
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)

	if _, ok := isHairpin(bibUDP, bibTCP, bibICMP, ProtoNone, Endpoint{}); ok {
		t.Error("isHairpin with ProtoNone = true, want false")
	}
}
