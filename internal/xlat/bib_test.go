package xlat

import (
	"net/netip"
	"testing"
)

func newTestBIBTable(t *testing.T) (*BIBTable, *Pool4) {
	t.Helper()
	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	return NewBIBTable(ProtoUDP, pool4), pool4
}

func TestBIBTableAddGetRemove(t *testing.T) {
	t.Parallel()

	tbl, pool4 := newTestBIBTable(t)
	if err := pool4.Reserve(netip.MustParseAddr("203.0.113.1"), 4000, ProtoUDP); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	e := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		Proto: ProtoUDP,
	}
	if err := tbl.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got, ok := tbl.GetBy6(e.Addr6); !ok || got != e {
		t.Errorf("GetBy6 = %+v, %v, want %+v, true", got, ok, e)
	}
	if got, ok := tbl.GetBy4(e.Addr4); !ok || got != e {
		t.Errorf("GetBy4 = %+v, %v, want %+v, true", got, ok, e)
	}
	if got := tbl.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	tbl.Remove(e)
	if _, ok := tbl.GetBy6(e.Addr6); ok {
		t.Error("GetBy6 found entry after Remove")
	}
	if err := pool4.Reserve(netip.MustParseAddr("203.0.113.1"), 4000, ProtoUDP); err != nil {
		t.Errorf("port not released by Remove for dynamic entry: %v", err)
	}
}

func TestBIBTableAddDuplicateRejected(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestBIBTable(t)
	e1 := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		Proto: ProtoUDP,
	}
	if err := tbl.Add(e1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e2 := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234}, // same Addr6
		Addr4: Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 5000},
		Proto: ProtoUDP,
	}
	if err := tbl.Add(e2); err != ErrDuplicateBIB {
		t.Errorf("Add with duplicate Addr6 = %v, want ErrDuplicateBIB", err)
	}
}

func TestBIBTableStaticSurvivesZeroRefcount(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestBIBTable(t)
	e := &BIBEntry{
		Addr6:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		Proto:  ProtoUDP,
		Static: true,
	}
	if err := tbl.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tbl.Retain(e)
	tbl.Release(e)
	if _, ok := tbl.GetBy6(e.Addr6); !ok {
		t.Error("static entry removed at refcount 0, want it to survive")
	}
}

func TestBIBTableDynamicRemovedAtZeroRefcount(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestBIBTable(t)
	e := &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		Proto: ProtoUDP,
	}
	if err := tbl.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tbl.Retain(e)
	tbl.Retain(e)
	tbl.Release(e)
	if _, ok := tbl.GetBy6(e.Addr6); !ok {
		t.Fatal("entry removed before refcount reached 0")
	}
	tbl.Release(e)
	if _, ok := tbl.GetBy6(e.Addr6); ok {
		t.Error("dynamic entry survived refcount reaching 0")
	}
}

func TestBIBTableForEach(t *testing.T) {
	t.Parallel()

	tbl, _ := newTestBIBTable(t)
	for i := 0; i < 3; i++ {
		e := &BIBEntry{
			Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: uint16(1000 + i)},
			Addr4: Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: uint16(2000 + i)},
			Proto: ProtoUDP,
		}
		if err := tbl.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	count := 0
	tbl.ForEach(func(*BIBEntry) { count++ })
	if count != 3 {
		t.Errorf("ForEach visited %d entries, want 3", count)
	}
}
