package xlat

import (
	"net/netip"
	"testing"
	"time"
)

func newTestSessionDB(t *testing.T) (*SessionDB, *Pool4) {
	t.Helper()
	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	pool6, err := NewPool6(Prefix6{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96})
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)
	cfg := SessionDBConfig{
		UDPTimeout:      time.Minute,
		ICMPTimeout:     time.Minute,
		TCPEstTimeout:   time.Hour,
		TCPTransTimeout: time.Minute,
		TCPSynTimeout:   20 * time.Millisecond,
		PendingSynMax:   8,
	}
	return NewSessionDB(cfg, bibUDP, bibTCP, bibICMP, pool6, nil), pool4
}

func newTestBIBEntry(proto Proto, pool4 *Pool4) *BIBEntry {
	addr4 := netip.MustParseAddr("203.0.113.1")
	pool4.Reserve(addr4, 4000, proto)
	return &BIBEntry{
		Addr6: Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Addr4: Endpoint{Addr: addr4, ID: 4000},
		Proto: proto,
	}
}

func TestSessionDBGetOrCreate6CreatesAndReuses(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 80},
		L3:   L3IPv6,
		Prot: ProtoUDP,
	}
	now := time.Now()

	s, created, err := db.GetOrCreate6(tup, bib, now)
	if err != nil {
		t.Fatalf("GetOrCreate6: %v", err)
	}
	if !created {
		t.Error("created = false on first call, want true")
	}
	wantRemote4 := netip.MustParseAddr("192.0.2.1")
	if s.Pair4.Remote.Addr != wantRemote4 {
		t.Errorf("Pair4.Remote.Addr = %s, want %s", s.Pair4.Remote.Addr, wantRemote4)
	}
	if bib.RefCount() != 1 {
		t.Errorf("BIB refcount = %d, want 1", bib.RefCount())
	}

	s2, created2, err := db.GetOrCreate6(tup, bib, now)
	if err != nil {
		t.Fatalf("second GetOrCreate6: %v", err)
	}
	if created2 {
		t.Error("created = true on second call, want false (lookup hit)")
	}
	if s2 != s {
		t.Error("second call returned a different session")
	}
	if bib.RefCount() != 1 {
		t.Errorf("BIB refcount after lookup hit = %d, want still 1", bib.RefCount())
	}
}

func TestSessionDBGetOrCreate4CreatesWithEmbeddedRemote6(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("192.0.2.55"), ID: 80},
		Dst:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		L3:   L3IPv4,
		Prot: ProtoUDP,
	}
	s, created, err := db.GetOrCreate4(tup, bib, time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate4: %v", err)
	}
	if !created {
		t.Fatal("created = false, want true")
	}
	wantRemote6 := netip.MustParseAddr("64:ff9b::c000:237")
	if s.Pair6.Remote.Addr != wantRemote6 {
		t.Errorf("Pair6.Remote.Addr = %s, want %s", s.Pair6.Remote.Addr, wantRemote6)
	}
}

func TestSessionDBGetOrCreate4NoPrefixConfigured(t *testing.T) {
	t.Parallel()

	pool4 := NewPool4()
	pool4.Add(netip.MustParseAddr("203.0.113.1"))
	emptyPool6, err := NewPool6()
	if err != nil {
		t.Fatalf("NewPool6: %v", err)
	}
	bibUDP := NewBIBTable(ProtoUDP, pool4)
	db := NewSessionDB(DefaultSessionDBConfig(), bibUDP, NewBIBTable(ProtoTCP, pool4), NewBIBTable(ProtoICMP, pool4), emptyPool6, nil)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	bibUDP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("192.0.2.55"), ID: 80},
		Dst:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		L3:   L3IPv4,
		Prot: ProtoUDP,
	}
	if _, _, err := db.GetOrCreate4(tup, bib, time.Now()); err != ErrNoMatchingPrefix {
		t.Errorf("GetOrCreate4 with no configured prefix = %v, want ErrNoMatchingPrefix", err)
	}
}

func TestSessionDBAllow(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 80},
		L3:   L3IPv6,
		Prot: ProtoUDP,
	}
	if _, _, err := db.GetOrCreate6(tup, bib, time.Now()); err != nil {
		t.Fatalf("GetOrCreate6: %v", err)
	}

	v4tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("192.0.2.1"), ID: 9999},
		Dst:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		L3:   L3IPv4,
		Prot: ProtoUDP,
	}
	if !db.Allow(v4tup) {
		t.Error("Allow() = false, want true (session exists for this local/remote address pair)")
	}
}

func TestSessionDBDeleteReleasesBIB(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 80},
		L3:   L3IPv6,
		Prot: ProtoUDP,
	}
	s, _, err := db.GetOrCreate6(tup, bib, time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate6: %v", err)
	}

	db.Delete(s)
	if _, ok := db.Get(tup); ok {
		t.Error("session still present after Delete")
	}
	if bib.RefCount() != 0 {
		t.Errorf("BIB refcount after Delete = %d, want 0", bib.RefCount())
	}
}

func TestSessionDBDeleteByBIB(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(bib)

	for i := 0; i < 2; i++ {
		tup := Tuple{
			Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
			Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:2"), ID: uint16(100 + i)},
			L3:   L3IPv6,
			Prot: ProtoUDP,
		}
		if _, _, err := db.GetOrCreate6(tup, bib, time.Now()); err != nil {
			t.Fatalf("GetOrCreate6: %v", err)
		}
	}
	if got := db.Count(ProtoUDP); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}

	db.DeleteByBIB(ProtoUDP, bib)
	if got := db.Count(ProtoUDP); got != 0 {
		t.Errorf("Count after DeleteByBIB = %d, want 0", got)
	}
}

func TestSessionDBFlush(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	udpBIB := newTestBIBEntry(ProtoUDP, pool4)
	db.bibUDP.Add(udpBIB)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 80},
		L3:   L3IPv6,
		Prot: ProtoUDP,
	}
	if _, _, err := db.GetOrCreate6(tup, udpBIB, time.Now()); err != nil {
		t.Fatalf("GetOrCreate6: %v", err)
	}

	db.Flush()
	if got := db.Count(ProtoUDP); got != 0 {
		t.Errorf("Count after Flush = %d, want 0", got)
	}
}

func TestSessionDBOnExpireSimpleDeletesSession(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoICMP, pool4)
	db.bibICMP.Add(bib)

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 1234},
		Dst:  Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 1234},
		L3:   L3IPv6,
		Prot: ProtoICMP,
	}
	db.ICMP.SetTTL(listICMP, 20*time.Millisecond)
	if _, _, err := db.GetOrCreate6(tup, bib, time.Now()); err != nil {
		t.Fatalf("GetOrCreate6: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if db.Count(ProtoICMP) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ICMP session was not expired within 2s of a 20ms TTL configured for this test")
}

func TestSessionDBOnExpireTCPSynNotifiesPending(t *testing.T) {
	t.Parallel()

	db, pool4 := newTestSessionDB(t)
	bib := newTestBIBEntry(ProtoTCP, pool4)
	db.bibTCP.Add(bib)

	notified := make(chan []byte, 1)
	db.SetSynTimeoutNotifier(func(s *Session, pkt []byte) {
		notified <- pkt
	})

	tup := Tuple{
		Src:  Endpoint{Addr: netip.MustParseAddr("192.0.2.55"), ID: 80},
		Dst:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: 4000},
		L3:   L3IPv4,
		Prot: ProtoTCP,
	}
	s, _, err := db.GetOrCreate4(tup, bib, time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate4: %v", err)
	}
	s.TCP = TCPV4Init
	db.TCP.moveTo(s, listSyn, time.Now())
	db.pending.Add(s, []byte{1, 2, 3})

	select {
	case pkt := <-notified:
		if len(pkt) != 3 {
			t.Errorf("notified pkt = %v, want 3 bytes", pkt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SynTimeoutNotifier was not called within 2s of a 20ms SYN TTL")
	}
}
