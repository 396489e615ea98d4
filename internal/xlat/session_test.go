package xlat

import (
	"net/netip"
	"testing"
	"time"
)

func testPair6(port uint16) Pair6 {
	return Pair6{
		Local:  Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: port},
		Remote: Endpoint{Addr: netip.MustParseAddr("64:ff9b::c000:201"), ID: 80},
	}
}

func testPair4(port uint16) Pair4 {
	return Pair4{
		Local:  Endpoint{Addr: netip.MustParseAddr("203.0.113.1"), ID: port},
		Remote: Endpoint{Addr: netip.MustParseAddr("192.0.2.1"), ID: 80},
	}
}

func TestSessionTableInsertGetRemove(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	now := time.Unix(1000, 0)

	if err := tbl.insert(s, "udp", now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, ok := tbl.getBy6(s.Pair6); !ok || got != s {
		t.Errorf("getBy6 = %+v, %v, want %+v, true", got, ok, s)
	}
	if got, ok := tbl.getBy4(s.Pair4); !ok || got != s {
		t.Errorf("getBy4 = %+v, %v, want %+v, true", got, ok, s)
	}
	if got := tbl.count(); got != 1 {
		t.Errorf("count() = %d, want 1", got)
	}

	tbl.remove(s)
	if _, ok := tbl.getBy6(s.Pair6); ok {
		t.Error("getBy6 found session after remove")
	}
	if got := tbl.count(); got != 0 {
		t.Errorf("count() after remove = %d, want 0", got)
	}
}

func TestSessionTableInsertDuplicateRejected(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	now := time.Unix(1000, 0)
	s1 := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s1, "udp", now); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s2 := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(3000)}
	if err := tbl.insert(s2, "udp", now); err != ErrSessionExists {
		t.Errorf("insert duplicate Pair6 = %v, want ErrSessionExists", err)
	}
}

func TestSessionTableInsertAfterCloseRejected(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	tbl.close()

	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s, "udp", time.Unix(1000, 0)); err != ErrClosed {
		t.Errorf("insert after close = %v, want ErrClosed", err)
	}
}

func TestSessionTableAllowTracksLocalRemoteCount(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	now := time.Unix(1000, 0)
	p4 := testPair4(2000)

	if tbl.allow(p4) {
		t.Error("allow() = true before any session exists for this (local, remoteAddr)")
	}

	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: p4}
	if err := tbl.insert(s, "udp", now); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Different remote port, same (local, remoteAddr): allow() ignores
	// the remote port.
	otherPort := p4
	otherPort.Remote.ID = 9999
	if !tbl.allow(otherPort) {
		t.Error("allow() = false for matching (local, remoteAddr) with different remote port")
	}

	tbl.remove(s)
	if tbl.allow(p4) {
		t.Error("allow() = true after the only referencing session was removed")
	}
}

func TestSessionTableTouchRefreshesUpdateTime(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	t0 := time.Unix(1000, 0)
	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s, "udp", t0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	t1 := t0.Add(30 * time.Second)
	tbl.touch(s, t1)
	if !s.UpdateTime.Equal(t1) {
		t.Errorf("UpdateTime = %v, want %v", s.UpdateTime, t1)
	}
}

func TestSessionTableMoveToChangesList(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoTCP, map[string]time.Duration{
		"tcp_trans": time.Minute,
		"tcp_est":   time.Hour,
	})
	t0 := time.Unix(1000, 0)
	s := &Session{Proto: ProtoTCP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s, "tcp_trans", t0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.list != tbl.lists["tcp_trans"] {
		t.Fatal("session not on tcp_trans list after insert")
	}

	t1 := t0.Add(time.Second)
	tbl.moveTo(s, "tcp_est", t1)
	if s.list != tbl.lists["tcp_est"] {
		t.Error("session not moved to tcp_est list")
	}
	if !s.UpdateTime.Equal(t1) {
		t.Errorf("UpdateTime after moveTo = %v, want %v", s.UpdateTime, t1)
	}
}

func TestSessionTableForEach(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": time.Minute})
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		s := &Session{
			Proto: ProtoUDP,
			Pair6: testPair6(uint16(1000 + i)),
			Pair4: testPair4(uint16(2000 + i)),
		}
		if err := tbl.insert(s, "udp", now); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	count := 0
	tbl.forEach(func(*Session) { count++ })
	if count != 3 {
		t.Errorf("forEach visited %d sessions, want 3", count)
	}
}

func TestSessionTableExpireFiresOnExpireCallback(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": 20 * time.Millisecond})
	expired := make(chan *Session, 1)
	tbl.SetExpireFunc(func(listName string, s *Session) {
		if listName != "udp" {
			t.Errorf("expired list name = %q, want udp", listName)
		}
		expired <- s
	})

	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s, "udp", time.Now()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case got := <-expired:
		if got != s {
			t.Error("onExpire called with a different session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onExpire was not called within 2s of a 20ms TTL")
	}
}

func TestSessionTableCloseStopsTimers(t *testing.T) {
	t.Parallel()

	tbl := NewSessionTable(ProtoUDP, map[string]time.Duration{"udp": 20 * time.Millisecond})
	fired := make(chan struct{}, 1)
	tbl.SetExpireFunc(func(string, *Session) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	s := &Session{Proto: ProtoUDP, Pair6: testPair6(1000), Pair4: testPair4(2000)}
	if err := tbl.insert(s, "udp", time.Now()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	tbl.close()

	select {
	case <-fired:
		t.Error("onExpire fired after close()")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionListPopExpiredOrdering(t *testing.T) {
	t.Parallel()

	sl := newSessionList("test", 10*time.Second)
	base := time.Unix(1000, 0)
	s1 := &Session{}
	s2 := &Session{}
	s3 := &Session{}
	sl.append(s1, base)
	sl.append(s2, base.Add(5*time.Second))
	sl.append(s3, base.Add(20*time.Second))

	// At base+12s, only s1 (deadline base+10s) has expired; s2
	// (deadline base+15s) has not.
	expired := sl.popExpired(base.Add(12 * time.Second))
	if len(expired) != 1 || expired[0] != s1 {
		t.Fatalf("popExpired = %v, want [s1]", expired)
	}

	// s2 and s3 remain, in order.
	deadline, ok := sl.nextDeadline()
	if !ok {
		t.Fatal("nextDeadline() ok = false, want true")
	}
	if want := base.Add(15 * time.Second); !deadline.Equal(want) {
		t.Errorf("nextDeadline() = %v, want %v", deadline, want)
	}
}

func TestSessionListTouchReordersToTail(t *testing.T) {
	t.Parallel()

	sl := newSessionList("test", time.Minute)
	base := time.Unix(1000, 0)
	s1 := &Session{}
	s2 := &Session{}
	sl.append(s1, base)
	sl.append(s2, base.Add(time.Second))

	// Touching s1 should move it behind s2, and first-expiry should now
	// reflect s2's (earlier, untouched) deadline.
	sl.touch(s1, base.Add(10*time.Second))
	deadline, ok := sl.nextDeadline()
	if !ok {
		t.Fatal("nextDeadline() ok = false")
	}
	want := base.Add(time.Second).Add(time.Minute)
	if !deadline.Equal(want) {
		t.Errorf("nextDeadline() after touch = %v, want %v (s2's deadline)", deadline, want)
	}
}
