package xlat

import (
	"container/list"
	"sync"
	"time"
)

// Pair6 is the IPv6-family pair of a Session. Local is the real IPv6
// host (matches the owning BIB entry's Addr6); Remote is the
// 64:ff9b::-style embedded representation of the IPv4 peer.
type Pair6 struct {
	Local  Endpoint
	Remote Endpoint
}

// Pair4 is the IPv4-family pair of a Session. Local is the pool4
// address assigned by the BIB (matches the owning BIB entry's Addr4);
// Remote is the real IPv4 peer.
type Pair4 struct {
	Local  Endpoint
	Remote Endpoint
}

// Session is a per-flow connection record. TCP is
// the meaningful field only when Proto == ProtoTCP; it is TCPClosed
// (the zero value) for UDP and ICMP sessions, which carry no FSM.
type Session struct {
	Proto Proto
	Pair6 Pair6
	Pair4 Pair4
	TCP   TCPState
	BIB   *BIBEntry

	UpdateTime time.Time

	list *sessionList
	elem *list.Element
}

// sessionList is one of the five expirer FIFOs: a doubly linked list
// of Sessions ordered by UpdateTime ascending,
// with a single TTL shared by every entry on it and one timer armed
// for the head's deadline. The "walk oldest-first, stop at first
// unexpired" algorithm depends on this ordering.
type sessionList struct {
	name string
	ttl  time.Duration

	items *list.List // of *Session
	timer *time.Timer
}

func newSessionList(name string, ttl time.Duration) *sessionList {
	return &sessionList{name: name, ttl: ttl, items: list.New()}
}

// append adds s to the tail and sets its UpdateTime to now. Caller
// holds the owning table's mutex.
func (sl *sessionList) append(s *Session, now time.Time) {
	s.elem = sl.items.PushBack(s)
	s.list = sl
	s.UpdateTime = now
}

// unlink removes s from its current list. Caller holds the owning
// table's mutex.
func (sl *sessionList) unlink(s *Session) {
	if s.elem != nil {
		sl.items.Remove(s.elem)
		s.elem = nil
	}
}

// touch moves s to the tail of sl (unlinking it from wherever it was
// first) and refreshes UpdateTime.
func (sl *sessionList) touch(s *Session, now time.Time) {
	if s.list != nil {
		s.list.unlink(s)
	}
	sl.append(s, now)
}

// nextDeadline returns the time the head of the list expires, if any.
func (sl *sessionList) nextDeadline() (time.Time, bool) {
	front := sl.items.Front()
	if front == nil {
		return time.Time{}, false
	}
	return front.Value.(*Session).UpdateTime.Add(sl.ttl), true
}

// popExpired removes and returns every session at the head of the
// list whose deadline is <= now, stopping at the first unexpired one
// (the list is sorted by UpdateTime, so this is correct and O(k) in
// the number of expired entries).
func (sl *sessionList) popExpired(now time.Time) []*Session {
	var expired []*Session
	for {
		front := sl.items.Front()
		if front == nil {
			break
		}
		s := front.Value.(*Session)
		if s.UpdateTime.Add(sl.ttl).After(now) {
			break
		}
		sl.items.Remove(front)
		s.elem = nil
		s.list = nil
		expired = append(expired, s)
	}
	return expired
}

// SessionTable holds every Session for one L4 protocol, dual-indexed
// by its IPv6 pair and its IPv4 pair. lists holds the named expirer
// FIFOs this protocol's sessions move between.
type SessionTable struct {
	proto Proto

	mu    sync.Mutex
	by6   map[Pair6]*Session
	by4   map[Pair4]*Session
	lists map[string]*sessionList

	// localRemoteCount supports SessionDB.Allow: a count of live
	// sessions sharing (pair4.Local, pair4.Remote.Addr), ignoring the
	// remote port, for address-dependent filtering.
	localRemoteCount map[addrPairKey]int

	// onExpire is invoked (outside the table mutex) for each session
	// popped off an expired list's head. Set once via SetExpireFunc
	// before the table takes traffic.
	onExpire func(listName string, s *Session)

	closed bool
}

type addrPairKey struct {
	local      Endpoint
	remoteAddr [16]byte
}

func newAddrPairKey(p Pair4) addrPairKey {
	return addrPairKey{local: p.Local, remoteAddr: p.Remote.Addr.As16()}
}

// NewSessionTable constructs a table for proto with the given named
// expirer lists (e.g. {"udp": 5min} or {"tcp_est": 2h, "tcp_trans":
// 4min, "syn": 6s}).
func NewSessionTable(proto Proto, ttls map[string]time.Duration) *SessionTable {
	t := &SessionTable{
		proto:            proto,
		by6:              make(map[Pair6]*Session),
		by4:              make(map[Pair4]*Session),
		lists:            make(map[string]*sessionList),
		localRemoteCount: make(map[addrPairKey]int),
	}
	for name, ttl := range ttls {
		t.lists[name] = newSessionList(name, ttl)
	}
	return t
}

// SetTTL updates a named list's TTL; nothing in the daemon calls it,
// since GENERAL UPDATE is rejected. It does not retroactively expire
// anything; the new TTL applies to the next deadline computation.
func (t *SessionTable) SetTTL(list string, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sl, ok := t.lists[list]; ok {
		sl.ttl = ttl
	}
}

// getBy6 looks up a session by its IPv6 pair.
func (t *SessionTable) getBy6(p Pair6) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.by6[p]
	return s, ok
}

// getBy4 looks up a session by its IPv4 pair.
func (t *SessionTable) getBy4(p Pair4) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.by4[p]
	return s, ok
}

// allow reports whether some session shares p's (local, remote
// address) pair, ignoring the remote port.
func (t *SessionTable) allow(p Pair4) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localRemoteCount[newAddrPairKey(p)] > 0
}

// insert adds s to both indices and onto listName's tail, retaining a
// reference on its BIB entry. Returns ErrSessionExists if either index
// already has an entry for s's pairs.
func (t *SessionTable) insert(s *Session, listName string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.by6[s.Pair6]; ok {
		return ErrSessionExists
	}
	if _, ok := t.by4[s.Pair4]; ok {
		return ErrSessionExists
	}
	t.by6[s.Pair6] = s
	t.by4[s.Pair4] = s
	t.localRemoteCount[newAddrPairKey(s.Pair4)]++
	sl := t.lists[listName]
	sl.append(s, now)
	t.armTimer(sl)
	return nil
}

// remove deletes s from both indices and its current expirer list.
func (t *SessionTable) remove(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(s)
}

func (t *SessionTable) removeLocked(s *Session) {
	delete(t.by6, s.Pair6)
	delete(t.by4, s.Pair4)
	key := newAddrPairKey(s.Pair4)
	if n := t.localRemoteCount[key] - 1; n > 0 {
		t.localRemoteCount[key] = n
	} else {
		delete(t.localRemoteCount, key)
	}
	if s.list != nil {
		s.list.unlink(s)
	}
}

// moveTo moves s onto listName's tail, refreshing UpdateTime so the
// session is treated as freshly active.
func (t *SessionTable) moveTo(s *Session, listName string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sl := t.lists[listName]
	sl.touch(s, now)
	t.armTimer(sl)
}

// touch refreshes s's UpdateTime on its current list without changing
// which list it is on (e.g. UDP/ICMP traffic refresh, or ESTABLISHED
// keepalive per the FSM's ActionRefreshEstIfEstablished).
func (t *SessionTable) touch(s *Session, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sl := s.list
	if sl == nil {
		return
	}
	sl.touch(s, now)
	t.armTimer(sl)
}

// forEach calls f for every session in the table.
func (t *SessionTable) forEach(f func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.by6 {
		f(s)
	}
}

func (t *SessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.by6)
}

// armTimer (re)schedules sl's timer for its head's deadline, stopping
// any pending timer first, or just stops it when sl is empty. Rescheduling
// happens with the table mutex held; the actual time.AfterFunc firing
// runs the callback which re-takes the mutex itself, so work inside
// the callback is not done here.
func (t *SessionTable) armTimer(sl *sessionList) {
	deadline, ok := sl.nextDeadline()
	if !ok {
		if sl.timer != nil {
			sl.timer.Stop()
		}
		return
	}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	if sl.timer != nil {
		sl.timer.Stop()
	}
	sl.timer = time.AfterFunc(delay, func() {
		t.fire(sl)
	})
}

// SetExpireFunc installs the callback SessionDB uses to react to
// session expiry (see SessionDB.onExpire for the dispatch logic).
func (t *SessionTable) SetExpireFunc(f func(listName string, s *Session)) {
	t.onExpire = f
}

func (t *SessionTable) fire(sl *sessionList) {
	t.mu.Lock()
	now := time.Now()
	expired := sl.popExpired(now)
	// Re-arm before releasing the lock so a burst of near-simultaneous
	// deadlines doesn't leave the list unwatched.
	t.armTimer(sl)
	t.mu.Unlock()

	for _, s := range expired {
		if t.onExpire != nil {
			t.onExpire(sl.name, s)
		}
	}
}

// close cancels every list's timer, for deterministic teardown.
func (t *SessionTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, sl := range t.lists {
		if sl.timer != nil {
			sl.timer.Stop()
		}
	}
}
