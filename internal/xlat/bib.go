package xlat

import (
	"sync"
	"sync/atomic"
)

// BIBEntry is a long-lived IPv6<->IPv4 transport-address mapping for
// one L4 protocol. Static entries (created through the control
// channel) survive with refcount 0; dynamic entries are released once
// their last Session goes away.
type BIBEntry struct {
	Addr6  Endpoint
	Addr4  Endpoint
	Proto  Proto
	Static bool

	refcount atomic.Int32
}

// RefCount returns the number of live Sessions referencing this entry.
func (e *BIBEntry) RefCount() int32 { return e.refcount.Load() }

// BIBTable holds all BIB entries for a single L4 protocol, indexed by
// both sides so v6->v4 and v4->v6 lookups are O(1).
// Two indices over one logical set of entries; every mutation updates
// both under the table's single mutex.
type BIBTable struct {
	proto Proto
	pool4 *Pool4

	mu  sync.RWMutex
	by6 map[Endpoint]*BIBEntry
	by4 map[Endpoint]*BIBEntry
}

// NewBIBTable constructs an empty table for the given protocol. pool4
// is used to release port reservations when dynamic entries die.
func NewBIBTable(proto Proto, pool4 *Pool4) *BIBTable {
	return &BIBTable{
		proto: proto,
		pool4: pool4,
		by6:   make(map[Endpoint]*BIBEntry),
		by4:   make(map[Endpoint]*BIBEntry),
	}
}

// GetBy6 looks up an entry by its IPv6 side.
func (t *BIBTable) GetBy6(addr6 Endpoint) (*BIBEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.by6[addr6]
	return e, ok
}

// GetBy4 looks up an entry by its IPv4 side.
func (t *BIBTable) GetBy4(addr4 Endpoint) (*BIBEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.by4[addr4]
	return e, ok
}

// Add inserts entry, rejecting it if either side is already bound.
func (t *BIBTable) Add(e *BIBEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.by6[e.Addr6]; ok {
		return ErrDuplicateBIB
	}
	if _, ok := t.by4[e.Addr4]; ok {
		return ErrDuplicateBIB
	}
	t.by6[e.Addr6] = e
	t.by4[e.Addr4] = e
	return nil
}

// Remove deletes entry from both indices and releases its port
// reservation if it is dynamic. It does not check refcount; callers
// (the SessionDB, or an operator FLUSH/REMOVE) are responsible for
// only calling Remove once no Session can legitimately still need it,
// or for accepting the cascading Session deletion that implies.
func (t *BIBTable) Remove(e *BIBEntry) {
	t.mu.Lock()
	delete(t.by6, e.Addr6)
	delete(t.by4, e.Addr4)
	t.mu.Unlock()

	if !e.Static {
		t.pool4.Release(e.Addr4.Addr, e.Addr4.ID, e.Proto)
	}
}

// ForEach calls f for every entry in an unspecified order. f must not
// call back into the table.
func (t *BIBTable) ForEach(f func(*BIBEntry)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.by6 {
		f(e)
	}
}

// Count returns the number of live entries.
func (t *BIBTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.by6)
}

// Retain increments entry's refcount, called when a Session starts
// referencing it.
func (t *BIBTable) Retain(e *BIBEntry) {
	e.refcount.Add(1)
}

// Release decrements entry's refcount; if it reaches zero and the
// entry is dynamic, the entry is removed from the table and its port
// is released.
func (t *BIBTable) Release(e *BIBEntry) {
	if e.refcount.Add(-1) == 0 && !e.Static {
		t.Remove(e)
	}
}
