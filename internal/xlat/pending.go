package xlat

import (
	"container/list"
	"sync"
)

// PendingPacket is a stored IPv4 SYN awaiting a possible simultaneous
// IPv6 SYN.
type PendingPacket struct {
	Session *Session
	Packet []byte
}

// PendingSynQueue bounds the total number of IPv4 SYNs stored across
// all V4_INIT sessions; the oldest entry is evicted on overflow. The
// session left behind by an eviction is not touched — only its stored
// packet is lost.
type PendingSynQueue struct {
	mu sync.Mutex
	capacity int
	order *list.List // of *PendingPacket, oldest at front
	bySess map[*Session]*list.Element
}

// NewPendingSynQueue constructs a queue bounded to capacity entries.
func NewPendingSynQueue(capacity int) *PendingSynQueue {
	return &PendingSynQueue{
		capacity: capacity,
		order: list.New(),
		bySess: make(map[*Session]*list.Element),
	}
}

// Add stores pkt for session, evicting the oldest entry first if the
// queue is already at capacity. Returns the evicted packet, if any.
func (q *PendingSynQueue) Add(session *Session, pkt []byte) (evicted *PendingPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.bySess[session]; ok {
		q.order.Remove(e)
		delete(q.bySess, session)
	}

	if q.order.Len() >= q.capacity && q.capacity > 0 {
		front := q.order.Front()
		if front != nil {
			ev := front.Value.(*PendingPacket)
			q.order.Remove(front)
			delete(q.bySess, ev.Session)
			evicted = ev
		}
	}

	e := q.order.PushBack(&PendingPacket{Session: session, Packet: pkt})
	q.bySess[session] = e
	return evicted
}

// Remove cancels any pending packet for session (e.g. on transition to
// ESTABLISHED or deletion for a reason other than V4_INIT expiry). The
// stored packet, if any, is simply discarded — no ICMP is emitted.
func (q *PendingSynQueue) Remove(session *Session) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.bySess[session]; ok {
		q.order.Remove(e)
		delete(q.bySess, session)
	}
}

// Take removes and returns the pending packet for session, if any.
// Used by the V4_INIT expiry path, which must emit an ICMP referencing
// the stored packet before dropping it.
func (q *PendingSynQueue) Take(session *Session) (*PendingPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.bySess[session]
	if !ok {
		return nil, false
	}
	q.order.Remove(e)
	delete(q.bySess, session)
	return e.Value.(*PendingPacket), true
}

// Len reports the number of packets currently queued, for metrics.
func (q *PendingSynQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}
