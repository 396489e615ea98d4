package xlat

import (
	"math/bits"
	"net/netip"
	"sync"
)

// portWords holds one bit per port (0-65535) across 1024 uint64 words,
// one bitmap per L4 protocol per pool4 address: checking or claiming
// a single port is O(1), while searching a port class for a free port
// scans it port by port.
const portWords = 1 << 16 / 64

type portBitmap [portWords]uint64

func (b *portBitmap) isFree(port uint16) bool {
	return b[port/64]&(1<<(port%64)) == 0
}

func (b *portBitmap) set(port uint16) {
	b[port/64] |= 1 << (port % 64)
}

func (b *portBitmap) clear(port uint16) {
	b[port/64] &^= 1 << (port % 64)
}

// firstFreeInClass scans the bitmap for the first free port whose
// parity and range match the requested class.
func (b *portBitmap) firstFreeInClass(parity uint8, systemRange bool) (uint16, bool) {
	lo, hi := uint32(1024), uint32(65536)
	if systemRange {
		lo, hi = 0, 1024
	}
	for port := lo; port < hi; port++ {
		if uint8(port%2) != parity {
			continue
		}
		if b.isFree(uint16(port)) {
			return uint16(port), true
		}
	}
	return 0, false
}

type addr4Entry struct {
	addr netip.Addr
	bitmaps [3]portBitmap // indexed by protoIndex
}

func protoIndex(l4 Proto) int {
	switch l4 {
	case ProtoUDP:
		return 0
	case ProtoTCP:
		return 1
	case ProtoICMP:
		return 2
	default:
		return 0
	}
}

// Pool4 is the set of IPv4 transport addresses available for
// translation, each carrying independent port bitmaps per L4 protocol.
type Pool4 struct {
	mu sync.Mutex
	addrs []*addr4Entry
	byAddr map[netip.Addr]*addr4Entry
	rrNext [3]int // round-robin cursor per protocol, into addrs
}

// NewPool4 constructs an empty Pool4.
func NewPool4() *Pool4 {
	return &Pool4{byAddr: make(map[netip.Addr]*addr4Entry)}
}

// Add registers a4 in the pool with fresh port bitmaps.
func (p *Pool4) Add(a4 netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byAddr[a4]; ok {
		return
	}
	e := &addr4Entry{addr: a4}
	p.addrs = append(p.addrs, e)
	p.byAddr[a4] = e
}

// Remove drops a4 from the pool. Callers are responsible for cascading
// SessionDB cleanup before or after, as needed.
func (p *Pool4) Remove(a4 netip.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byAddr[a4]
	if !ok {
		return false
	}
	delete(p.byAddr, a4)
	for i, existing := range p.addrs {
		if existing == e {
			p.addrs = append(p.addrs[:i], p.addrs[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether a4 is a pool member.
func (p *Pool4) Contains(a4 netip.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byAddr[a4]
	return ok
}

// List returns the configured pool addresses.
func (p *Pool4) List() []netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]netip.Addr, len(p.addrs))
	for i, e := range p.addrs {
		out[i] = e.addr
	}
	return out
}

// GetAnyPort implements the RFC 6146 port-preservation rules: prefer
// the same parity/range class as srcPort6, try the identical port
// number on any pool address first, then scan round-robin within the
// preferred class before falling back to any class.
func (p *Pool4) GetAnyPort(l4 Proto, srcPort6 uint16) (netip.Addr, uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.addrs) == 0 {
		return netip.Addr{}, 0, ErrPool4Empty
	}
	idx := protoIndex(l4)
	parity := uint8(srcPort6 % 2)
	systemRange := srcPort6 < 1024

	// Step 2: exact same port on any pool address.
	for _, e := range p.addrs {
		if e.bitmaps[idx].isFree(srcPort6) {
			e.bitmaps[idx].set(srcPort6)
			return e.addr, srcPort6, nil
		}
	}

	// Step 3: preferred class, round robin starting after last cursor.
	if port, addr, ok := p.scanClass(idx, parity, systemRange); ok {
		return addr, port, nil
	}

	// Step 3 (cont'd): any class fallback.
	for _, altParity := range [2]uint8{0, 1} {
		for _, altRange := range [2]bool{systemRange, !systemRange} {
			if altParity == parity && altRange == systemRange {
				continue
			}
			if port, addr, ok := p.scanClass(idx, altParity, altRange); ok {
				return addr, port, nil
			}
		}
	}

	return netip.Addr{}, 0, ErrPoolExhausted
}

func (p *Pool4) scanClass(idx int, parity uint8, systemRange bool) (uint16, netip.Addr, bool) {
	n := len(p.addrs)
	start := p.rrNext[idx] % n
	for i := 0; i < n; i++ {
		ai := (start + i) % n
		e := p.addrs[ai]
		if port, ok := e.bitmaps[idx].firstFreeInClass(parity, systemRange); ok {
			e.bitmaps[idx].set(port)
			p.rrNext[idx] = (ai + 1) % n
			return port, e.addr, true
		}
	}
	return 0, netip.Addr{}, false
}

// Reserve marks (a4, port) as allocated for l4, e.g. for a static BIB
// entry created through the control channel.
func (p *Pool4) Reserve(a4 netip.Addr, port uint16, l4 Proto) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byAddr[a4]
	if !ok {
		return ErrPool4Empty
	}
	idx := protoIndex(l4)
	if !e.bitmaps[idx].isFree(port) {
		return ErrPoolExhausted
	}
	e.bitmaps[idx].set(port)
	return nil
}

// Release frees (a4, port) for l4 so it can be allocated again.
func (p *Pool4) Release(a4 netip.Addr, port uint16, l4 Proto) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byAddr[a4]; ok {
		e.bitmaps[protoIndex(l4)].clear(port)
	}
}

// usedPorts reports how many ports are in use for l4 across the whole
// pool, for metrics.
func (p *Pool4) usedPorts(l4 Proto) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := protoIndex(l4)
	total := 0
	for _, e := range p.addrs {
		for _, w := range e.bitmaps[idx] {
			total += bits.OnesCount64(w)
		}
	}
	return total
}
