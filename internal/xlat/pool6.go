package xlat

import (
	"net/netip"
	"sync"
)

// Pool6 is the ordered set of IPv6 translation prefixes. It classifies incoming IPv6 destinations as translatable and
// extracts the embedded IPv4 address.
type Pool6 struct {
	mu sync.RWMutex
	prefixes []Prefix6
}

// NewPool6 builds a Pool6, rejecting any prefix whose length is outside
// {32,40,48,56,64,96} at load time.
func NewPool6(prefixes...Prefix6) (*Pool6, error) {
	p := &Pool6{}
	for _, pre := range prefixes {
		if err := p.Add(pre); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add inserts a prefix into the pool.
func (p *Pool6) Add(pre Prefix6) error {
	if !isValidPrefixLen(pre.Len) {
		return ErrInvalidPrefixLen
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefixes = append(p.prefixes, pre)
	return nil
}

// Remove deletes a prefix matching addr/len, if present.
func (p *Pool6) Remove(pre Prefix6) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.prefixes {
		if existing.Addr == pre.Addr && existing.Len == pre.Len {
			p.prefixes = append(p.prefixes[:i], p.prefixes[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a snapshot of the configured prefixes.
func (p *Pool6) List() []Prefix6 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Prefix6, len(p.prefixes))
	copy(out, p.prefixes)
	return out
}

// Count returns the number of configured prefixes.
func (p *Pool6) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.prefixes)
}

// Match returns the first configured prefix a6 falls under, if any.
func (p *Pool6) Match(a6 netip.Addr) (Prefix6, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pre := range p.prefixes {
		if prefixContains(pre, a6) {
			return pre, true
		}
	}
	return Prefix6{}, false
}

// Any returns an arbitrary configured prefix, used when embedding an
// IPv4 source address for a v4-initiated flow with no destination
// prefix to match against.
func (p *Pool6) Any() (Prefix6, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.prefixes) == 0 {
		return Prefix6{}, false
	}
	return p.prefixes[0], true
}

// Translate6To4 extracts the IPv4 address embedded in a6, matching a6
// against the pool first.
func (p *Pool6) Translate6To4(a6 netip.Addr) (netip.Addr, error) {
	pre, ok := p.Match(a6)
	if !ok {
		return netip.Addr{}, ErrNoMatchingPrefix
	}
	return addr6To4(a6, pre)
}

func prefixContains(pre Prefix6, a6 netip.Addr) bool {
	if !a6.Is6() {
		return false
	}
	pb := pre.Addr.As16()
	ab := a6.As16()
	fullBytes := pre.Len / 8
	for i := 0; i < fullBytes; i++ {
		if pb[i] != ab[i] {
			return false
		}
	}
	remBits := pre.Len % 8
	if remBits == 0 {
		return true
	}
	mask := byte(0xFF << (8 - remBits))
	return pb[fullBytes]&mask == ab[fullBytes]&mask
}
