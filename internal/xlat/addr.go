package xlat

import "net/netip"

// Prefix6 is an IPv6 translation prefix (RFC 6052 §2.2). Length is
// restricted at load time to one of {32,40,48,56,64,96}; the embedding
// functions below assume a valid length and do not re-check it.
type Prefix6 struct {
	Addr netip.Addr // IPv6, first Length/8 bytes significant
	Len int
}

// validPrefixLens are the only RFC 6052 prefix lengths this pool
// accepts.
var validPrefixLens = [...]int{32, 40, 48, 56, 64, 96}

func isValidPrefixLen(n int) bool {
	for _, v := range validPrefixLens {
		if v == n {
			return true
		}
	}
	return false
}

// addr6To4 extracts the embedded IPv4 address from a6 at the offset
// dictated by prefix.Len, per RFC 6052 §2.2. Octet 8 (the "u" octet) is
// skipped on read and must be zero, or ErrInvalidAddress is returned.
func addr6To4(a6 netip.Addr, prefix Prefix6) (netip.Addr, error) {
	if !a6.Is6() {
		return netip.Addr{}, ErrInvalidAddress
	}
	b := a6.As16()

	prefixBytes := prefix.Len / 8
	var v4 [4]byte
	src := b[prefixBytes:]

	// The embedding skips byte index 8 of the IPv6 address (the "u"
	// octet) once the prefix has consumed bytes up to and including
	// it; for prefixes shorter than 64 bits the suffix bytes used for
	// the IPv4 address do not include byte 8 at all.
	n := 0
	for i := 0; n < 4 && prefixBytes+i < 16; i++ {
		idx := prefixBytes + i
		if idx == 8 {
			if b[8] != 0 {
				return netip.Addr{}, ErrInvalidAddress
			}
			continue
		}
		v4[n] = src[i]
		n++
	}
	if n != 4 {
		return netip.Addr{}, ErrInvalidAddress
	}
	return netip.AddrFrom4(v4), nil
}

// addr4To6 embeds a4 into prefix.Addr at the offset dictated by
// prefix.Len, writing zero into the skipped "u" octet, reversing
// addr6To4.
func addr4To6(a4 netip.Addr, prefix Prefix6) netip.Addr {
	a4b := a4.As4()
	b := prefix.Addr.As16()

	prefixBytes := prefix.Len / 8
	n := 0
	for i := 0; n < 4 && prefixBytes+i < 16; i++ {
		idx := prefixBytes + i
		if idx == 8 {
			b[8] = 0
			continue
		}
		b[idx] = a4b[n]
		n++
	}
	return netip.AddrFrom16(b)
}
