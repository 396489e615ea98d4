package xlat

import (
	"fmt"
	"net/netip"
)

// L3 identifies the network-layer family of a packet or address.
type L3 uint8

const (
	L3None L3 = iota
	L3IPv4
	L3IPv6
)

func (l L3) String() string {
	switch l {
	case L3IPv4:
		return "ipv4"
	case L3IPv6:
		return "ipv6"
	default:
		return "none"
	}
}

// Proto identifies the transport protocol carried by a Tuple. NONE is
// used for non-initial IP fragments, which carry no demuxable L4
// identifier.
type Proto uint8

const (
	ProtoNone Proto = iota
	ProtoUDP
	ProtoTCP
	ProtoICMP
)

func (p Proto) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	case ProtoICMP:
		return "icmp"
	default:
		return "none"
	}
}

// Endpoint is one side of a Tuple: an address plus its L4 identifier
// (port for UDP/TCP, ICMP identifier for ICMP).
type Endpoint struct {
	Addr netip.Addr
	ID uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.ID)
}

// Tuple is the canonical 5-tuple (3-tuple for ICMP, where Src.ID ==
// Dst.ID and holds the ICMP identifier) used to key BIB and Session
// lookups. For an ICMP error, the tuple describes the *inner* packet
// with source and destination swapped.
type Tuple struct {
	Src Endpoint
	Dst Endpoint
	L3 L3
	Prot Proto
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s/%s %s->%s", t.L3, t.Prot, t.Src, t.Dst)
}

// Swapped returns a copy of t with Src and Dst exchanged, used when
// turning an outer ICMP-error tuple into the inner offending flow's
// tuple.
func (t Tuple) Swapped() Tuple {
	t.Src, t.Dst = t.Dst, t.Src
	return t
}
