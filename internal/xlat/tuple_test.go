package xlat

import (
	"net/netip"
	"testing"
)

func TestTupleSwapped(t *testing.T) {
	t.Parallel()

	src := Endpoint{Addr: netip.MustParseAddr("192.0.2.1"), ID: 1234}
	dst := Endpoint{Addr: netip.MustParseAddr("192.0.2.2"), ID: 80}
	tuple := Tuple{Src: src, Dst: dst, L3: L3IPv4, Prot: ProtoTCP}

	swapped := tuple.Swapped()
	if swapped.Src != dst || swapped.Dst != src {
		t.Errorf("Swapped() = %+v, want Src=%+v Dst=%+v", swapped, dst, src)
	}
	// Swapped must not mutate the receiver.
	if tuple.Src != src || tuple.Dst != dst {
		t.Errorf("Swapped() mutated the original tuple: %+v", tuple)
	}
}

func TestEndpointString(t *testing.T) {
	t.Parallel()

	e := Endpoint{Addr: netip.MustParseAddr("2001:db8::1"), ID: 443}
	want := "2001:db8::1:443"
	if got := e.String(); got != want {
		t.Errorf("Endpoint.String() = %q, want %q", got, want)
	}
}

func TestProtoString(t *testing.T) {
	t.Parallel()

	cases := map[Proto]string{
		ProtoUDP:  "udp",
		ProtoTCP:  "tcp",
		ProtoICMP: "icmp",
		ProtoNone: "none",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Proto(%d).String() = %q, want %q", p, got, want)
		}
	}
}

func TestL3String(t *testing.T) {
	t.Parallel()

	cases := map[L3]string{
		L3IPv4: "ipv4",
		L3IPv6: "ipv6",
		L3None: "none",
	}
	for l, want := range cases {
		if got := l.String(); got != want {
			t.Errorf("L3(%d).String() = %q, want %q", l, got, want)
		}
	}
}
