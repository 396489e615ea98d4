package xlat

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// Raw IP protocol numbers (IANA), used on the wire regardless of
// address family. golang.org/x/sys/unix exposes the same values as
// IPPROTO_* constants; they are restated here as untyped constants so
// the packet codec does not need to import unix just for numbers
// already fixed by the wire format itself.
const (
	protoICMPv4 = 1
	protoTCP = 6
	protoUDP = 17
	protoICMPv6 = 58
	protoFrag6 = 44 // IPv6 Fragment extension header
)

// ipv6HeaderLen is the fixed IPv6 base header size; extension headers
// (here, only the Fragment header) follow it.
const ipv6HeaderLen = 40
const ipv6FragHeaderLen = 8

// IPv4Header is the subset of an IPv4 header this translator reads or
// synthesizes. It is intentionally a plain struct rather than a
// wrapper around golang.org/x/net/ipv4.Header, whose ParseHeader
// helper this package still uses internally (see ParseIPv4Packet);
// buildIPv4Header writes the header bytes itself.
type IPv4Header struct {
	TOS byte
	TotalLen int
	ID uint16
	DF bool
	MF bool
	FragOffset int // in 8-byte units
	TTL byte
	Protocol byte // raw IANA protocol number
	Src netip.Addr
	Dst netip.Addr
}

// IPv6Header is the subset of an IPv6 header (plus an optional
// Fragment extension header) this translator reads or synthesizes.
type IPv6Header struct {
	TrafficClass byte
	PayloadLen int
	NextHeader byte // protocol of the payload following any fragment header
	HopLimit byte
	Src netip.Addr
	Dst netip.Addr

	HasFrag bool
	FragID uint32
	FragOffset int // in 8-byte units
	MoreFragments bool
}

// Packet is a parsed IPv4 or IPv6 packet together with its demuxed
// transport-layer payload.
type Packet struct {
	L3 L3
	V4 *IPv4Header
	V6 *IPv6Header
	Prot Proto // ProtoNone for any IPv4 fragment and for a non-initial IPv6 fragment
	L4 []byte
}

// ParseIPv4Packet parses an IPv4 datagram using golang.org/x/net/ipv4's
// header parser for the fixed/options portion.
func ParseIPv4Packet(buf []byte) (*Packet, error) {
	if len(buf) < ipv4.HeaderLen {
		return nil, ErrMalformedPacket
	}
	h, err := ipv4.ParseHeader(buf)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	src, ok := netip.AddrFromSlice(h.Src.To4())
	if !ok {
		return nil, ErrMalformedPacket
	}
	dst, ok := netip.AddrFromSlice(h.Dst.To4())
	if !ok {
		return nil, ErrMalformedPacket
	}
	if h.Len > len(buf) {
		return nil, ErrMalformedPacket
	}

	df := h.Flags&ipv4.DontFragment != 0
	mf := h.Flags&ipv4.MoreFragments != 0

	p := &Packet{
		L3: L3IPv4,
		V4: &IPv4Header{
			TOS: byte(h.TOS),
			TotalLen: h.TotalLen,
			ID: uint16(h.ID),
			DF: df,
			MF: mf,
			FragOffset: h.FragOff,
			TTL: byte(h.TTL),
			Protocol: byte(h.Protocol),
			Src: src,
			Dst: dst,
		},
		L4: buf[h.Len:minInt(h.TotalLen, len(buf))],
	}
	if mf || h.FragOff != 0 {
		p.Prot = ProtoNone
	} else {
		p.Prot = protoFromRaw(byte(h.Protocol))
	}
	return p, nil
}

// ParseIPv6Packet hand-parses the fixed 40-byte IPv6 header and, if
// present, a single Fragment extension header. golang.org/x/net/ipv6
// does not expose a general-purpose wire parser (it is a socket
// control-message package, unlike golang.org/x/net/ipv4), so this
// uses the same manual encoding/binary approach as the IPv4 side.
func ParseIPv6Packet(buf []byte) (*Packet, error) {
	if len(buf) < ipv6HeaderLen {
		return nil, ErrMalformedPacket
	}
	if buf[0]>>4 != 6 {
		return nil, ErrMalformedPacket
	}
	tc := (buf[0]&0x0F)<<4 | buf[1]>>4
	payloadLen := int(binary.BigEndian.Uint16(buf[4:6]))
	nextHeader := buf[6]
	hopLimit := buf[7]

	src, ok := netip.AddrFromSlice(buf[8:24])
	if !ok {
		return nil, ErrMalformedPacket
	}
	dst, ok := netip.AddrFromSlice(buf[24:40])
	if !ok {
		return nil, ErrMalformedPacket
	}
	if ipv6HeaderLen+payloadLen > len(buf) {
		return nil, ErrMalformedPacket
	}

	h := &IPv6Header{
		TrafficClass: tc,
		PayloadLen: payloadLen,
		NextHeader: nextHeader,
		HopLimit: hopLimit,
		Src: src,
		Dst: dst,
	}

	l4Start := ipv6HeaderLen
	if nextHeader == protoFrag6 {
		if len(buf) < ipv6HeaderLen+ipv6FragHeaderLen {
			return nil, ErrMalformedPacket
		}
		frag := buf[ipv6HeaderLen : ipv6HeaderLen+ipv6FragHeaderLen]
		h.NextHeader = frag[0]
		offsetAndFlags := binary.BigEndian.Uint16(frag[2:4])
		h.HasFrag = true
		h.FragOffset = int(offsetAndFlags >> 3)
		h.MoreFragments = offsetAndFlags&0x1 != 0
		h.FragID = binary.BigEndian.Uint32(frag[4:8])
		l4Start += ipv6FragHeaderLen
	}

	p := &Packet{L3: L3IPv6, V6: h, L4: buf[l4Start:minInt(ipv6HeaderLen+payloadLen, len(buf))]}
	if h.HasFrag && h.FragOffset != 0 {
		p.Prot = ProtoNone
	} else {
		p.Prot = protoFromRaw(h.NextHeader)
	}
	return p, nil
}

func protoFromRaw(raw byte) Proto {
	switch raw {
	case protoTCP:
		return ProtoTCP
	case protoUDP:
		return ProtoUDP
	case protoICMPv4, protoICMPv6:
		return ProtoICMP
	default:
		return ProtoNone
	}
}

func rawFromProto(p Proto, l3 L3) byte {
	switch p {
	case ProtoTCP:
		return protoTCP
	case ProtoUDP:
		return protoUDP
	case ProtoICMP:
		if l3 == L3IPv6 {
			return protoICMPv6
		}
		return protoICMPv4
	default:
		return 0
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// buildIPv4Header serializes h plus payload into a full IPv4 datagram,
// computing the header checksum. It does not use
// golang.org/x/net/ipv4's Marshal (Header has no public Marshal
// method in that package; only ParseHeader is exported), so the
// fixed 20-byte header is assembled manually here, mirroring the
// teacher's own hand-rolled marshal style in packet.go.
func buildIPv4Header(h *IPv4Header, payload []byte) []byte {
	total := 20 + len(payload)
	out := make([]byte, total)
	out[0] = 0x45 // version 4, IHL 5
	out[1] = h.TOS
	binary.BigEndian.PutUint16(out[2:4], uint16(total))
	binary.BigEndian.PutUint16(out[4:6], h.ID)
	flags := uint16(0)
	if h.DF {
		flags |= 0x4000
	}
	if h.MF {
		flags |= 0x2000
	}
	binary.BigEndian.PutUint16(out[6:8], flags|uint16(h.FragOffset&0x1FFF))
	out[8] = h.TTL
	out[9] = h.Protocol
	src4 := h.Src.As4()
	dst4 := h.Dst.As4()
	copy(out[12:16], src4[:])
	copy(out[16:20], dst4[:])
	binary.BigEndian.PutUint16(out[10:12], 0)
	cksum := checksum(out[:20])
	binary.BigEndian.PutUint16(out[10:12], cksum)
	copy(out[20:], payload)
	return out
}

// buildIPv6Header serializes h plus payload into a full IPv6 packet,
// inserting a Fragment extension header when h.HasFrag is set.
func buildIPv6Header(h *IPv6Header, payload []byte) []byte {
	fragLen := 0
	if h.HasFrag {
		fragLen = ipv6FragHeaderLen
	}
	out := make([]byte, ipv6HeaderLen+fragLen+len(payload))
	out[0] = 0x60 | h.TrafficClass>>4
	out[1] = h.TrafficClass << 4
	binary.BigEndian.PutUint16(out[4:6], uint16(fragLen+len(payload)))
	nh := h.NextHeader
	if h.HasFrag {
		nh = protoFrag6
	}
	out[6] = nh
	out[7] = h.HopLimit
	src16 := h.Src.As16()
	dst16 := h.Dst.As16()
	copy(out[8:24], src16[:])
	copy(out[24:40], dst16[:])

	off := ipv6HeaderLen
	if h.HasFrag {
		out[off] = h.NextHeader
		out[off+1] = 0
		offsetFlags := uint16(h.FragOffset<<3) & 0xFFF8
		if h.MoreFragments {
			offsetFlags |= 0x1
		}
		binary.BigEndian.PutUint16(out[off+2:off+4], offsetFlags)
		binary.BigEndian.PutUint32(out[off+4:off+8], h.FragID)
		off += ipv6FragHeaderLen
	}
	copy(out[off:], payload)
	return out
}

// pseudoHeaderSum accumulates the IPv4 or IPv6 pseudo-header used for
// TCP/UDP/ICMPv6 checksums (RFC 793/768/4443).
func pseudoHeaderSum(src, dst netip.Addr, protocol byte, length int) uint32 {
	var sum uint32
	if src.Is4() {
		s, d := src.As4(), dst.As4()
		sum = checksumAdd(sum, s[:])
		sum = checksumAdd(sum, d[:])
		var lp [4]byte
		lp[2] = byte(length >> 8)
		lp[3] = byte(length)
		sum = checksumAdd(sum, lp[:])
		sum += uint32(protocol)
	} else {
		s, d := src.As16(), dst.As16()
		sum = checksumAdd(sum, s[:])
		sum = checksumAdd(sum, d[:])
		var lp [4]byte
		binary.BigEndian.PutUint32(lp[:], uint32(length))
		sum = checksumAdd(sum, lp[:])
		sum += uint32(protocol)
	}
	return sum
}
