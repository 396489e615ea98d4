package xlat

import (
	"encoding/binary"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// icmpErrorHeaderLen is the fixed size of the type/code/checksum/unused
// fields common to every ICMPv4 and ICMPv6 error message, before the
// embedded offending packet.
const icmpErrorHeaderLen = 8

// handleICMPError is the entry point for ICMP error messages, which
// carry no identifier of their own to key a BIB/Session lookup: the
// embedded offending packet's own tuple is looked up instead,
// read-only (an ICMP error never creates a BIB entry or Session), and
// the matching session's translated addressing is reused for both the
// outer ICMP header and the recursively translated inner packet.
func (t *Translator) handleICMPError(pkt *Packet, now time.Time) Result {
	if len(pkt.L4) < icmpErrorHeaderLen {
		return Result{Verdict: VerdictDrop}
	}
	inner := pkt.L4[icmpErrorHeaderLen:]

	var innerPkt *Packet
	var err error
	if pkt.L3 == L3IPv4 {
		innerPkt, err = ParseIPv4Packet(inner)
	} else {
		innerPkt, err = ParseIPv6Packet(inner)
	}
	if err != nil || innerPkt.Prot == ProtoNone {
		return Result{Verdict: VerdictDrop}
	}

	tuple := tupleFromHeader(innerPkt, 0, 0)
	if innerPkt.Prot == ProtoTCP || innerPkt.Prot == ProtoUDP {
		if len(innerPkt.L4) >= 4 {
			tuple.Src.ID = uint16(innerPkt.L4[0])<<8 | uint16(innerPkt.L4[1])
			tuple.Dst.ID = uint16(innerPkt.L4[2])<<8 | uint16(innerPkt.L4[3])
		}
	} else if id, ok := icmpIdentifier(innerPkt); ok {
		tuple.Src.ID, tuple.Dst.ID = id, id
	}

	s, ok := t.sdb.Get(tuple.Swapped())
	if !ok {
		return Result{Verdict: VerdictDrop}
	}

	outL3 := L3IPv4
	if pkt.L3 == L3IPv4 {
		outL3 = L3IPv6
	}
	frags, replyL3, reply, terr := t.translate(s, pkt, outL3, now)
	if terr != nil {
		return Result{Verdict: VerdictDrop}
	}
	if reply != nil {
		return Result{Verdict: VerdictAccept, L3: replyL3, Packet: reply}
	}
	if len(frags) == 0 {
		return Result{Verdict: VerdictDrop}
	}
	return Result{Verdict: VerdictAccept, L3: outL3, Packet: frags[0], Extra: frags[1:]}
}

// translateICMPStep implements ICMP translation: query translation
// (echo request/reply, identifier rewritten to the session's aliased
// value) and error translation (RFC 6145 §4.2/§4.3 type/code mapping
// plus recursive inner-packet translation). It is registered in
// translatorTable for both (L3IPv6, ProtoICMP) and (L3IPv4, ProtoICMP).
func translateICMPStep(tr *Translator, s *Session, pkt *Packet, outL3 L3) ([]byte, byte, error) {
	inProto := protoICMPv4
	if pkt.L3 == L3IPv6 {
		inProto = protoICMPv6
	}
	msg, err := icmp.ParseMessage(inProto, pkt.L4)
	if err != nil {
		return nil, 0, ErrMalformedPacket
	}

	var newID uint16
	if outL3 == L3IPv4 {
		newID = s.Pair4.Local.ID
	} else {
		newID = s.Pair6.Local.ID
	}

	if isICMPQuery(pkt.L3, msg.Type) {
		return translateICMPQuery(msg, pkt.L3, outL3, newID)
	}
	return translateICMPError(tr, msg, pkt.L3, outL3)
}

func isICMPQuery(l3 L3, t icmp.Type) bool {
	if l3 == L3IPv4 {
		return t == ipv4.ICMPTypeEcho || t == ipv4.ICMPTypeEchoReply
	}
	return t == ipv6.ICMPTypeEchoRequest || t == ipv6.ICMPTypeEchoReply
}

// translateICMPQuery rewrites an echo request/reply's type to the
// opposite family and its identifier to newID, preserving sequence
// number and data.
func translateICMPQuery(msg *icmp.Message, inL3, outL3 L3, newID uint16) ([]byte, byte, error) {
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return nil, 0, ErrMalformedPacket
	}
	out := &icmp.Echo{ID: int(newID), Seq: echo.Seq, Data: echo.Data}

	var outType icmp.Type
	var rawProto byte
	if outL3 == L3IPv4 {
		rawProto = protoICMPv4
		if msg.Type == ipv6.ICMPTypeEchoRequest {
			outType = ipv4.ICMPTypeEcho
		} else {
			outType = ipv4.ICMPTypeEchoReply
		}
	} else {
		rawProto = protoICMPv6
		if msg.Type == ipv4.ICMPTypeEcho {
			outType = ipv6.ICMPTypeEchoRequest
		} else {
			outType = ipv6.ICMPTypeEchoReply
		}
	}

	out2 := &icmp.Message{Type: outType, Code: 0, Body: out}
	b, err := marshalICMP(out2, outL3, netip.Addr{}, netip.Addr{})
	if err != nil {
		return nil, 0, err
	}
	return b, rawProto, nil
}

// translateICMPError maps an ICMPv4/ICMPv6 error message's type and
// code (RFC 6145 §4.2/§4.3) and recursively translates the embedded
// offending packet.
func translateICMPError(tr *Translator, msg *icmp.Message, inL3, outL3 L3) ([]byte, byte, error) {
	var inner []byte
	switch b := msg.Body.(type) {
	case *icmp.DstUnreach:
		inner = b.Data
	case *icmp.TimeExceeded:
		inner = b.Data
	case *icmp.ParamProb:
		inner = b.Data
	case *icmp.PacketTooBig:
		inner = b.Data
	default:
		return nil, 0, ErrUnsupportedICMP
	}

	translatedInner, err := translateInnerPacket(tr, inL3, outL3, inner)
	if err != nil {
		return nil, 0, err
	}

	var outType icmp.Type
	var outCode int
	var body icmp.MessageBody
	var rawProto byte

	if outL3 == L3IPv4 {
		rawProto = protoICMPv4
		t, c, mtu, e := mapErrorToV4(msg)
		if e != nil {
			return nil, 0, e
		}
		outType, outCode = t, c
		switch outType {
		case ipv4.ICMPTypeDestinationUnreachable:
			if outCode == 4 {
				body = &icmp.PacketTooBig{MTU: mtu, Data: translatedInner}
			} else {
				body = &icmp.DstUnreach{Data: translatedInner}
			}
		case ipv4.ICMPTypeTimeExceeded:
			body = &icmp.TimeExceeded{Data: translatedInner}
		case ipv4.ICMPTypeParameterProblem:
			body = &icmp.ParamProb{Pointer: uintptr(mtu), Data: translatedInner}
		default:
			return nil, 0, ErrUnsupportedICMP
		}
	} else {
		rawProto = protoICMPv6
		t, c, mtu, e := mapErrorToV6(msg)
		if e != nil {
			return nil, 0, e
		}
		outType, outCode = t, c
		switch outType {
		case ipv6.ICMPTypePacketTooBig:
			body = &icmp.PacketTooBig{MTU: mtu, Data: translatedInner}
		case ipv6.ICMPTypeDestinationUnreachable:
			body = &icmp.DstUnreach{Data: translatedInner}
		case ipv6.ICMPTypeTimeExceeded:
			body = &icmp.TimeExceeded{Data: translatedInner}
		case ipv6.ICMPTypeParameterProblem:
			body = &icmp.ParamProb{Pointer: uintptr(mtu), Data: translatedInner}
		default:
			return nil, 0, ErrUnsupportedICMP
		}
	}

	out := &icmp.Message{Type: outType, Code: outCode, Body: body}
	b, err := marshalICMP(out, outL3, netip.Addr{}, netip.Addr{})
	if err != nil {
		return nil, 0, err
	}
	return b, rawProto, nil
}

// mapErrorToV6 implements the ICMPv4->ICMPv6 error type/code mapping
// of RFC 6145 §4.2. mtu carries either the adjusted Packet Too Big MTU
// or, for Parameter Problem, the translated pointer value.
func mapErrorToV6(msg *icmp.Message) (icmp.Type, int, int, error) {
	switch msg.Type {
	case ipv4.ICMPTypeDestinationUnreachable:
		switch msg.Code {
		case 0, 1, 5, 6, 7, 8, 11, 12:
			return ipv6.ICMPTypeDestinationUnreachable, 0, 0, nil
		case 2:
			// protocol unreachable -> parameter problem, pointer at
			// the Next Header field of the synthesized IPv6 header.
			return ipv6.ICMPTypeParameterProblem, 1, 6, nil
		case 3:
			return ipv6.ICMPTypeDestinationUnreachable, 4, 0, nil
		case 4:
			// golang.org/x/net/icmp does not expose the RFC 1191
			// next-hop-MTU field carried in an ICMPv4 type 3 code 4
			// message's unused header word, so no hint is available
			// here; clampMTU6 falls back to the default MinIPv6MTU.
			return ipv6.ICMPTypePacketTooBig, 0, clampMTU6(0), nil
		case 9, 10, 13:
			return ipv6.ICMPTypeDestinationUnreachable, 1, 0, nil
		default:
			return ipv6.ICMPTypeDestinationUnreachable, 0, 0, nil
		}
	case ipv4.ICMPTypeTimeExceeded:
		return ipv6.ICMPTypeTimeExceeded, msg.Code, 0, nil
	case ipv4.ICMPTypeParameterProblem:
		return ipv6.ICMPTypeParameterProblem, 0, mapV4PointerToV6(msg.Code), nil
	default:
		return nil, 0, 0, ErrUnsupportedICMP
	}
}

// mapErrorToV4 implements the ICMPv6->ICMPv4 error type/code mapping
// of RFC 6145 §4.3.
func mapErrorToV4(msg *icmp.Message) (icmp.Type, int, int, error) {
	switch msg.Type {
	case ipv6.ICMPTypeDestinationUnreachable:
		switch msg.Code {
		case 0, 2, 3:
			return ipv4.ICMPTypeDestinationUnreachable, 1, 0, nil
		case 1:
			return ipv4.ICMPTypeDestinationUnreachable, 13, 0, nil
		case 4:
			return ipv4.ICMPTypeDestinationUnreachable, 3, 0, nil
		default:
			return ipv4.ICMPTypeDestinationUnreachable, 1, 0, nil
		}
	case ipv6.ICMPTypePacketTooBig:
		mtu := 0
		if b, ok := msg.Body.(*icmp.PacketTooBig); ok {
			mtu = b.MTU - 20
		}
		if mtu < 68 {
			mtu = 68
		}
		return ipv4.ICMPTypeDestinationUnreachable, 4, mtu, nil
	case ipv6.ICMPTypeTimeExceeded:
		return ipv4.ICMPTypeTimeExceeded, msg.Code, 0, nil
	case ipv6.ICMPTypeParameterProblem:
		switch msg.Code {
		case 1:
			return ipv4.ICMPTypeDestinationUnreachable, 2, 0, nil
		default:
			return ipv4.ICMPTypeParameterProblem, 0, 0, nil
		}
	default:
		return nil, 0, 0, ErrUnsupportedICMP
	}
}

func mapV4PointerToV6(code int) int { return code }

// clampMTU6 adjusts an IPv4 "Fragmentation Needed" MTU hint for the
// synthesized ICMPv6 Packet Too Big message. A zero hint yields
// DefaultTranslateConfig().MinIPv6MTU, not the running config's value.
func clampMTU6(ipv4MTU int) int {
	if ipv4MTU == 0 {
		return DefaultTranslateConfig().MinIPv6MTU
	}
	return ipv4MTU + 20
}

// marshalICMP serializes msg. ICMPv6 checksums are computed over a
// pseudo-header (RFC 4443 §2.3); since the pseudo-header's addresses
// are only known by the caller building the outer IP header, and the
// golang.org/x/net/icmp Marshal API accepts a precomputed psh slice,
// a zero-length placeholder is used here and the checksum is finished
// by the caller once source/destination are known (see
// finalizeICMPv6Checksum).
func marshalICMP(msg *icmp.Message, outL3 L3, src, dst netip.Addr) ([]byte, error) {
	return msg.Marshal(nil)
}

// finalizeICMPv6Checksum recomputes an ICMPv6 message's checksum over
// the real pseudo-header once the outer IPv6 addresses are known. It
// must be called on every ICMPv6 message produced by this package
// before it is sent; ICMPv4 needs no such step since its checksum has
// no pseudo-header.
func finalizeICMPv6Checksum(b []byte, src, dst netip.Addr) {
	if len(b) < 4 {
		return
	}
	b[2] = 0
	b[3] = 0
	sum := pseudoHeaderSum(src, dst, protoICMPv6, len(b))
	sum = checksumAdd(sum, b)
	cksum := checksumFold(sum)
	binary.BigEndian.PutUint16(b[2:4], cksum)
}

// translateInnerPacket recursively translates the offending packet
// embedded in an ICMP error: translate the inner IP header (addresses
// only; the inner flow need not match any live BIB/session entry, so
// ports are passed through unmodified) and return the full translated
// inner packet, without fragmenting.
func translateInnerPacket(tr *Translator, inL3, outL3 L3, inner []byte) ([]byte, error) {
	if len(inner) == 0 {
		return nil, nil
	}
	if inL3 == L3IPv4 {
		return translateInnerV4ToV6(tr, inner)
	}
	return translateInnerV6ToV4(tr, inner)
}

func translateInnerV4ToV6(tr *Translator, inner []byte) ([]byte, error) {
	p, err := ParseIPv4Packet(inner)
	if err != nil {
		// Truncated below a full header; pass through rather than
		// failing the whole outer ICMP translation.
		return inner, nil
	}
	prefix, ok := tr.pool6.Any()
	if !ok {
		return inner, nil
	}
	h6 := &IPv6Header{
		TrafficClass: p.V4.TOS,
		NextHeader: rawFromProto(p.Prot, L3IPv6),
		HopLimit: p.V4.TTL,
		Src: addr4To6(p.V4.Src, prefix),
		Dst: addr4To6(p.V4.Dst, prefix),
	}
	return buildIPv6Header(h6, p.L4), nil
}

func translateInnerV6ToV4(tr *Translator, inner []byte) ([]byte, error) {
	p, err := ParseIPv6Packet(inner)
	if err != nil {
		return inner, nil
	}
	prefix, ok := tr.pool6.Match(p.V6.Src)
	if !ok {
		prefix, ok = tr.pool6.Match(p.V6.Dst)
	}
	if !ok {
		return inner, nil
	}
	src4, err := addr6To4(p.V6.Src, prefix)
	if err != nil {
		return inner, nil
	}
	dst4, err := addr6To4(p.V6.Dst, prefix)
	if err != nil {
		return inner, nil
	}
	h4 := &IPv4Header{
		TOS: p.V6.TrafficClass,
		DF: true,
		TTL: p.V6.HopLimit,
		Protocol: rawFromProto(p.Prot, L3IPv4),
		Src: src4,
		Dst: dst4,
	}
	return buildIPv4Header(h4, p.L4), nil
}
