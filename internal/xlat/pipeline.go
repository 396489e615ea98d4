package xlat

import (
	"encoding/binary"
	"hash/fnv"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var globalFragID atomic.Uint32

func nextFragID() uint32 { return globalFragID.Add(1) }

func l4HeaderLen(prot Proto) int {
	switch prot {
	case ProtoTCP:
		return 20
	case ProtoUDP:
		return 8
	case ProtoICMP:
		return 8
	default:
		return 0
	}
}

// ipv4Identification picks the outgoing IPv4 header's Identification
// field for a translated IPv6->IPv4 packet, per cfg.BuildIPv4ID: the
// IPv6 fragment header's low-order 16 bits when the packet carried
// one, a value derived from the flow's addresses and port/identifier
// when BuildIPv4ID asks for one even on unfragmented packets, or zero.
func ipv4Identification(pkt *Packet, s *Session, cfg TranslateConfig) uint16 {
	if pkt.V6.HasFrag {
		return uint16(pkt.V6.FragID)
	}
	if !cfg.BuildIPv4ID {
		return 0
	}
	h := fnv.New32a()
	src := pkt.V6.Src.As16()
	dst := pkt.V6.Dst.As16()
	h.Write(src[:])
	h.Write(dst[:])
	var identBuf [2]byte
	binary.BigEndian.PutUint16(identBuf[:], s.Pair6.Local.ID)
	h.Write(identBuf[:])
	return uint16(h.Sum32())
}

func currentHopLimit(pkt *Packet) int {
	if pkt.L3 == L3IPv4 {
		return int(pkt.V4.TTL)
	}
	return int(pkt.V6.HopLimit)
}

// translate computes the outgoing addressing (already implicit in the
// session's translated pairs) and synthesizes the translated packet.
// Returns either one or more
// fragments on outL3, or (when an oversized IPv4->IPv6 datagram had
// DF set) an ICMPv4 error to send back toward the real IPv4 sender
// instead.
func (t *Translator) translate(s *Session, pkt *Packet, outL3 L3, now time.Time) (frags [][]byte, replyL3 L3, reply []byte, err error) {
	hop := currentHopLimit(pkt)
	if hop <= 1 {
		return nil, 0, nil, ErrHopLimitExceeded
	}

	funcs, ok := translatorTable[dispatchKey(pkt.L3, pkt.Prot)]
	if !ok {
		return nil, 0, nil, ErrUnknownProto
	}
	l4Bytes, rawProto, err := funcs.translateL4(t, s, pkt, outL3)
	if err != nil {
		return nil, 0, nil, err
	}

	if outL3 == L3IPv4 {
		h4 := &IPv4Header{
			TOS: tosFromTrafficClass(pkt.V6.TrafficClass, t.cfg),
			ID: ipv4Identification(pkt, s, t.cfg),
			DF: t.cfg.DFAlwaysOn,
			TTL: byte(hop - 1),
			Protocol: rawProto,
			Src: s.Pair4.Local.Addr,
			Dst: s.Pair4.Remote.Addr,
		}
		return [][]byte{buildIPv4Header(h4, l4Bytes)}, 0, nil, nil
	}

	if rawProto == protoICMPv6 {
		finalizeICMPv6Checksum(l4Bytes, s.Pair6.Remote.Addr, s.Pair6.Local.Addr)
	}

	h6 := IPv6Header{
		TrafficClass: tcFromTOS(pkt.V4.TOS, t.cfg),
		NextHeader: rawProto,
		HopLimit: byte(hop - 1),
		Src: s.Pair6.Remote.Addr,
		Dst: s.Pair6.Local.Addr,
	}
	total := ipv6HeaderLen + len(l4Bytes)
	mtu := t.cfg.MinIPv6MTU
	if mtu <= 0 {
		mtu = 1280
	}
	if total <= mtu {
		return [][]byte{buildIPv6Header(&h6, l4Bytes)}, 0, nil, nil
	}

	if pkt.V4.DF {
		replyPkt, rerr := t.buildFragNeededICMPv4(s, pkt, mtu-20)
		if rerr != nil {
			return nil, 0, nil, rerr
		}
		return nil, L3IPv4, replyPkt, nil
	}

	frags, ferr := fragmentIPv6(h6, l4Bytes, l4HeaderLen(pkt.Prot), mtu, nextFragID())
	if ferr != nil {
		return nil, 0, nil, ferr
	}
	return frags, 0, nil, nil
}

func tosFromTrafficClass(tc byte, cfg TranslateConfig) byte {
	if cfg.ResetTOS {
		return cfg.NewTOS
	}
	return tc
}

func tcFromTOS(tos byte, cfg TranslateConfig) byte {
	if cfg.ResetTrafficClass {
		return cfg.NewTOS
	}
	return tos
}

// buildFragNeededICMPv4 synthesizes an ICMPv4 Destination
// Unreachable/Fragmentation Needed (type 3, code 4) referencing the
// offending IPv4 datagram, sent from the flow's own pool4 address back
// toward the real IPv4 sender.
func (t *Translator) buildFragNeededICMPv4(s *Session, pkt *Packet, nextHopMTU int) ([]byte, error) {
	orig := buildIPv4Header(pkt.V4, pkt.L4)
	if len(orig) > 28 {
		orig = orig[:28]
	}
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeDestinationUnreachable,
		Code: 4,
		Body: &icmp.DstUnreach{Data: orig},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return nil, err
	}
	if nextHopMTU < 68 {
		nextHopMTU = 68
	}
	binary.BigEndian.PutUint16(b[6:8], uint16(nextHopMTU))
	b[2], b[3] = 0, 0
	cksum := checksum(b)
	binary.BigEndian.PutUint16(b[2:4], cksum)

	h4 := &IPv4Header{
		DF: false,
		TTL: 64,
		Protocol: protoICMPv4,
		Src: s.Pair4.Local.Addr,
		Dst: pkt.V4.Src,
	}
	return buildIPv4Header(h4, b), nil
}
