package xlat

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Verdict is the outcome of handing one packet through the datapath.
// It mirrors the four-way decision a netfilter-style hook returns.
type Verdict uint8

const (
	// VerdictContinue means the packet was not ours to handle (wrong
	// protocol, no prefix matched) and should continue through whatever
	// processing would have happened had this translator not existed.
	VerdictContinue Verdict = iota
	// VerdictAccept means the packet was translated; TranslatedPacket
	// carries the bytes to send on TranslatedL3.
	VerdictAccept
	// VerdictDrop means the packet matched this translator but could
	// not be forwarded (malformed, no session and not creatable, pool
	// exhausted, TTL/hop-limit exhausted, oversized with DF set).
	VerdictDrop
	// VerdictStolen means the packet was consumed without producing an
	// immediate output (e.g. a bare IPv4 SYN queued in V4_INIT awaiting
	// a possible simultaneous IPv6 SYN).
	VerdictStolen
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "ACCEPT"
	case VerdictDrop:
		return "DROP"
	case VerdictStolen:
		return "STOLEN"
	default:
		return "CONTINUE"
	}
}

// Result is what Translator.Handle returns for one input packet, plus
// any extra fragments the six-stage pipeline must also emit (an ICMPv4
// Destination Unreachable on SYN-queue expiry is not part of any
// Result: it is sent asynchronously through the PacketSink installed
// with SetSink).
type Result struct {
	Verdict Verdict
	L3 L3
	Packet []byte
	// Extra holds any fragments after the first, when IPv4->IPv6
	// translation had to fragment an oversized datagram. Always on the same L3 as Packet.
	Extra [][]byte
}

// Translator is the six-stage NAT64 datapath core.
// It owns no goroutines of its own; callers drive it by calling Handle
// once per received packet, and time-based events come from the
// internal session timers, which fire on their own goroutines.
type Translator struct {
	pool4 *Pool4
	pool6 *Pool6
	bibUDP *BIBTable
	bibTCP *BIBTable
	bibICMP *BIBTable
	sdb *SessionDB

	cfg TranslateConfig

	logger *slog.Logger

	hairpinMaxDepth int

	sink PacketSink

	filterCfg FilterConfig
}

// SetSink installs the PacketSink used to emit the TCP_EST keepalive
// probe and the V4_INIT SYN-timeout ICMP notice. Without one, both
// events are only logged.
func (t *Translator) SetSink(sink PacketSink) { t.sink = sink }

// SetFilterConfig installs the filtering policy (address-dependent UDP
// filtering, ICMPv6 informational message handling, externally-initiated
// TCP). Without a call to this, a Translator runs DefaultFilterConfig.
func (t *Translator) SetFilterConfig(cfg FilterConfig) { t.filterCfg = cfg }

// NewTranslator wires a Translator over already-constructed pools, BIB
// tables and a SessionDB. The caller owns the lifetime of those
// components; Translator.Close only stops the SessionDB's timers.
func NewTranslator(pool4 *Pool4, pool6 *Pool6, bibUDP, bibTCP, bibICMP *BIBTable, sdb *SessionDB, cfg TranslateConfig, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Translator{
		pool4: pool4,
		pool6: pool6,
		bibUDP: bibUDP,
		bibTCP: bibTCP,
		bibICMP: bibICMP,
		sdb: sdb,
		cfg: cfg,
		logger: logger,
		hairpinMaxDepth: hairpinDepthLimit,
		filterCfg: DefaultFilterConfig(),
	}
	sdb.SetProber(t.sendTCPProbe)
	sdb.SetSynTimeoutNotifier(t.sendSynTimeoutICMP)
	return t
}

// Close tears down the Translator's SessionDB timers.
func (t *Translator) Close() {
	t.sdb.Close()
}

// Handle runs the six-stage pipeline on one raw IP packet: extract tuple, filter/update state, compute the outgoing
// tuple, translate, hairpin-check, and report the verdict for the
// caller to act on (send, drop, or nothing for STOLEN).
func (t *Translator) Handle(raw []byte, l3 L3, now time.Time) Result {
	return t.handleDepth(raw, l3, now, 0)
}

func (t *Translator) handleDepth(raw []byte, l3 L3, now time.Time, depth int) Result {
	pkt, err := t.parse(raw, l3)
	if err != nil {
		t.logger.Debug("malformed packet", slog.Any("error", err))
		return Result{Verdict: VerdictDrop}
	}
	if pkt.Prot == ProtoNone {
		// Non-initial fragment or unhandled protocol: not ours.
		return Result{Verdict: VerdictContinue}
	}

	if pkt.Prot == ProtoICMP {
		if _, ok := icmpIdentifier(pkt); !ok {
			if !t.filterCfg.DropICMPv6Info && isICMPv6Informational(pkt) {
				return Result{Verdict: VerdictContinue}
			}
			return t.handleICMPError(pkt, now)
		}
	}

	tuple, ok := t.extractTuple(pkt)
	if !ok {
		return Result{Verdict: VerdictContinue}
	}

	s, verdict, err := t.filterAndUpdate(tuple, pkt, raw, now)
	if err != nil || verdict != VerdictContinue {
		if err != nil {
			t.logger.Debug("filtering rejected packet", slog.String("tuple", tuple.String()), slog.Any("error", err))
		}
		if verdict == VerdictContinue {
			verdict = VerdictDrop
		}
		return Result{Verdict: verdict}
	}

	outL3 := L3IPv4
	if pkt.L3 == L3IPv4 {
		outL3 = L3IPv6
	}

	frags, replyL3, reply, err := t.translate(s, pkt, outL3, now)
	if err != nil {
		t.logger.Debug("translation failed", slog.String("tuple", tuple.String()), slog.Any("error", err))
		return Result{Verdict: VerdictDrop}
	}
	if reply != nil {
		// A too-big IPv4 datagram with DF set produced an ICMP error
		// back toward the original sender instead of a translated
		// packet.
		return Result{Verdict: VerdictAccept, L3: replyL3, Packet: reply}
	}
	if len(frags) == 0 {
		return Result{Verdict: VerdictDrop}
	}
	out := frags[0]

	if outL3 == L3IPv4 && depth < t.hairpinMaxDepth && len(frags) == 1 {
		if dstAddr, ok := extractIPv4Dst(out); ok {
			dst := Endpoint{Addr: dstAddr}
			if (pkt.Prot == ProtoTCP || pkt.Prot == ProtoUDP) && len(out) >= 24 {
				dst.ID = uint16(out[22])<<8 | uint16(out[23])
			}
			if _, found := isHairpin(t.bibUDP, t.bibTCP, t.bibICMP, pkt.Prot, dst); found {
				return t.handleDepth(out, L3IPv4, now, depth+1)
			}
		}
	}

	return Result{Verdict: VerdictAccept, L3: outL3, Packet: out, Extra: frags[1:]}
}

func (t *Translator) parse(raw []byte, l3 L3) (*Packet, error) {
	if l3 == L3IPv4 {
		return ParseIPv4Packet(raw)
	}
	return ParseIPv6Packet(raw)
}

// extractTuple builds the canonical lookup tuple for pkt (stage 1).
// ICMP query packets use their identifier as both Src.ID and Dst.ID;
// ICMP error packets are not tuple-addressable here (handleDepth hands
// them to handleICMPError, which looks up the swapped inner tuple,
// before this is called).
func (t *Translator) extractTuple(pkt *Packet) (Tuple, bool) {
	switch pkt.Prot {
	case ProtoTCP, ProtoUDP:
		if len(pkt.L4) < 4 {
			return Tuple{}, false
		}
		srcPort := uint16(pkt.L4[0])<<8 | uint16(pkt.L4[1])
		dstPort := uint16(pkt.L4[2])<<8 | uint16(pkt.L4[3])
		return tupleFromHeader(pkt, srcPort, dstPort), true
	case ProtoICMP:
		id, ok := icmpIdentifier(pkt)
		if !ok {
			// ICMP error: the *inner* flow's tuple, swapped, is what
			// matters; handleICMPError deals with it by re-parsing
			// and does not need a tuple from here, so report not-ours
			// for the outer lookup path.
			return Tuple{}, false
		}
		return tupleFromHeader(pkt, id, id), true
	default:
		return Tuple{}, false
	}
}

func tupleFromHeader(pkt *Packet, srcID, dstID uint16) Tuple {
	if pkt.L3 == L3IPv4 {
		return Tuple{
			Src: Endpoint{Addr: pkt.V4.Src, ID: srcID},
			Dst: Endpoint{Addr: pkt.V4.Dst, ID: dstID},
			L3: L3IPv4,
			Prot: pkt.Prot,
		}
	}
	return Tuple{
		Src: Endpoint{Addr: pkt.V6.Src, ID: srcID},
		Dst: Endpoint{Addr: pkt.V6.Dst, ID: dstID},
		L3: L3IPv6,
		Prot: pkt.Prot,
	}
}

func icmpIdentifier(pkt *Packet) (uint16, bool) {
	if len(pkt.L4) < 6 {
		return 0, false
	}
	typ := pkt.L4[0]
	isQuery := typ == 8 || typ == 0 || typ == 128 || typ == 129
	if !isQuery {
		return 0, false
	}
	return uint16(pkt.L4[4])<<8 | uint16(pkt.L4[5]), true
}

func extractIPv4Dst(buf []byte) (netip.Addr, bool) {
	if len(buf) < 20 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte{buf[16], buf[17], buf[18], buf[19]}), true
}

// sendTCPProbe emits a minimal IPv6 TCP segment with only the ACK flag
// set toward the real IPv6 host, sourced from its synthesized IPv4-peer
// address, to refresh an otherwise idle ESTABLISHED session. Sequence
// and acknowledgment numbers are left at zero: this probe exists to
// elicit any response (even an RST) that proves the path is still
// live, not to carry meaningful stream state.
func (t *Translator) sendTCPProbe(s *Session) {
	t.logger.Debug("tcp established timer expired, probing", slog.String("pair6", s.Pair6.Local.String()))
	if t.sink == nil {
		return
	}
	seg := buildMinimalTCPAck(s.Pair6.Remote.ID, s.Pair6.Local.ID, s.Pair6.Remote.Addr, s.Pair6.Local.Addr, protoTCP)
	h := &IPv6Header{NextHeader: protoTCP, HopLimit: 64, Src: s.Pair6.Remote.Addr, Dst: s.Pair6.Local.Addr}
	raw := buildIPv6Header(h, seg)
	if err := t.sink.Send(context.Background(), RawPacket{L3: L3IPv6, Data: raw}); err != nil {
		t.logger.Debug("failed to send tcp_est probe", slog.Any("error", err))
	}
}

// sendSynTimeoutICMP emits an ICMPv4 Destination Unreachable (Host
// Unreachable) back toward the original SYN's sender, embedding as
// much of the stored packet as fits, once a V4_INIT session's SYN
// timer expires with no matching IPv6 SYN ever arriving.
func (t *Translator) sendSynTimeoutICMP(s *Session, pkt []byte) {
	t.logger.Debug("v4_init syn timer expired, emitting icmpv4 destination unreachable", slog.String("pair4", s.Pair4.Local.String()))
	if t.sink == nil {
		return
	}
	p, err := ParseIPv4Packet(pkt)
	if err != nil {
		t.logger.Debug("cannot parse stored syn for icmp timeout notice", slog.Any("error", err))
		return
	}
	inner := pkt
	if len(inner) > 28 {
		inner = inner[:28] // IPv4 header + first 8 bytes of the TCP header, per RFC 792.
	}
	msg := &icmp.Message{Type: ipv4.ICMPTypeDestinationUnreachable, Code: 1, Body: &icmp.DstUnreach{Data: inner}}
	body, err := msg.Marshal(nil)
	if err != nil {
		t.logger.Debug("failed to marshal syn-timeout icmp", slog.Any("error", err))
		return
	}
	h := &IPv4Header{TTL: 64, Protocol: protoICMPv4, Src: p.V4.Dst, Dst: p.V4.Src}
	raw := buildIPv4Header(h, body)
	if err := t.sink.Send(context.Background(), RawPacket{L3: L3IPv4, Data: raw}); err != nil {
		t.logger.Debug("failed to send syn-timeout icmp", slog.Any("error", err))
	}
}

// buildMinimalTCPAck assembles a 20-byte, option-free TCP header (ACK
// flag only, zero sequence/ack/window/data) with its checksum computed
// over the given pseudo-header.
func buildMinimalTCPAck(srcPort, dstPort uint16, src, dst netip.Addr, rawProto byte) []byte {
	hdr := make([]byte, 20)
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	hdr[12] = 5 << 4 // data offset: 5 32-bit words, no options
	hdr[13] = tcpFlagACK
	sum := pseudoHeaderSum(src, dst, rawProto, len(hdr))
	sum = checksumAdd(sum, hdr)
	binary.BigEndian.PutUint16(hdr[16:18], checksumFold(sum))
	return hdr
}
