package xlat

import (
	"encoding/binary"
	"net/netip"
)

// TranslateConfig carries the header-translation knobs of the daemon's
// GENERAL configuration.
type TranslateConfig struct {
	ResetTrafficClass bool
	ResetTOS bool
	NewTOS byte
	DFAlwaysOn bool
	BuildIPv4ID bool
	LowerMTUFail bool
	MTUPlateaus []int // sorted descending, deduplicated, nonempty
	MinIPv6MTU int
}

// DefaultTranslateConfig returns the RFC 6145-recommended defaults.
func DefaultTranslateConfig() TranslateConfig {
	return TranslateConfig{
		DFAlwaysOn: true,
		LowerMTUFail: true,
		MTUPlateaus: []int{65535, 32000, 17914, 8166, 4352, 2002, 1492, 1006, 508, 296, 68},
		MinIPv6MTU: 1280,
	}
}

// translateTCPUDP rewrites the source/destination ports of a TCP or
// UDP segment and recomputes its checksum across the new
// pseudo-header. It returns a new slice;
// l4 is not mutated.
func translateTCPUDP(prot Proto, l4 []byte, newSrcPort, newDstPort uint16, newSrc, newDst netip.Addr, rawProto byte) ([]byte, error) {
	if len(l4) < 4 {
		return nil, ErrMalformedPacket
	}
	out := make([]byte, len(l4))
	copy(out, l4)
	binary.BigEndian.PutUint16(out[0:2], newSrcPort)
	binary.BigEndian.PutUint16(out[2:4], newDstPort)

	cksumOffset := 16
	if prot == ProtoUDP {
		cksumOffset = 6
		if len(out) < 8 {
			return nil, ErrMalformedPacket
		}
	} else if len(out) < 20 {
		return nil, ErrMalformedPacket
	}

	out[cksumOffset] = 0
	out[cksumOffset+1] = 0
	sum := pseudoHeaderSum(newSrc, newDst, rawProto, len(out))
	sum = checksumAdd(sum, out)
	cksum := checksumFold(sum)
	if prot == ProtoUDP && cksum == 0 {
		cksum = 0xFFFF // RFC 768: a computed checksum of 0 is transmitted as all-ones.
	}
	binary.BigEndian.PutUint16(out[cksumOffset:cksumOffset+2], cksum)
	return out, nil
}

// translatorFuncs is a precomputed function table indexed by (l3, l4),
// used in place of a class hierarchy for dispatching translation
// steps.
type translatorFuncs struct {
	// translateL4 builds the outgoing transport header+payload given
	// the outgoing L3 addresses and the session's translated ports.
	translateL4 func(tr *Translator, s *Session, pkt *Packet, outL3 L3) ([]byte, byte, error)
}

func dispatchKey(l3 L3, l4 Proto) [2]uint8 { return [2]uint8{uint8(l3), uint8(l4)} }

var translatorTable = map[[2]uint8]translatorFuncs{
	dispatchKey(L3IPv6, ProtoTCP): {translateL4: translateTCPUDPStep},
	dispatchKey(L3IPv6, ProtoUDP): {translateL4: translateTCPUDPStep},
	dispatchKey(L3IPv4, ProtoTCP): {translateL4: translateTCPUDPStep},
	dispatchKey(L3IPv4, ProtoUDP): {translateL4: translateTCPUDPStep},
	dispatchKey(L3IPv6, ProtoICMP): {translateL4: translateICMPStep},
	dispatchKey(L3IPv4, ProtoICMP): {translateL4: translateICMPStep},
}

// translateTCPUDPStep adapts translateTCPUDP to the translatorFuncs
// signature, picking the session's translated ports for the packet's
// direction.
func translateTCPUDPStep(_ *Translator, s *Session, pkt *Packet, outL3 L3) ([]byte, byte, error) {
	var srcPort, dstPort uint16
	var newSrc, newDst netip.Addr
	var rawProto byte

	if outL3 == L3IPv4 {
		// Translating IPv6 -> IPv4: the outgoing datagram leaves from
		// this host's pool4 address toward the real IPv4 peer.
		srcPort, dstPort = s.Pair4.Local.ID, s.Pair4.Remote.ID
		newSrc, newDst = s.Pair4.Local.Addr, s.Pair4.Remote.Addr
		rawProto = rawFromProto(pkt.Prot, L3IPv4)
	} else {
		// Translating IPv4 -> IPv6: the outgoing datagram appears to
		// come from the synthesized representation of the real IPv4
		// peer, addressed to the real IPv6 client.
		srcPort, dstPort = s.Pair6.Remote.ID, s.Pair6.Local.ID
		newSrc, newDst = s.Pair6.Remote.Addr, s.Pair6.Local.Addr
		rawProto = rawFromProto(pkt.Prot, L3IPv6)
	}
	out, err := translateTCPUDP(pkt.Prot, pkt.L4, srcPort, dstPort, newSrc, newDst, rawProto)
	return out, rawProto, err
}
