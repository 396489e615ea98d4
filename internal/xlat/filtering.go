package xlat

import "time"

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagACK = 0x10
)

// FilterConfig carries the translator's drop-policy knobs: whether UDP keeps
// address-dependent filtering, whether ICMPv6 informational messages
// (ND/RA/MLD, none of which this translator rewrites) are dropped or
// passed through untouched, and whether an externally-initiated
// (bare IPv4) TCP SYN may open a session via simultaneous open at all.
type FilterConfig struct {
	DropByAddr bool
	DropICMPv6Info bool
	DropExternalTCP bool
}

// DefaultFilterConfig matches the behavior this translator had before
// FilterConfig existed: address-dependent UDP filtering on, ICMPv6
// informational messages dropped, external TCP SYNs held in V4_INIT
// awaiting a simultaneous IPv6 open rather than rejected outright.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{DropByAddr: true, DropICMPv6Info: true, DropExternalTCP: false}
}

// isICMPv6Informational reports whether pkt carries an ICMPv6
// informational message this translator never rewrites: MLD
// query/report/done (130-132), Neighbor Discovery RS/RA/NS/NA (133-136)
// and Redirect (137). These only ever appear on-link and have no
// business crossing a NAT64 boundary either way.
func isICMPv6Informational(pkt *Packet) bool {
	if pkt.L3 != L3IPv6 || len(pkt.L4) < 1 {
		return false
	}
	typ := pkt.L4[0]
	return typ >= 130 && typ <= 137
}

func (t *Translator) bibFor(l4 Proto) *BIBTable {
	switch l4 {
	case ProtoUDP:
		return t.bibUDP
	case ProtoTCP:
		return t.bibTCP
	case ProtoICMP:
		return t.bibICMP
	default:
		return nil
	}
}

// tcpEvent classifies a TCP segment's flags for the FSM, preferring
// RST, then FIN, then SYN, then Other.
func tcpEvent(l4 []byte, l3 L3) TCPEvent {
	if len(l4) < 14 {
		return EventOther
	}
	flags := l4[13]
	switch {
	case flags&tcpFlagRST != 0:
		return EventRst
	case flags&tcpFlagSYN != 0 && l3 == L3IPv6:
		return EventV6Syn
	case flags&tcpFlagSYN != 0 && l3 == L3IPv4:
		return EventV4Syn
	case flags&tcpFlagFIN != 0 && l3 == L3IPv6:
		return EventV6Fin
	case flags&tcpFlagFIN != 0 && l3 == L3IPv4:
		return EventV4Fin
	default:
		return EventOther
	}
}

// filterAndUpdate looks up or creates the BIB entry and Session for
// tuple, drives the TCP FSM for TCP segments, and applies the
// resulting timer/pending-queue side effects. Verdict is
// VerdictContinue when the packet should proceed to translation;
// VerdictStolen when it was queued (bare IPv4 SYN awaiting a
// simultaneous IPv6 SYN) and nothing more happens now; VerdictDrop
// otherwise (err explains why).
func (t *Translator) filterAndUpdate(tuple Tuple, pkt *Packet, raw []byte, now time.Time) (*Session, Verdict, error) {
	bibTbl := t.bibFor(pkt.Prot)
	if bibTbl == nil {
		return nil, VerdictDrop, ErrUnknownProto
	}

	if pkt.L3 == L3IPv6 {
		return t.filterV6(bibTbl, tuple, pkt, now)
	}
	return t.filterV4(bibTbl, tuple, pkt, raw, now)
}

func (t *Translator) filterV6(bibTbl *BIBTable, tuple Tuple, pkt *Packet, now time.Time) (*Session, Verdict, error) {
	bib, ok := bibTbl.GetBy6(tuple.Src)
	if !ok {
		addr4, port, err := t.pool4.GetAnyPort(pkt.Prot, tuple.Src.ID)
		if err != nil {
			return nil, VerdictDrop, err
		}
		bib = &BIBEntry{Addr6: tuple.Src, Addr4: Endpoint{Addr: addr4, ID: port}, Proto: pkt.Prot}
		if err := bibTbl.Add(bib); err != nil {
			t.pool4.Release(addr4, port, pkt.Prot)
			return nil, VerdictDrop, err
		}
	}

	s, created, err := t.sdb.GetOrCreate6(tuple, bib, now)
	if err != nil {
		if created {
			// Never reached today (GetOrCreate6 only errors before
			// insert), kept for symmetry with filterV4's cleanup path.
			bibTbl.Release(bib)
		}
		return nil, VerdictDrop, err
	}

	if pkt.Prot == ProtoTCP {
		t.driveFSM(s, pkt, L3IPv6, now)
	} else {
		t.sdb.Touch(s, now)
	}
	return s, VerdictContinue, nil
}

func (t *Translator) filterV4(bibTbl *BIBTable, tuple Tuple, pkt *Packet, raw []byte, now time.Time) (*Session, Verdict, error) {
	bib, ok := bibTbl.GetBy4(tuple.Dst)
	if !ok {
		// No BIB entry (dynamic or static) maps this IPv4 destination:
		// address-dependent filtering rejects the packet outright.
		return nil, VerdictDrop, ErrBIBNotFound
	}

	if pkt.Prot == ProtoTCP && tcpEvent(pkt.L4, L3IPv4) == EventV4Syn {
		if _, exists := t.sdb.tableFor(ProtoTCP).getBy4(Pair4{Local: tuple.Dst, Remote: tuple.Src}); !exists {
			if t.filterCfg.DropExternalTCP {
				return nil, VerdictDrop, ErrExternalTCPRejected
			}
			return t.stealV4Syn(bib, tuple, raw, now)
		}
	}

	if pkt.Prot == ProtoUDP && t.filterCfg.DropByAddr && !t.sdb.Allow(tuple) {
		return nil, VerdictDrop, ErrSessionNotFound
	}

	s, _, err := t.sdb.GetOrCreate4(tuple, bib, now)
	if err != nil {
		return nil, VerdictDrop, err
	}

	if pkt.Prot == ProtoTCP {
		t.driveFSM(s, pkt, L3IPv4, now)
	} else {
		t.sdb.Touch(s, now)
	}
	return s, VerdictContinue, nil
}

// stealV4Syn implements the pending-SYN queue: a
// bare IPv4 SYN with no corresponding session yet creates one in
// V4_INIT, queues the raw packet, and is STOLEN rather than forwarded
// until either a matching IPv6 SYN arrives (simultaneous open) or the
// SYN timer expires.
func (t *Translator) stealV4Syn(bib *BIBEntry, tuple Tuple, raw []byte, now time.Time) (*Session, Verdict, error) {
	s, _, err := t.sdb.GetOrCreate4(tuple, bib, now)
	if err != nil {
		return nil, VerdictDrop, err
	}
	s.TCP = TCPV4Init
	t.sdb.MoveTCP(s, listSyn, now)
	if evicted := t.sdb.pending.Add(s, raw); evicted != nil {
		t.logger.Debug("pending syn queue full, evicted oldest entry")
	}
	return s, VerdictStolen, nil
}

// driveFSM applies the TCP FSM transition for one segment and carries
// out the resulting actions against the Session DB and pending queue.
// It never changes the verdict: TCP segments that don't match a known
// transition are still forwarded unmoved.
func (t *Translator) driveFSM(s *Session, pkt *Packet, l3 L3, now time.Time) {
	event := tcpEvent(pkt.L4, l3)
	if event == EventRst && (s.TCP == TCPV6Init || s.TCP == TCPV4Init) {
		t.logger.Debug("tcp reset seen during half-open handshake, session unchanged")
	}
	result := ApplyEvent(s.TCP, event)
	s.TCP = result.Next

	for _, action := range result.Actions() {
		switch action {
		case ActionSetTCPEstTimer:
			t.sdb.MoveTCP(s, listTCPEst, now)
		case ActionSetTCPTransTimer:
			t.sdb.MoveTCP(s, listTCPTran, now)
		case ActionSetTCPIncomingSynTimer:
			t.sdb.MoveTCP(s, listSyn, now)
		case ActionDiscardStoredSyn:
			t.sdb.pending.Remove(s)
		case ActionRefreshEstIfEstablished:
			t.sdb.Touch(s, now)
		}
	}
}
