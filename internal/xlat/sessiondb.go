package xlat

import (
	"log/slog"
	"net/netip"
	"time"
)

// Expirer list names, shared between SessionTable construction and the
// dispatch table in SessionDB.onExpire.
const (
	listUDP = "udp"
	listICMP = "icmp"
	listTCPEst = "tcp_est"
	listTCPTran = "tcp_trans"
	listSyn = "syn"
)

// SessionDBConfig carries the five expirer TTLs plus the pending-SYN
// queue capacity.
type SessionDBConfig struct {
	UDPTimeout time.Duration
	ICMPTimeout time.Duration
	TCPEstTimeout time.Duration
	TCPTransTimeout time.Duration
	TCPSynTimeout time.Duration
	PendingSynMax int
}

// DefaultSessionDBConfig returns the RFC 6146-recommended default
// timeouts.
func DefaultSessionDBConfig() SessionDBConfig {
	return SessionDBConfig{
		UDPTimeout: 5 * time.Minute,
		ICMPTimeout: 1 * time.Minute,
		TCPEstTimeout: 2 * time.Hour,
		TCPTransTimeout: 4 * time.Minute,
		TCPSynTimeout: 6 * time.Second,
		PendingSynMax: 64,
	}
}

// TCPProber is called when an ESTABLISHED session's TCP_EST timer
// expires, to send a minimal IPv6 TCP ACK probe. Implemented by the
// translator/daemon layer, which owns the PacketSink.
type TCPProber func(s *Session)

// SynTimeoutNotifier is called when a V4_INIT session's SYN timer
// expires with a packet still queued, to emit the ICMPv4 Destination
// Unreachable referencing it.
type SynTimeoutNotifier func(s *Session, pkt []byte)

// SessionDB owns the three per-protocol session tables and their
// expirer lists.
type SessionDB struct {
	UDP *SessionTable
	TCP *SessionTable
	ICMP *SessionTable

	bibUDP *BIBTable
	bibTCP *BIBTable
	bibICMP *BIBTable

	pool6 *Pool6
	pending *PendingSynQueue

	logger *slog.Logger
	prober TCPProber
	synTO SynTimeoutNotifier
}

// NewSessionDB wires the three session tables to their BIB tables and
// installs the per-protocol expiry dispatch.
func NewSessionDB(cfg SessionDBConfig, bibUDP, bibTCP, bibICMP *BIBTable, pool6 *Pool6, logger *slog.Logger) *SessionDB {
	db := &SessionDB{
		UDP: NewSessionTable(ProtoUDP, map[string]time.Duration{listUDP: cfg.UDPTimeout}),
		TCP: NewSessionTable(ProtoTCP, map[string]time.Duration{listTCPEst: cfg.TCPEstTimeout, listTCPTran: cfg.TCPTransTimeout, listSyn: cfg.TCPSynTimeout}),
		ICMP: NewSessionTable(ProtoICMP, map[string]time.Duration{listICMP: cfg.ICMPTimeout}),
		bibUDP: bibUDP,
		bibTCP: bibTCP,
		bibICMP: bibICMP,
		pool6: pool6,
		pending: NewPendingSynQueue(cfg.PendingSynMax),
		logger: logger,
	}
	db.UDP.SetExpireFunc(db.onExpireSimple(bibUDP))
	db.ICMP.SetExpireFunc(db.onExpireSimple(bibICMP))
	db.TCP.SetExpireFunc(db.onExpireTCP)
	return db
}

// SetProber installs the TCP_EST expiry probe callback.
func (db *SessionDB) SetProber(p TCPProber) { db.prober = p }

// SetSynTimeoutNotifier installs the V4_INIT SYN-expiry ICMP callback.
func (db *SessionDB) SetSynTimeoutNotifier(n SynTimeoutNotifier) { db.synTO = n }

func (db *SessionDB) tableFor(l4 Proto) *SessionTable {
	switch l4 {
	case ProtoUDP:
		return db.UDP
	case ProtoTCP:
		return db.TCP
	case ProtoICMP:
		return db.ICMP
	default:
		return nil
	}
}

func (db *SessionDB) bibFor(l4 Proto) *BIBTable {
	switch l4 {
	case ProtoUDP:
		return db.bibUDP
	case ProtoTCP:
		return db.bibTCP
	case ProtoICMP:
		return db.bibICMP
	default:
		return nil
	}
}

// Get is the canonical lookup for the datapath.
func (db *SessionDB) Get(t Tuple) (*Session, bool) {
	tbl := db.tableFor(t.Prot)
	if tbl == nil {
		return nil, false
	}
	if t.L3 == L3IPv6 {
		return tbl.getBy6(Pair6{
			Local: t.Src,
			Remote: t.Dst,
		})
	}
	return tbl.getBy4(Pair4{
		Local: t.Dst,
		Remote: t.Src,
	})
}

// Allow implements address-dependent filtering:
// true iff some Session exists with tuple4's (local4, remote4) address
// pair, ignoring the remote L4 id.
func (db *SessionDB) Allow(t Tuple) bool {
	tbl := db.tableFor(t.Prot)
	if tbl == nil {
		return false
	}
	return tbl.allow(Pair4{Local: t.Dst, Remote: t.Src})
}

// GetOrCreate6 looks up a session by its IPv6 pair, creating one (with
// remote4 computed via RFC 6052 embedding) on miss. now is the
// session's initial UpdateTime.
func (db *SessionDB) GetOrCreate6(t Tuple, bib *BIBEntry, now time.Time) (*Session, bool, error) {
	tbl := db.tableFor(t.Prot)
	if tbl == nil {
		return nil, false, ErrUnknownProto
	}
	key := Pair6{Local: t.Src, Remote: t.Dst}
	if s, ok := tbl.getBy6(key); ok {
		return s, false, nil
	}
	remote4, err := db.pool6.Translate6To4(t.Dst.Addr)
	if err != nil {
		return nil, false, err
	}
	s := &Session{
		Proto: t.Prot,
		Pair6: key,
		Pair4: Pair4{Local: bib.Addr4, Remote: Endpoint{Addr: remote4, ID: t.Dst.ID}},
		BIB: bib,
	}
	if err := db.addNew(tbl, bib, s, db.initialList(t.Prot), now); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// GetOrCreate4 looks up a session by its IPv4 pair, creating one (with
// remote6 computed via RFC 6052 embedding against any configured
// prefix) on miss.
func (db *SessionDB) GetOrCreate4(t Tuple, bib *BIBEntry, now time.Time) (*Session, bool, error) {
	tbl := db.tableFor(t.Prot)
	if tbl == nil {
		return nil, false, ErrUnknownProto
	}
	key := Pair4{Local: t.Dst, Remote: t.Src}
	if s, ok := tbl.getBy4(key); ok {
		return s, false, nil
	}
	prefix, ok := db.pool6.Any()
	if !ok {
		return nil, false, ErrNoMatchingPrefix
	}
	remote6 := addr4To6(t.Src.Addr, prefix)
	s := &Session{
		Proto: t.Prot,
		Pair4: key,
		Pair6: Pair6{Local: bib.Addr6, Remote: Endpoint{Addr: remote6, ID: t.Src.ID}},
		BIB: bib,
	}
	if err := db.addNew(tbl, bib, s, db.initialList(t.Prot), now); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (db *SessionDB) initialList(l4 Proto) string {
	switch l4 {
	case ProtoUDP:
		return listUDP
	case ProtoICMP:
		return listICMP
	default:
		return listTCPEst // TCP session creation always sets an explicit list via the FSM action immediately after; see filtering.go.
	}
}

func (db *SessionDB) addNew(tbl *SessionTable, bib *BIBEntry, s *Session, listName string, now time.Time) error {
	if err := tbl.insert(s, listName, now); err != nil {
		return err
	}
	db.bibFor(s.Proto).Retain(bib)
	return nil
}

// MoveTCP moves a TCP session onto the named expirer list, refreshing
// its UpdateTime — used by the Filtering stage after an FSM action
// asks for a timer change.
func (db *SessionDB) MoveTCP(s *Session, listName string, now time.Time) {
	db.TCP.moveTo(s, listName, now)
}

// Touch refreshes s's UpdateTime on its current list without moving
// it to a different one.
func (db *SessionDB) Touch(s *Session, now time.Time) {
	db.tableFor(s.Proto).touch(s, now)
}

// Delete removes a session and releases its BIB reference.
func (db *SessionDB) Delete(s *Session) {
	tbl := db.tableFor(s.Proto)
	tbl.remove(s)
	db.bibFor(s.Proto).Release(s.BIB)
}

// ForEach calls f for every session of protocol l4.
func (db *SessionDB) ForEach(l4 Proto, f func(*Session)) {
	if tbl := db.tableFor(l4); tbl != nil {
		tbl.forEach(f)
	}
}

// Count returns the number of live sessions for protocol l4.
func (db *SessionDB) Count(l4 Proto) int {
	if tbl := db.tableFor(l4); tbl != nil {
		return tbl.count()
	}
	return 0
}

// DeleteByBIB removes every session referencing bib (used when a
// static BIB entry is removed through the control channel).
func (db *SessionDB) DeleteByBIB(l4 Proto, bib *BIBEntry) {
	tbl := db.tableFor(l4)
	if tbl == nil {
		return
	}
	var victims []*Session
	tbl.forEach(func(s *Session) {
		if s.BIB == bib {
			victims = append(victims, s)
		}
	})
	for _, s := range victims {
		db.Delete(s)
	}
}

// DeleteByV4 removes every session whose pair4.Local address is a4
// (used when a pool4 address is removed).
func (db *SessionDB) DeleteByV4(a4 netip.Addr) {
	for _, l4 := range [3]Proto{ProtoUDP, ProtoTCP, ProtoICMP} {
		tbl := db.tableFor(l4)
		var victims []*Session
		tbl.forEach(func(s *Session) {
			if s.Pair4.Local.Addr == a4 {
				victims = append(victims, s)
			}
		})
		for _, s := range victims {
			db.Delete(s)
		}
	}
}

// DeleteByV6Prefix removes every session whose pair6.Remote address
// falls under prefix (used when a pool6 prefix is removed).
func (db *SessionDB) DeleteByV6Prefix(prefix Prefix6) {
	for _, l4 := range [3]Proto{ProtoUDP, ProtoTCP, ProtoICMP} {
		tbl := db.tableFor(l4)
		var victims []*Session
		tbl.forEach(func(s *Session) {
			if prefixContains(prefix, s.Pair6.Remote.Addr) {
				victims = append(victims, s)
			}
		})
		for _, s := range victims {
			db.Delete(s)
		}
	}
}

// Flush removes every session across all three protocols.
func (db *SessionDB) Flush() {
	for _, l4 := range [3]Proto{ProtoUDP, ProtoTCP, ProtoICMP} {
		tbl := db.tableFor(l4)
		var victims []*Session
		tbl.forEach(func(s *Session) { victims = append(victims, s) })
		for _, s := range victims {
			db.Delete(s)
		}
	}
}

// Close cancels every table's expirer timers, for deterministic
// teardown.
func (db *SessionDB) Close() {
	db.UDP.close()
	db.TCP.close()
	db.ICMP.close()
}

// onExpireSimple implements the UDP/ICMP expiry policy: delete the
// session outright and release its BIB refcount.
func (db *SessionDB) onExpireSimple(bib *BIBTable) func(string, *Session) {
	return func(_ string, s *Session) {
		tbl := db.tableFor(s.Proto)
		tbl.remove(s)
		bib.Release(s.BIB)
		if db.logger != nil {
			db.logger.Debug("session expired", slog.String("proto", s.Proto.String()))
		}
	}
}

// onExpireTCP implements the TCP expiry policy:
// V4_INIT -> notify pending queue, delete; ESTABLISHED -> probe, move
// to tcp_trans, transition to TRANS; everything else -> delete.
func (db *SessionDB) onExpireTCP(listName string, s *Session) {
	switch listName {
	case listSyn:
		if pp, ok := db.pending.Take(s); ok && db.synTO != nil {
			db.synTO(s, pp.Packet)
		}
		s.TCP = TCPClosed
		db.TCP.remove(s)
		db.bibTCP.Release(s.BIB)
	case listTCPEst:
		if db.prober != nil {
			db.prober(s)
		}
		s.TCP = TCPTrans
		db.TCP.moveTo(s, listTCPTran, time.Now())
	default: // tcp_trans, or any session whose state doesn't match a long-lived list
		db.TCP.remove(s)
		db.bibTCP.Release(s.BIB)
	}
}
