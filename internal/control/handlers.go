package control

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/dantte-lp/gonat64/internal/xlat"
)

// pageSize bounds a single DISPLAY response chunk, mirroring the
// reference daemon's habit of never handing back an unbounded list in
// one RPC.
const pageSize = 64

// dispatch routes one decoded request to the handler for its mode, and
// returns the response payload plus status.
func (s *Server) dispatch(h Header, payload []byte) (Status, []byte) {
	if !IsAllowed(h.Mode, h.Op) {
		return StatusBadRequest, []byte(fmt.Sprintf("operation %s not permitted for mode %s", h.Op, h.Mode))
	}

	switch h.Mode {
	case ModePool6:
		return s.handlePool6(h.Op, payload)
	case ModePool4:
		return s.handlePool4(h.Op, payload)
	case ModeBIB:
		return s.handleBIB(h.Op, payload)
	case ModeSession:
		return s.handleSession(h.Op, payload)
	case ModeGeneral:
		return s.handleGeneral(h.Op, payload)
	default:
		return StatusBadRequest, []byte("unknown mode")
	}
}

// -------------------------------------------------------------------------
// POOL6
// -------------------------------------------------------------------------

func (s *Server) handlePool6(op Operation, payload []byte) (Status, []byte) {
	switch op {
	case OpCount:
		w := &byteWriter{}
		w.u32(uint32(s.core.Pool6.Count()))
		return StatusOK, w.bytes()

	case OpDisplay:
		prefixes := s.core.Pool6.List()
		w := &byteWriter{}
		w.u16(uint16(len(prefixes)))
		w.bool(false) // no pagination: the IPv6 pool is always small
		for _, p := range prefixes {
			w.str(p.Addr.String())
			w.u8(uint8(p.Len))
		}
		return StatusOK, w.bytes()

	case OpAdd:
		r := newByteReader(payload)
		addrStr, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		length, err := r.u8()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		if err := s.core.Pool6.Add(xlat.Prefix6{Addr: addr, Len: int(length)}); err != nil {
			return statusFor(err), errBytes(err)
		}
		return StatusOK, nil

	case OpRemove:
		r := newByteReader(payload)
		addrStr, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		length, err := r.u8()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		if !s.core.Pool6.Remove(xlat.Prefix6{Addr: addr, Len: int(length)}) {
			return StatusNotFound, []byte("prefix not found")
		}
		return StatusOK, nil

	default:
		return StatusBadRequest, []byte("unsupported operation")
	}
}

// -------------------------------------------------------------------------
// POOL4
// -------------------------------------------------------------------------

func (s *Server) handlePool4(op Operation, payload []byte) (Status, []byte) {
	switch op {
	case OpCount:
		w := &byteWriter{}
		w.u32(uint32(len(s.core.Pool4.List())))
		return StatusOK, w.bytes()

	case OpDisplay:
		addrs := s.core.Pool4.List()
		sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
		start, more := cursorStart(payload, addrs, func(a netip.Addr) string { return a.String() })
		end := min(start+pageSize, len(addrs))

		w := &byteWriter{}
		w.u16(uint16(end - start))
		w.bool(more || end < len(addrs))
		for _, a := range addrs[start:end] {
			w.str(a.String())
		}
		return StatusOK, w.bytes()

	case OpAdd:
		r := newByteReader(payload)
		addrStr, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		s.core.Pool4.Add(addr)
		return StatusOK, nil

	case OpRemove:
		r := newByteReader(payload)
		addrStr, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr, err := netip.ParseAddr(addrStr)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		if !s.core.Pool4.Remove(addr) {
			return StatusNotFound, []byte("address not found")
		}
		return StatusOK, nil

	default:
		return StatusBadRequest, []byte("unsupported operation")
	}
}

// -------------------------------------------------------------------------
// BIB
// -------------------------------------------------------------------------

// bibTableFor resolves the protocol byte carried in a BIB request's
// payload to the owning table.
func (s *Server) bibTableFor(proto xlat.Proto) *xlat.BIBTable {
	switch proto {
	case xlat.ProtoUDP:
		return s.core.BIBUDP
	case xlat.ProtoTCP:
		return s.core.BIBTCP
	default:
		return s.core.BIBICMP
	}
}

func (s *Server) handleBIB(op Operation, payload []byte) (Status, []byte) {
	r := newByteReader(payload)
	protoByte, err := r.u8()
	if err != nil {
		return StatusBadRequest, errBytes(err)
	}
	proto := xlat.Proto(protoByte)
	tbl := s.bibTableFor(proto)

	switch op {
	case OpCount:
		w := &byteWriter{}
		w.u32(uint32(tbl.Count()))
		return StatusOK, w.bytes()

	case OpDisplay:
		var entries []*xlat.BIBEntry
		tbl.ForEach(func(e *xlat.BIBEntry) { entries = append(entries, e) })
		sort.Slice(entries, func(i, j int) bool { return entries[i].Addr4.Addr.Less(entries[j].Addr4.Addr) })

		start, more := cursorStart(r.remaining(), entries, func(e *xlat.BIBEntry) string { return e.Addr4.String() })
		end := min(start+pageSize, len(entries))

		w := &byteWriter{}
		w.u16(uint16(end - start))
		w.bool(more || end < len(entries))
		for _, e := range entries[start:end] {
			w.str(e.Addr6.String())
			w.str(e.Addr4.String())
			w.bool(e.Static)
			w.u32(uint32(e.RefCount()))
		}
		return StatusOK, w.bytes()

	case OpAdd:
		addr6Str, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr4Str, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr6, err := netip.ParseAddr(addr6Str)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr4, err := netip.ParseAddr(addr4Str)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		port6, err := r.u16()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		port4, err := r.u16()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}

		// ADD creates a static entry (port-forwarding style, RFC 6146
		// §3.1) that survives with refcount 0 until explicitly removed.
		if err := s.core.Pool4.Reserve(addr4, port4, proto); err != nil {
			return statusFor(err), errBytes(err)
		}
		entry := &xlat.BIBEntry{
			Addr6: xlat.Endpoint{Addr: addr6, ID: port6},
			Addr4: xlat.Endpoint{Addr: addr4, ID: port4},
			Proto: proto,
			Static: true,
		}
		if err := tbl.Add(entry); err != nil {
			s.core.Pool4.Release(addr4, port4, proto)
			return statusFor(err), errBytes(err)
		}
		return StatusOK, nil

	case OpRemove:
		addr6Str, err := r.str()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		port6, err := r.u16()
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		addr6, err := netip.ParseAddr(addr6Str)
		if err != nil {
			return StatusBadRequest, errBytes(err)
		}
		entry, ok := tbl.GetBy6(xlat.Endpoint{Addr: addr6, ID: port6})
		if !ok {
			return StatusNotFound, errBytes(xlat.ErrBIBNotFound)
		}
		// REMOVE cascades to any Sessions still referencing this entry.
		s.core.SessionDB.DeleteByBIB(proto, entry)
		tbl.Remove(entry)
		return StatusOK, nil

	default:
		return StatusBadRequest, []byte("unsupported operation")
	}
}

// -------------------------------------------------------------------------
// SESSION
// -------------------------------------------------------------------------

func (s *Server) handleSession(op Operation, payload []byte) (Status, []byte) {
	r := newByteReader(payload)
	protoByte, err := r.u8()
	if err != nil {
		return StatusBadRequest, errBytes(err)
	}
	proto := xlat.Proto(protoByte)

	switch op {
	case OpCount:
		w := &byteWriter{}
		w.u32(uint32(s.core.SessionDB.Count(proto)))
		return StatusOK, w.bytes()

	case OpDisplay:
		var sessions []*xlat.Session
		s.core.SessionDB.ForEach(proto, func(sess *xlat.Session) { sessions = append(sessions, sess) })
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].Pair4.Local.Addr.Less(sessions[j].Pair4.Local.Addr) })

		start, more := cursorStart(r.remaining(), sessions, func(sess *xlat.Session) string { return sess.Pair4.Local.String() })
		end := min(start+pageSize, len(sessions))

		w := &byteWriter{}
		w.u16(uint16(end - start))
		w.bool(more || end < len(sessions))
		for _, sess := range sessions[start:end] {
			w.str(sess.Pair6.Local.String())
			w.str(sess.Pair6.Remote.String())
			w.str(sess.Pair4.Local.String())
			w.str(sess.Pair4.Remote.String())
			w.str(sess.TCP.String())
			w.u64(uint64(sess.UpdateTime.Unix()))
		}
		return StatusOK, w.bytes()

	default:
		return StatusBadRequest, []byte("unsupported operation")
	}
}

// -------------------------------------------------------------------------
// GENERAL
// -------------------------------------------------------------------------

func (s *Server) handleGeneral(op Operation, payload []byte) (Status, []byte) {
	switch op {
	case OpDisplay:
		cfg := s.configSnapshot()
		w := &byteWriter{}
		w.u64(uint64(cfg.SessionDB.UDPTimeout / time.Millisecond))
		w.u64(uint64(cfg.SessionDB.ICMPTimeout / time.Millisecond))
		w.u64(uint64(cfg.SessionDB.TCPEstTimeout / time.Millisecond))
		w.u64(uint64(cfg.SessionDB.TCPTransTimeout / time.Millisecond))
		w.u64(uint64(cfg.SessionDB.TCPSynTimeout / time.Millisecond))
		w.u32(uint32(cfg.SessionDB.PendingSynMax))
		filterCfg := xlat.DefaultFilterConfig()
		if cfg.Filter != nil {
			filterCfg = *cfg.Filter
		}
		w.bool(filterCfg.DropByAddr)
		w.bool(filterCfg.DropICMPv6Info)
		w.bool(filterCfg.DropExternalTCP)
		w.bool(cfg.Translate.ResetTrafficClass)
		w.bool(cfg.Translate.ResetTOS)
		w.u8(cfg.Translate.NewTOS)
		w.bool(cfg.Translate.DFAlwaysOn)
		w.bool(cfg.Translate.BuildIPv4ID)
		w.bool(cfg.Translate.LowerMTUFail)
		w.u16(uint16(cfg.Translate.MinIPv6MTU))
		w.u16(uint16(len(cfg.Translate.MTUPlateaus)))
		for _, m := range cfg.Translate.MTUPlateaus {
			w.u16(uint16(m))
		}
		w.u64(uint64(cfg.FragmentTimeout / time.Millisecond))
		return StatusOK, w.bytes()

	case OpUpdate:
		// Live mutation of GENERAL sub-structures beyond what is already
		// exposed via pool6/pool4 ADD/REMOVE is not implemented: the
		// running Translate/SessionDB config is an immutable snapshot
		// taken when nat64d starts. Neither this channel nor SIGHUP
		// (which reloads only the log level in cmd/nat64d) changes it;
		// a restart does.
		return StatusRejected, []byte("GENERAL UPDATE not supported; edit config and restart nat64d")

	default:
		return StatusBadRequest, []byte("unsupported operation")
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// cursorStart decodes the {iterate:bool, cursor:string} pagination
// prefix shared by every DISPLAY payload and returns the index to
// resume from in a slice sorted by the same key function. more is
// always false: whether another page follows is decided by the caller
// from the items after start. A cursor that matches no item restarts
// at the top, treating a stale/unknown cursor as "start over" rather
// than an error.
func cursorStart[T any](payload []byte, items []T, key func(T) string) (start int, more bool) {
	r := newByteReader(payload)
	iterate, err := r.boolean()
	if err != nil || !iterate {
		return 0, false
	}
	cursor, err := r.str()
	if err != nil {
		return 0, false
	}
	for i, it := range items {
		if key(it) == cursor {
			return i + 1, false
		}
	}
	return 0, false
}

func errBytes(err error) []byte {
	if err == nil {
		return nil
	}
	return []byte(err.Error())
}

// statusFor maps a xlat sentinel error to a wire-level status code, the
// same table-of-errors.Is approach the reference server uses to map
// manager errors to RPC status codes.
func statusFor(err error) Status {
	switch {
	case errors.Is(err, xlat.ErrDuplicateBIB), errors.Is(err, xlat.ErrSessionExists):
		return StatusAlreadyExists
	case errors.Is(err, xlat.ErrBIBNotFound), errors.Is(err, xlat.ErrSessionNotFound), errors.Is(err, xlat.ErrNoMatchingPrefix):
		return StatusNotFound
	case errors.Is(err, xlat.ErrBIBInUse):
		return StatusInUse
	case errors.Is(err, xlat.ErrPoolExhausted), errors.Is(err, xlat.ErrPool4Empty), errors.Is(err, xlat.ErrQueueFull):
		return StatusExhausted
	case errors.Is(err, xlat.ErrInvalidAddress), errors.Is(err, xlat.ErrInvalidPrefixLen):
		return StatusBadRequest
	case errors.Is(err, xlat.ErrConfigRejected):
		return StatusRejected
	default:
		return StatusInternal
	}
}
