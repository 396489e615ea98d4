package xlat

import "errors"

// Sentinel errors returned by the translation core. Callers should use
// errors.Is rather than comparing messages; the control channel and CLI
// map these to wire-level codes by identity.
var (
	ErrInvalidAddress    = errors.New("xlat: address has nonzero reserved octet")
	ErrInvalidPrefixLen  = errors.New("xlat: prefix length not in {32,40,48,56,64,96}")
	ErrNoMatchingPrefix  = errors.New("xlat: no pool6 prefix covers address")
	ErrPoolExhausted     = errors.New("xlat: no free transport address in pool4")
	ErrPool4Empty        = errors.New("xlat: pool4 has no addresses")
	ErrDuplicateBIB      = errors.New("xlat: bib entry already exists on one index")
	ErrBIBNotFound       = errors.New("xlat: bib entry not found")
	ErrBIBInUse          = errors.New("xlat: bib entry is referenced by a live session")
	ErrSessionNotFound   = errors.New("xlat: session not found")
	ErrSessionExists     = errors.New("xlat: session already exists")
	ErrQueueFull         = errors.New("xlat: pending-SYN queue is at capacity")
	ErrNoPendingPacket   = errors.New("xlat: no pending packet for session")
	ErrMalformedPacket   = errors.New("xlat: malformed packet")
	ErrUnknownProto      = errors.New("xlat: unknown transport protocol")
	ErrHopLimitExceeded  = errors.New("xlat: hop limit/TTL exhausted")
	ErrFragmentationDF   = errors.New("xlat: packet too large and DF set")
	ErrUnsupportedICMP   = errors.New("xlat: unsupported or disallowed ICMP-in-ICMP")
	ErrConfigRejected    = errors.New("xlat: configuration rejected")
	ErrClosed            = errors.New("xlat: table closed")
	ErrExternalTCPRejected = errors.New("xlat: externally-initiated tcp rejected by filtering policy")
)
