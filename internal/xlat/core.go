package xlat

import (
	"log/slog"
	"net/netip"
	"time"
)

// Config is the complete set of parameters needed to stand up a Core.
type Config struct {
	Pool6 []Prefix6
	Pool4 []netip.Addr
	SessionDB SessionDBConfig
	Translate TranslateConfig

	// Filter is nil when the caller leaves drop policy unset, in which
	// case NewCore installs DefaultFilterConfig(). A caller that wants
	// an all-false policy must pass a non-nil pointer to make that
	// explicit.
	Filter *FilterConfig

	// FragmentTimeout is carried for the GENERAL display snapshot only.
	// Nothing in this package enforces it: there is no incoming-fragment
	// reassembly buffer on either side, only outbound IPv6 fragmentation
	// of oversize datagrams (see TranslateConfig).
	FragmentTimeout time.Duration
}

// Core owns every piece of translator state for one running instance:
// the two address pools, the three per-protocol BIB tables, the
// Session DB, and the Translator tying them into the six-stage
// pipeline. Constructing and discarding a Core is the unit of
// lifecycle the control channel and daemon operate on.
type Core struct {
	Pool4 *Pool4
	Pool6 *Pool6

	BIBUDP *BIBTable
	BIBTCP *BIBTable
	BIBICMP *BIBTable

	SessionDB *SessionDB

	Translator *Translator
}

// NewCore builds a Core from cfg.
func NewCore(cfg Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool6, err := NewPool6(cfg.Pool6...)
	if err != nil {
		return nil, err
	}
	pool4 := NewPool4()
	for _, a := range cfg.Pool4 {
		pool4.Add(a)
	}

	bibUDP := NewBIBTable(ProtoUDP, pool4)
	bibTCP := NewBIBTable(ProtoTCP, pool4)
	bibICMP := NewBIBTable(ProtoICMP, pool4)

	sdb := NewSessionDB(cfg.SessionDB, bibUDP, bibTCP, bibICMP, pool6, logger)

	translator := NewTranslator(pool4, pool6, bibUDP, bibTCP, bibICMP, sdb, cfg.Translate, logger)
	if cfg.Filter != nil {
		translator.SetFilterConfig(*cfg.Filter)
	}

	return &Core{
		Pool4: pool4,
		Pool6: pool6,
		BIBUDP: bibUDP,
		BIBTCP: bibTCP,
		BIBICMP: bibICMP,
		SessionDB: sdb,
		Translator: translator,
	}, nil
}

// Close tears down the Core's timers.
func (c *Core) Close() {
	c.Translator.Close()
}
