// Package config manages gonat64 daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gonat64 configuration.
type Config struct {
	Control ControlConfig `koanf:"control"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log LogConfig `koanf:"log"`
	Pool6 []string `koanf:"pool6"`
	Pool4 []string `koanf:"pool4"`
	SessionDB SessionDBConfig `koanf:"sessiondb"`
	PktQueue PktQueueConfig `koanf:"pktqueue"`
	Filtering FilteringConfig `koanf:"filtering"`
	Translate TranslateConfig `koanf:"translate"`
	Fragmentation FragmentationConfig `koanf:"fragmentation"`
}

// ControlConfig holds the binary control channel's listen address.
type ControlConfig struct {
	// Addr is the control channel listen address (e.g., "127.0.0.1:6146").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9464").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SessionDBConfig carries the five expirer TTLs plus the pending-SYN
// queue capacity, mirroring xlat.SessionDBConfig.
type SessionDBConfig struct {
	UDPTimeout time.Duration `koanf:"udp_timeout"`
	ICMPTimeout time.Duration `koanf:"icmp_timeout"`
	TCPEstTimeout time.Duration `koanf:"tcp_est_timeout"`
	TCPTransTimeout time.Duration `koanf:"tcp_trans_timeout"`
	TCPSynTimeout time.Duration `koanf:"tcp_syn_timeout"`
	PendingSynMax int `koanf:"pending_syn_max"`
}

// PktQueueConfig carries the pending-SYN queue's capacity. It mirrors
// SessionDBConfig.PendingSynMax, which is where this value is actually
// enforced (xlat.SessionDB.pending is a single shared queue, not split
// per-protocol); kept as its own section here since the control channel
// reports it separately from the session timeouts.
type PktQueueConfig struct {
	MaxPkts int `koanf:"max_pkts"`
}

// FilteringConfig carries the three drop-policy switches, mirroring
// xlat.FilterConfig.
type FilteringConfig struct {
	DropByAddr bool `koanf:"drop_by_addr"`
	DropICMPv6Info bool `koanf:"drop_icmp6_info"`
	DropExternalTCP bool `koanf:"drop_external_tcp"`
}

// TranslateConfig carries the header-translation knobs, mirroring
// xlat.TranslateConfig.
type TranslateConfig struct {
	ResetTrafficClass bool `koanf:"reset_traffic_class"`
	ResetTOS bool `koanf:"reset_tos"`
	NewTOS uint8 `koanf:"new_tos"`
	DFAlwaysOn bool `koanf:"df_always_on"`
	BuildIPv4ID bool `koanf:"build_ipv4_id"`
	LowerMTUFail bool `koanf:"lower_mtu_fail"`
	MTUPlateaus []int `koanf:"mtu_plateaus"`
	MinIPv6MTU int `koanf:"min_ipv6_mtu"`
}

// FragmentationConfig carries the reassembly-timeout knob for incoming
// fragments. FragmentTimeout is accepted and validated but not yet
// enforced: this translator has no incoming-fragment reassembly buffer
// on either side today, it only fragments outbound IPv6 datagrams that
// exceed the path MTU (see TranslateConfig). The field is carried here
// so the GENERAL wire snapshot and on-disk config shape match the full
// five-sub-structure layout now, ahead of a reassembly buffer landing.
type FragmentationConfig struct {
	FragmentTimeout time.Duration `koanf:"fragment_timeout"`
}

// Pool6Prefixes parses Pool6 into RFC 6052 prefixes.
func (c *Config) Pool6Prefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Pool6))
	for _, s := range c.Pool6 {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("parse pool6 prefix %q: %w", s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Pool4Addrs parses Pool4 into IPv4 addresses.
func (c *Config) Pool4Addrs() ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(c.Pool4))
	for _, s := range c.Pool4 {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("parse pool4 address %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the RFC 6146-recommended
// defaults: 5 minute UDP sessions, 2 hour established TCP, 4 minute
// transitory TCP, 1 minute ICMP, 6 second SYN, the standard MTU
// plateau table, DF always on, and the Well-Known Prefix 64:ff9b::/96.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{Addr: "127.0.0.1:6146"},
		Metrics: MetricsConfig{Addr: ":9464", Path: "/metrics"},
		Log: LogConfig{Level: "info", Format: "json"},
		Pool6: []string{"64:ff9b::/96"},
		SessionDB: SessionDBConfig{
			UDPTimeout: 5 * time.Minute,
			ICMPTimeout: 1 * time.Minute,
			TCPEstTimeout: 2 * time.Hour,
			TCPTransTimeout: 4 * time.Minute,
			TCPSynTimeout: 6 * time.Second,
			PendingSynMax: 64,
		},
		PktQueue: PktQueueConfig{MaxPkts: 64},
		Filtering: FilteringConfig{
			DropByAddr: true,
			DropICMPv6Info: true,
			DropExternalTCP: false,
		},
		Fragmentation: FragmentationConfig{FragmentTimeout: 2 * time.Second},
		Translate: TranslateConfig{
			DFAlwaysOn: true,
			LowerMTUFail: true,
			MTUPlateaus: []int{65535, 32000, 17914, 8166, 4352, 2002, 1492, 1006, 508, 296, 68},
			MinIPv6MTU: 1280,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gonat64 configuration.
// Variables are named NAT64D_<section>_<key>, e.g., NAT64D_CONTROL_ADDR.
const envPrefix = "NAT64D_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NAT64D_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NAT64D_CONTROL_ADDR -> control.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.addr": defaults.Control.Addr,
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"log.level": defaults.Log.Level,
		"log.format": defaults.Log.Format,
		"pool6": defaults.Pool6,
		"sessiondb.udp_timeout": defaults.SessionDB.UDPTimeout.String(),
		"sessiondb.icmp_timeout": defaults.SessionDB.ICMPTimeout.String(),
		"sessiondb.tcp_est_timeout": defaults.SessionDB.TCPEstTimeout.String(),
		"sessiondb.tcp_trans_timeout": defaults.SessionDB.TCPTransTimeout.String(),
		"sessiondb.tcp_syn_timeout": defaults.SessionDB.TCPSynTimeout.String(),
		"sessiondb.pending_syn_max": defaults.SessionDB.PendingSynMax,
		"pktqueue.max_pkts": defaults.PktQueue.MaxPkts,
		"filtering.drop_by_addr": defaults.Filtering.DropByAddr,
		"filtering.drop_icmp6_info": defaults.Filtering.DropICMPv6Info,
		"filtering.drop_external_tcp": defaults.Filtering.DropExternalTCP,
		"translate.df_always_on": defaults.Translate.DFAlwaysOn,
		"translate.lower_mtu_fail": defaults.Translate.LowerMTUFail,
		"translate.mtu_plateaus": defaults.Translate.MTUPlateaus,
		"translate.min_ipv6_mtu": defaults.Translate.MinIPv6MTU,
		"fragmentation.fragment_timeout": defaults.Fragmentation.FragmentTimeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyControlAddr = errors.New("control.addr must not be empty")
	ErrNoPool6Prefix = errors.New("pool6 must contain at least one prefix")
	ErrInvalidPool6Prefix = errors.New("pool6 prefix length must be one of 32/40/48/56/64/96")
	ErrInvalidPool4Addr = errors.New("pool4 entries must be valid IPv4 addresses")
	ErrInvalidTimeout = errors.New("sessiondb timeouts must be > 0")
	ErrTimeoutBelowFloor = errors.New("sessiondb udp_timeout must be >= 120s, tcp_est_timeout >= 2h, tcp_trans_timeout >= 4m")
	ErrInvalidPendingMax = errors.New("sessiondb.pending_syn_max must be >= 1")
	ErrNoMTUPlateaus = errors.New("translate.mtu_plateaus must not be empty")
	ErrInvalidMinIPv6MTU = errors.New("translate.min_ipv6_mtu must be >= 1280")
	ErrInvalidMaxPkts = errors.New("pktqueue.max_pkts must be >= 1")
	ErrInvalidFragmentTimeout = errors.New("fragmentation.fragment_timeout must be > 0")
)

var validPool6Lens = map[int]bool{32: true, 40: true, 48: true, 56: true, 64: true, 96: true}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}
	if len(cfg.Pool6) == 0 {
		return ErrNoPool6Prefix
	}
	prefixes, err := cfg.Pool6Prefixes()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPool6Prefix, err)
	}
	for _, p := range prefixes {
		if !p.Addr().Is6() || !validPool6Lens[p.Bits()] {
			return fmt.Errorf("%w: %s", ErrInvalidPool6Prefix, p)
		}
	}
	if _, err := cfg.Pool4Addrs(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPool4Addr, err)
	}
	if cfg.SessionDB.UDPTimeout <= 0 || cfg.SessionDB.ICMPTimeout <= 0 ||
		cfg.SessionDB.TCPEstTimeout <= 0 || cfg.SessionDB.TCPTransTimeout <= 0 ||
		cfg.SessionDB.TCPSynTimeout <= 0 {
		// ICMP_TIMEOUT carries no RFC-mandated floor beyond ">0".
		return ErrInvalidTimeout
	}
	if cfg.SessionDB.UDPTimeout < 120*time.Second ||
		cfg.SessionDB.TCPEstTimeout < 2*time.Hour ||
		cfg.SessionDB.TCPTransTimeout < 4*time.Minute {
		return ErrTimeoutBelowFloor
	}
	if cfg.SessionDB.PendingSynMax < 1 {
		return ErrInvalidPendingMax
	}
	if cfg.PktQueue.MaxPkts < 1 {
		return ErrInvalidMaxPkts
	}
	if len(cfg.Translate.MTUPlateaus) == 0 {
		return ErrNoMTUPlateaus
	}
	for i, m := range cfg.Translate.MTUPlateaus {
		if m <= 0 || (i > 0 && m >= cfg.Translate.MTUPlateaus[i-1]) {
			return fmt.Errorf("translate.mtu_plateaus must be non-zero, sorted descending and free of duplicates")
		}
	}
	if cfg.Translate.MinIPv6MTU < 1280 {
		return ErrInvalidMinIPv6MTU
	}
	if cfg.Fragmentation.FragmentTimeout <= 0 {
		return ErrInvalidFragmentTimeout
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
