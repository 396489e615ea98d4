package nat64metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "nat64"
	subsystem = "xlat"
)

// Label names for NAT64 metrics.
const (
	labelProto   = "proto"
	labelVerdict = "verdict"
	labelPoolIP  = "pool_addr"
)

// -------------------------------------------------------------------------
// Collector — Prometheus NAT64 Metrics
// -------------------------------------------------------------------------

// Collector holds all NAT64 Prometheus metrics.
//
//   - BIB/session gauges track live binding/session counts per protocol.
//   - Pool4Ports tracks per-address port-bitmap utilization for capacity
//     planning.
//   - Verdicts counts the outcome of every packet handed to the
//     translator (CONTINUE/ACCEPT/DROP/STOLEN).
//   - Fragments and PendingSyn track the two queue-like subsystems that
//     can silently build up backlog if misconfigured.
type Collector struct {
	// BIBEntries tracks the number of live Binding Information Base
	// entries, labeled by protocol (udp/tcp/icmp).
	BIBEntries *prometheus.GaugeVec

	// Sessions tracks the number of live sessions, labeled by protocol.
	Sessions *prometheus.GaugeVec

	// Pool4Ports tracks allocated ports per pool4 address, labeled by
	// address and protocol.
	Pool4Ports *prometheus.GaugeVec

	// Verdicts counts packets handled by the translator, labeled by the
	// resulting verdict (continue/accept/drop/stolen).
	Verdicts *prometheus.CounterVec

	// FragmentsEmitted counts IPv4->IPv6 fragments produced.
	FragmentsEmitted prometheus.Counter

	// ICMPFragNeededSent counts synthesized ICMPv4 Fragmentation-Needed
	// replies sent for oversized DF-set datagrams.
	ICMPFragNeededSent prometheus.Counter

	// HairpinPackets counts packets re-entered through the hairpin path.
	HairpinPackets prometheus.Counter

	// PendingSynQueueDepth tracks the current pending-SYN queue length.
	PendingSynQueueDepth prometheus.Gauge

	// PendingSynEvictions counts pending-SYN entries dropped to make
	// room for a newer one when the queue was full.
	PendingSynEvictions prometheus.Counter

	// ExpirerFirings counts session expirations, labeled by protocol.
	ExpirerFirings *prometheus.CounterVec

	// PoolExhausted counts failed allocations due to pool4 exhaustion.
	PoolExhausted prometheus.Counter
}

// NewCollector creates a Collector with all NAT64 metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.BIBEntries,
		c.Sessions,
		c.Pool4Ports,
		c.Verdicts,
		c.FragmentsEmitted,
		c.ICMPFragNeededSent,
		c.HairpinPackets,
		c.PendingSynQueueDepth,
		c.PendingSynEvictions,
		c.ExpirerFirings,
		c.PoolExhausted,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protoLabels := []string{labelProto}
	poolLabels := []string{labelPoolIP, labelProto}
	verdictLabels := []string{labelVerdict}

	return &Collector{
		BIBEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bib_entries",
			Help:      "Number of live Binding Information Base entries.",
		}, protoLabels),

		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of live sessions.",
		}, protoLabels),

		Pool4Ports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool4_ports_allocated",
			Help:      "Number of allocated ports per pool4 address and protocol.",
		}, poolLabels),

		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "verdicts_total",
			Help:      "Total packets handled by the translator, by verdict.",
		}, verdictLabels),

		FragmentsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fragments_emitted_total",
			Help:      "Total IPv4->IPv6 fragments produced.",
		}),

		ICMPFragNeededSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "icmp_frag_needed_sent_total",
			Help:      "Total synthesized ICMPv4 Fragmentation-Needed replies sent.",
		}),

		HairpinPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hairpin_packets_total",
			Help:      "Total packets re-entered through the hairpin path.",
		}),

		PendingSynQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_syn_queue_depth",
			Help:      "Current number of entries in the pending-SYN queue.",
		}),

		PendingSynEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_syn_evictions_total",
			Help:      "Total pending-SYN entries evicted to admit a newer one.",
		}),

		ExpirerFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expirer_firings_total",
			Help:      "Total session expirations, by protocol.",
		}, protoLabels),

		PoolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool4_exhausted_total",
			Help:      "Total allocation attempts that failed due to pool4 exhaustion.",
		}),
	}
}

// -------------------------------------------------------------------------
// BIB / Session Lifecycle
// -------------------------------------------------------------------------

// SetBIBEntries sets the live BIB entry gauge for proto.
func (c *Collector) SetBIBEntries(proto string, n float64) {
	c.BIBEntries.WithLabelValues(proto).Set(n)
}

// SetSessions sets the live session gauge for proto.
func (c *Collector) SetSessions(proto string, n float64) {
	c.Sessions.WithLabelValues(proto).Set(n)
}

// SetPool4Ports sets the allocated-port gauge for one pool4 address/protocol pair.
func (c *Collector) SetPool4Ports(addr, proto string, n float64) {
	c.Pool4Ports.WithLabelValues(addr, proto).Set(n)
}

// -------------------------------------------------------------------------
// Datapath Counters
// -------------------------------------------------------------------------

// IncVerdict increments the verdict counter for the given outcome string
// ("continue", "accept", "drop", "stolen").
func (c *Collector) IncVerdict(verdict string) {
	c.Verdicts.WithLabelValues(verdict).Inc()
}

// IncFragmentsEmitted adds n to the emitted-fragment counter.
func (c *Collector) IncFragmentsEmitted(n int) {
	c.FragmentsEmitted.Add(float64(n))
}

// IncICMPFragNeeded increments the synthesized Fragmentation-Needed counter.
func (c *Collector) IncICMPFragNeeded() {
	c.ICMPFragNeededSent.Inc()
}

// IncHairpin increments the hairpin-path counter.
func (c *Collector) IncHairpin() {
	c.HairpinPackets.Inc()
}

// SetPendingSynQueueDepth sets the current pending-SYN queue depth gauge.
func (c *Collector) SetPendingSynQueueDepth(n float64) {
	c.PendingSynQueueDepth.Set(n)
}

// IncPendingSynEvictions increments the pending-SYN eviction counter.
func (c *Collector) IncPendingSynEvictions() {
	c.PendingSynEvictions.Inc()
}

// IncExpirerFiring increments the expirer-firing counter for proto.
func (c *Collector) IncExpirerFiring(proto string) {
	c.ExpirerFirings.WithLabelValues(proto).Inc()
}

// IncPoolExhausted increments the pool4-exhaustion counter.
func (c *Collector) IncPoolExhausted() {
	c.PoolExhausted.Inc()
}
