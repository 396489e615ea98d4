package nat64metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	nat64metrics "github.com/dantte-lp/gonat64/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	if c.BIBEntries == nil {
		t.Error("BIBEntries is nil")
	}
	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.Pool4Ports == nil {
		t.Error("Pool4Ports is nil")
	}
	if c.Verdicts == nil {
		t.Error("Verdicts is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestBIBAndSessionGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.SetBIBEntries("tcp", 5)
	c.SetSessions("tcp", 3)

	if v := gaugeValue(t, c.BIBEntries, "tcp"); v != 5 {
		t.Errorf("BIBEntries(tcp) = %v, want 5", v)
	}
	if v := gaugeValue(t, c.Sessions, "tcp"); v != 3 {
		t.Errorf("Sessions(tcp) = %v, want 3", v)
	}

	c.SetBIBEntries("tcp", 4)
	if v := gaugeValue(t, c.BIBEntries, "tcp"); v != 4 {
		t.Errorf("BIBEntries(tcp) after update = %v, want 4", v)
	}
}

func TestPool4Ports(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.SetPool4Ports("203.0.113.1", "udp", 100)

	if v := gaugeValue(t, c.Pool4Ports, "203.0.113.1", "udp"); v != 100 {
		t.Errorf("Pool4Ports = %v, want 100", v)
	}
}

func TestVerdictCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.IncVerdict("accept")
	c.IncVerdict("accept")
	c.IncVerdict("drop")

	if v := counterValue(t, c.Verdicts, "accept"); v != 2 {
		t.Errorf("Verdicts(accept) = %v, want 2", v)
	}
	if v := counterValue(t, c.Verdicts, "drop"); v != 1 {
		t.Errorf("Verdicts(drop) = %v, want 1", v)
	}
}

func TestScalarCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.IncFragmentsEmitted(3)
	c.IncICMPFragNeeded()
	c.IncHairpin()
	c.SetPendingSynQueueDepth(7)
	c.IncPendingSynEvictions()
	c.IncExpirerFiring("udp")
	c.IncPoolExhausted()

	if v := testutilCounter(t, c.FragmentsEmitted); v != 3 {
		t.Errorf("FragmentsEmitted = %v, want 3", v)
	}
	if v := testutilCounter(t, c.ICMPFragNeededSent); v != 1 {
		t.Errorf("ICMPFragNeededSent = %v, want 1", v)
	}
	if v := testutilCounter(t, c.HairpinPackets); v != 1 {
		t.Errorf("HairpinPackets = %v, want 1", v)
	}
	if v := testutilGauge(t, c.PendingSynQueueDepth); v != 7 {
		t.Errorf("PendingSynQueueDepth = %v, want 7", v)
	}
	if v := testutilCounter(t, c.PendingSynEvictions); v != 1 {
		t.Errorf("PendingSynEvictions = %v, want 1", v)
	}
	if v := counterValue(t, c.ExpirerFirings, "udp"); v != 1 {
		t.Errorf("ExpirerFirings(udp) = %v, want 1", v)
	}
	if v := testutilCounter(t, c.PoolExhausted); v != 1 {
		t.Errorf("PoolExhausted = %v, want 1", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func testutilCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func testutilGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
