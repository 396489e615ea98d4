//go:build integration

// Package integration_test exercises a running translator core end to
// end through the control channel, the same way an operator's CLI
// would: dial, add pool/BIB state, read it back, tear down.
package integration_test

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gonat64/internal/control"
	"github.com/dantte-lp/gonat64/internal/xlat"
)

func newIntegrationCore(t *testing.T) (*xlat.Core, xlat.Config) {
	t.Helper()

	cfg := xlat.Config{
		Pool6:     []xlat.Prefix6{{Addr: netip.MustParseAddr("64:ff9b::"), Len: 96}},
		SessionDB: xlat.DefaultSessionDBConfig(),
		Translate: xlat.DefaultTranslateConfig(),
		Filter:    xlat.DefaultFilterConfig(),
	}
	core, err := xlat.NewCore(cfg, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	t.Cleanup(core.Close)
	return core, cfg
}

func dialIntegrationServer(t *testing.T) *control.Client {
	t.Helper()

	core, cfg := newIntegrationCore(t)
	srv := control.NewServer(core, cfg, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := control.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// TestControlLifecyclePool4AddDisplayRemove walks a pool4 address
// through the full add/count/display/remove cycle over the wire,
// exactly the sequence nat64ctl pool4 {add,ls,rm} drives.
func TestControlLifecyclePool4AddDisplayRemove(t *testing.T) {
	client := dialIntegrationServer(t)

	enc := control.NewEncoder()
	enc.Str("203.0.113.5")
	if resp, err := client.Do(control.ModePool4, control.OpAdd, enc.Bytes()); err != nil || resp.Status != control.StatusOK {
		t.Fatalf("pool4 add: resp=%+v err=%v", resp, err)
	}

	resp, err := client.Do(control.ModePool4, control.OpCount, nil)
	if err != nil || resp.Status != control.StatusOK {
		t.Fatalf("pool4 count: resp=%+v err=%v", resp, err)
	}
	count, _ := control.NewDecoder(resp.Payload).U32()
	if count != 1 {
		t.Fatalf("pool4 count = %d, want 1", count)
	}

	resp, err = client.Do(control.ModePool4, control.OpDisplay, nil)
	if err != nil || resp.Status != control.StatusOK {
		t.Fatalf("pool4 display: resp=%+v err=%v", resp, err)
	}
	dec := control.NewDecoder(resp.Payload)
	n, _ := dec.U16()
	if n != 1 {
		t.Fatalf("pool4 display count = %d, want 1", n)
	}
	more, _ := dec.Bool()
	if more {
		t.Fatalf("pool4 display reported more pages for a single entry")
	}
	addr, _ := dec.Str()
	if addr != "203.0.113.5" {
		t.Fatalf("pool4 display addr = %q, want 203.0.113.5", addr)
	}

	enc = control.NewEncoder()
	enc.Str("203.0.113.5")
	if resp, err := client.Do(control.ModePool4, control.OpRemove, enc.Bytes()); err != nil || resp.Status != control.StatusOK {
		t.Fatalf("pool4 remove: resp=%+v err=%v", resp, err)
	}

	resp, err = client.Do(control.ModePool4, control.OpCount, nil)
	if err != nil || resp.Status != control.StatusOK {
		t.Fatalf("pool4 count after remove: resp=%+v err=%v", resp, err)
	}
	count, _ = control.NewDecoder(resp.Payload).U32()
	if count != 0 {
		t.Fatalf("pool4 count after remove = %d, want 0", count)
	}
}

// TestControlLifecyclePool6RejectsBadPrefix confirms a malformed
// prefix length is rejected with StatusBadRequest rather than
// panicking the server or silently corrupting the pool.
func TestControlLifecyclePool6RejectsBadPrefix(t *testing.T) {
	client := dialIntegrationServer(t)

	enc := control.NewEncoder()
	enc.Str("2001:db8::")
	enc.U8(200) // no IPv6 prefix length exceeds 128
	resp, err := client.Do(control.ModePool6, control.OpAdd, enc.Bytes())
	if err != nil {
		t.Fatalf("pool6 add: %v", err)
	}
	if resp.Status == control.StatusOK {
		t.Fatalf("pool6 add with /200 = StatusOK, want an error status")
	}
}

// TestControlLifecycleGeneralDisplayWithFilterPolicy confirms that a
// GENERAL DISPLAY over the wire returns a non-empty payload when the
// server's config carries drop-policy knobs.
func TestControlLifecycleGeneralDisplayWithFilterPolicy(t *testing.T) {
	core, cfg := newIntegrationCore(t)
	cfg.Filter = &xlat.FilterConfig{DropByAddr: false, DropICMPv6Info: true, DropExternalTCP: true}
	srv := control.NewServer(core, cfg, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(cancel)

	client, err := control.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	resp, err := client.Do(control.ModeGeneral, control.OpDisplay, nil)
	if err != nil || resp.Status != control.StatusOK {
		t.Fatalf("general display: resp=%+v err=%v", resp, err)
	}
	if len(resp.Payload) == 0 {
		t.Fatal("general display returned an empty payload")
	}
}
