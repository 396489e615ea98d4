package xlat

import (
	"context"
	"errors"
)

// RawPacket is one opaque packet crossing the PacketSource/PacketSink
// boundary: an L3 family tag plus the
// raw bytes. The core never inspects anything about a packet before
// Translator.Handle parses it.
type RawPacket struct {
	L3 L3
	Data []byte
}

// PacketSource is the host-side feed of inbound packets. An adapter driving real sockets or a test harness both
// implement this the same way.
type PacketSource interface {
	Recv(ctx context.Context) (RawPacket, error)
}

// PacketSink is where a translated (or synthesized ICMP) packet is
// delivered for onward transmission.
type PacketSink interface {
	Send(ctx context.Context, pkt RawPacket) error
}

// ErrChannelClosed is returned by Channel.Recv/Send once Close has
// been called.
var ErrChannelClosed = errors.New("xlat: packet channel closed")

// Channel is an in-memory PacketSource/PacketSink pair: a pair of
// buffered Go channels suitable for tests and for driving the
// translator from a higher-level adapter, without this package ever
// opening a raw socket itself. Inject feeds packets as if received
// from the host; Out drains packets the translator (or a test) wants
// sent.
type Channel struct {
	in chan RawPacket
	out chan RawPacket
	closed chan struct{}
}

// NewChannel creates a Channel with the given per-direction buffer
// depth.
func NewChannel(buffer int) *Channel {
	return &Channel{
		in: make(chan RawPacket, buffer),
		out: make(chan RawPacket, buffer),
		closed: make(chan struct{}),
	}
}

// Inject delivers pkt as though received from the host, for tests or
// an adapter translating from a real socket into this Channel.
func (c *Channel) Inject(ctx context.Context, pkt RawPacket) error {
	select {
	case c.in <- pkt:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements PacketSource by reading the next injected packet.
func (c *Channel) Recv(ctx context.Context) (RawPacket, error) {
	select {
	case pkt := <-c.in:
		return pkt, nil
	case <-c.closed:
		return RawPacket{}, ErrChannelClosed
	case <-ctx.Done():
		return RawPacket{}, ctx.Err()
	}
}

// Send implements PacketSink by queuing pkt for a consumer reading Out.
func (c *Channel) Send(ctx context.Context, pkt RawPacket) error {
	select {
	case c.out <- pkt:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Out returns the channel of packets handed to Send, for a test or
// adapter to drain and forward onward.
func (c *Channel) Out() <-chan RawPacket { return c.out }

// Close unblocks any pending Recv/Send/Inject calls. Safe to call once.
func (c *Channel) Close() { close(c.closed) }
