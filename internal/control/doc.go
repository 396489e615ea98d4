// Package control implements the NAT64 binary control channel: a
// request/response protocol over a net.Listener (TCP or Unix domain
// socket) for inspecting and mutating pool6/pool4/BIB/session state and
// the live GENERAL configuration, used by cmd/nat64ctl.
//
// Every frame starts with a fixed {length:u32, mode:u8, operation:u8}
// header, little-endian, followed by a mode-specific payload. This is
// deliberately not protobuf/gRPC: the wire layout is specified byte for
// byte, so it is hand-rolled with encoding/binary in the same style the
// translator core uses for its own packet codecs.
package control
