// Package xlat implements the stateful NAT64 translation core: the
// Binding Information Base, per-protocol session tables and their
// expirers, the TCP state machine, the IPv4/IPv6 address pools, and the
// six-stage packet pipeline (tuple extraction, filtering, outgoing
// tuple, translation, hairpinning, send).
package xlat
