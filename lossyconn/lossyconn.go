// Package lossyconn wraps a net.PacketConn to simulate independent
// per-datagram loss, for exercising the protocol's FEC/retry convergence
// properties (spec.md §8) without a real lossy network.
//
// Grounded on the teacher's conn/bindtest package, which fakes a
// conn.Bind with channel-routed, randomized delivery for device tests;
// this package adapts that "randomized, test-only packet delivery"
// pattern to wrap a genuine net.PacketConn (as quic.Transport{Conn: ...}
// expects) rather than the teacher's own Bind interface, since this
// module's transport is QUIC, not a raw UDP Bind.
package lossyconn

import (
	"math/rand"
	"net"
)

// Conn drops a fraction of outbound writes before they reach the
// underlying net.PacketConn. Reads are never dropped: loss is modeled
// as happening on the wire between sender and receiver, and dropping on
// the write side of the sender's conn is equivalent for an unordered,
// unreliable datagram channel.
type Conn struct {
	net.PacketConn
	lossRate float64
	rng      *rand.Rand
}

// New wraps pc, dropping WriteTo calls with independent probability
// lossRate (0 <= lossRate < 1). seed makes the loss pattern
// reproducible across test runs.
func New(pc net.PacketConn, lossRate float64, seed int64) *Conn {
	return &Conn{
		PacketConn: pc,
		lossRate:   lossRate,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// WriteTo drops the datagram (returning a success response to the
// caller, as a real lossy network would: the sender never learns a
// specific datagram vanished) with probability lossRate; otherwise it
// forwards to the underlying connection.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if c.rng.Float64() < c.lossRate {
		return len(p), nil
	}
	return c.PacketConn.WriteTo(p, addr)
}
