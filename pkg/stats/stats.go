package stats

import "sync/atomic"

// Connection accumulates one connection's traffic counters. Safe for
// concurrent use; the network goroutine writes, anyone may read.
type Connection struct {
	sentPackets     atomic.Uint64
	sentBytes       atomic.Uint64
	receivedPackets atomic.Uint64
	receivedBytes   atomic.Uint64
}

// PacketSent records an outgoing datagram of the given size.
func (c *Connection) PacketSent(bytes int) {
	c.sentPackets.Add(1)
	c.sentBytes.Add(uint64(bytes))
}

// PacketReceived records an incoming datagram of the given size.
func (c *Connection) PacketReceived(bytes int) {
	c.receivedPackets.Add(1)
	c.receivedBytes.Add(uint64(bytes))
}

func (c *Connection) SentPackets() uint64     { return c.sentPackets.Load() }
func (c *Connection) SentBytes() uint64       { return c.sentBytes.Load() }
func (c *Connection) ReceivedPackets() uint64 { return c.receivedPackets.Load() }
func (c *Connection) ReceivedBytes() uint64   { return c.receivedBytes.Load() }

// Snapshot is one connection's state at a point in time. RoundtripTime is
// negative until the first pong arrives.
type Snapshot struct {
	ID            string
	Endpoint      string
	RoundtripTime float64

	SentPackets     uint64
	SentBytes       uint64
	ReceivedPackets uint64
	ReceivedBytes   uint64
}

// Source yields snapshots of all live connections.
type Source interface {
	ConnectionsSnapshot() []Snapshot
}
