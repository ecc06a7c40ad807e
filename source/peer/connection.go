package peer

import (
	"math"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/xid"

	"udpwire-go/pkg/logger"
	"udpwire-go/pkg/stats"
	"udpwire-go/source/protocol"
)

// Status is a connection's lifecycle state.
type Status int

const (
	StatusNone Status = iota
	StatusInitiatedConnect
	StatusRespondedConnect
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusInitiatedConnect:
		return "InitiatedConnect"
	case StatusRespondedConnect:
		return "RespondedConnect"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	}
	return "Unknown"
}

// Connection is one remote peer. Mutating operations run on the network
// goroutine only; the exported getters may be called from any goroutine.
type Connection struct {
	peer           *Peer
	id             xid.ID
	remoteEndpoint *net.UDPAddr

	mu     sync.RWMutex
	status Status

	// Latency and keep-alive state. sentPingNumber is truncated to its
	// low byte on the wire.
	sentPingNumber   int
	sentPingTime     float64
	lastPingSent     float64
	avgRoundtripTime float64 // negative until the first pong
	remoteTimeOffset float64
	timeoutDeadline  float64

	timeout      float64
	pingInterval float64

	// Network-goroutine-only state.
	channels    map[protocol.WireType]*reliableSender
	pendingAcks []ackRecord
	plainSeq    int

	handshakeBackoff    *backoff.ExponentialBackOff
	nextHandshakeResend float64
	handshakeAttempts   int

	stats stats.Connection
}

func newConnection(p *Peer, remote *net.UDPAddr) *Connection {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return &Connection{
		peer:             p,
		id:               xid.New(),
		remoteEndpoint:   remote,
		status:           StatusNone,
		avgRoundtripTime: -1,
		timeoutDeadline:  math.Inf(1),
		timeout:          p.cfg.ConnectionTimeout,
		pingInterval:     p.cfg.PingInterval,
		channels:         make(map[protocol.WireType]*reliableSender),
		handshakeBackoff: b,
	}
}

// ID returns the connection's unique id.
func (c *Connection) ID() xid.ID {
	return c.id
}

// RemoteEndpoint returns the remote address.
func (c *Connection) RemoteEndpoint() *net.UDPAddr {
	return c.remoteEndpoint
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Stats returns the connection's traffic counters.
func (c *Connection) Stats() *stats.Connection {
	return &c.stats
}

// AverageRoundtripTime returns the smoothed roundtrip time in seconds, or
// a negative value before the first pong.
func (c *Connection) AverageRoundtripTime() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avgRoundtripTime
}

// RemoteTimeOffset returns the estimated difference between the remote
// clock and the local one: remote = local + offset.
func (c *Connection) RemoteTimeOffset() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteTimeOffset
}

// RemoteTime translates a local timestamp to the remote clock.
func (c *Connection) RemoteTime(local float64) float64 {
	return local + c.RemoteTimeOffset()
}

// LocalTime translates a remote timestamp to the local clock.
func (c *Connection) LocalTime(remote float64) float64 {
	return remote - c.RemoteTimeOffset()
}

// resendDelayFor maps a roundtrip estimate to a retransmission delay. It
// is non-decreasing in the estimate and stays strictly positive even when
// the estimate is tiny or still unset.
func resendDelayFor(avgRtt float64) float64 {
	if avgRtt < 0 {
		avgRtt = 0.1
	}
	return 0.025 + avgRtt*2.1
}

// ResendDelay returns the delay reliable channels currently wait before
// retransmitting an unacknowledged message.
func (c *Connection) ResendDelay() float64 {
	return resendDelayFor(c.AverageRoundtripTime())
}

// initializePing arms the keep-alive machinery once the handshake
// completes: a doubled timeout window for the first exchange and an
// immediate ping.
func (c *Connection) initializePing(now float64) {
	c.mu.Lock()
	c.timeoutDeadline = now + 2*c.timeout
	c.avgRoundtripTime = -1
	c.mu.Unlock()
	c.sendPing(now)
}

// sendPing emits a ping whose payload is the low byte of the incremented
// ping number.
func (c *Connection) sendPing(now float64) {
	c.mu.Lock()
	c.sentPingNumber++
	c.sentPingTime = now
	c.lastPingSent = now
	number := byte(c.sentPingNumber)
	c.mu.Unlock()

	payload := protocol.NewBufferCapacity(1)
	payload.WriteByte(number)
	c.sendLibrary(protocol.WirePing, payload)
}

// sendPong answers a ping. The timestamp is sampled immediately before
// emission so the remote clock math sees send time, not queue time.
func (c *Connection) sendPong(pingNumber byte) {
	payload := protocol.NewBufferCapacity(5)
	payload.WriteByte(pingNumber)
	payload.WriteFloat32(float32(c.peer.now()))
	c.sendLibrary(protocol.WirePong, payload)
}

// receivedPong folds a pong into the roundtrip and clock-offset
// estimates, refreshes the timeout deadline, and pushes the new resend
// delay to every reliable channel.
func (c *Connection) receivedPong(now float64, pongNumber byte, remoteSendTime float32) {
	c.mu.Lock()
	if pongNumber != byte(c.sentPingNumber) {
		expected := byte(c.sentPingNumber)
		c.mu.Unlock()
		logger.Debug("connection %s: pong %d does not match ping %d, dropped",
			c.id, pongNumber, expected)
		return
	}

	c.timeoutDeadline = now + c.timeout

	rtt := now - c.sentPingTime
	if rtt < 0 {
		rtt = 0
	}
	diff := float64(remoteSendTime) + rtt/2 - now

	if c.avgRoundtripTime < 0 {
		c.remoteTimeOffset = diff
		c.avgRoundtripTime = rtt
	} else {
		c.avgRoundtripTime = 0.7*c.avgRoundtripTime + 0.3*rtt
		n := float64(c.sentPingNumber)
		c.remoteTimeOffset = (c.remoteTimeOffset*(n-1) + diff) / n
	}

	delay := resendDelayFor(c.avgRoundtripTime)
	for _, ch := range c.channels {
		ch.setResendDelay(delay)
	}
	avg, offset := c.avgRoundtripTime, c.remoteTimeOffset
	c.mu.Unlock()

	logger.Debug("connection %s: rtt=%.1fms avg=%.1fms offset=%.3fs",
		c.id, rtt*1000, avg*1000, offset)

	if c.peer.cfg.IsKindEnabled(KindConnectionLatencyUpdated) {
		msg := newIncomingMessage(KindConnectionLatencyUpdated)
		msg.SenderConnection = c
		msg.SenderEndpoint = c.remoteEndpoint
		msg.ReceiveTime = now
		msg.WriteFloat32(float32(rtt))
		c.peer.deliver(msg)
	}
}

// resetTimeout pushes the drop deadline out by the configured timeout.
func (c *Connection) resetTimeout(now float64) {
	c.mu.Lock()
	c.timeoutDeadline = now + c.timeout
	c.mu.Unlock()
}

// initializeRemoteTimeOffset seeds the clock offset from the first
// time-carrying packet, before any pong has been exchanged.
func (c *Connection) initializeRemoteTimeOffset(now, remoteSendTime float64) {
	c.mu.Lock()
	avg := c.avgRoundtripTime
	if avg < 0 {
		avg = 0
	}
	c.remoteTimeOffset = remoteSendTime + avg/2 - now
	c.mu.Unlock()
}

// sendLibrary frames and sends a library message; sequence 0, never
// retransmitted.
func (c *Connection) sendLibrary(wireType protocol.WireType, payload *protocol.Buffer) {
	raw := frameMessage(wireType, 0, false, payload)
	c.peer.writeTo(c, raw)
}

// sendUserMessage frames, sends, and (for reliable methods) enqueues an
// application message. Runs on the network goroutine after hand-off.
func (c *Connection) sendUserMessage(now float64, payload *protocol.Buffer,
	method protocol.DeliveryMethod, channel int) {

	wireType := protocol.WireTypeFor(method, channel)

	var seq int
	if method.IsReliable() {
		ch := c.channels[wireType]
		if ch == nil {
			ch = newReliableSender(wireType, c.ResendDelay())
			c.channels[wireType] = ch
		}
		seq = ch.nextSequence()
		raw := frameMessage(wireType, seq, false, payload)
		ch.enqueue(seq, raw, now)
		c.peer.writeTo(c, raw)
		return
	}

	seq = c.plainSeq
	c.plainSeq = (c.plainSeq + 1) % protocol.MaxSequenceNumber
	c.peer.writeTo(c, frameMessage(wireType, seq, false, payload))
}

// queueAck records a reliably-received message; heartbeat flushes the
// batch.
func (c *Connection) queueAck(wireType protocol.WireType, sequence int) {
	c.pendingAcks = append(c.pendingAcks, ackRecord{wireType: wireType, sequence: sequence})
}

// handleAcks clears acknowledged envelopes from their channels.
func (c *Connection) handleAcks(msg *protocol.Buffer) {
	for msg.BitsRemaining() >= 24 {
		t, _ := msg.ReadByte()
		seq, _ := msg.ReadUint16()
		ch := c.channels[protocol.WireType(t)]
		if ch == nil || !ch.acknowledge(int(seq)) {
			logger.Debug("connection %s: ack for unknown %d/%d", c.id, t, seq)
		}
	}
}

// flushAcks sends one acknowledge message covering every queued record.
func (c *Connection) flushAcks() {
	if len(c.pendingAcks) == 0 {
		return
	}
	payload := protocol.NewBufferCapacity(len(c.pendingAcks) * 3)
	for _, a := range c.pendingAcks {
		payload.WriteByte(byte(a.wireType))
		payload.WriteUint16(uint16(a.sequence))
	}
	c.pendingAcks = c.pendingAcks[:0]
	c.sendLibrary(protocol.WireAcknowledge, payload)
}

// heartbeat drives handshake retransmission, keep-alive pings, ack
// flushing, reliable resends, and timeout expiry. Network goroutine only.
func (c *Connection) heartbeat(now float64) {
	switch c.Status() {
	case StatusInitiatedConnect:
		if now < c.nextHandshakeResend {
			return
		}
		if c.handshakeAttempts >= c.peer.cfg.MaxHandshakeAttempts {
			c.peer.dropConnection(c, now, "no response to connect request")
			return
		}
		c.handshakeAttempts++
		c.nextHandshakeResend = now + c.handshakeBackoff.NextBackOff().Seconds()
		c.peer.sendHandshake(c, protocol.WireConnect)
		return

	case StatusConnected:
		c.mu.RLock()
		deadline := c.timeoutDeadline
		pingDue := now >= c.lastPingSent+c.pingInterval
		c.mu.RUnlock()

		if now > deadline {
			c.peer.dropConnection(c, now, "connection timed out")
			return
		}
		if pingDue {
			c.sendPing(now)
		}
		c.flushAcks()
		for _, ch := range c.channels {
			for _, raw := range ch.dueResends(now) {
				c.peer.writeTo(c, raw)
			}
		}
	}
}
