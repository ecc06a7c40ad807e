package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"udpwire-go/pkg/logger"
	"udpwire-go/pkg/stats"
	"udpwire-go/source/protocol"
)

// ErrPeerClosed is returned by operations on a peer that is not running.
var ErrPeerClosed = errors.New("peer is not running")

const heartbeatInterval = 50 * time.Millisecond

type rawDatagram struct {
	data []byte
	from *net.UDPAddr
}

// Peer owns a UDP socket and the connections riding on it. All connection
// state is mutated on a single network goroutine; user goroutines interact
// through message construction, the send hand-off, and the incoming queue.
type Peer struct {
	cfg   *Config
	conn  *net.UDPConn
	pool  *protocol.ArrayPool
	start time.Time

	mu          sync.RWMutex
	connections map[string]*Connection

	incoming  chan *IncomingMessage
	datagrams chan rawDatagram
	commands  chan func()
	done      chan struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewPeer creates a peer with the given configuration; nil means
// DefaultConfig.
func NewPeer(cfg *Config) *Peer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Peer{
		cfg:         cfg,
		pool:        protocol.NewArrayPool(),
		start:       time.Now(),
		connections: make(map[string]*Connection),
		incoming:    make(chan *IncomingMessage, cfg.IncomingQueueLength),
		datagrams:   make(chan rawDatagram, 128),
		commands:    make(chan func(), 128),
		done:        make(chan struct{}),
	}
}

// now returns seconds on the local monotonic clock.
func (p *Peer) now() float64 {
	return time.Since(p.start).Seconds()
}

// Start binds the socket and launches the socket reader and the network
// goroutine.
func (p *Peer) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(p.cfg.BindHost), Port: p.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}
	p.conn = conn
	p.running.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.group = g
	g.Go(func() error { return p.readLoop(ctx) })
	g.Go(func() error { return p.networkLoop(ctx) })

	logger.Info("peer listening on %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound socket address.
func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Shutdown notifies every remote peer, stops the loops, and closes the
// incoming queue.
func (p *Peer) Shutdown(reason string) {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.cancel()
	_ = p.conn.SetReadDeadline(time.Now())
	_ = p.group.Wait()

	// Loops are stopped; this goroutine is the sole owner now.
	now := p.now()
	for _, c := range p.connectionList() {
		payload := protocol.NewBufferCapacity(len(reason) + 2)
		payload.WriteString(reason)
		c.sendLibrary(protocol.WireDisconnect, payload)
		c.setStatus(StatusDisconnected)
	}
	_ = p.conn.Close()
	close(p.incoming)
	logger.Info("peer stopped: %s", reason)
}

// readLoop owns only the socket read side: it copies each datagram into a
// pooled array and hands it to the network goroutine.
func (p *Peer) readLoop(ctx context.Context) error {
	scratch := make([]byte, int(p.cfg.ReceiveBufferSize.Bytes()))
	for {
		n, addr, err := p.conn.ReadFromUDP(scratch)
		if err != nil {
			if !p.running.Load() || ctx.Err() != nil {
				return nil
			}
			logger.Error("read UDP packet: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		data := p.pool.Get(n)
		copy(data, scratch[:n])
		select {
		case p.datagrams <- rawDatagram{data: data, from: addr}:
		case <-ctx.Done():
			return nil
		}
	}
}

// networkLoop is the network goroutine: every piece of connection state is
// touched here and nowhere else, so off-thread access is impossible by
// construction rather than checked at runtime.
func (p *Peer) networkLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-p.datagrams:
			p.handleDatagram(d)
		case cmd := <-p.commands:
			cmd()
		case <-ticker.C:
			now := p.now()
			for _, c := range p.connectionList() {
				c.heartbeat(now)
			}
		}
	}
}

// post runs cmd on the network goroutine; this is the hand-off point for
// user-thread operations.
func (p *Peer) post(cmd func()) {
	select {
	case p.commands <- cmd:
	case <-p.done:
	}
}

func (p *Peer) addConnection(c *Connection) {
	p.mu.Lock()
	p.connections[c.remoteEndpoint.String()] = c
	p.mu.Unlock()
}

func (p *Peer) removeConnection(c *Connection) {
	p.mu.Lock()
	delete(p.connections, c.remoteEndpoint.String())
	p.mu.Unlock()
}

func (p *Peer) connectionFor(addr *net.UDPAddr) *Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connections[addr.String()]
}

func (p *Peer) connectionList() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.connections))
	for _, c := range p.connections {
		out = append(out, c)
	}
	return out
}

// Connections returns the live connections.
func (p *Peer) Connections() []*Connection {
	return p.connectionList()
}

// ConnectionsSnapshot implements stats.Source.
func (p *Peer) ConnectionsSnapshot() []stats.Snapshot {
	conns := p.connectionList()
	out := make([]stats.Snapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, stats.Snapshot{
			ID:              c.id.String(),
			Endpoint:        c.remoteEndpoint.String(),
			RoundtripTime:   c.AverageRoundtripTime(),
			SentPackets:     c.stats.SentPackets(),
			SentBytes:       c.stats.SentBytes(),
			ReceivedPackets: c.stats.ReceivedPackets(),
			ReceivedBytes:   c.stats.ReceivedBytes(),
		})
	}
	return out
}

// CreateMessage returns a buffer for an outgoing message, backed by the
// peer's array pool for scratch space.
func (p *Peer) CreateMessage(capacityBytes int) *protocol.Buffer {
	b := protocol.NewBufferCapacity(capacityBytes)
	b.UsePool(p.pool)
	return b
}

// Connect starts a handshake with the given address and returns the
// pending connection; the outcome arrives as a StatusChanged message.
func (p *Peer) Connect(address string) (*Connection, error) {
	if !p.running.Load() {
		return nil, ErrPeerClosed
	}
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	c := newConnection(p, raddr)
	c.setStatus(StatusInitiatedConnect)
	p.addConnection(c)
	p.post(func() {
		c.handshakeAttempts = 1
		c.nextHandshakeResend = p.now() + c.handshakeBackoff.NextBackOff().Seconds()
		p.sendHandshake(c, protocol.WireConnect)
	})
	return c, nil
}

// Disconnect closes the connection after notifying the remote peer.
func (p *Peer) Disconnect(c *Connection, reason string) {
	p.post(func() { p.dropConnection(c, p.now(), reason) })
}

// SendMessage hands msg to the network goroutine for delivery. After the
// call the caller must not touch msg.
func (p *Peer) SendMessage(c *Connection, msg *protocol.Buffer,
	method protocol.DeliveryMethod, channel int) error {

	if method == protocol.DeliveryUnknown {
		return errors.New("unknown delivery method")
	}
	if channel < 0 || channel >= protocol.NumChannels {
		return fmt.Errorf("channel %d outside 0-%d", channel, protocol.NumChannels-1)
	}
	if !p.running.Load() {
		return ErrPeerClosed
	}
	p.post(func() {
		if c.Status() != StatusConnected {
			logger.Debug("dropping send to %s connection %s", c.Status(), c.id)
			return
		}
		c.sendUserMessage(p.now(), msg, method, channel)
	})
	return nil
}

// ReadMessage blocks until a message arrives or the context is canceled.
func (p *Peer) ReadMessage(ctx context.Context) (*IncomingMessage, error) {
	select {
	case m, ok := <-p.incoming:
		if !ok {
			return nil, ErrPeerClosed
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReadMessage returns the next message or nil without blocking.
func (p *Peer) TryReadMessage() *IncomingMessage {
	select {
	case m := <-p.incoming:
		return m
	default:
		return nil
	}
}

// Recycle returns a delivered message's storage to the peer's pool. The
// host must not touch the message afterwards.
func (p *Peer) Recycle(msg *IncomingMessage) {
	if storage := msg.Storage(); storage != nil {
		p.pool.Recycle(storage)
	}
	msg.SenderConnection = nil
	msg.SenderEndpoint = nil
}

func (p *Peer) releaseBuffer(b *protocol.Buffer) {
	if storage := b.Storage(); storage != nil {
		p.pool.Recycle(storage)
	}
}

// writeTo sends one framed datagram to the connection's endpoint.
func (p *Peer) writeTo(c *Connection, raw []byte) {
	if _, err := p.conn.WriteToUDP(raw, c.remoteEndpoint); err != nil {
		logger.Error("send to %s: %v", c.remoteEndpoint, err)
		return
	}
	c.stats.PacketSent(len(raw))
}

// frameMessage serializes one message: wire type, fragment flag packed
// with the 15-bit sequence number, payload length in bits, payload bytes.
func frameMessage(wireType protocol.WireType, sequence int, fragment bool,
	payload *protocol.Buffer) []byte {

	payloadBytes := 0
	payloadBits := 0
	if payload != nil {
		payloadBits = payload.BitLength()
		payloadBytes = payload.ByteLength()
	}
	out := protocol.NewBufferCapacity(protocol.MessageHeaderBytes + payloadBytes)
	out.WriteByte(byte(wireType))
	field := uint16(sequence << 1)
	if fragment {
		field |= 1
	}
	out.WriteUint16(field)
	out.WriteUint16(uint16(payloadBits))
	if payload != nil {
		out.WriteBytes(payload.Data())
	}
	return out.Data()
}

// sendHandshake sends a handshake message carrying the local send time so
// the receiver can seed its clock offset before any pong.
func (p *Peer) sendHandshake(c *Connection, wireType protocol.WireType) {
	payload := protocol.NewBufferCapacity(4)
	payload.WriteFloat32(float32(p.now()))
	c.sendLibrary(wireType, payload)
}

// handleDatagram splits a datagram into framed messages and dispatches
// each. Runs on the network goroutine.
func (p *Peer) handleDatagram(d rawDatagram) {
	now := p.now()
	c := p.connectionFor(d.from)
	if c != nil {
		c.stats.PacketReceived(len(d.data))
	}

	buf := protocol.WrapBuffer(d.data)
	buf.UsePool(p.pool)

	for buf.BitsRemaining() >= protocol.MessageHeaderBytes*8 {
		t, _ := buf.ReadByte()
		field, _ := buf.ReadUint16()
		lengthBits, _ := buf.ReadUint16()

		wireType := protocol.WireType(t)
		fragment := field&1 != 0
		sequence := int(field >> 1)
		payloadBits := int(lengthBits)
		payloadBytes := (payloadBits + 7) / 8

		if buf.BitsRemaining() < payloadBytes*8 {
			logger.Debug("truncated message from %s", d.from)
			break
		}

		var payload *protocol.Buffer
		if payloadBytes > 0 {
			raw := p.pool.Get(payloadBytes)
			_ = buf.ReadBytesInto(raw)
			payload = protocol.WrapBufferBits(raw, payloadBits)
			payload.UsePool(p.pool)
		} else {
			payload = protocol.NewBuffer()
		}
		p.handleMessage(c, d.from, wireType, sequence, fragment, payload, now)
	}
	p.pool.Recycle(d.data)
}

func (p *Peer) handleMessage(c *Connection, from *net.UDPAddr,
	wireType protocol.WireType, sequence int, fragment bool,
	payload *protocol.Buffer, now float64) {

	switch wireType {
	case protocol.WirePing:
		if c != nil {
			c.resetTimeout(now)
			if number, err := payload.ReadByte(); err == nil {
				c.sendPong(number)
			}
		}
		p.releaseBuffer(payload)

	case protocol.WirePong:
		if c != nil {
			number, err1 := payload.ReadByte()
			remoteTime, err2 := payload.ReadFloat32()
			if err1 == nil && err2 == nil {
				c.receivedPong(now, number, remoteTime)
			}
		}
		p.releaseBuffer(payload)

	case protocol.WireConnect:
		p.handleConnect(c, from, payload, now)
		p.releaseBuffer(payload)

	case protocol.WireConnectResponse:
		p.handleConnectResponse(c, payload, now)
		p.releaseBuffer(payload)

	case protocol.WireConnectionEstablished:
		p.handleConnectionEstablished(c, payload, now)
		p.releaseBuffer(payload)

	case protocol.WireAcknowledge:
		if c != nil {
			c.handleAcks(payload)
		}
		p.releaseBuffer(payload)

	case protocol.WireDisconnect:
		if c != nil {
			reason, _ := payload.ReadString()
			p.removeConnection(c)
			c.setStatus(StatusDisconnected)
			p.deliverStatus(c, now, reason)
		}
		p.releaseBuffer(payload)

	case protocol.WireUnconnected:
		msg := newIncomingMessage(KindUnconnectedData)
		msg.Buffer = *payload
		msg.SenderEndpoint = from
		msg.ReceiveTime = now
		p.deliver(msg)

	default:
		if !wireType.IsUserMessage() {
			logger.Debug("unhandled wire type %d from %s", wireType, from)
			p.releaseBuffer(payload)
			return
		}
		if c == nil {
			logger.Debug("user message from unknown endpoint %s", from)
			p.releaseBuffer(payload)
			return
		}
		if wireType.Delivery().IsReliable() {
			c.queueAck(wireType, sequence)
		}
		msg := newIncomingMessage(KindData)
		msg.Buffer = *payload
		msg.SenderEndpoint = from
		msg.SenderConnection = c
		msg.SequenceNumber = sequence
		msg.ReceivedType = wireType
		msg.IsFragment = fragment
		msg.ReceiveTime = now
		p.deliver(msg)
	}
}

// handleConnect is the accepting side of the handshake.
func (p *Peer) handleConnect(c *Connection, from *net.UDPAddr,
	payload *protocol.Buffer, now float64) {

	if c != nil {
		// Retransmitted connect; answer again.
		p.sendHandshake(c, protocol.WireConnectResponse)
		return
	}
	c = newConnection(p, from)
	c.setStatus(StatusRespondedConnect)
	p.addConnection(c)
	if remoteTime, ok := payload.TryReadFloat32(); ok {
		c.initializeRemoteTimeOffset(now, float64(remoteTime))
	}
	p.sendHandshake(c, protocol.WireConnectResponse)
}

// handleConnectResponse is the initiating side completing the handshake.
func (p *Peer) handleConnectResponse(c *Connection, payload *protocol.Buffer, now float64) {
	if c == nil || c.Status() != StatusInitiatedConnect {
		return
	}
	if remoteTime, ok := payload.TryReadFloat32(); ok {
		c.initializeRemoteTimeOffset(now, float64(remoteTime))
	}
	p.sendHandshake(c, protocol.WireConnectionEstablished)
	c.setStatus(StatusConnected)
	c.initializePing(now)
	p.deliverStatus(c, now, "connected")
}

// handleConnectionEstablished is the accepting side completing the
// handshake.
func (p *Peer) handleConnectionEstablished(c *Connection, payload *protocol.Buffer, now float64) {
	if c == nil || c.Status() != StatusRespondedConnect {
		return
	}
	if remoteTime, ok := payload.TryReadFloat32(); ok {
		c.initializeRemoteTimeOffset(now, float64(remoteTime))
	}
	c.setStatus(StatusConnected)
	c.initializePing(now)
	p.deliverStatus(c, now, "connected")
}

// dropConnection tears a connection down from the network goroutine.
func (p *Peer) dropConnection(c *Connection, now float64, reason string) {
	if c.Status() == StatusDisconnected {
		return
	}
	payload := protocol.NewBufferCapacity(len(reason) + 2)
	payload.WriteString(reason)
	c.sendLibrary(protocol.WireDisconnect, payload)
	p.removeConnection(c)
	c.setStatus(StatusDisconnected)
	p.deliverStatus(c, now, reason)
}

// deliverStatus surfaces a status transition to the host as an incoming
// record carrying the status byte and a reason string.
func (p *Peer) deliverStatus(c *Connection, now float64, reason string) {
	logger.Info("connection %s (%s): %s - %s", c.id, c.remoteEndpoint, c.Status(), reason)
	if !p.cfg.IsKindEnabled(KindStatusChanged) {
		return
	}
	msg := newIncomingMessage(KindStatusChanged)
	msg.SenderConnection = c
	msg.SenderEndpoint = c.remoteEndpoint
	msg.ReceiveTime = now
	msg.WriteByte(byte(c.Status()))
	msg.WriteString(reason)
	p.deliver(msg)
}

// deliver queues a record for the host, or recycles it when the host has
// not enabled its kind or the queue is full.
func (p *Peer) deliver(msg *IncomingMessage) {
	if !p.cfg.IsKindEnabled(msg.Kind) {
		p.Recycle(msg)
		return
	}
	select {
	case p.incoming <- msg:
	default:
		logger.Warn("incoming queue full, dropping %s message", msg.Kind)
		p.Recycle(msg)
	}
}
