package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"udpwire-go/source/protocol"
)

func testConnection(t *testing.T) (*Peer, *Connection) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableMessageKind(KindConnectionLatencyUpdated)
	p := NewPeer(cfg)
	c := newConnection(p, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 14242})
	c.setStatus(StatusConnected)
	return p, c
}

func TestFirstPongSeedsEstimates(t *testing.T) {
	p, c := testConnection(t)

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	require.InDelta(t, 0.4, c.AverageRoundtripTime(), 1e-9)
	require.InDelta(t, 9.8, c.RemoteTimeOffset(), 1e-9)

	// The roundtrip sample was published to the host.
	msg := p.TryReadMessage()
	require.NotNil(t, msg)
	require.Equal(t, KindConnectionLatencyUpdated, msg.Kind)
	rtt, err := msg.ReadFloat32()
	require.NoError(t, err)
	require.InDelta(t, 0.4, float64(rtt), 1e-6)
	require.Same(t, c, msg.SenderConnection)
}

func TestSecondPongBlendsEstimates(t *testing.T) {
	_, c := testConnection(t)

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	c.sentPingNumber = 2
	c.sentPingTime = 20.6
	c.receivedPong(20.8, 2, 30.4)

	// EWMA with alpha 0.3 over the prior 0.4 and the fresh 0.2.
	require.InDelta(t, 0.34, c.AverageRoundtripTime(), 1e-9)
	// Cumulative mean of the per-pong offsets 9.8 and 9.7. The send time
	// travels as a float32, so the second offset uses 30.4 rounded to
	// float32 precision.
	secondDiff := float64(float32(30.4)) + 0.2/2 - 20.8
	require.InDelta(t, (9.8+secondDiff)/2, c.RemoteTimeOffset(), 1e-9)
}

func TestMismatchedPongIsDropped(t *testing.T) {
	_, c := testConnection(t)

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	before := c.AverageRoundtripTime()
	c.sentPingNumber = 2
	c.sentPingTime = 20.6
	c.receivedPong(20.8, 7, 99.0) // stale number
	require.Equal(t, before, c.AverageRoundtripTime())
	require.InDelta(t, 9.8, c.RemoteTimeOffset(), 1e-9)
}

func TestPingNumberTruncatesToLowByte(t *testing.T) {
	_, c := testConnection(t)

	c.sentPingNumber = 256
	c.sentPingTime = 1.0
	c.receivedPong(1.1, 0, 2.0) // 256 mod 256
	require.InDelta(t, 0.1, c.AverageRoundtripTime(), 1e-9)
}

func TestPongRefreshesTimeoutDeadline(t *testing.T) {
	_, c := testConnection(t)

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	c.mu.RLock()
	deadline := c.timeoutDeadline
	c.mu.RUnlock()
	require.InDelta(t, 10.4+c.timeout, deadline, 1e-9)
}

func TestTimeTranslation(t *testing.T) {
	_, c := testConnection(t)

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	local := 42.0
	require.InDelta(t, local, c.LocalTime(c.RemoteTime(local)), 1e-9)
	require.InDelta(t, 51.8, c.RemoteTime(42.0), 1e-9)
}

func TestInitializeRemoteTimeOffset(t *testing.T) {
	_, c := testConnection(t)

	// No roundtrip estimate yet: offset is remote minus local.
	c.initializeRemoteTimeOffset(5.0, 12.0)
	require.InDelta(t, 7.0, c.RemoteTimeOffset(), 1e-9)

	// With an estimate, half the roundtrip is credited.
	c.mu.Lock()
	c.avgRoundtripTime = 0.2
	c.mu.Unlock()
	c.initializeRemoteTimeOffset(5.0, 12.0)
	require.InDelta(t, 7.1, c.RemoteTimeOffset(), 1e-9)
}

func TestResendDelayIsPositiveAndMonotone(t *testing.T) {
	require.Greater(t, resendDelayFor(0), 0.0)
	require.Greater(t, resendDelayFor(-1), 0.0)
	require.Greater(t, resendDelayFor(0.0001), 0.0)

	prev := 0.0
	for _, rtt := range []float64{0.01, 0.05, 0.1, 0.5, 1, 5} {
		d := resendDelayFor(rtt)
		require.Greater(t, d, prev)
		prev = d
	}
}

func TestPongPushesResendDelayToChannels(t *testing.T) {
	_, c := testConnection(t)

	wt := protocol.WireTypeFor(protocol.DeliveryReliableOrdered, 0)
	ch := newReliableSender(wt, c.ResendDelay())
	c.channels[wt] = ch

	c.sentPingNumber = 1
	c.sentPingTime = 10.0
	c.receivedPong(10.4, 1, 20.0)

	require.InDelta(t, resendDelayFor(0.4), ch.resendDelay, 1e-9)
}

func TestInitializePingArmsDoubledTimeout(t *testing.T) {
	_, c := testConnection(t)

	c.initializePing(100.0)

	c.mu.RLock()
	deadline := c.timeoutDeadline
	sent := c.sentPingNumber
	c.mu.RUnlock()
	require.InDelta(t, 100.0+2*c.timeout, deadline, 1e-9)
	require.Equal(t, 1, sent)
	require.Less(t, c.AverageRoundtripTime(), 0.0)
}
