package peer

import (
	"errors"
	"math"
	"net"

	"udpwire-go/source/protocol"
)

// IncomingKind classifies what an incoming message record carries. Kinds
// are single bits so the config can mask which ones reach the host.
type IncomingKind uint16

const (
	// KindError is never delivered under normal operation.
	KindError IncomingKind = 1 << iota
	// KindStatusChanged carries a connection status byte and a reason
	// string.
	KindStatusChanged
	// KindUnconnectedData carries payload from an endpoint with no
	// connection.
	KindUnconnectedData
	// KindData carries application payload from a connected peer.
	KindData
	// KindDebugMessage and friends carry diagnostics as strings.
	KindDebugMessage
	KindWarningMessage
	KindErrorMessage
	// KindConnectionLatencyUpdated carries the latest roundtrip sample
	// as a float32.
	KindConnectionLatencyUpdated
)

func (k IncomingKind) String() string {
	switch k {
	case KindError:
		return "Error"
	case KindStatusChanged:
		return "StatusChanged"
	case KindUnconnectedData:
		return "UnconnectedData"
	case KindData:
		return "Data"
	case KindDebugMessage:
		return "DebugMessage"
	case KindWarningMessage:
		return "WarningMessage"
	case KindErrorMessage:
		return "ErrorMessage"
	case KindConnectionLatencyUpdated:
		return "ConnectionLatencyUpdated"
	}
	return "Unknown"
}

// IncomingMessage is a message buffer extended with receive metadata. The
// network goroutine fills it, hands it to the host exactly once, and the
// host returns it through Peer.Recycle.
type IncomingMessage struct {
	protocol.Buffer

	Kind             IncomingKind
	SenderEndpoint   *net.UDPAddr
	SenderConnection *Connection
	SequenceNumber   int
	ReceivedType     protocol.WireType
	IsFragment       bool
	// ReceiveTime is seconds on the local clock when the datagram
	// arrived.
	ReceiveTime float64

	userMsgTime float64
}

// ReadRemoteTime reads a float64 timestamp the remote peer wrote into the
// payload and translates it to the local clock using the sender
// connection's offset estimate. The result is cached; repeated calls do
// not advance the read position again.
func (m *IncomingMessage) ReadRemoteTime() (float64, error) {
	if !math.IsNaN(m.userMsgTime) {
		return m.userMsgTime, nil
	}
	if m.SenderConnection == nil {
		return 0, errors.New("no sender connection for time translation")
	}
	remote, err := m.ReadFloat64()
	if err != nil {
		return 0, err
	}
	m.userMsgTime = m.SenderConnection.LocalTime(remote)
	return m.userMsgTime, nil
}

func newIncomingMessage(kind IncomingKind) *IncomingMessage {
	return &IncomingMessage{
		Kind:        kind,
		userMsgTime: math.NaN(),
	}
}
