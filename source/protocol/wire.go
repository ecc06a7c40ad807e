package protocol

// WireType tags each message inside a datagram. User types combine a
// delivery method with a sequence channel index; values 128 and up are
// library-internal.
type WireType byte

const (
	WireUnconnected WireType = 0

	WireUserUnreliable         WireType = 1
	WireUserSequenced1         WireType = 2 // ..33, one per channel
	WireUserReliableUnordered  WireType = 34
	WireUserReliableSequenced1 WireType = 35 // ..66
	WireUserReliableOrdered1   WireType = 67 // ..98

	WireLibraryError          WireType = 128
	WirePing                  WireType = 129
	WirePong                  WireType = 130
	WireConnect               WireType = 131
	WireConnectResponse       WireType = 132
	WireConnectionEstablished WireType = 133
	WireAcknowledge           WireType = 134
	WireDisconnect            WireType = 135
)

// NumChannels is the number of sequence channels per sequenced/ordered
// delivery method.
const NumChannels = 32

// MaxSequenceNumber bounds the 15-bit per-channel sequence space.
const MaxSequenceNumber = 1 << 15

// MessageHeaderBytes is the framing overhead per message: wire type,
// fragment flag packed with the sequence number, and the payload length
// in bits.
const MessageHeaderBytes = 5

// DeliveryMethod names how a message travels. The numeric values equal the
// base wire type of the method so the two convert by adding the channel.
type DeliveryMethod byte

const (
	DeliveryUnknown             DeliveryMethod = 0
	DeliveryUnreliable          DeliveryMethod = 1
	DeliveryUnreliableSequenced DeliveryMethod = 2
	DeliveryReliableUnordered   DeliveryMethod = 34
	DeliveryReliableSequenced   DeliveryMethod = 35
	DeliveryReliableOrdered     DeliveryMethod = 67
)

// IsReliable reports whether the method retransmits until acknowledged.
func (d DeliveryMethod) IsReliable() bool {
	switch d {
	case DeliveryReliableUnordered, DeliveryReliableSequenced, DeliveryReliableOrdered:
		return true
	}
	return false
}

// WireTypeFor returns the wire tag for a delivery method on a channel.
// Unreliable and reliable-unordered messages always use channel 0.
func WireTypeFor(method DeliveryMethod, channel int) WireType {
	switch method {
	case DeliveryUnreliable, DeliveryReliableUnordered:
		return WireType(method)
	}
	return WireType(byte(method) + byte(channel))
}

// Delivery returns the delivery method encoded in t, or DeliveryUnknown
// for non-user types.
func (t WireType) Delivery() DeliveryMethod {
	switch {
	case t == WireUserUnreliable:
		return DeliveryUnreliable
	case t >= WireUserSequenced1 && t < WireUserReliableUnordered:
		return DeliveryUnreliableSequenced
	case t == WireUserReliableUnordered:
		return DeliveryReliableUnordered
	case t >= WireUserReliableSequenced1 && t < WireUserReliableOrdered1:
		return DeliveryReliableSequenced
	case t >= WireUserReliableOrdered1 && t < WireUserReliableOrdered1+NumChannels:
		return DeliveryReliableOrdered
	}
	return DeliveryUnknown
}

// Channel returns the sequence channel encoded in t.
func (t WireType) Channel() int {
	switch d := t.Delivery(); d {
	case DeliveryUnreliableSequenced, DeliveryReliableSequenced, DeliveryReliableOrdered:
		return int(t) - int(d)
	}
	return 0
}

// IsUserMessage reports whether t carries application payload.
func (t WireType) IsUserMessage() bool {
	return t >= WireUserUnreliable && t < WireUserReliableOrdered1+NumChannels
}
