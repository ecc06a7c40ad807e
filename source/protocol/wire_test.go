package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWireTypeDeliveryRoundTrip(t *testing.T) {
	methods := []DeliveryMethod{
		DeliveryUnreliable,
		DeliveryUnreliableSequenced,
		DeliveryReliableUnordered,
		DeliveryReliableSequenced,
		DeliveryReliableOrdered,
	}
	for _, m := range methods {
		for channel := 0; channel < NumChannels; channel++ {
			wt := WireTypeFor(m, channel)
			require.Equal(t, m, wt.Delivery(), "method=%d channel=%d", m, channel)
			require.True(t, wt.IsUserMessage())
			switch m {
			case DeliveryUnreliable, DeliveryReliableUnordered:
				require.Equal(t, 0, wt.Channel())
			default:
				require.Equal(t, channel, wt.Channel())
			}
		}
	}
}

func TestLibraryTypesAreNotUserMessages(t *testing.T) {
	for _, wt := range []WireType{WireUnconnected, WirePing, WirePong,
		WireConnect, WireConnectResponse, WireConnectionEstablished,
		WireAcknowledge, WireDisconnect} {
		require.False(t, wt.IsUserMessage(), "type %d", wt)
		require.Equal(t, DeliveryUnknown, wt.Delivery())
	}
}

func TestReliability(t *testing.T) {
	require.False(t, DeliveryUnreliable.IsReliable())
	require.False(t, DeliveryUnreliableSequenced.IsReliable())
	require.True(t, DeliveryReliableUnordered.IsReliable())
	require.True(t, DeliveryReliableSequenced.IsReliable())
	require.True(t, DeliveryReliableOrdered.IsReliable())
}
