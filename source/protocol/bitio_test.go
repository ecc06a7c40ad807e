package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mask32(numBits int) uint32 {
	if numBits == 32 {
		return ^uint32(0)
	}
	return (1 << uint(numBits)) - 1
}

func mask64(numBits int) uint64 {
	if numBits == 64 {
		return ^uint64(0)
	}
	return (1 << uint(numBits)) - 1
}

func TestBitOrderIsLSBFirst(t *testing.T) {
	buf := make([]byte, 2)
	WriteBitsUint32(buf, 1, 1, 0)
	require.Equal(t, byte(0x01), buf[0])

	buf = make([]byte, 2)
	WriteBitsUint32(buf, 1, 1, 7)
	require.Equal(t, byte(0x80), buf[0])
}

func TestBytesAreLittleEndian(t *testing.T) {
	buf := make([]byte, 4)
	WriteBitsUint32(buf, 0x1234, 16, 0)
	require.Equal(t, byte(0x34), buf[0])
	require.Equal(t, byte(0x12), buf[1])
}

func TestBitRoundTrip32AllOffsets(t *testing.T) {
	values := []uint32{0, 1, 0x5A, 0x1234, 0x7FFFFFFF, 0xDEADBEEF, 0xFFFFFFFF}
	widths := []int{1, 3, 5, 8, 13, 16, 24, 27, 31, 32}

	for _, numBits := range widths {
		for p := 0; p < 8; p++ {
			for _, v := range values {
				want := v & mask32(numBits)
				buf := make([]byte, 16)
				WriteBitsUint32(buf, want, numBits, p)
				got := ReadBitsUint32(buf, numBits, p)
				require.Equal(t, want, got, "numBits=%d p=%d v=%#x", numBits, p, v)
			}
		}
	}
}

func TestBitRoundTrip64AllOffsets(t *testing.T) {
	values := []uint64{0, 1, 0xDEADBEEF, 0x123456789ABCDEF0, ^uint64(0)}
	widths := []int{33, 40, 47, 63, 64}

	for _, numBits := range widths {
		for p := 0; p < 8; p++ {
			for _, v := range values {
				want := v & mask64(numBits)
				buf := make([]byte, 24)
				WriteBitsUint64(buf, want, numBits, p)
				got := ReadBitsUint64(buf, numBits, p)
				require.Equal(t, want, got, "numBits=%d p=%d v=%#x", numBits, p, v)
			}
		}
	}
}

func TestWriteBitsMasksExcessBits(t *testing.T) {
	buf := make([]byte, 4)
	WriteBitsUint32(buf, 0xFF, 3, 0)
	require.Equal(t, uint32(0x07), ReadBitsUint32(buf, 3, 0))
	require.Equal(t, byte(0), buf[1])
}

func TestBytesAtUnaligned(t *testing.T) {
	src := []byte{0x68, 0xC3, 0xA9, 0x6C, 0x6F}
	for p := 0; p < 8; p++ {
		buf := make([]byte, 16)
		WriteBytesAt(buf, src, p)
		dst := make([]byte, len(src))
		ReadBytesAt(buf, len(src), p, dst)
		require.Equal(t, src, dst, "p=%d", p)
	}
}

func TestWriteBytesAtPreservesLeadingBits(t *testing.T) {
	buf := make([]byte, 8)
	buf[0] = 0x07 // low three bits already written
	WriteBytesAt(buf, []byte{0x00, 0x00}, 3)
	require.Equal(t, byte(0x07), buf[0]&0x07)
}

func TestBitsToHold(t *testing.T) {
	require.Equal(t, 1, BitsToHoldUint32(0))
	require.Equal(t, 1, BitsToHoldUint32(1))
	require.Equal(t, 2, BitsToHoldUint32(2))
	require.Equal(t, 8, BitsToHoldUint32(255))
	require.Equal(t, 9, BitsToHoldUint32(256))
	require.Equal(t, 32, BitsToHoldUint32(^uint32(0)))
	require.Equal(t, 64, BitsToHoldUint64(^uint64(0)))
}
