package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// ReadBool reads a single bit.
func (b *Buffer) ReadBool() (bool, error) {
	if err := b.readCheck(1); err != nil {
		return false, err
	}
	v := readPartialByte(b.data, 1, b.readPos)
	b.readPos++
	return v != 0, nil
}

// ReadByte reads 8 bits.
func (b *Buffer) ReadByte() (byte, error) {
	if err := b.readCheck(8); err != nil {
		return 0, err
	}
	var v byte
	if b.readPos&7 == 0 {
		v = b.data[b.readPos>>3]
	} else {
		v = readPartialByte(b.data, 8, b.readPos)
	}
	b.readPos += 8
	return v, nil
}

// ReadByteBits reads numBits (1-8) into a byte.
func (b *Buffer) ReadByteBits(numBits int) (byte, error) {
	checkBitCount(numBits, 8)
	if err := b.readCheck(numBits); err != nil {
		return 0, err
	}
	v := readPartialByte(b.data, numBits, b.readPos)
	b.readPos += numBits
	return v, nil
}

// ReadSByte reads an 8-bit two's complement value.
func (b *Buffer) ReadSByte() (int8, error) {
	v, err := b.ReadByte()
	return int8(v), err
}

// ReadUint16 reads 16 bits little-endian.
func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.readCheck(16); err != nil {
		return 0, err
	}
	var v uint16
	if b.readPos&7 == 0 {
		v = binary.LittleEndian.Uint16(b.data[b.readPos>>3:])
	} else {
		v = uint16(ReadBitsUint32(b.data, 16, b.readPos))
	}
	b.readPos += 16
	return v, nil
}

// ReadInt16 reads 16 bits little-endian.
func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads 32 bits little-endian.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.readCheck(32); err != nil {
		return 0, err
	}
	var v uint32
	if b.readPos&7 == 0 {
		v = binary.LittleEndian.Uint32(b.data[b.readPos>>3:])
	} else {
		v = ReadBitsUint32(b.data, 32, b.readPos)
	}
	b.readPos += 32
	return v, nil
}

// ReadInt32 reads 32 bits little-endian.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadUint32Bits reads numBits (1-32) as an unsigned value.
func (b *Buffer) ReadUint32Bits(numBits int) (uint32, error) {
	checkBitCount(numBits, 32)
	if err := b.readCheck(numBits); err != nil {
		return 0, err
	}
	v := ReadBitsUint32(b.data, numBits, b.readPos)
	b.readPos += numBits
	return v, nil
}

// ReadInt32Bits reads numBits (1-32) as two's complement, sign-extending
// from bit numBits-1. For numBits == 32 the raw pattern is reinterpreted.
func (b *Buffer) ReadInt32Bits(numBits int) (int32, error) {
	raw, err := b.ReadUint32Bits(numBits)
	if err != nil {
		return 0, err
	}
	if numBits < 32 && raw&(1<<uint(numBits-1)) != 0 {
		raw |= ^uint32(0) << uint(numBits)
	}
	return int32(raw), nil
}

// ReadUint64 reads 64 bits little-endian.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.readCheck(64); err != nil {
		return 0, err
	}
	if b.readPos&7 == 0 {
		v := binary.LittleEndian.Uint64(b.data[b.readPos>>3:])
		b.readPos += 64
		return v, nil
	}
	low := ReadBitsUint32(b.data, 32, b.readPos)
	high := ReadBitsUint32(b.data, 32, b.readPos+32)
	b.readPos += 64
	return uint64(low) | uint64(high)<<32, nil
}

// ReadInt64 reads 64 bits little-endian.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// ReadUint64Bits reads numBits (1-64) as an unsigned value; the low 32
// bits come first on the wire.
func (b *Buffer) ReadUint64Bits(numBits int) (uint64, error) {
	checkBitCount(numBits, 64)
	if numBits <= 32 {
		v, err := b.ReadUint32Bits(numBits)
		return uint64(v), err
	}
	if err := b.readCheck(numBits); err != nil {
		return 0, err
	}
	low := ReadBitsUint32(b.data, 32, b.readPos)
	high := ReadBitsUint32(b.data, numBits-32, b.readPos+32)
	b.readPos += numBits
	return uint64(low) | uint64(high)<<32, nil
}

// ReadFloat32 reads an IEEE 754 bit pattern from 32 bits. Unaligned reads
// stage through a pooled scratch array.
func (b *Buffer) ReadFloat32() (float32, error) {
	if err := b.readCheck(32); err != nil {
		return 0, err
	}
	if b.readPos&7 == 0 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(b.data[b.readPos>>3:]))
		b.readPos += 32
		return v, nil
	}
	scratch := b.scratch(4)
	ReadBytesAt(b.data, 4, b.readPos, scratch)
	v := math.Float32frombits(binary.LittleEndian.Uint32(scratch))
	b.releaseScratch(scratch)
	b.readPos += 32
	return v, nil
}

// ReadFloat64 reads an IEEE 754 bit pattern from 64 bits.
func (b *Buffer) ReadFloat64() (float64, error) {
	if err := b.readCheck(64); err != nil {
		return 0, err
	}
	if b.readPos&7 == 0 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(b.data[b.readPos>>3:]))
		b.readPos += 64
		return v, nil
	}
	scratch := b.scratch(8)
	ReadBytesAt(b.data, 8, b.readPos, scratch)
	v := math.Float64frombits(binary.LittleEndian.Uint64(scratch))
	b.releaseScratch(scratch)
	b.readPos += 64
	return v, nil
}

// ReadBytes reads numBytes raw bytes (no length prefix).
func (b *Buffer) ReadBytes(numBytes int) ([]byte, error) {
	if err := b.readCheck(numBytes * 8); err != nil {
		return nil, err
	}
	result := make([]byte, numBytes)
	ReadBytesAt(b.data, numBytes, b.readPos, result)
	b.readPos += numBytes * 8
	return result, nil
}

// ReadBytesInto fills dst with the next len(dst) bytes.
func (b *Buffer) ReadBytesInto(dst []byte) error {
	if err := b.readCheck(len(dst) * 8); err != nil {
		return err
	}
	ReadBytesAt(b.data, len(dst), b.readPos, dst)
	b.readPos += len(dst) * 8
	return nil
}

// ReadVarUint32 reads a 7-bit-group varint, up to 5 bytes. A truncated or
// over-long encoding yields the groups accumulated so far without error;
// callers that need strictness must validate the value.
func (b *Buffer) ReadVarUint32() (uint32, error) {
	var ret uint32
	var shift uint
	for b.bitLength-b.readPos >= 8 && shift < 35 {
		v, err := b.ReadByte()
		if err != nil {
			return ret, err
		}
		ret |= uint32(v&0x7F) << shift
		shift += 7
		if v&0x80 == 0 {
			break
		}
	}
	return ret, nil
}

// ReadVarUint64 reads a 7-bit-group varint, up to 10 bytes.
func (b *Buffer) ReadVarUint64() (uint64, error) {
	var ret uint64
	var shift uint
	for b.bitLength-b.readPos >= 8 && shift < 70 {
		v, err := b.ReadByte()
		if err != nil {
			return ret, err
		}
		ret |= uint64(v&0x7F) << shift
		shift += 7
		if v&0x80 == 0 {
			break
		}
	}
	return ret, nil
}

// ReadVarInt32 reads a zig-zag encoded signed varint.
func (b *Buffer) ReadVarInt32() (int32, error) {
	v, err := b.ReadVarUint32()
	if err != nil {
		return 0, err
	}
	return int32(v>>1) ^ -int32(v&1), nil
}

// ReadVarInt64 reads a zig-zag encoded signed varint.
func (b *Buffer) ReadVarInt64() (int64, error) {
	v, err := b.ReadVarUint64()
	if err != nil {
		return 0, err
	}
	return int64(v>>1) ^ -int64(v&1), nil
}

// ReadString reads a varint byte length followed by UTF-8 bytes. A
// well-formed length that exceeds the remaining bits consumes the rest of
// the buffer and returns an empty string, so a hostile peer cannot force a
// huge allocation or leave the cursor mid-record.
func (b *Buffer) ReadString() (string, error) {
	length, err := b.ReadVarUint32()
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	if uint64(b.bitLength-b.readPos) < uint64(length)*8 {
		b.readPos = b.bitLength
		return "", nil
	}
	if b.readPos&7 == 0 {
		off := b.readPos >> 3
		s := string(b.data[off : off+int(length)])
		b.readPos += int(length) * 8
		return s, nil
	}
	raw := make([]byte, length)
	ReadBytesAt(b.data, int(length), b.readPos, raw)
	b.readPos += int(length) * 8
	return string(raw), nil
}

// ReadEndpoint reads an address written by WriteEndpoint.
func (b *Buffer) ReadEndpoint() (*net.UDPAddr, error) {
	addrLen, err := b.ReadByte()
	if err != nil {
		return nil, err
	}
	if addrLen != 4 && addrLen != 16 {
		return nil, fmt.Errorf("endpoint address length %d", addrLen)
	}
	raw, err := b.ReadBytes(int(addrLen))
	if err != nil {
		return nil, err
	}
	port, err := b.ReadUint16()
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: net.IP(raw), Port: int(port)}, nil
}

// ReadUnitFloat32 decodes a [0,1] float from numBits; decode is
// (encoded+1) / 2^numBits.
func (b *Buffer) ReadUnitFloat32(numBits int) (float32, error) {
	checkBitCount(numBits, 32)
	v, err := b.ReadUint32Bits(numBits)
	if err != nil {
		return 0, err
	}
	return float32(float64(uint64(v)+1) / float64(uint64(1)<<uint(numBits))), nil
}

// ReadSignedUnitFloat32 decodes a [-1,1] float from numBits.
func (b *Buffer) ReadSignedUnitFloat32(numBits int) (float32, error) {
	checkBitCount(numBits, 32)
	v, err := b.ReadUint32Bits(numBits)
	if err != nil {
		return 0, err
	}
	unit := float64(uint64(v)+1) / float64(uint64(1)<<uint(numBits))
	return float32((unit - 0.5) * 2.0), nil
}

// ReadRangedFloat32 decodes a [min,max] float from numBits.
func (b *Buffer) ReadRangedFloat32(min, max float32, numBits int) (float32, error) {
	checkBitCount(numBits, 32)
	v, err := b.ReadUint32Bits(numBits)
	if err != nil {
		return 0, err
	}
	maxVal := float64(uint64(1)<<uint(numBits) - 1)
	return min + float32(float64(v)/maxVal)*(max-min), nil
}

// ReadRangedInt decodes an integer written by WriteRangedInt with the same
// bounds.
func (b *Buffer) ReadRangedInt(min, max int32) (int32, error) {
	numBits := BitsToHoldUint32(uint32(max - min))
	v, err := b.ReadUint32Bits(numBits)
	if err != nil {
		return 0, err
	}
	return min + int32(v), nil
}

// TryReadBool reads a bit, returning false and leaving the read position
// untouched when no bits remain.
func (b *Buffer) TryReadBool() (bool, bool) {
	if b.readCheck(1) != nil {
		return false, false
	}
	v, _ := b.ReadBool()
	return v, true
}

// TryReadByte reads 8 bits if available.
func (b *Buffer) TryReadByte() (byte, bool) {
	if b.readCheck(8) != nil {
		return 0, false
	}
	v, _ := b.ReadByte()
	return v, true
}

// TryReadUint16 reads 16 bits if available.
func (b *Buffer) TryReadUint16() (uint16, bool) {
	if b.readCheck(16) != nil {
		return 0, false
	}
	v, _ := b.ReadUint16()
	return v, true
}

// TryReadUint32 reads 32 bits if available.
func (b *Buffer) TryReadUint32() (uint32, bool) {
	if b.readCheck(32) != nil {
		return 0, false
	}
	v, _ := b.ReadUint32()
	return v, true
}

// TryReadInt32 reads 32 bits if available.
func (b *Buffer) TryReadInt32() (int32, bool) {
	v, ok := b.TryReadUint32()
	return int32(v), ok
}

// TryReadUint64 reads 64 bits if available.
func (b *Buffer) TryReadUint64() (uint64, bool) {
	if b.readCheck(64) != nil {
		return 0, false
	}
	v, _ := b.ReadUint64()
	return v, true
}

// TryReadFloat32 reads 32 bits as a float if available.
func (b *Buffer) TryReadFloat32() (float32, bool) {
	if b.readCheck(32) != nil {
		return 0, false
	}
	v, _ := b.ReadFloat32()
	return v, true
}

// TryReadFloat64 reads 64 bits as a float if available.
func (b *Buffer) TryReadFloat64() (float64, bool) {
	if b.readCheck(64) != nil {
		return 0, false
	}
	v, _ := b.ReadFloat64()
	return v, true
}

// TryReadBytes reads numBytes raw bytes if available.
func (b *Buffer) TryReadBytes(numBytes int) ([]byte, bool) {
	if b.readCheck(numBytes*8) != nil {
		return nil, false
	}
	v, _ := b.ReadBytes(numBytes)
	return v, true
}

// TryReadString reads a length-prefixed string; on any shortfall the read
// position is restored and false returned.
func (b *Buffer) TryReadString() (string, bool) {
	if b.readCheck(8) != nil {
		return "", false
	}
	save := b.readPos
	length, _ := b.ReadVarUint32()
	if length == 0 {
		return "", true
	}
	if uint64(b.bitLength-b.readPos) < uint64(length)*8 {
		b.readPos = save
		return "", false
	}
	raw := make([]byte, length)
	ReadBytesAt(b.data, int(length), b.readPos, raw)
	b.readPos += int(length) * 8
	return string(raw), true
}
