package protocol

import "testing"

func BenchmarkBufferWrite(b *testing.B) {
	buf := NewBufferCapacity(64)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.Reset()
		buf.WriteBool(true)
		buf.WriteUint16(1234)
		buf.WriteUint32(567890)
		buf.WriteVarUint32(300)
		buf.WriteString("Hello World")
	}
}

func BenchmarkBufferRead(b *testing.B) {
	src := NewBufferCapacity(64)
	src.WriteBool(true)
	src.WriteUint16(1234)
	src.WriteUint32(567890)
	src.WriteVarUint32(300)
	src.WriteString("Hello World")
	data := src.Data()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := WrapBuffer(data)
		buf.ReadBool()
		buf.ReadUint16()
		buf.ReadUint32()
		buf.ReadVarUint32()
		buf.ReadString()
	}
}

func BenchmarkUnalignedWrite(b *testing.B) {
	buf := NewBufferCapacity(64)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.Reset()
		buf.WriteByteBits(0x05, 3)
		buf.WriteUint32(567890)
		buf.WriteUint64(0x123456789ABCDEF0)
	}
}
