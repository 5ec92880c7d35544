package wire

import (
	"encoding/binary"
	"fmt"
)

// TickPacket is the fixed-layout announcement broadcast to every
// authenticated session on each tick. All multi-byte fields are
// little-endian:
//
//	offset 0, 1 byte:  packet type (0x01)
//	offset 1, 4 bytes: tick kind, signed 32-bit
//	offset 5, 8 bytes: per-kind tick counter, unsigned 64-bit
//	offset 13, 8 bytes: wall-clock Unix milliseconds, signed 64-bit
type TickPacket struct {
	Kind       int32
	Counter    uint64
	UnixMillis int64
}

// PacketTypeTick identifies a tick announcement.
const PacketTypeTick = byte(0x01)

// TickPacketLen is the exact encoded size of a TickPacket.
const TickPacketLen = 21

// Encode serializes the packet into its 21-byte wire form.
func (p TickPacket) Encode() []byte {
	buf := make([]byte, TickPacketLen)
	buf[0] = PacketTypeTick
	binary.LittleEndian.PutUint32(buf[1:5], uint32(p.Kind))
	binary.LittleEndian.PutUint64(buf[5:13], p.Counter)
	binary.LittleEndian.PutUint64(buf[13:21], uint64(p.UnixMillis))
	return buf
}

// DecodeTickPacket parses a 21-byte tick announcement.
func DecodeTickPacket(buf []byte) (TickPacket, error) {
	if len(buf) != TickPacketLen {
		return TickPacket{}, fmt.Errorf("tick packet must be %d bytes, got %d", TickPacketLen, len(buf))
	}
	if buf[0] != PacketTypeTick {
		return TickPacket{}, fmt.Errorf("unexpected packet type 0x%02x", buf[0])
	}
	return TickPacket{
		Kind:       int32(binary.LittleEndian.Uint32(buf[1:5])),
		Counter:    binary.LittleEndian.Uint64(buf[5:13]),
		UnixMillis: int64(binary.LittleEndian.Uint64(buf[13:21])),
	}, nil
}
