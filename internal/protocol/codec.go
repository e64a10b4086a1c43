package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into its wire form: the 8-byte header followed
// by the payload. The Length field is computed from the payload.
func Encode(pkt *Packet) []byte {
	size := HeaderSize + len(pkt.Payload)
	buf := make([]byte, size)
	buf[0] = pkt.Type
	buf[1] = pkt.Status
	binary.BigEndian.PutUint16(buf[2:4], uint16(size))
	binary.BigEndian.PutUint16(buf[4:6], pkt.SPID)
	buf[6] = pkt.PacketID
	buf[7] = 0 // window, unused
	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Packet. The slice must contain
// exactly one packet whose Length field matches len(data).
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d, have %d bytes", length, len(data))
	}
	pkt := &Packet{
		Type:     data[0],
		Status:   data[1],
		SPID:     binary.BigEndian.Uint16(data[4:6]),
		PacketID: data[6],
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}
