package link

import "encoding/binary"

// Framing bytes.
const (
	StartByte     byte = 0xFA
	DataStartByte byte = 0xFB
	StopByte      byte = 0xFE
)

// Frame geometry.
const (
	// HeaderLen covers start, length, header CRC and data-start.
	HeaderLen = 5
	// TrailerLen covers full CRC and stop.
	TrailerLen = 2
	// Overhead is the number of bytes a frame adds to its payload.
	Overhead = HeaderLen + TrailerLen
	// MaxPayloadLen is the largest payload the length field can carry.
	MaxPayloadLen = 0xFFFF
)

// FrameLen returns the encoded size of a frame carrying n payload bytes.
func FrameLen(n int) int {
	return n + Overhead
}

// AppendFrame appends the encoded frame for payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return dst, &PayloadTooLargeError{Length: len(payload)}
	}
	start := len(dst)
	dst = append(dst, StartByte, 0, 0)
	binary.LittleEndian.PutUint16(dst[start+1:], uint16(len(payload)))
	dst = append(dst, CRC8(dst[start:start+3]), DataStartByte)
	dst = append(dst, payload...)

	var crc byte
	for _, b := range dst[start:] {
		crc = CRC8Update(crc, b)
	}
	return append(dst, crc, StopByte), nil
}

// EncodeFrame returns the encoded frame for payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, FrameLen(len(payload))), payload)
}
