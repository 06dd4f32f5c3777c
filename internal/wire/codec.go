package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Parse failure modes. The stream decoder only hands out well-formed frames,
// so ErrTooShort and ErrBadSync are defensive; ErrLengthMismatch guards a
// frame whose declared payload length exceeds the bytes actually present.
var (
	ErrTooShort       = errors.New("wire: frame shorter than header")
	ErrBadSync        = errors.New("wire: bad sync word")
	ErrLengthMismatch = errors.New("wire: declared payload length exceeds frame")
)

// Parse decodes one complete frame. It is pure: no clock, no allocation for
// the payload (the returned Message aliases frame's payload bytes).
func Parse(frame []byte) (Message, error) {
	var m Message
	if len(frame) < HeaderLen {
		return m, ErrTooShort
	}
	if frame[0] != SyncByte0 || frame[1] != SyncByte1 {
		return m, ErrBadSync
	}
	copy(m.DeviceID[:], frame[2:6])
	m.Counter = binary.BigEndian.Uint16(frame[6:8])
	m.Type = frame[8]
	n := int(binary.BigEndian.Uint16(frame[9:11]))
	if HeaderLen+n > len(frame) {
		return m, ErrLengthMismatch
	}
	m.Payload = frame[HeaderLen : HeaderLen+n]
	return m, nil
}

// AppendFrame appends the wire encoding of m to dst and returns the extended
// slice. Payloads longer than MaxPayloadLen are truncated to the declared
// 16-bit length field's capacity.
func AppendFrame(dst []byte, m Message) []byte {
	n := len(m.Payload)
	if n > MaxPayloadLen {
		n = MaxPayloadLen
	}
	var hdr [HeaderLen]byte
	hdr[0] = SyncByte0
	hdr[1] = SyncByte1
	copy(hdr[2:6], m.DeviceID[:])
	binary.BigEndian.PutUint16(hdr[6:8], m.Counter)
	hdr[8] = m.Type
	binary.BigEndian.PutUint16(hdr[9:11], uint16(n))
	dst = append(dst, hdr[:]...)
	return append(dst, m.Payload[:n]...)
}

// EncodeFrame returns the wire encoding of m in a fresh buffer.
func EncodeFrame(m Message) []byte {
	return AppendFrame(make([]byte, 0, HeaderLen+len(m.Payload)), m)
}

// EncodeTo writes the wire representation of msgs to w and returns bytes
// written.
func EncodeTo(w io.Writer, msgs []Message) (int, error) {
	var total int
	var scratch []byte
	for _, m := range msgs {
		scratch = AppendFrame(scratch[:0], m)
		n, err := w.Write(scratch)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
