package wire

import "fmt"

// Wire format constants. All multi-byte fields are big-endian.
const (
	SyncByte0 = 0xAA
	SyncByte1 = 0x55

	// HeaderLen is sync(2) + device id(4) + counter(2) + type(1) + payload length(2).
	HeaderLen = 11

	MaxPayloadLen = 0xFFFF
	MaxFrameLen   = HeaderLen + MaxPayloadLen

	DeviceIDLen = 4
)

// DeviceID is the fixed-width opaque identity key carried by every frame.
type DeviceID [DeviceIDLen]byte

// String renders the canonical form used as publisher key and in log
// fields: uppercase hex pairs separated by hyphens, e.g. "01-02-03-04".
func (id DeviceID) String() string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X", id[0], id[1], id[2], id[3])
}

// Message is one parsed frame.
//
// Payload may alias the decoder's backing buffer; callers that keep it past
// the current frame callback must copy it.
type Message struct {
	DeviceID DeviceID
	Counter  uint16
	Type     uint8
	Payload  []byte
}

// PayloadCopy returns an owned copy of the payload (nil-safe, may be empty).
func (m Message) PayloadCopy() []byte {
	if len(m.Payload) == 0 {
		return nil
	}
	return append([]byte(nil), m.Payload...)
}
