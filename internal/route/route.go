package route

import (
	"encoding/base64"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/fleetware/go-device-gateway/internal/publish"
	"github.com/fleetware/go-device-gateway/internal/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Class is the routing decision for one parsed message.
type Class int

const (
	// ClassIgnore drops the message (unknown type discriminator).
	ClassIgnore Class = iota
	// ClassMessage publishes a structured JSON envelope.
	ClassMessage
	// ClassEvent publishes the raw payload projection.
	ClassEvent
)

func (c Class) String() string {
	switch c {
	case ClassMessage:
		return "device-message"
	case ClassEvent:
		return "device-event"
	default:
		return "ignore"
	}
}

// Classify maps the type discriminator to a routing class.
func Classify(typ uint8) Class {
	switch typ {
	case 2, 11, 13:
		return ClassMessage
	case 1, 3, 12, 14:
		return ClassEvent
	default:
		return ClassIgnore
	}
}

// Record headers attached to every published record.
const (
	HeaderSource        = "message-sender-service"
	HeaderVersion       = "1.0"
	headerKeySource     = "source"
	headerKeyVersion    = "version"
	headerKeyCorrelated = "correlationId"
)

// Envelope is the JSON value published to the device-message topic.
type Envelope struct {
	DeviceID       string `json:"deviceId"`
	MessageCounter uint16 `json:"messageCounter"`
	MessageType    uint8  `json:"messageType"`
	Timestamp      string `json:"timestamp"`
	Payload        string `json:"payload"`
	PayloadSize    int    `json:"payloadSize"`
	CorrelationID  string `json:"correlationId"`
}

// MessageRecord builds the device-message projection: key is the hex device
// id, value a JSON envelope, timestamp the receive instant.
func MessageRecord(topic string, m wire.Message, receivedAt time.Time, correlationID string) (publish.Record, error) {
	env := Envelope{
		DeviceID:       m.DeviceID.String(),
		MessageCounter: m.Counter,
		MessageType:    m.Type,
		Timestamp:      receivedAt.UTC().Format(time.RFC3339),
		Payload:        base64.StdEncoding.EncodeToString(m.Payload),
		PayloadSize:    len(m.Payload),
		CorrelationID:  correlationID,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return publish.Record{}, fmt.Errorf("route: envelope marshal: %w", err)
	}
	return publish.Record{
		Topic:     topic,
		Key:       m.DeviceID.String(),
		Value:     value,
		Headers:   recordHeaders(correlationID),
		Timestamp: receivedAt,
	}, nil
}

// EventRecord builds the device-event projection: the raw payload bytes are
// the record value, with no envelope. The payload is copied so the record
// outlives the decoder's buffer.
func EventRecord(topic string, m wire.Message, receivedAt time.Time, correlationID string) publish.Record {
	return publish.Record{
		Topic:     topic,
		Key:       m.DeviceID.String(),
		Value:     m.PayloadCopy(),
		Headers:   recordHeaders(correlationID),
		Timestamp: receivedAt,
	}
}

// recordHeaders returns the fixed source/version pair plus the correlation id
// so the raw projection propagates it despite having no envelope.
func recordHeaders(correlationID string) []publish.Header {
	return []publish.Header{
		{Key: headerKeySource, Value: []byte(HeaderSource)},
		{Key: headerKeyVersion, Value: []byte(HeaderVersion)},
		{Key: headerKeyCorrelated, Value: []byte(correlationID)},
	}
}
