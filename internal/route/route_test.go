package route

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fleetware/go-device-gateway/internal/wire"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		typ  uint8
		want Class
	}{
		{2, ClassMessage}, {11, ClassMessage}, {13, ClassMessage},
		{1, ClassEvent}, {3, ClassEvent}, {12, ClassEvent}, {14, ClassEvent},
		{0, ClassIgnore}, {4, ClassIgnore}, {10, ClassIgnore}, {15, ClassIgnore},
		{99, ClassIgnore}, {255, ClassIgnore},
	}
	for _, tc := range tests {
		if got := Classify(tc.typ); got != tc.want {
			t.Fatalf("Classify(%d) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestMessageRecord_Envelope(t *testing.T) {
	m := wire.Message{
		DeviceID: wire.DeviceID{0x01, 0x02, 0x03, 0x04},
		Counter:  1,
		Type:     2,
		Payload:  []byte{0x01, 0x02, 0x03},
	}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rec, err := MessageRecord("device-messages", m, at, "corr-1")
	if err != nil {
		t.Fatalf("MessageRecord: %v", err)
	}
	if rec.Topic != "device-messages" || rec.Key != "01-02-03-04" {
		t.Fatalf("record topic/key mismatch: %q %q", rec.Topic, rec.Key)
	}
	if !rec.Timestamp.Equal(at) {
		t.Fatalf("record timestamp %v, want %v", rec.Timestamp, at)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Value, &env); err != nil {
		t.Fatalf("envelope not valid JSON: %v\n%s", err, rec.Value)
	}
	want := Envelope{
		DeviceID:       "01-02-03-04",
		MessageCounter: 1,
		MessageType:    2,
		Timestamp:      "2024-01-01T12:00:00Z",
		Payload:        "AQID",
		PayloadSize:    3,
		CorrelationID:  "corr-1",
	}
	if env != want {
		t.Fatalf("envelope mismatch\n got  %+v\n want %+v", env, want)
	}
}

func TestMessageRecord_FieldNames(t *testing.T) {
	m := wire.Message{DeviceID: wire.DeviceID{0xAB, 0xCD, 0xEF, 0x00}, Counter: 7, Type: 11}
	rec, err := MessageRecord("t", m, time.Now(), "c")
	if err != nil {
		t.Fatalf("MessageRecord: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(rec.Value, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"deviceId", "messageCounter", "messageType", "timestamp", "payload", "payloadSize", "correlationId"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("envelope missing field %q: %s", k, rec.Value)
		}
	}
	if raw["deviceId"] != "AB-CD-EF-00" {
		t.Fatalf("deviceId = %v, want AB-CD-EF-00", raw["deviceId"])
	}
	if raw["payload"] != "" {
		t.Fatalf("empty payload must encode as empty string, got %q", raw["payload"])
	}
}

func TestEventRecord_RawValue(t *testing.T) {
	m := wire.Message{
		DeviceID: wire.DeviceID{0x01, 0x02, 0x03, 0x04},
		Counter:  2,
		Type:     1,
		Payload:  []byte{0x0A, 0x0B},
	}
	at := time.Now()
	rec := EventRecord("device-events", m, at, "corr-2")
	if rec.Topic != "device-events" || rec.Key != "01-02-03-04" {
		t.Fatalf("record topic/key mismatch: %q %q", rec.Topic, rec.Key)
	}
	// Raw projection: payload bytes, no envelope.
	if !bytes.Equal(rec.Value, []byte{0x0A, 0x0B}) {
		t.Fatalf("value = % X, want raw payload bytes", rec.Value)
	}
	// Value must not alias the message payload.
	m.Payload[0] = 0xFF
	if rec.Value[0] != 0x0A {
		t.Fatalf("event record aliases the source payload")
	}
}

func TestRecordHeaders(t *testing.T) {
	m := wire.Message{DeviceID: wire.DeviceID{1, 2, 3, 4}, Type: 1}
	rec := EventRecord("t", m, time.Now(), "corr-9")
	got := map[string]string{}
	for _, h := range rec.Headers {
		got[h.Key] = string(h.Value)
	}
	if got["source"] != "message-sender-service" {
		t.Fatalf("source header = %q", got["source"])
	}
	if got["version"] != "1.0" {
		t.Fatalf("version header = %q", got["version"])
	}
	if got["correlationId"] != "corr-9" {
		t.Fatalf("correlationId header = %q", got["correlationId"])
	}

	mrec, err := MessageRecord("t", m, time.Now(), "corr-9")
	if err != nil {
		t.Fatalf("MessageRecord: %v", err)
	}
	if len(mrec.Headers) != len(rec.Headers) {
		t.Fatalf("projections must carry identical headers")
	}
}
