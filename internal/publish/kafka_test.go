package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/fleetware/go-device-gateway/internal/metrics"
)

func TestParseAcks(t *testing.T) {
	for _, s := range []string{"", "all", "leader", "none"} {
		if _, err := parseAcks(s); err != nil {
			t.Fatalf("parseAcks(%q): %v", s, err)
		}
	}
	if _, err := parseAcks("quorum"); err == nil {
		t.Fatalf("expected error for unknown acks")
	}
}

func TestParseCompression(t *testing.T) {
	for _, s := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
		if _, err := parseCompression(s); err != nil {
			t.Fatalf("parseCompression(%q): %v", s, err)
		}
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("expected error for unknown compression")
	}
}

func TestNewKafka_Validation(t *testing.T) {
	if _, err := NewKafka(Options{}); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
	if _, err := NewKafka(Options{Brokers: []string{"localhost:9092"}, Acks: "bogus"}); err == nil {
		t.Fatalf("expected error for bad acks")
	}
	if _, err := NewKafka(Options{Brokers: []string{"localhost:9092"}, Compression: "bogus"}); err == nil {
		t.Fatalf("expected error for bad compression")
	}
}

// TestNewKafka_LazyConstruction relies on the client not dialing at build
// time; no broker listens on the seed address.
func TestNewKafka_LazyConstruction(t *testing.T) {
	for _, opts := range []Options{
		{Brokers: []string{"localhost:1"}},
		{Brokers: []string{"localhost:1"}, Acks: "leader", Idempotence: true},
		{Brokers: []string{"localhost:1"}, Acks: "none", Compression: "snappy"},
		{Brokers: []string{"localhost:1"}, Idempotence: true, Timeout: time.Second,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	} {
		k, err := NewKafka(opts)
		if err != nil {
			t.Fatalf("NewKafka(%+v): %v", opts, err)
		}
		k.Close()
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, metrics.PublishErrTimeout},
		{"wrappedDeadline", fmt.Errorf("produce: %w", context.DeadlineExceeded), metrics.PublishErrTimeout},
		{"canceled", context.Canceled, metrics.PublishErrCanceled},
		{"retriableCode", kerr.ErrorForCode(kerr.LeaderNotAvailable.Code), metrics.PublishErrTransient},
		{"fatalCode", kerr.ErrorForCode(kerr.InvalidRequiredAcks.Code), metrics.PublishErrFatal},
		{"unknown", fmt.Errorf("boom"), metrics.PublishErrFatal},
	}
	for _, tc := range tests {
		if got := ErrorLabel(tc.err); got != tc.want {
			t.Fatalf("%s: ErrorLabel = %q, want %q", tc.name, got, tc.want)
		}
	}
}
