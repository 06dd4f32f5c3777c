package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fleetware/go-device-gateway/internal/metrics"
)

// Options configure the Kafka publisher. Zero values fall back to safe
// defaults; Brokers is required.
type Options struct {
	Brokers     []string
	ClientID    string
	Acks        string // all|leader|none
	Idempotence bool
	Compression string // none|gzip|snappy|lz4|zstd
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Kafka publishes records through a shared franz-go client. The client
// batches, retries, and (with acks=all) writes idempotently; one Kafka value
// serves every connection handler.
type Kafka struct {
	client *kgo.Client
}

var _ Publisher = (*Kafka)(nil)

// NewKafka validates opts and constructs the client. The client dials lazily,
// so construction succeeds without reachable brokers.
func NewKafka(opts Options) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if opts.ClientID == "" {
		opts.ClientID = "device-gateway"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	acks, err := parseAcks(opts.Acks)
	if err != nil {
		return nil, err
	}
	comp, err := parseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ClientID(opts.ClientID),
		kgo.RequiredAcks(acks),
		kgo.RecordDeliveryTimeout(opts.Timeout),
		kgo.ProducerBatchCompression(comp, kgo.NoCompression()),
	}
	// Idempotent writes require acks from all ISRs; the client rejects the
	// combination otherwise.
	if !opts.Idempotence || opts.Acks == "leader" || opts.Acks == "none" {
		kopts = append(kopts, kgo.DisableIdempotentWrite())
	}
	if opts.Logger != nil {
		kopts = append(kopts, kgo.WithLogger(slogAdapter{opts.Logger}))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{client: client}, nil
}

func parseAcks(s string) (kgo.Acks, error) {
	switch s {
	case "", "all":
		return kgo.AllISRAcks(), nil
	case "leader":
		return kgo.LeaderAck(), nil
	case "none":
		return kgo.NoAck(), nil
	default:
		return kgo.Acks{}, fmt.Errorf("kafka: invalid acks %q (use all|leader|none)", s)
	}
}

func parseCompression(s string) (kgo.CompressionCodec, error) {
	switch s {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("kafka: invalid compression %q", s)
	}
}

// Publish produces one record and waits for the delivery outcome, preserving
// per-handler ordering.
func (k *Kafka) Publish(ctx context.Context, rec Record) error {
	kr := &kgo.Record{
		Topic:     rec.Topic,
		Key:       []byte(rec.Key),
		Value:     rec.Value,
		Timestamp: rec.Timestamp,
	}
	if n := len(rec.Headers); n > 0 {
		kr.Headers = make([]kgo.RecordHeader, n)
		for i, h := range rec.Headers {
			kr.Headers[i] = kgo.RecordHeader{Key: h.Key, Value: h.Value}
		}
	}
	return k.client.ProduceSync(ctx, kr).FirstErr()
}

// Flush drains buffered and in-flight records.
func (k *Kafka) Flush(ctx context.Context) error { return k.client.Flush(ctx) }

// Close releases the client; call Flush first during graceful shutdown.
func (k *Kafka) Close() { k.client.Close() }

// ErrorLabel maps a publish failure onto the bounded metric label set.
// Broker error codes flagged retriable by the protocol count as transient;
// everything unrecognized counts as fatal.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.PublishErrTimeout
	case errors.Is(err, context.Canceled):
		return metrics.PublishErrCanceled
	case kerr.IsRetriable(err):
		return metrics.PublishErrTransient
	default:
		return metrics.PublishErrFatal
	}
}

// slogAdapter bridges franz-go client logs onto the gateway logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Level() kgo.LogLevel {
	ctx := context.Background()
	switch {
	case a.l.Enabled(ctx, slog.LevelDebug):
		return kgo.LogLevelDebug
	case a.l.Enabled(ctx, slog.LevelInfo):
		return kgo.LogLevelInfo
	case a.l.Enabled(ctx, slog.LevelWarn):
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}

func (a slogAdapter) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		a.l.Error(msg, keyvals...)
	case kgo.LogLevelWarn:
		a.l.Warn(msg, keyvals...)
	case kgo.LogLevelInfo:
		a.l.Info(msg, keyvals...)
	default:
		a.l.Debug(msg, keyvals...)
	}
}
