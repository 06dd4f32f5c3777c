package publish

import (
	"context"
	"time"
)

// Record is one message bound for the broker.
type Record struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   []Header
	Timestamp time.Time // zero means the client stamps at send time
}

// Header is one record header propagated to the broker.
type Header struct {
	Key   string
	Value []byte
}

// Publisher is the outbound capability the gateway depends on. The production
// implementation is backed by a Kafka client; tests substitute an in-memory
// capture. Implementations must be safe for concurrent use.
type Publisher interface {
	// Publish delivers one record, honoring the context deadline. The gateway
	// does not retry at this layer; implementations provide their own
	// idempotence and retry where supported.
	Publish(ctx context.Context, rec Record) error
	// Flush drains in-flight records, bounded by the context. Called during
	// shutdown before Close.
	Flush(ctx context.Context) error
	Close()
}
