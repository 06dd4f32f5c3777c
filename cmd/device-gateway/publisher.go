package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetware/go-device-gateway/internal/publish"
)

// newPublisher is a hook for tests (overridden in unit tests).
var newPublisher = func(opts publish.Options) (publish.Publisher, error) {
	return publish.NewKafka(opts)
}

// initPublisher builds the Kafka publisher from config. The client dials
// lazily, so a down broker surfaces on first publish, not here.
func initPublisher(cfg *appConfig, l *slog.Logger) (publish.Publisher, error) {
	p, err := newPublisher(publish.Options{
		Brokers:     splitBrokers(cfg.brokers),
		ClientID:    "device-gateway",
		Acks:        cfg.acks,
		Idempotence: cfg.idempotence,
		Compression: cfg.compression,
		Timeout:     cfg.publishTimeout,
		Logger:      l,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka init: %w", err)
	}
	l.Info("kafka_configured", "brokers", cfg.brokers, "acks", cfg.acks, "idempotence", cfg.idempotence, "compression", cfg.compression)
	return p, nil
}

func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
