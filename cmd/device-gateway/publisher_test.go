package main

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetware/go-device-gateway/internal/logging"
	"github.com/fleetware/go-device-gateway/internal/publish"
)

type stubPublisher struct{}

func (stubPublisher) Publish(context.Context, publish.Record) error { return nil }
func (stubPublisher) Flush(context.Context) error                   { return nil }
func (stubPublisher) Close()                                        {}

func TestInitPublisher_PassesOptions(t *testing.T) {
	orig := newPublisher
	t.Cleanup(func() { newPublisher = orig })
	var got publish.Options
	newPublisher = func(o publish.Options) (publish.Publisher, error) {
		got = o
		return stubPublisher{}, nil
	}

	cfg := validConfig()
	cfg.brokers = "b1:9092, b2:9092,,b3:9092"
	cfg.idempotence = false
	cfg.acks = "leader"
	cfg.compression = "snappy"
	if _, err := initPublisher(cfg, logging.L()); err != nil {
		t.Fatalf("initPublisher: %v", err)
	}
	wantBrokers := []string{"b1:9092", "b2:9092", "b3:9092"}
	if len(got.Brokers) != len(wantBrokers) {
		t.Fatalf("brokers = %v, want %v", got.Brokers, wantBrokers)
	}
	for i := range wantBrokers {
		if got.Brokers[i] != wantBrokers[i] {
			t.Fatalf("brokers[%d] = %q, want %q", i, got.Brokers[i], wantBrokers[i])
		}
	}
	if got.ClientID != "device-gateway" || got.Acks != "leader" || got.Idempotence || got.Compression != "snappy" {
		t.Fatalf("unexpected options: %+v", got)
	}
	if got.Timeout != cfg.publishTimeout {
		t.Fatalf("timeout = %v, want %v", got.Timeout, cfg.publishTimeout)
	}
}

func TestInitPublisher_Error(t *testing.T) {
	orig := newPublisher
	t.Cleanup(func() { newPublisher = orig })
	wantErr := errors.New("bad options")
	newPublisher = func(publish.Options) (publish.Publisher, error) { return nil, wantErr }

	if _, err := initPublisher(validConfig(), logging.L()); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped init error, got %v", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"localhost:9092", 1},
		{"a:1,b:2,c:3", 3},
		{" a:1 , b:2 ", 2},
		{",,", 0},
	}
	for _, tc := range cases {
		if got := splitBrokers(tc.in); len(got) != tc.want {
			t.Errorf("splitBrokers(%q) = %v, want %d entries", tc.in, got, tc.want)
		}
	}
}
