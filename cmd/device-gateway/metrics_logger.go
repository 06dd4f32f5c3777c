package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetware/go-device-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"messages", snap.DeviceMessages,
					"events", snap.DeviceEvents,
					"duplicates", snap.Duplicates,
					"invalid", snap.Invalid,
					"publish_errors", snap.PublishErrors,
					"frames", snap.FramesDecoded,
					"discarded_bytes", snap.DiscardedBytes,
					"admission_rejected", snap.AdmissionReject,
					"active_conns", snap.ActiveConns,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
