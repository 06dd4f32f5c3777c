package main

import (
	"log/slog"
	"os"

	"github.com/fleetware/go-device-gateway/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "device-gateway")
	logging.Set(l)
	return l
}
