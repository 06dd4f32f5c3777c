package server

import (
	"errors"

	"github.com/fleetware/go-device-gateway/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen          = errors.New("listen")
	ErrAccept          = errors.New("accept")
	ErrConnRead        = errors.New("conn_read")
	ErrFramingOverflow = errors.New("framing_overflow")
	ErrIdleTimeout     = errors.New("idle_timeout")
	ErrPublish         = errors.New("publish")
	ErrContext         = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrFramingOverflow):
		return metrics.ErrFramingOverflow
	case errors.Is(err, ErrIdleTimeout):
		return metrics.ErrIdleTimeout
	case errors.Is(err, ErrPublish):
		return metrics.ErrPublish
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
