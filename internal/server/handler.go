package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fleetware/go-device-gateway/internal/metrics"
	"github.com/fleetware/go-device-gateway/internal/publish"
	"github.com/fleetware/go-device-gateway/internal/route"
	"github.com/fleetware/go-device-gateway/internal/wire"
)

// connHandler drives a single connection through the read -> frame ->
// parse -> dedup -> route -> publish pipeline. The decoder and read buffer
// are owned exclusively by the handler goroutine; the dedup index and
// publisher are shared across connections.
type connHandler struct {
	srv    *Server
	conn   net.Conn
	logger *slog.Logger
	dec    *wire.Decoder

	fatal     error // sticky; set when a frame outcome must close the connection
	frames    uint64
	published uint64
}

func (s *Server) startHandler(ctx context.Context, connID uint64, conn net.Conn, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h := &connHandler{srv: s, conn: conn, logger: logger, dec: wire.NewDecoder(s.maxPending)}
		defer func() {
			_ = conn.Close()
			s.connsMu.Lock()
			delete(s.conns, connID)
			s.connsMu.Unlock()
			// Token first, gauge second: once the gauge shows a free slot the
			// semaphore must already admit a new connection.
			s.admission.Release(1)
			metrics.SetActiveConns(int(s.active.Add(-1)))
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected", "frames", h.frames, "published", h.published)
		}()
		h.run(ctx)
	}()
}

func (h *connHandler) run(ctx context.Context) {
	s := h.srv
	buf := make([]byte, s.readBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = h.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		n, err := h.conn.Read(buf)
		if n > 0 {
			if ferr := h.dec.Feed(buf[:n], func(frame []byte) { h.handleFrame(ctx, frame) }); ferr != nil {
				wrap := fmt.Errorf("%w: %v", ErrFramingOverflow, ferr)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				h.logger.Warn("framing_overflow", "pending", h.dec.Pending(), "max_pending", s.maxPending)
				return
			}
			if h.fatal != nil {
				metrics.IncError(mapErrToMetric(h.fatal))
				s.setError(h.fatal)
				h.logger.Warn("connection_abort", "error", h.fatal)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			// Unlike a persistent-peer protocol, a silent device link is a
			// dead link: the idle deadline closes it rather than retrying.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				metrics.IncError(metrics.ErrIdleTimeout)
				h.logger.Info("idle_timeout", "idle", s.idleTimeout)
				return
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			h.logger.Warn("conn_read_error", "error", wrap)
			return
		}
	}
}

// handleFrame is invoked once per complete frame, in arrival order.
// Per-frame failures (parse, duplicate, unknown type, publish) log, count
// and drop the frame; only framing overflow and, when configured, publish
// errors abort the connection.
func (h *connHandler) handleFrame(ctx context.Context, frame []byte) {
	if h.fatal != nil || ctx.Err() != nil {
		return
	}
	h.frames++
	h.srv.totalFrames.Add(1)
	start := time.Now()
	m, err := wire.Parse(frame)
	if err != nil {
		reason := parseReason(err)
		metrics.IncInvalid(reason)
		h.logger.Warn("invalid_frame", "reason", reason, "len", len(frame))
		return
	}
	defer func() { metrics.ObserveProcessing(strconv.Itoa(int(m.Type)), time.Since(start)) }()
	receivedAt := time.Now().UTC()
	if !h.srv.Dedup.Observe(m.DeviceID, m.Counter) {
		metrics.IncDuplicate()
		h.logger.Info("duplicate_drop", "device", m.DeviceID.String(), "counter", m.Counter, "type", m.Type)
		return
	}
	class := route.Classify(m.Type)
	if class == route.ClassIgnore {
		metrics.IncInvalid(metrics.ReasonUnknownType)
		h.logger.Warn("unknown_message_type", "device", m.DeviceID.String(), "counter", m.Counter, "type", m.Type)
		return
	}
	correlationID := uuid.NewString()
	var rec publish.Record
	switch class {
	case route.ClassMessage:
		rec, err = route.MessageRecord(h.srv.messageTopic, m, receivedAt, correlationID)
		if err != nil {
			metrics.IncPublishError(h.srv.messageTopic, metrics.PublishErrFatal)
			h.logger.Error("envelope_marshal_error", "device", m.DeviceID.String(), "error", err)
			return
		}
	case route.ClassEvent:
		rec = route.EventRecord(h.srv.eventTopic, m, receivedAt, correlationID)
	}
	pctx, cancel := context.WithTimeout(ctx, h.srv.publishTimeout)
	pubStart := time.Now()
	perr := h.srv.Pub.Publish(pctx, rec)
	cancel()
	metrics.ObservePublish(rec.Topic, time.Since(pubStart))
	if perr != nil {
		h.srv.totalPublishErrors.Add(1)
		metrics.IncPublishError(rec.Topic, publish.ErrorLabel(perr))
		h.logger.Error("publish_error", "topic", rec.Topic, "device", m.DeviceID.String(), "counter", m.Counter, "error", perr)
		if h.srv.disconnectOnPublishError {
			h.fatal = fmt.Errorf("%w: %v", ErrPublish, perr)
		}
		return
	}
	h.published++
	h.srv.totalPublished.Add(1)
	switch class {
	case route.ClassMessage:
		metrics.IncDeviceMessage()
	case route.ClassEvent:
		metrics.IncDeviceEvent()
	}
	h.logger.Debug("frame_published", "topic", rec.Topic, "device", m.DeviceID.String(), "counter", m.Counter, "type", m.Type, "correlation_id", correlationID)
}

// parseReason maps a header parse error onto its bounded metric label.
func parseReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrBadSync):
		return metrics.ReasonBadSync
	case errors.Is(err, wire.ErrLengthMismatch):
		return metrics.ReasonLengthMismatch
	default:
		return metrics.ReasonTooShort
	}
}
