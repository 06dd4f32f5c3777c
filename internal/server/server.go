package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fleetware/go-device-gateway/internal/dedup"
	"github.com/fleetware/go-device-gateway/internal/logging"
	"github.com/fleetware/go-device-gateway/internal/metrics"
	"github.com/fleetware/go-device-gateway/internal/publish"
)

// Server owns the TCP listener and coordinates connection lifecycle.
// Each admitted connection gets one handler goroutine that decodes,
// deduplicates and publishes frames strictly in arrival order.
type Server struct {
	mu    sync.RWMutex
	addr  string
	Dedup *dedup.Index
	Pub   publish.Publisher

	messageTopic             string
	eventTopic               string
	maxConns                 int64
	readBufSize              int
	maxPending               int
	idleTimeout              time.Duration
	publishTimeout           time.Duration
	disconnectOnPublishError bool
	reusePort                bool

	admission          *semaphore.Weighted
	readyOnce          sync.Once
	readyCh            chan struct{}
	lastErrMu          sync.Mutex
	lastErr            error
	errCh              chan error
	listener           net.Listener
	connsMu            sync.Mutex
	conns              map[uint64]net.Conn
	wg                 sync.WaitGroup
	logger             *slog.Logger
	nextConnID         uint64
	active             atomic.Int64
	totalAccepted      atomic.Uint64
	totalRejected      atomic.Uint64
	totalConnected     atomic.Uint64
	totalDisconnected  atomic.Uint64
	totalFrames        atomic.Uint64
	totalPublished     atomic.Uint64
	totalPublishErrors atomic.Uint64
}

const (
	defaultMaxConns       = 100
	defaultReadBufSize    = 4096
	defaultMaxPending     = 1 << 20
	defaultIdleTimeout    = 30 * time.Second
	defaultPublishTimeout = 30 * time.Second
	defaultMessageTopic   = "device-messages"
	defaultEventTopic     = "device-events"
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		messageTopic:   defaultMessageTopic,
		eventTopic:     defaultEventTopic,
		maxConns:       defaultMaxConns,
		readBufSize:    defaultReadBufSize,
		maxPending:     defaultMaxPending,
		idleTimeout:    defaultIdleTimeout,
		publishTimeout: defaultPublishTimeout,
		readyCh:        make(chan struct{}),
		errCh:          make(chan error, 1),
		conns:          make(map[uint64]net.Conn),
		logger:         logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Dedup == nil {
		s.Dedup = dedup.New(dedup.DefaultLimit)
	}
	s.admission = semaphore.NewWeighted(s.maxConns)
	return s
}

func WithListenAddr(a string) ServerOption           { return func(s *Server) { s.addr = a } }
func WithDedup(idx *dedup.Index) ServerOption        { return func(s *Server) { s.Dedup = idx } }
func WithPublisher(p publish.Publisher) ServerOption { return func(s *Server) { s.Pub = p } }

func WithTopics(messageTopic, eventTopic string) ServerOption {
	return func(s *Server) {
		if messageTopic != "" {
			s.messageTopic = messageTopic
		}
		if eventTopic != "" {
			s.eventTopic = eventTopic
		}
	}
}

func WithMaxConns(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxConns = int64(n)
		}
	}
}

func WithReadBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readBufSize = n
		}
	}
}

func WithMaxPending(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

func WithPublishTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithDisconnectOnPublishError(v bool) ServerOption {
	return func(s *Server) { s.disconnectOnPublishError = v }
}

func WithReusePort(v bool) ServerOption {
	return func(s *Server) { s.reusePort = v }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

// ActiveConns reports connections currently holding an admission slot.
func (s *Server) ActiveConns() int { return int(s.active.Load()) }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP connections and spawns one handler goroutine per
// admitted connection.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	var lc net.ListenConfig
	if s.reusePort {
		lc.Control = reusePortControl
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("tcp_listen", "addr", s.Addr(), "max_conns", s.maxConns)
	s.logger.Info("ready")
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, admits it against the connection
// cap and spawns its handler. Returns nil on success; a wrapped error on
// fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return context.Canceled
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	// Admission before any per-connection work: over the cap the gateway
	// sheds load at the door instead of queueing accepts.
	if !s.admission.TryAcquire(1) {
		s.totalRejected.Add(1)
		metrics.IncAdmissionRejected()
		connLogger.Warn("connection_reject_max", "max_conns", s.maxConns)
		_ = conn.Close()
		return nil
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()
	s.totalConnected.Add(1)
	metrics.SetActiveConns(int(s.active.Add(1)))
	connLogger.Info("client_connected")
	s.startHandler(ctx, connID, conn, connLogger)
	return nil
}

// Shutdown gracefully closes all resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.connsMu.Lock()
	for id, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, id)
	}
	s.connsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load(), "connected", s.totalConnected.Load(), "disconnected", s.totalDisconnected.Load(), "frames", s.totalFrames.Load(), "published", s.totalPublished.Load(), "publish_errors", s.totalPublishErrors.Load())
		return nil
	}
}
