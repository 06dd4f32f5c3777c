package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fleetware/go-device-gateway/internal/dedup"
	"github.com/fleetware/go-device-gateway/internal/metrics"
	"github.com/fleetware/go-device-gateway/internal/server"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, publisher.go, mdns.go, metrics_logger.go.

const shutdownGrace = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("device-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil { // parse or validation failure already printed
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	pub, perr := initPublisher(cfg, l)
	if perr != nil {
		l.Error("publisher_init_error", "error", perr)
		os.Exit(1)
	}

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithPublisher(pub),
		server.WithDedup(dedup.New(cfg.dedupWindow)),
		server.WithTopics(cfg.messageTopic, cfg.eventTopic),
		server.WithMaxConns(cfg.maxConns),
		server.WithReadBuffer(cfg.readBuffer),
		server.WithMaxPending(cfg.maxPending),
		server.WithIdleTimeout(cfg.idleTimeout),
		server.WithPublishTimeout(cfg.publishTimeout),
		server.WithDisconnectOnPublishError(cfg.disconnectOnPublishError),
		server.WithReusePort(cfg.reusePort),
		server.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		// Extract port from bound address (host:port or :port)
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 { // fallback attempt if format unexpected
			lastColon := strings.LastIndex(addr, ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the listener is bound and the context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	sdCtx, sdCancel := context.WithTimeout(context.Background(), shutdownGrace)
	if err := srv.Shutdown(sdCtx); err != nil {
		l.Error("shutdown_error", "error", err)
	}
	sdCancel()
	// Connections are drained; flush whatever the producer still buffers.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownGrace)
	if err := pub.Flush(flushCtx); err != nil {
		l.Warn("publisher_flush_error", "error", err)
	}
	flushCancel()
	pub.Close()
	wg.Wait()
}
