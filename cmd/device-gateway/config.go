package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr  string
	maxConns    int
	readBuffer  int
	maxPending  int
	idleTimeout time.Duration
	dedupWindow int

	messageTopic   string
	eventTopic     string
	brokers        string
	publishTimeout time.Duration
	acks           string
	idempotence    bool
	compression    string

	disconnectOnPublishError bool

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	reusePort       bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":9400", "TCP listen address for device connections")
	maxConns := flag.Int("max-conns", 100, "Maximum simultaneous device connections")
	readBuffer := flag.Int("read-buffer", 4096, "Per-connection read buffer (bytes)")
	maxPending := flag.Int("max-pending", 1<<20, "Per-connection cap on buffered unframed bytes")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "Close a connection after this long without data")
	dedupWindow := flag.Int("dedup-window", 1000, "Per-device duplicate detection window (counters)")
	messageTopic := flag.String("message-topic", "device-messages", "Topic for JSON message envelopes")
	eventTopic := flag.String("event-topic", "device-events", "Topic for raw event payloads")
	brokers := flag.String("brokers", "localhost:9092", "Kafka bootstrap brokers (comma separated)")
	publishTimeout := flag.Duration("publish-timeout", 30*time.Second, "Per-record publish timeout")
	acks := flag.String("acks", "all", "Kafka required acks: all|leader|none")
	idempotence := flag.Bool("idempotence", true, "Enable idempotent produce (requires acks=all)")
	compression := flag.String("compression", "none", "Producer compression: none|gzip|snappy|lz4|zstd")
	disconnectOnPublishError := flag.Bool("disconnect-on-publish-error", false, "Close the device connection when a publish fails")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default device-gateway-<hostname>)")
	reusePort := flag.Bool("reuse-port", false, "Set SO_REUSEPORT on the listener (Linux only)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.listenAddr = *listen
	cfg.maxConns = *maxConns
	cfg.readBuffer = *readBuffer
	cfg.maxPending = *maxPending
	cfg.idleTimeout = *idleTimeout
	cfg.dedupWindow = *dedupWindow
	cfg.messageTopic = *messageTopic
	cfg.eventTopic = *eventTopic
	cfg.brokers = *brokers
	cfg.publishTimeout = *publishTimeout
	cfg.acks = *acks
	cfg.idempotence = *idempotence
	cfg.compression = *compression
	cfg.disconnectOnPublishError = *disconnectOnPublishError
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.reusePort = *reusePort

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open listeners or dial brokers, only checks
// values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.acks {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("invalid acks: %s", c.acks)
	}
	switch c.compression {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("invalid compression: %s", c.compression)
	}
	if c.idempotence && c.acks != "all" {
		return fmt.Errorf("idempotence requires acks=all (got %s)", c.acks)
	}
	if c.maxConns <= 0 {
		return fmt.Errorf("max-conns must be > 0 (got %d)", c.maxConns)
	}
	if c.readBuffer <= 0 {
		return fmt.Errorf("read-buffer must be > 0 (got %d)", c.readBuffer)
	}
	if c.maxPending <= 0 {
		return fmt.Errorf("max-pending must be > 0 (got %d)", c.maxPending)
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.dedupWindow <= 0 {
		return fmt.Errorf("dedup-window must be > 0 (got %d)", c.dedupWindow)
	}
	if c.publishTimeout <= 0 {
		return fmt.Errorf("publish-timeout must be > 0")
	}
	if strings.TrimSpace(c.brokers) == "" {
		return fmt.Errorf("brokers must not be empty")
	}
	if c.messageTopic == "" || c.eventTopic == "" {
		return fmt.Errorf("message-topic and event-topic must not be empty")
	}
	return nil
}

// applyEnvOverrides maps DEVICE_GATEWAY_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored. Durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	parseBool := func(v string) (bool, bool) {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off":
			return false, true
		}
		return false, false
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["max-conns"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MAX_CONNS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxConns = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_MAX_CONNS: %w", err)
			}
		}
	}
	if _, ok := set["read-buffer"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_READ_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.readBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_READ_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["max-pending"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MAX_PENDING"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxPending = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_MAX_PENDING: %w", err)
			}
		}
	}
	if _, ok := set["idle-timeout"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.idleTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_IDLE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["dedup-window"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_DEDUP_WINDOW"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.dedupWindow = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_DEDUP_WINDOW: %w", err)
			}
		}
	}
	if _, ok := set["message-topic"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MESSAGE_TOPIC"); ok && v != "" {
			c.messageTopic = v
		}
	}
	if _, ok := set["event-topic"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_EVENT_TOPIC"); ok && v != "" {
			c.eventTopic = v
		}
	}
	if _, ok := set["brokers"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_BROKERS"); ok && v != "" {
			c.brokers = v
		}
	}
	if _, ok := set["publish-timeout"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_PUBLISH_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.publishTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_PUBLISH_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["acks"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_ACKS"); ok && v != "" {
			c.acks = v
		}
	}
	if _, ok := set["idempotence"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_IDEMPOTENCE"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.idempotence = b
			}
		}
	}
	if _, ok := set["compression"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_COMPRESSION"); ok && v != "" {
			c.compression = v
		}
	}
	if _, ok := set["disconnect-on-publish-error"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_DISCONNECT_ON_PUBLISH_ERROR"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.disconnectOnPublishError = b
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid DEVICE_GATEWAY_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MDNS_ENABLE"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.mdnsEnable = b
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["reuse-port"]; !ok {
		if v, ok := get("DEVICE_GATEWAY_REUSE_PORT"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.reusePort = b
			}
		}
	}
	return firstErr
}
