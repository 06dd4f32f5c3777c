package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetware/go-device-gateway/internal/logging"
)

// Prometheus instruments
var (
	DeviceMessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_messages_processed_total",
		Help: "Total device messages published to the device-message topic.",
	})
	DeviceEventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_events_processed_total",
		Help: "Total device events published to the device-event topic.",
	})
	DuplicatesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_messages_rejected_total",
		Help: "Total frames dropped because their counter was already observed.",
	})
	InvalidRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invalid_messages_rejected_total",
		Help: "Total frames rejected by reason (parse failure, unknown type).",
	}, []string{"reason"})
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_errors_total",
		Help: "Total publisher failures by topic and error class.",
	}, []string{"topic", "error"})
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_decoded_total",
		Help: "Total complete frames emitted by connection decoders.",
	})
	FramingDiscardedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framing_discarded_bytes_total",
		Help: "Total bytes discarded while resynchronizing on the sync word.",
	})
	AdmissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "admission_rejected_total",
		Help: "Total TCP connections closed at accept because the cap was reached.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_connections",
		Help: "Current number of connections holding an admission token.",
	})
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Time from frame emit to routing outcome, by message type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"message_type"})
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_duration_seconds",
		Help:    "Publisher call latency by topic.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Rejection reason constants (stable label values to bound cardinality)
const (
	ReasonTooShort       = "too_short"
	ReasonBadSync        = "bad_sync"
	ReasonLengthMismatch = "length_mismatch"
	ReasonUnknownType    = "unknown_message_type"
)

// Error label constants for errors_total{where}
const (
	ErrTCPAccept       = "tcp_accept"
	ErrTCPRead         = "tcp_read"
	ErrFramingOverflow = "framing_overflow"
	ErrIdleTimeout     = "idle_timeout"
	ErrPublish         = "publish"
)

// Publish error class labels for publish_errors_total{topic,error}
const (
	PublishErrTransient = "transient"
	PublishErrFatal     = "fatal"
	PublishErrTimeout   = "timeout"
	PublishErrCanceled  = "canceled"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localMessages      uint64
	localEvents        uint64
	localDuplicates    uint64
	localInvalid       uint64
	localPublishErrors uint64
	localFrames        uint64
	localDiscarded     uint64
	localRejected      uint64
	localActiveConns   uint64
	localErrors        uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DeviceMessages  uint64
	DeviceEvents    uint64
	Duplicates      uint64
	Invalid         uint64
	PublishErrors   uint64
	FramesDecoded   uint64
	DiscardedBytes  uint64
	AdmissionReject uint64
	ActiveConns     uint64
	Errors          uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		DeviceMessages:  atomic.LoadUint64(&localMessages),
		DeviceEvents:    atomic.LoadUint64(&localEvents),
		Duplicates:      atomic.LoadUint64(&localDuplicates),
		Invalid:         atomic.LoadUint64(&localInvalid),
		PublishErrors:   atomic.LoadUint64(&localPublishErrors),
		FramesDecoded:   atomic.LoadUint64(&localFrames),
		DiscardedBytes:  atomic.LoadUint64(&localDiscarded),
		AdmissionReject: atomic.LoadUint64(&localRejected),
		ActiveConns:     atomic.LoadUint64(&localActiveConns),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDeviceMessage() {
	DeviceMessagesProcessed.Inc()
	atomic.AddUint64(&localMessages, 1)
}

func IncDeviceEvent() {
	DeviceEventsProcessed.Inc()
	atomic.AddUint64(&localEvents, 1)
}

func IncDuplicate() {
	DuplicatesRejected.Inc()
	atomic.AddUint64(&localDuplicates, 1)
}

// IncInvalid counts a rejected frame under one of the Reason* labels.
func IncInvalid(reason string) {
	InvalidRejected.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localInvalid, 1)
}

// IncPublishError counts a failed publish under a bounded error class label.
func IncPublishError(topic, class string) {
	PublishErrors.WithLabelValues(topic, class).Inc()
	atomic.AddUint64(&localPublishErrors, 1)
}

func IncFrameDecoded() {
	FramesDecoded.Inc()
	atomic.AddUint64(&localFrames, 1)
}

func AddFramingDiscarded(n int) {
	FramingDiscardedBytes.Add(float64(n))
	atomic.AddUint64(&localDiscarded, uint64(n))
}

func IncAdmissionRejected() {
	AdmissionRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

// SetActiveConns records the current number of admitted connections.
func SetActiveConns(n int) {
	ActiveConnections.Set(float64(n))
	atomic.StoreUint64(&localActiveConns, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// ObserveProcessing records end-to-end frame handling latency for one type.
func ObserveProcessing(messageType string, d time.Duration) {
	ProcessingDuration.WithLabelValues(messageType).Observe(d.Seconds())
}

// ObservePublish records one publisher call latency.
func ObservePublish(topic string, d time.Duration) {
	PublishDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common label series so the first increment does not pay a
	// registration latency.
	for _, lbl := range []string{
		ErrTCPAccept, ErrTCPRead, ErrFramingOverflow, ErrIdleTimeout, ErrPublish,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{
		ReasonTooShort, ReasonBadSync, ReasonLengthMismatch, ReasonUnknownType,
	} {
		InvalidRejected.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
