// Package metrics exposes Prometheus instrumentation for netsiod: wire
// traffic counters, the event hub's backpressure outcomes, sync-rendezvous
// latency, and a /ready probe driven by the connection manager's state.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fujinet/netsio-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	UDPRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_udp_rx_messages_total",
		Help: "Total NetSIO messages decoded from the UDP medium.",
	})
	UDPTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_udp_tx_messages_total",
		Help: "Total NetSIO messages sent over the UDP medium.",
	})
	StreamRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_stream_rx_messages_total",
		Help: "Total NetSIO messages decoded from the Altirra TCP stream medium.",
	})
	StreamTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_stream_tx_messages_total",
		Help: "Total NetSIO messages sent over the Altirra TCP stream medium.",
	})
	FrontEndRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_frontend_rx_frames_total",
		Help: "Total SIO command frames accepted from the bus front-end.",
	})
	FrontEndTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_frontend_tx_frames_total",
		Help: "Total completed responses drained back to the bus front-end.",
	})
	EventDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_event_dropped_total",
		Help: "Total line-state events dropped by the event hub's drop backpressure policy.",
	})
	EventKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_event_kicked_total",
		Help: "Total subscribers disconnected by the event hub's kick backpressure policy.",
	})
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsio_event_subscribers",
		Help: "Current number of subscribers attached to the event hub.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_reconnects_total",
		Help: "Total times the connection manager re-armed the handshake after a keepalive timeout.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netsio_malformed_frames_total",
		Help: "Total rejected malformed frames across all mediums (bad length, truncated, oversize).",
	})
	SendCredits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netsio_send_credits",
		Help: "Current outstanding send-credit balance for the active hub connection.",
	})
	SyncWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsio_sync_wait_seconds",
		Help:    "Time spent with the emulated CPU stalled awaiting a sync response.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netsio_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrUDPRead      = "udp_read"
	ErrUDPWrite     = "udp_write"
	ErrStreamRead   = "stream_read"
	ErrStreamWrite  = "stream_write"
	ErrFrontEndRead  = "frontend_read"
	ErrFrontEndWrite = "frontend_write"
	ErrHandshake    = "handshake"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
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

// Local mirrored counters, cheap to read for structured log lines without
// hitting the Prometheus registry.
var (
	localUDPRx       uint64
	localUDPTx       uint64
	localStreamRx    uint64
	localStreamTx    uint64
	localFrontEndRx   uint64
	localFrontEndTx   uint64
	localEventDrop   uint64
	localEventKick   uint64
	localReconnects  uint64
	localMalformed   uint64
	localErrors      uint64
	localSubscribers uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	UDPRx       uint64
	UDPTx       uint64
	StreamRx    uint64
	StreamTx    uint64
	FrontEndRx  uint64
	FrontEndTx  uint64
	EventDrops  uint64
	EventKicks  uint64
	Reconnects  uint64
	Malformed   uint64
	Errors      uint64
	Subscribers uint64
}

func Snap() Snapshot {
	return Snapshot{
		UDPRx:       atomic.LoadUint64(&localUDPRx),
		UDPTx:       atomic.LoadUint64(&localUDPTx),
		StreamRx:    atomic.LoadUint64(&localStreamRx),
		StreamTx:    atomic.LoadUint64(&localStreamTx),
		FrontEndRx:  atomic.LoadUint64(&localFrontEndRx),
		FrontEndTx:  atomic.LoadUint64(&localFrontEndTx),
		EventDrops:  atomic.LoadUint64(&localEventDrop),
		EventKicks:  atomic.LoadUint64(&localEventKick),
		Reconnects:  atomic.LoadUint64(&localReconnects),
		Malformed:   atomic.LoadUint64(&localMalformed),
		Errors:      atomic.LoadUint64(&localErrors),
		Subscribers: atomic.LoadUint64(&localSubscribers),
	}
}

func IncUDPRx() {
	UDPRxMessages.Inc()
	atomic.AddUint64(&localUDPRx, 1)
}

func IncUDPTx() {
	UDPTxMessages.Inc()
	atomic.AddUint64(&localUDPTx, 1)
}

func IncStreamRx() {
	StreamRxMessages.Inc()
	atomic.AddUint64(&localStreamRx, 1)
}

func IncStreamTx() {
	StreamTxMessages.Inc()
	atomic.AddUint64(&localStreamTx, 1)
}

func IncFrontEndRx() {
	FrontEndRxFrames.Inc()
	atomic.AddUint64(&localFrontEndRx, 1)
}

func IncFrontEndTx() {
	FrontEndTxFrames.Inc()
	atomic.AddUint64(&localFrontEndTx, 1)
}

func IncEventDrop() {
	EventDropped.Inc()
	atomic.AddUint64(&localEventDrop, 1)
}

func IncEventKick() {
	EventKicked.Inc()
	atomic.AddUint64(&localEventKick, 1)
}

func SetEventSubscribers(n int) {
	EventSubscribers.Set(float64(n))
	atomic.StoreUint64(&localSubscribers, uint64(n))
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func SetSendCredits(n int) {
	SendCredits.Set(float64(n))
}

func ObserveSyncWait(seconds float64) {
	SyncWaitSeconds.Observe(seconds)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error of each kind doesn't pay registration
// latency under load.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrUDPRead, ErrUDPWrite, ErrStreamRead, ErrStreamWrite,
		ErrFrontEndRead, ErrFrontEndWrite, ErrHandshake,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
