// Package metrics exposes the runtime's Prometheus counters/gauges and a
// cheap local mirror for environments without a scraper.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/forgenet/ironclad/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	FramesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_accepted_total",
		Help: "Total frames admitted past DoS checks and dispatched to a session.",
	})
	FramesRejectedCmd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_rejected_cmd_total",
		Help: "Total frames rejected by the per-cmd DoS accountant.",
	})
	FramesRejectedGlobal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_rejected_global_total",
		Help: "Total frames rejected by the global DoS accountant.",
	})
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_written_total",
		Help: "Total bytes written to client connections.",
	})
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Current number of live sessions.",
	})
	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_rejected_total",
		Help: "Total connection attempts rejected (handshake/TLS/DoS-global).",
	})
	PoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_hits_total",
		Help: "Total buffer pool acquisitions served from the free list.",
	})
	PoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_misses_total",
		Help: "Total buffer pool acquisitions that fell back to direct allocation.",
	})
	EventBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_processor_backlog",
		Help: "Number of distinct fire-time buckets currently pending in the event processor.",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_loop_tick_duration_seconds",
		Help:    "Wall-clock time spent inside one World.Update call.",
		Buckets: prometheus.DefBuckets,
	})
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

// Error label constants (stable label values to bound cardinality).
const (
	ErrConnRead   = "conn_read"
	ErrConnWrite  = "conn_write"
	ErrTLSAccept  = "tls_accept"
	ErrDosGlobal  = "dos_global"
	ErrDosPerCmd  = "dos_per_cmd"
	ErrAccept     = "accept"
	ErrListen     = "listen"
	ErrDispatcher = "dispatcher"
)

// StartHTTP serves Prometheus metrics and a readiness probe on addr.
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

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheap to read in environments without a scraper.
var (
	localFramesAccepted  uint64
	localFramesRejCmd    uint64
	localFramesRejGlobal uint64
	localBytesWritten    uint64
	localSessionsActive  uint64
	localErrors          uint64
	localPoolHits        uint64
	localPoolMisses      uint64
)

// Snapshot is a cheap copy of local counters for log-based reporting.
type Snapshot struct {
	FramesAccepted     uint64
	FramesRejectedCmd  uint64
	FramesRejectedGlob uint64
	BytesWritten       uint64
	SessionsActive     uint64
	Errors             uint64
	PoolHits           uint64
	PoolMisses         uint64
}

// Snap returns the current local snapshot.
func Snap() Snapshot {
	return Snapshot{
		FramesAccepted:     atomic.LoadUint64(&localFramesAccepted),
		FramesRejectedCmd:  atomic.LoadUint64(&localFramesRejCmd),
		FramesRejectedGlob: atomic.LoadUint64(&localFramesRejGlobal),
		BytesWritten:       atomic.LoadUint64(&localBytesWritten),
		SessionsActive:     atomic.LoadUint64(&localSessionsActive),
		Errors:             atomic.LoadUint64(&localErrors),
		PoolHits:           atomic.LoadUint64(&localPoolHits),
		PoolMisses:         atomic.LoadUint64(&localPoolMisses),
	}
}

func IncFrameAccepted() {
	FramesAccepted.Inc()
	atomic.AddUint64(&localFramesAccepted, 1)
}

func IncFrameRejectedCmd() {
	FramesRejectedCmd.Inc()
	atomic.AddUint64(&localFramesRejCmd, 1)
}

func IncFrameRejectedGlobal() {
	FramesRejectedGlobal.Inc()
	atomic.AddUint64(&localFramesRejGlobal, 1)
}

func AddBytesWritten(n int) {
	BytesWritten.Add(float64(n))
	atomic.AddUint64(&localBytesWritten, uint64(n))
}

func IncSessionAccepted() { SessionsAccepted.Inc() }

func IncSessionRejected() { SessionsRejected.Inc() }

func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
	atomic.StoreUint64(&localSessionsActive, uint64(n))
}

func SetEventBacklog(n int) { EventBacklog.Set(float64(n)) }

func ObserveTickDuration(seconds float64) { TickDuration.Observe(seconds) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncPoolHit() {
	PoolHits.Inc()
	atomic.AddUint64(&localPoolHits, 1)
}

func IncPoolMiss() {
	PoolMisses.Inc()
	atomic.AddUint64(&localPoolMisses, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label series.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrConnRead, ErrConnWrite, ErrTLSAccept, ErrDosGlobal, ErrDosPerCmd, ErrAccept, ErrListen, ErrDispatcher} {
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
