package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"bulletsim/internal/sim"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (worker labels are pool indices, never
// per-bullet or per-client values).
var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bullets_queued",
		Help: "Bullets waiting for assignment",
	})

	inflightCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bullets_in_flight",
		Help: "Bullets currently assigned to a worker",
	})

	workerLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_load",
		Help: "Bullets assigned per worker",
	}, []string{"worker"}) // Bounded: pool index

	bulletsQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullets_queued_total",
		Help: "Total bullets accepted by the dispatcher",
	})

	bulletsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullets_completed_total",
		Help: "Total bullets that reported completion",
	})

	bulletsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullets_reclaimed_total",
		Help: "Total bullets force-cancelled by the reclamation timeout",
	})

	bulletsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullets_cancelled_total",
		Help: "Total bullets cancelled by callers",
	})

	bulletHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullet_hits_total",
		Help: "Total living-target hits",
	}, []string{"kind"}) // Bounded: "direct", "proximity"

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // MUST be "127.0.0.1:6060" in production
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server.
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	// SECURITY: Validate address is localhost
	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		// Only allow external binding if explicitly enabled via env
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Optional basic auth wrapper
	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statsPublisher mirrors dispatcher stats into prometheus on a coarse
// cadence. Counters can't be Set, so cumulative totals are exported by
// tracking deltas between polls.
type statsPublisher struct {
	lastQueued    uint64
	lastCompleted uint64
	lastReclaimed uint64
	lastCancelled uint64
}

// publish pushes one stats snapshot into the metric registry.
func (p *statsPublisher) publish(s sim.Stats) {
	queueDepth.Set(float64(s.Queued))
	inflightCount.Set(float64(s.InFlight))
	for i, load := range s.LoadPerWorker {
		workerLoad.WithLabelValues(workerLabel(i)).Set(float64(load))
	}

	bulletsQueuedTotal.Add(float64(s.TotalQueued - p.lastQueued))
	bulletsCompletedTotal.Add(float64(s.TotalCompleted - p.lastCompleted))
	bulletsReclaimedTotal.Add(float64(s.TotalReclaimed - p.lastReclaimed))
	bulletsCancelledTotal.Add(float64(s.TotalCancelled - p.lastCancelled))

	p.lastQueued = s.TotalQueued
	p.lastCompleted = s.TotalCompleted
	p.lastReclaimed = s.TotalReclaimed
	p.lastCancelled = s.TotalCancelled
}

func workerLabel(i int) string {
	return strconv.Itoa(i)
}

// startStatsPublisher polls dispatcher stats once per second.
func startStatsPublisher(d DispatcherInterface, stop <-chan struct{}) {
	pub := &statsPublisher{}
	ticker := time.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pub.publish(d.GetStats())
			case <-stop:
				return
			}
		}
	}()
}

// RecordHit increments the hit counter.
// kind must be "direct" or "proximity".
func RecordHit(kind string) {
	bulletHitsTotal.WithLabelValues(kind).Inc()
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
