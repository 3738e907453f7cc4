// Package observability — metrics.go
//
// Prometheus metrics for the EXFILGUARD agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: exfilguard_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - PID is NOT used as a label (unbounded cardinality).
//   - Indicator/decision names are used as labels; both are drawn from a
//     small, bounded vocabulary (built-in rules + a handful of plugins).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for EXFILGUARD.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Behavior Engine ──────────────────────────────────────────────────────

	// BehaviorScoreHistogram records the distribution of total scores
	// observed on each behaviorScore event.
	BehaviorScoreHistogram prometheus.Histogram

	// TrackedPIDs is the current number of PIDs with a score-table entry.
	TrackedPIDs prometheus.Gauge

	// ─── Process probe ────────────────────────────────────────────────────────

	// ProcessesAnalyzedTotal counts processIndicators events, one per
	// analyze(pid) call that raised at least one indicator; calls that
	// raise none are not counted.
	ProcessesAnalyzedTotal prometheus.Counter

	// ProcessIndicatorsTotal counts indicators raised, by name.
	ProcessIndicatorsTotal *prometheus.CounterVec

	// ─── Memory probe ─────────────────────────────────────────────────────────

	// MemoryScansTotal counts memoryAnomaly events, one per region scan
	// that flagged at least one region; scans that flag none are not
	// counted.
	MemoryScansTotal prometheus.Counter

	// MemoryAnomaliesTotal counts scans that found an RWX region.
	MemoryAnomaliesTotal prometheus.Counter

	// ─── Network probe ────────────────────────────────────────────────────────

	// NetworkConnectionsTracked is the current connection-cache size.
	NetworkConnectionsTracked prometheus.Gauge

	// NetworkIndicatorsTotal counts indicators raised, by name.
	NetworkIndicatorsTotal *prometheus.CounterVec

	// ─── Action Manager ───────────────────────────────────────────────────────

	// DefenseActionsTotal counts Action Manager decisions, by decision kind.
	DefenseActionsTotal *prometheus.CounterVec

	// TerminatesInFlight is the current number of in-progress kill-tree
	// operations (bounded by defense.max_concurrent_terminates).
	TerminatesInFlight prometheus.Gauge

	// ─── Secure Audit Log ─────────────────────────────────────────────────────

	// AuditQueueDepth is the current writer queue depth.
	AuditQueueDepth prometheus.Gauge

	// AuditEventsDroppedTotal counts events dropped because the writer
	// queue was full.
	AuditEventsDroppedTotal prometheus.Counter

	// ─── Monitoring Host ──────────────────────────────────────────────────────

	// MonitoringWorkerFailuresTotal counts worker panics/errors, by
	// worker name.
	MonitoringWorkerFailuresTotal *prometheus.CounterVec

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all EXFILGUARD Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		BehaviorScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exfilguard",
			Subsystem: "behavior",
			Name:      "score",
			Help:      "Distribution of total scores recorded on behaviorScore events.",
			Buckets:   []float64{1, 2, 4, 6, 8, 10, 15, 20, 30, 50},
		}),

		TrackedPIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exfilguard",
			Subsystem: "behavior",
			Name:      "tracked_pids",
			Help:      "Current number of PIDs with a score-table entry.",
		}),

		ProcessesAnalyzedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "process",
			Name:      "analyzed_total",
			Help:      "Total analyze(pid) calls by the Process Probe that raised at least one indicator.",
		}),

		ProcessIndicatorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "process",
			Name:      "indicators_total",
			Help:      "Total process indicators raised, by indicator name.",
		}, []string{"indicator"}),

		MemoryScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "memory",
			Name:      "scans_total",
			Help:      "Total per-process memory region scans that flagged at least one region.",
		}),

		MemoryAnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "memory",
			Name:      "anomalies_total",
			Help:      "Total scans that found at least one writable+executable region.",
		}),

		NetworkConnectionsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exfilguard",
			Subsystem: "network",
			Name:      "connections_tracked",
			Help:      "Current size of the network probe's connection cache.",
		}),

		NetworkIndicatorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "network",
			Name:      "indicators_total",
			Help:      "Total network indicators raised, by indicator name.",
		}, []string{"indicator"}),

		DefenseActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "defense",
			Name:      "actions_total",
			Help:      "Total Action Manager decisions, by decision kind.",
		}, []string{"decision"}),

		TerminatesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exfilguard",
			Subsystem: "defense",
			Name:      "terminates_in_flight",
			Help:      "Current number of in-progress kill-tree operations.",
		}),

		AuditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exfilguard",
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Current depth of the Secure Audit Log writer queue.",
		}),

		AuditEventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total audit events dropped because the writer queue was full.",
		}),

		MonitoringWorkerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exfilguard",
			Subsystem: "host",
			Name:      "worker_failures_total",
			Help:      "Total worker panics/errors caught by the Monitoring Host, by worker name.",
		}, []string{"worker"}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exfilguard",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.BehaviorScoreHistogram,
		m.TrackedPIDs,
		m.ProcessesAnalyzedTotal,
		m.ProcessIndicatorsTotal,
		m.MemoryScansTotal,
		m.MemoryAnomaliesTotal,
		m.NetworkConnectionsTracked,
		m.NetworkIndicatorsTotal,
		m.DefenseActionsTotal,
		m.TerminatesInFlight,
		m.AuditQueueDepth,
		m.AuditEventsDroppedTotal,
		m.MonitoringWorkerFailuresTotal,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
