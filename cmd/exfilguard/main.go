// Command exfilguard is the EXFILGUARD host-resident data-exfiltration
// defense agent (spec §1).
//
// Default invocation starts the agent. `--decode-log [path]` runs the
// offline decoder instead; path defaults to the newest log-*.bin in the
// configured logging directory (spec §6 "CLI surface").
//
// Startup sequence:
//  1. Parse flags, load + validate config.
//  2. Build the zap logger.
//  3. Open the Secure Audit Log (OS-protected key, encrypted writer).
//  4. Open BoltDB for hook-state bookkeeping.
//  5. Serve Prometheus metrics.
//  6. Construct the Behavior Engine, Action Manager, and the three probes.
//  7. Register workers with the Monitoring Host and start it.
//  8. Wait for SIGINT/SIGTERM, then stop the host and dispose the audit log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	_ "github.com/octoreflex/exfilguard/internal/anomaly" // registers the highEntropyCommandLine plugin
	"github.com/octoreflex/exfilguard/internal/audit"
	"github.com/octoreflex/exfilguard/internal/behavior"
	"github.com/octoreflex/exfilguard/internal/config"
	"github.com/octoreflex/exfilguard/internal/host"
	"github.com/octoreflex/exfilguard/internal/keyprotect"
	"github.com/octoreflex/exfilguard/internal/observability"
	"github.com/octoreflex/exfilguard/internal/probe/memory"
	"github.com/octoreflex/exfilguard/internal/probe/network"
	"github.com/octoreflex/exfilguard/internal/probe/process"
	"github.com/octoreflex/exfilguard/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/exfilguard/config.yaml", "path to config.yaml")
	decodeLogFlag := flag.Bool("decode-log", false, "decode a log-*.bin file and exit")
	decodeLogPath := flag.String("decode-log-path", "", "path for --decode-log (empty = newest in logging_directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "exfilguard: "+err.Error())
		os.Exit(1)
	}

	if *decodeLogFlag {
		path := *decodeLogPath
		if path == "" && flag.NArg() > 0 {
			path = flag.Arg(0)
		}
		runDecode(cfg, path)
		return
	}

	runAgent(cfg)
}

// runDecode implements the `--decode-log` CLI surface (spec §6, §4.2).
func runDecode(cfg *config.Config, path string) {
	if path == "" {
		newest, err := audit.NewestLogFile(cfg.LoggingDirectory)
		if err != nil {
			fmt.Fprintln(os.Stderr, "exfilguard: "+err.Error())
			os.Exit(1)
		}
		path = newest
	}

	if err := audit.DecodeFileTo(path, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "exfilguard: decode failed: "+err.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

func runAgent(cfg *config.Config) {
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "exfilguard: logger: "+err.Error())
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("EXFILGUARD starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("config", cfg.LoggingDirectory))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Secure Audit Log ──────────────────────────────────────────────────
	protector, err := keyprotect.New(cfg.LoggingDirectory)
	if err != nil {
		log.Fatal("key protector init failed", zap.Error(err))
	}
	auditLog, err := audit.Open(ctx, cfg.LoggingDirectory, protector, log)
	if err != nil {
		log.Fatal("audit log open failed", zap.Error(err))
	}
	defer auditLog.Dispose(2 * time.Second)

	// ── Hook-state storage ────────────────────────────────────────────────
	db, err := storage.Open(storage.DefaultDBPath)
	if err != nil {
		log.Fatal("hook-state storage open failed", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	storageSink := storage.NewEventSink(db, func(msg string, err error) {
		log.Warn(msg, zap.Error(err))
	})

	// ── Metrics ───────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	metricsSink := observability.NewMetricsSink(metrics)
	sink := fanoutSink{auditLog, metricsSink, storageSink}

	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Behavior Engine ───────────────────────────────────────────────────
	thresholds := behavior.Thresholds{
		Suspicious: cfg.Behavior.SuspiciousThreshold,
		Malicious:  cfg.Behavior.MaliciousThreshold,
		Critical:   cfg.Behavior.CriticalThreshold,
	}
	table := behavior.NewTable(thresholds, sink, log)

	// ── Action Manager ────────────────────────────────────────────────────
	suspender := action.NewSuspender()
	killer := action.NewKiller()
	exists := action.NewExistsChecker()
	actions := action.New(action.Config{
		ProcessSuspendDuration:  cfg.Defense.ProcessSuspendDuration,
		NetworkBlockDuration:    cfg.Defense.NetworkBlockDuration,
		ActionCooldown:          cfg.Defense.ActionCooldown,
		MaxConcurrentTerminates: cfg.Defense.MaxConcurrentTerminates,
		TerminateFailureBackoff: cfg.Defense.TerminateFailureBackoff,
	}, os.Getpid(), table, sink, log, suspender, suspender, killer, exists)

	// ── Probes ────────────────────────────────────────────────────────────
	lister := process.NewLister()
	processProbe := process.New(process.Config{
		ScanInterval:         cfg.ProcessMonitoring.ScanInterval,
		AllowListedProcesses: cfg.ProcessMonitoring.AllowListedProcesses,
	}, lister, table, actions, sink, log)

	memoryProbe := memory.New(memory.Config{
		ScanInterval:       cfg.MemoryScanning.ScanInterval,
		MaxConcurrentScans: cfg.MemoryScanning.MaxConcurrentScans,
		TargetProcesses:    cfg.MemoryScanning.TargetProcesses,
	}, memory.NewScanner(), table, actions, sink, log)

	networkProbe := network.New(network.Config{
		ScanInterval:               cfg.Network.ScanInterval,
		PrimaryInterfacePreference: cfg.Network.PrimaryInterfacePreference,
		HighRiskHosts:              cfg.Network.HighRiskHosts,
		SuspiciousPorts:            cfg.Network.SuspiciousPorts,
	}, network.NewSnapshotter(processLookup{processProbe}), table, actions, sink, log)

	// ── Monitoring Host ───────────────────────────────────────────────────
	h := host.New(sink, log)
	h.Register("process_probe", processProbe.Run)
	h.Register("memory_probe", func(ctx context.Context) {
		memoryProbe.Run(ctx, processSource{processProbe})
	})
	h.Register("network_probe", networkProbe.Run)
	h.Start()
	log.Info("monitoring host started")

	// ── Shutdown ──────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	h.StopAsync()
	cancel()
	log.Info("EXFILGUARD shutdown complete")
}

// fanoutSink fans an audit event out to every sink in order — the real
// encrypted writer first, then the metrics adapter, then the hook-state
// storage sink. Mirrors the
// teacher's pattern of composing small collaborators rather than
// threading a list through every constructor.
type fanoutSink []interface{ Log(map[string]any) }

func (f fanoutSink) Log(event map[string]any) {
	for _, s := range f {
		s.Log(event)
	}
}

// processLookup adapts *process.Prober to network.CommandLineLookup.
type processLookup struct{ p *process.Prober }

func (l processLookup) Lookup(pid int) (name, commandLine string, ok bool) {
	md, found := l.p.Snapshot()[pid]
	if !found {
		return "", "", false
	}
	return md.Name, md.CommandLine, true
}

// processSource adapts *process.Prober to memory.ProcessSource.
type processSource struct{ p *process.Prober }

func (s processSource) Snapshot() map[int]memory.ProcessInfo {
	snap := s.p.Snapshot()
	out := make(map[int]memory.ProcessInfo, len(snap))
	for pid, md := range snap {
		out[pid] = memory.ProcessInfo{PID: pid, Name: md.Name}
	}
	return out
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}
