package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	"github.com/octoreflex/exfilguard/internal/behavior"
)

// EventSink mirrors behavior.EventSink / action.EventSink.
type EventSink interface {
	Log(event map[string]any)
}

// ProcessSource supplies the live process set the memory probe selects
// targets from — satisfied by an adapter over *process.Prober in
// cmd/exfilguard.
type ProcessSource interface {
	Snapshot() map[int]ProcessInfo
}

// ProcessInfo is the subset of process.Metadata the memory probe needs.
// Kept as its own type so this package does not import process, which
// would otherwise create an import cycle through action/behavior.
type ProcessInfo struct {
	PID  int
	Name string
}

// Config holds memory_scanning.* (spec §6).
type Config struct {
	ScanInterval       time.Duration
	MaxConcurrentScans int
	TargetProcesses    []string
}

// Prober is the Memory Probe (spec §4.6).
type Prober struct {
	cfg     Config
	scanner RegionScanner
	table   *behavior.Table
	actions *action.Manager
	sink    EventSink
	log     *zap.Logger
	targets map[string]bool

	mu       sync.Mutex
	lastScan map[int]time.Time
}

func New(cfg Config, scanner RegionScanner, table *behavior.Table, actions *action.Manager, sink EventSink, log *zap.Logger) *Prober {
	targets := make(map[string]bool, len(cfg.TargetProcesses))
	for _, name := range cfg.TargetProcesses {
		targets[normalizeName(name)] = true
	}
	return &Prober{
		cfg:      cfg,
		scanner:  scanner,
		table:    table,
		actions:  actions,
		sink:     sink,
		log:      log,
		targets:  targets,
		lastScan: make(map[int]time.Time),
	}
}

// candidate is a scan-selection entry (spec §4.6 "selection").
type candidate struct {
	pid   int
	score int
}

// Select picks the set of PIDs to scan this cycle: the union of
// processes whose name matches the configured target list and
// processes whose behavior score is at or above the suspicious
// threshold, capped at max_concurrent_scans and ordered by score
// descending then PID ascending (spec §4.6).
func (p *Prober) Select(procs map[int]ProcessInfo) []int {
	t := p.table.Thresholds()
	seen := make(map[int]bool)
	var candidates []candidate

	for pid, info := range procs {
		if seen[pid] {
			continue
		}
		byTarget := p.targets[normalizeName(info.Name)]
		score := p.table.Get(pid)
		byScore := score.Total >= t.Suspicious
		if !byTarget && !byScore {
			continue
		}
		seen[pid] = true
		candidates = append(candidates, candidate{pid: pid, score: score.Total})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pid < candidates[j].pid
	})

	max := p.cfg.MaxConcurrentScans
	if max <= 0 || max > len(candidates) {
		max = len(candidates)
	}
	out := make([]int, max)
	for i := 0; i < max; i++ {
		out[i] = candidates[i].pid
	}
	return out
}

// Scan scans a single PID, gated by scan_interval (spec §4.6). A cache
// miss (never scanned, or the interval has elapsed) performs the scan;
// otherwise the PID is skipped this cycle. name is the process name as
// known by the process source, threaded through into the memoryAnomaly
// audit event (spec §6 schema: "pid, name, suspicious_regions[]").
func (p *Prober) Scan(pid int, name string) {
	interval := p.cfg.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	p.mu.Lock()
	last, ok := p.lastScan[pid]
	if ok && time.Since(last) < interval {
		p.mu.Unlock()
		return
	}
	p.lastScan[pid] = time.Now()
	p.mu.Unlock()

	regions, err := p.scanner.ScanSuspicious(pid)
	if err != nil {
		// Process likely exited or is inaccessible; not an anomaly.
		return
	}
	if len(regions) == 0 {
		return
	}

	score := p.table.Update(pid, func(s behavior.Score) behavior.Score {
		return behavior.WithIndicator(s, "rwxMemory", 6, p.table.Thresholds())
	})

	p.actions.EvaluateAndRespond(pid)

	p.audit(map[string]any{
		"event_type":         "memoryAnomaly",
		"pid":                pid,
		"name":               name,
		"suspicious_regions": regions,
		"total":              score.Total,
		"level":              score.Level.String(),
	})
}

func (p *Prober) audit(event map[string]any) {
	if p.sink != nil {
		p.sink.Log(event)
	}
}

// Run is the Memory Probe's worker loop, suitable for registration with
// the Monitoring Host.
func (p *Prober) Run(ctx context.Context, source ProcessSource) {
	interval := p.cfg.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := func() {
		procs := source.Snapshot()
		for _, pid := range p.Select(procs) {
			p.Scan(pid, procs[pid].Name)
		}
	}
	cycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}

func normalizeName(name string) string {
	n := strings.ToLower(name)
	n = strings.TrimSuffix(n, ".exe")
	return n
}
