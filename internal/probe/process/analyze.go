package process

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	"github.com/octoreflex/exfilguard/internal/behavior"
	"github.com/octoreflex/exfilguard/internal/plugin"
)

// EventSink mirrors behavior.EventSink / action.EventSink.
type EventSink interface {
	Log(event map[string]any)
}

// powershellEncodedPattern matches PowerShell invocations using an
// encoded-command switch followed by a base64 blob, case-insensitively
// (spec §4.5).
var powershellEncodedPattern = regexp.MustCompile(
	`(?i)powershell(\.exe)?\b.*-(e|enc|encodedcommand)\s+[A-Za-z0-9+/=]{16,}`)

// mshtaPattern matches an mshta-prefixed command line (spec §4.5).
var mshtaPattern = regexp.MustCompile(`(?i)^\s*mshta(\.exe)?\s`)

// suspiciousPathFragments are checked against the executable path for the
// unsignedTempExecution indicator.
var suspiciousPathFragments = []string{"temp", "appdata", "downloads"}

// Config holds process_monitoring.* (spec §6).
type Config struct {
	ScanInterval         time.Duration
	AllowListedProcesses []string
}

// Prober is the Process Probe.
type Prober struct {
	cfg        Config
	lister     Lister
	table      *behavior.Table
	actions    *action.Manager
	sink       EventSink
	log        *zap.Logger
	allowSet   map[string]bool

	mu        sync.Mutex
	processes map[int]Metadata
}

// New constructs a Process Probe.
func New(cfg Config, lister Lister, table *behavior.Table, actions *action.Manager, sink EventSink, log *zap.Logger) *Prober {
	allow := make(map[string]bool, len(cfg.AllowListedProcesses))
	for _, name := range cfg.AllowListedProcesses {
		allow[baseNameNoExt(name)] = true
	}
	return &Prober{
		cfg:       cfg,
		lister:    lister,
		table:     table,
		actions:   actions,
		sink:      sink,
		log:       log,
		allowSet:  allow,
		processes: make(map[int]Metadata),
	}
}

// Snapshot returns a copy of the locally cached process metadata, used
// (through adapters in cmd/exfilguard) by the memory probe's target
// selection and the network probe's command-line lookup.
func (p *Prober) Snapshot() map[int]Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]Metadata, len(p.processes))
	for pid, md := range p.processes {
		out[pid] = md
	}
	return out
}

// Analyze implements spec §4.5 "analyze(pid)".
func (p *Prober) Analyze(pid int) {
	if pid <= 4 {
		return
	}

	md, err := p.lister.Metadata(pid)
	if err != nil {
		// Process vanished between observation and analysis.
		p.mu.Lock()
		delete(p.processes, pid)
		p.mu.Unlock()
		p.audit(map[string]any{
			"event_type": "processRemoved",
			"pid":        pid,
			"message":    err.Error(),
		})
		return
	}

	p.mu.Lock()
	p.processes[pid] = md
	p.mu.Unlock()

	if p.allowSet[baseNameNoExt(md.Name)] {
		return
	}

	var indicators []behavior.Indicator

	if !md.Signed && containsAny(strings.ToLower(md.ExecutablePath), suspiciousPathFragments) {
		indicators = append(indicators, behavior.Indicator{Name: "unsignedTempExecution", Weight: 2})
	}
	if powershellEncodedPattern.MatchString(md.CommandLine) {
		indicators = append(indicators, behavior.Indicator{Name: "powershellEncoded", Weight: 4})
	}
	if mshtaPattern.MatchString(md.CommandLine) {
		indicators = append(indicators, behavior.Indicator{Name: "mshta", Weight: 4})
	}
	for _, a := range plugin.Active() {
		indicators = append(indicators, a.AnalyzeProcess(pid, md.Name, md.CommandLine, md.ExecutablePath)...)
	}

	if len(indicators) == 0 {
		return
	}

	score := p.table.Update(pid, func(s behavior.Score) behavior.Score {
		return behavior.WithIndicators(s, indicators, p.table.Thresholds())
	})

	p.actions.EvaluateAndRespond(pid)

	p.audit(map[string]any{
		"event_type":   "processIndicators",
		"pid":          pid,
		"name":         md.Name,
		"command_line": md.CommandLine,
		"indicators":   indicators,
		"total":        score.Total,
		"level":        score.Level.String(),
	})
}

func (p *Prober) audit(event map[string]any) {
	if p.sink != nil {
		p.sink.Log(event)
	}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
