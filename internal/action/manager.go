// Package action implements the Action Manager: graduated response
// decisions (monitor, suspend, terminate, network block) with cooldowns,
// a termination concurrency cap, and failure backoff (spec §4.4).
package action

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/behavior"
)

// EventSink is the Action Manager's view of the Secure Audit Log —
// identical shape to behavior.EventSink, kept as a separate interface so
// this package has no compile-time dependency on internal/behavior's
// event-emission details.
type EventSink interface {
	Log(event map[string]any)
}

// Config holds the durations and caps from the "defense.*" config block
// (spec §6).
type Config struct {
	ProcessSuspendDuration  time.Duration
	NetworkBlockDuration    time.Duration
	ActionCooldown          time.Duration
	MaxConcurrentTerminates int
	TerminateFailureBackoff time.Duration
}

// Manager is the Action Manager. All three of its PID-keyed maps are
// guarded by one coarse mutex — acceptable per spec §9 design notes as
// long as per-key operations stay atomic, and simpler than three
// independently-locked concurrent maps for the access pattern here
// (every operation touches at most one map per call).
type Manager struct {
	cfg    Config
	ownPID int

	table *behavior.Table
	sink  EventSink
	log   *zap.Logger

	suspender ProcessSuspender
	resumer   ProcessResumer
	killer    ProcessKiller
	exists    ProcessExistsChecker

	mu                sync.Mutex
	networkBlocks     map[int]time.Time
	actionCooldowns   map[int]time.Time
	terminateBackoff  map[int]time.Time

	sem chan struct{} // terminate concurrency cap; nil capacity channel when disabled
}

// New constructs an Action Manager. ownPID excludes the agent's own
// process from every action (spec §3 "PID safety").
func New(cfg Config, ownPID int, table *behavior.Table, sink EventSink, log *zap.Logger,
	suspender ProcessSuspender, resumer ProcessResumer, killer ProcessKiller, exists ProcessExistsChecker,
) *Manager {
	var sem chan struct{}
	if cfg.MaxConcurrentTerminates > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrentTerminates)
	}
	return &Manager{
		cfg:              cfg,
		ownPID:           ownPID,
		table:            table,
		sink:             sink,
		log:              log,
		suspender:        suspender,
		resumer:          resumer,
		killer:           killer,
		exists:           exists,
		networkBlocks:    make(map[int]time.Time),
		actionCooldowns:  make(map[int]time.Time),
		terminateBackoff: make(map[int]time.Time),
		sem:              sem,
	}
}

// unactionable reports whether pid must never be acted upon (spec §3,
// §8 "PID safety").
func (m *Manager) unactionable(pid int) bool {
	return pid <= 4 || pid == m.ownPID
}

// EvaluateAndRespond is the primary entry point (spec §4.4).
func (m *Manager) EvaluateAndRespond(pid int) {
	if m.unactionable(pid) {
		return
	}

	level := m.table.Get(pid).Level
	if level == behavior.Normal {
		return
	}

	if m.onCooldown(pid) {
		return
	}

	switch level {
	case behavior.Suspicious:
		m.audit(pid, "monitor", "")
		m.applyCooldown(pid)
	case behavior.Malicious:
		m.suspend(pid)
	case behavior.Critical:
		m.terminate(pid)
	}
}

func (m *Manager) onCooldown(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.actionCooldowns[pid]
	return ok && time.Now().Before(until)
}

func (m *Manager) applyCooldown(pid int) {
	if m.cfg.ActionCooldown <= 0 {
		return
	}
	m.mu.Lock()
	m.actionCooldowns[pid] = time.Now().Add(m.cfg.ActionCooldown)
	m.mu.Unlock()
}

// suspend implements spec §4.4 "Suspend policy".
func (m *Manager) suspend(pid int) {
	if m.unactionable(pid) {
		return
	}
	defer m.applyCooldown(pid)

	count, err := m.suspender.Suspend(pid)

	// Resume is scheduled regardless of the outcome of suspend (spec
	// §4.4, §9 "a suspend that cannot schedule its resume must not
	// leak"). Scheduling itself cannot fail here since it's a pure
	// in-process timer, so the leak scenario the spec warns about does
	// not arise with this primitive.
	time.AfterFunc(m.cfg.ProcessSuspendDuration, func() {
		if rerr := m.resumer.Resume(pid); rerr != nil && m.log != nil {
			m.log.Warn("process resume failed", zap.Int("pid", pid), zap.Error(rerr))
		}
	})

	if count > 0 {
		m.audit(pid, "suspend", "")
	} else {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		m.audit(pid, "suspendFailed", reason)
	}
}

// terminate implements spec §4.4 "Terminate policy".
func (m *Manager) terminate(pid int) {
	if m.unactionable(pid) {
		return
	}
	defer m.applyCooldown(pid)

	if m.cfg.MaxConcurrentTerminates == 0 {
		m.audit(pid, "terminateSkipped", "disabled")
		return
	}

	m.mu.Lock()
	notBefore, backedOff := m.terminateBackoff[pid]
	m.mu.Unlock()
	if backedOff && time.Now().Before(notBefore) {
		m.auditWithField(pid, "terminateDeferred", "", "retry_at", notBefore)
		return
	}

	select {
	case m.sem <- struct{}{}:
	default:
		m.audit(pid, "terminateDeferred", "concurrency limit")
		return
	}
	defer func() { <-m.sem }()

	if !m.exists.Exists(pid) {
		m.clearBackoff(pid)
		m.audit(pid, "terminateSkipped", "already exited")
		return
	}

	if err := m.killer.KillTree(pid); err != nil {
		m.mu.Lock()
		m.terminateBackoff[pid] = time.Now().Add(m.cfg.TerminateFailureBackoff)
		m.mu.Unlock()
		m.audit(pid, "terminateFailed", err.Error())
		return
	}

	m.clearBackoff(pid)
	m.audit(pid, "terminate", "")
}

func (m *Manager) clearBackoff(pid int) {
	m.mu.Lock()
	delete(m.terminateBackoff, pid)
	m.mu.Unlock()
}

// BlockNetwork sets an advisory network-block flag the network probe
// consults to skip a PID's rows (spec §4.4 "Network block").
func (m *Manager) BlockNetwork(pid int) {
	if m.unactionable(pid) {
		return
	}
	m.mu.Lock()
	m.networkBlocks[pid] = time.Now().Add(m.cfg.NetworkBlockDuration)
	m.mu.Unlock()
	m.audit(pid, "networkBlocked", "")
	m.applyCooldown(pid)
}

// IsNetworkBlocked reports whether pid currently has an active network
// block, opportunistically evicting the entry once it has expired (spec
// §4.4, §8 "Network block evicts").
func (m *Manager) IsNetworkBlocked(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.networkBlocks[pid]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.networkBlocks, pid)
		return false
	}
	return true
}

func (m *Manager) audit(pid int, decision, errText string) {
	ev := map[string]any{
		"event_type": "defenseAction",
		"pid":        pid,
		"decision":   decision,
	}
	if errText != "" {
		ev["error"] = errText
	}
	if m.sink != nil {
		m.sink.Log(ev)
	}
	if m.log != nil {
		m.log.Info("defense action", zap.Int("pid", pid), zap.String("decision", decision), zap.String("error", errText))
	}
}

func (m *Manager) auditWithField(pid int, decision, errText, key string, val any) {
	ev := map[string]any{
		"event_type": "defenseAction",
		"pid":        pid,
		"decision":   decision,
		key:          fmt.Sprintf("%v", val),
	}
	if errText != "" {
		ev["error"] = errText
	}
	if m.sink != nil {
		m.sink.Log(ev)
	}
	if m.log != nil {
		m.log.Info("defense action", zap.Int("pid", pid), zap.String("decision", decision))
	}
}
