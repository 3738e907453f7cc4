package network

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	"github.com/octoreflex/exfilguard/internal/behavior"
)

type recordingSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *recordingSink) Log(event map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingSink) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fakeSnapshotter struct {
	rows []Row
	err  error
}

func (f fakeSnapshotter) Snapshot() ([]Row, error) { return f.rows, f.err }

type noopSuspender struct{}

func (noopSuspender) Suspend(pid int) (int, error) { return 0, nil }
func (noopSuspender) Resume(pid int) error         { return nil }

type noopKiller struct{}

func (noopKiller) KillTree(pid int) error { return nil }

type alwaysExists struct{}

func (alwaysExists) Exists(pid int) bool { return true }

func testThresholds() behavior.Thresholds {
	return behavior.Thresholds{Suspicious: 10, Malicious: 15, Critical: 20}
}

func newTestProber(cfg Config, snap TableSnapshotter, sink EventSink) (*Prober, *behavior.Table, *action.Manager) {
	table := behavior.NewTable(testThresholds(), nil, zap.NewNop())
	actions := action.New(action.Config{ActionCooldown: time.Hour}, 1, table, nil, zap.NewNop(),
		noopSuspender{}, noopSuspender{}, noopKiller{}, alwaysExists{})
	return New(cfg, snap, table, actions, sink, zap.NewNop()), table, actions
}

func TestEvaluate_SuspiciousPortRaisesIndicator(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{SuspiciousPorts: []int{4444}}
	p, table, _ := newTestProber(cfg, fakeSnapshotter{}, sink)

	p.evaluate(Row{PID: 100, RemotePort: 4444})

	if sink.count() != 1 {
		t.Fatalf("expected 1 audit event, got %d", sink.count())
	}
	if sink.last()["event_type"] != "networkIndicators" {
		t.Fatalf("event_type = %v, want networkIndicators", sink.last()["event_type"])
	}
	if table.Get(100).Total != 3 {
		t.Fatalf("total = %d, want 3 (suspicious port weight)", table.Get(100).Total)
	}
}

func TestEvaluate_HighRiskHostRaisesIndicator(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{HighRiskHosts: []string{"198.51.100.0"}}
	p, table, _ := newTestProber(cfg, fakeSnapshotter{}, sink)

	p.evaluate(Row{PID: 100, RemoteAddr: "198.51.100.0"})

	if table.Get(100).Total != 3 {
		t.Fatalf("total = %d, want 3 (high-risk host weight)", table.Get(100).Total)
	}
}

func TestEvaluate_CredentialExfilKeywordRaisesIndicatorAndBlocksNetwork(t *testing.T) {
	sink := &recordingSink{}
	p, table, actions := newTestProber(Config{}, fakeSnapshotter{}, sink)

	p.evaluate(Row{PID: 100, PayloadSnapshot: "tcp4 x -> y uid=abc123"})

	if table.Get(100).Total != 4 {
		t.Fatalf("total = %d, want 4 (exfil keyword weight)", table.Get(100).Total)
	}
	if !actions.IsNetworkBlocked(100) {
		t.Fatal("a weight>=4 indicator should trigger BlockNetwork")
	}
}

func TestEvaluate_NoIndicatorsEmitsNothing(t *testing.T) {
	sink := &recordingSink{}
	p, _, _ := newTestProber(Config{}, fakeSnapshotter{}, sink)

	p.evaluate(Row{PID: 100, RemoteAddr: "1.2.3.4", RemotePort: 80})

	if sink.count() != 0 {
		t.Fatalf("expected no audit events for an unremarkable row, got %d", sink.count())
	}
}

func TestCycle_SkipsLowPIDsAndAlreadyBlockedPIDs(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{SuspiciousPorts: []int{4444}}
	rows := []Row{
		{PID: 4, RemotePort: 4444},   // kernel/system pid, must be skipped
		{PID: 200, RemotePort: 4444}, // already blocked, must be skipped
		{PID: 300, RemotePort: 4444}, // should be evaluated
	}
	p, _, actions := newTestProber(cfg, fakeSnapshotter{rows: rows}, sink)
	actions.BlockNetwork(200)

	p.Cycle()

	if sink.count() != 1 {
		t.Fatalf("expected exactly 1 evaluated row, got %d events", sink.count())
	}
	if sink.last()["pid"] != 300 {
		t.Fatalf("evaluated pid = %v, want 300", sink.last()["pid"])
	}
}

func TestCycle_SnapshotErrorIsNonFatal(t *testing.T) {
	sink := &recordingSink{}
	p, _, _ := newTestProber(Config{}, fakeSnapshotter{err: errSnapshot}, sink)
	p.Cycle() // must not panic
	if sink.count() != 0 {
		t.Fatalf("expected no events when the snapshot fails, got %d", sink.count())
	}
}

func TestContainsAny_CaseInsensitive(t *testing.T) {
	if !containsAny("Evil.Example.COM", []string{"evil.example.com"}) {
		t.Fatal("containsAny should be case-insensitive")
	}
	if containsAny("benign.example.com", []string{""}) {
		t.Fatal("containsAny should ignore empty candidate substrings")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

var errSnapshot = testError("snapshot failed")
