package memory

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

type fakeScanner struct {
	mu      sync.Mutex
	regions map[int][]Region
	calls   map[int]int
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{regions: make(map[int][]Region), calls: make(map[int]int)}
}

func (f *fakeScanner) ScanSuspicious(pid int) ([]Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pid]++
	return f.regions[pid], nil
}

func (f *fakeScanner) callCount(pid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pid]
}

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

func newTestProber(cfg Config, scanner RegionScanner, sink EventSink) (*Prober, *behavior.Table) {
	table := behavior.NewTable(testThresholds(), nil, zap.NewNop())
	actions := action.New(action.Config{ActionCooldown: time.Hour}, 1, table, nil, zap.NewNop(),
		noopSuspender{}, noopSuspender{}, noopKiller{}, alwaysExists{})
	return New(cfg, scanner, table, actions, sink, zap.NewNop()), table
}

func TestSelect_UnionsTargetMatchAndSuspiciousScore(t *testing.T) {
	p, table := newTestProber(Config{TargetProcesses: []string{"sshd.exe"}, MaxConcurrentScans: 10}, newFakeScanner(), &recordingSink{})

	table.Update(200, func(s behavior.Score) behavior.Score {
		return behavior.WithIndicator(s, "x", 12, testThresholds())
	})

	procs := map[int]ProcessInfo{
		100: {PID: 100, Name: "sshd"}, // matches target by name (case/suffix-insensitive)
		200: {PID: 200, Name: "other"}, // matches by score
		300: {PID: 300, Name: "unrelated"},
	}

	got := p.Select(procs)
	if len(got) != 2 {
		t.Fatalf("Select = %v, want 2 pids", got)
	}
	seen := map[int]bool{}
	for _, pid := range got {
		seen[pid] = true
	}
	if !seen[100] || !seen[200] {
		t.Fatalf("Select = %v, want to include 100 and 200", got)
	}
}

func TestSelect_OrdersByScoreDescThenPIDAsc(t *testing.T) {
	p, table := newTestProber(Config{MaxConcurrentScans: 10}, newFakeScanner(), &recordingSink{})

	table.Update(10, func(s behavior.Score) behavior.Score { return behavior.WithIndicator(s, "x", 10, testThresholds()) })
	table.Update(20, func(s behavior.Score) behavior.Score { return behavior.WithIndicator(s, "x", 20, testThresholds()) })
	table.Update(11, func(s behavior.Score) behavior.Score { return behavior.WithIndicator(s, "x", 10, testThresholds()) })

	procs := map[int]ProcessInfo{10: {PID: 10}, 20: {PID: 20}, 11: {PID: 11}}
	got := p.Select(procs)
	want := []int{20, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("Select = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Select = %v, want %v", got, want)
		}
	}
}

func TestSelect_CapsAtMaxConcurrentScans(t *testing.T) {
	p, table := newTestProber(Config{MaxConcurrentScans: 1}, newFakeScanner(), &recordingSink{})
	table.Update(1, func(s behavior.Score) behavior.Score { return behavior.WithIndicator(s, "x", 10, testThresholds()) })
	table.Update(2, func(s behavior.Score) behavior.Score { return behavior.WithIndicator(s, "x", 20, testThresholds()) })

	got := p.Select(map[int]ProcessInfo{1: {PID: 1}, 2: {PID: 2}})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Select = %v, want [2] (highest score, capped at 1)", got)
	}
}

func TestScan_FlagsRWXRegionAndEmitsMemoryAnomaly(t *testing.T) {
	scanner := newFakeScanner()
	scanner.regions[42] = []Region{{Base: 0x1000, Size: 0x1000, Protection: "rwxp"}}
	sink := &recordingSink{}
	p, table := newTestProber(Config{ScanInterval: time.Hour}, scanner, sink)

	p.Scan(42, "evil")

	if sink.count() != 1 {
		t.Fatalf("expected 1 audit event, got %d", sink.count())
	}
	if sink.events[0]["event_type"] != "memoryAnomaly" {
		t.Fatalf("event_type = %v, want memoryAnomaly", sink.events[0]["event_type"])
	}
	if sink.events[0]["name"] != "evil" {
		t.Fatalf("name = %v, want evil", sink.events[0]["name"])
	}
	if _, ok := sink.events[0]["suspicious_regions"]; !ok {
		t.Fatalf("expected suspicious_regions field in memoryAnomaly event, got %v", sink.events[0])
	}
	if got := table.Get(42).Total; got != 6 {
		t.Fatalf("total after rwxMemory indicator = %d, want 6", got)
	}
}

func TestScan_NoRegionsEmitsNothing(t *testing.T) {
	scanner := newFakeScanner()
	sink := &recordingSink{}
	p, _ := newTestProber(Config{ScanInterval: time.Hour}, scanner, sink)

	p.Scan(7, "quiet")

	if sink.count() != 0 {
		t.Fatalf("expected no audit events when no regions are flagged, got %d", sink.count())
	}
}

func TestScan_GatedByScanInterval(t *testing.T) {
	scanner := newFakeScanner()
	scanner.regions[1] = []Region{{Base: 1, Size: 1, Protection: "rwxp"}}
	p, _ := newTestProber(Config{ScanInterval: time.Hour}, scanner, &recordingSink{})

	p.Scan(1, "proc")
	p.Scan(1, "proc")

	if got := scanner.callCount(1); got != 1 {
		t.Fatalf("scanner called %d times within the same interval window, want 1", got)
	}
}
