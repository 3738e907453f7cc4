package behavior

import (
	"sync"
	"testing"

	"go.uber.org/zap"
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

func TestTable_UpdateCreatesEntryLazily(t *testing.T) {
	tb := NewTable(testThresholds(), &recordingSink{}, zap.NewNop())

	if got := tb.Get(99); got.Level != Normal || got.Total != 0 {
		t.Fatalf("Get on unknown pid should be fresh Normal, got %+v", got)
	}
	if len(tb.All()) != 0 {
		t.Fatalf("Get must not insert an entry")
	}

	tb.Update(99, func(s Score) Score {
		return WithIndicator(s, "mshta", 4, tb.Thresholds())
	})

	if len(tb.All()) != 1 {
		t.Fatalf("Update must create a tracked entry")
	}
	if got := tb.Get(99); got.Total != 4 {
		t.Fatalf("Get after Update = %+v, want total 4", got)
	}
}

func TestTable_UpdateEmitsBehaviorScoreEvent(t *testing.T) {
	sink := &recordingSink{}
	tb := NewTable(testThresholds(), sink, zap.NewNop())

	tb.Update(1, func(s Score) Score {
		return WithIndicator(s, "mshta", 20, tb.Thresholds())
	})

	if sink.count() != 1 {
		t.Fatalf("expected 1 audit event, got %d", sink.count())
	}
	ev := sink.events[0]
	if ev["event_type"] != "behaviorScore" {
		t.Fatalf("event_type = %v, want behaviorScore", ev["event_type"])
	}
	if ev["pid"] != 1 {
		t.Fatalf("pid = %v, want 1", ev["pid"])
	}
	if ev["total"] != 20 {
		t.Fatalf("total = %v, want 20", ev["total"])
	}
	if ev["level"] != "critical" {
		t.Fatalf("level = %v, want critical", ev["level"])
	}
}

func TestTable_UpdateIsLinearizablePerPID(t *testing.T) {
	tb := NewTable(testThresholds(), &recordingSink{}, zap.NewNop())

	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			tb.Update(5, func(s Score) Score {
				return WithIndicator(s, "x", 1, tb.Thresholds())
			})
		}()
	}
	wg.Wait()

	got := tb.Get(5)
	if got.Total != n {
		t.Fatalf("total = %d, want %d (lost updates under concurrency)", got.Total, n)
	}
	if len(got.Indicators) != n {
		t.Fatalf("indicators = %d, want %d", len(got.Indicators), n)
	}
}

func TestTable_AllReturnsIndependentSnapshot(t *testing.T) {
	tb := NewTable(testThresholds(), &recordingSink{}, zap.NewNop())
	tb.Update(1, func(s Score) Score { return WithIndicator(s, "a", 1, tb.Thresholds()) })
	tb.Update(2, func(s Score) Score { return WithIndicator(s, "b", 2, tb.Thresholds()) })

	all := tb.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(all))
	}

	tb.Update(1, func(s Score) Score { return WithIndicator(s, "c", 100, tb.Thresholds()) })
	for _, s := range all {
		if s.PID == 1 && s.Total == 101 {
			t.Fatalf("snapshot was mutated by a later Update")
		}
	}
}
