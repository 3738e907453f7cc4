package behavior

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSink is the narrow contract the Behavior Engine needs from the
// Secure Audit Log — satisfied by *audit.Log. Kept as an interface here
// (rather than importing internal/audit directly) so behavior has no
// dependency on the audit wire format, mirroring the teacher's pattern of
// probes holding references to collaborators they don't own (spec §3
// "Ownership").
type EventSink interface {
	Log(event map[string]any)
}

// entry is one PID's score guarded by its own mutex, following the
// per-key-mutex discipline the teacher uses for ProcessState — coarse
// enough to implement cheaply, fine-grained enough to keep per-PID
// updates linearizable without serializing unrelated PIDs.
type entry struct {
	mu    sync.Mutex
	score Score
}

// Table is the concurrent process -> score map. It is the Behavior
// Engine's sole piece of owned state (spec §3 "Ownership": "The Behavior
// Engine uniquely owns the score table").
type Table struct {
	thresholds Thresholds
	sink       EventSink
	log        *zap.Logger

	mu      sync.RWMutex
	entries map[int]*entry
}

// NewTable constructs an empty score table under the given thresholds.
func NewTable(t Thresholds, sink EventSink, log *zap.Logger) *Table {
	return &Table{
		thresholds: t,
		sink:       sink,
		log:        log,
		entries:    make(map[int]*entry),
	}
}

// getOrCreate returns the entry for pid, creating one in Normal state on
// first access. Held under Table.mu only long enough to find-or-insert;
// the per-entry mutex serializes concurrent updates to the same PID.
func (tb *Table) getOrCreate(pid int) *entry {
	tb.mu.RLock()
	e, ok := tb.entries[pid]
	tb.mu.RUnlock()
	if ok {
		return e
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if e, ok = tb.entries[pid]; ok {
		return e
	}
	e = &entry{score: NewScore(pid)}
	tb.entries[pid] = e
	return e
}

// Update atomically applies fn to the current score for pid (or a fresh
// Normal score if none exists yet), stores the result, emits a
// behaviorScore audit event, and returns the new score. Per spec §4.3,
// this is linearizable per PID; ordering across PIDs is unspecified.
func (tb *Table) Update(pid int, fn func(Score) Score) Score {
	e := tb.getOrCreate(pid)

	e.mu.Lock()
	next := fn(e.score)
	next.PID = pid
	e.score = next
	e.mu.Unlock()

	if tb.sink != nil {
		tb.sink.Log(map[string]any{
			"timestamp":  time.Now().UTC(),
			"event_type": "behaviorScore",
			"pid":        pid,
			"total":      next.Total,
			"level":      next.Level.String(),
		})
	}
	if tb.log != nil {
		tb.log.Debug("behavior score updated",
			zap.Int("pid", pid),
			zap.Int("total", next.Total),
			zap.String("level", next.Level.String()))
	}
	return next
}

// Get returns the current score for pid, or a fresh Normal default.
// Unlike Update, a miss is never inserted into the table.
func (tb *Table) Get(pid int) Score {
	tb.mu.RLock()
	e, ok := tb.entries[pid]
	tb.mu.RUnlock()
	if !ok {
		return NewScore(pid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

// All returns a snapshot of every tracked score, for dashboards. The
// snapshot is taken under
// the table lock but each entry's score is copied under its own mutex, so
// it is consistent per-PID though not globally atomic.
func (tb *Table) All() []Score {
	tb.mu.RLock()
	ents := make([]*entry, 0, len(tb.entries))
	for _, e := range tb.entries {
		ents = append(ents, e)
	}
	tb.mu.RUnlock()

	out := make([]Score, len(ents))
	for i, e := range ents {
		e.mu.Lock()
		out[i] = e.score
		e.mu.Unlock()
	}
	return out
}

// Thresholds returns the threshold triple this table classifies against.
func (tb *Table) Thresholds() Thresholds { return tb.thresholds }
