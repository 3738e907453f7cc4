// Package behavior implements the Behavior Engine: the authoritative
// per-process risk score table.
//
// A BehaviorScore accumulates Indicators raised by the probes and the
// plugin registry. Total is the sum of all indicator weights ever applied
// to the PID; Level is derived from Total against a fixed, strictly
// increasing threshold triple (Suspicious < Malicious < Critical).
//
// Scores are created lazily on first indicator and never removed; no
// package prunes entries for processes that have exited.
package behavior

import "fmt"

// Level classifies a BehaviorScore's Total against the configured thresholds.
type Level int

const (
	Normal Level = iota
	Suspicious
	Malicious
	Critical
)

// String returns the lowercase level name used in audit events.
func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Suspicious:
		return "suspicious"
	case Malicious:
		return "malicious"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// Thresholds are the three score cutoffs a Level is derived from.
// Suspicious < Malicious < Critical is enforced by config.Validate; this
// package trusts its caller rather than re-checking on every call.
type Thresholds struct {
	Suspicious int
	Malicious  int
	Critical   int
}

// LevelFor returns the highest tier whose threshold is <= total.
func (t Thresholds) LevelFor(total int) Level {
	switch {
	case total >= t.Critical:
		return Critical
	case total >= t.Malicious:
		return Malicious
	case total >= t.Suspicious:
		return Suspicious
	default:
		return Normal
	}
}

// Indicator is a single named reason for suspicion with a positive weight.
// The same name may occur more than once in a Score's Indicators history;
// each occurrence adds its own weight.
type Indicator struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Score is the immutable-by-convention snapshot of one PID's accumulated
// risk. Callers obtain new values through WithIndicator or Table.Update;
// nothing mutates a Score in place.
type Score struct {
	PID        int         `json:"pid"`
	Total      int         `json:"total"`
	Indicators []Indicator `json:"indicators"`
	Level      Level       `json:"level"`
}

// NewScore returns the lazily-created default: Normal, zero total, no history.
func NewScore(pid int) Score {
	return Score{PID: pid, Level: Normal}
}

// WithIndicator is the pure transformation at the heart of the engine: it
// appends (name, weight) to the indicator history, adds weight to Total,
// and recomputes Level from the new Total. It never mutates s.Indicators'
// backing array in place — the returned Score owns a fresh slice.
//
// Invariant (level monotonicity): for weight >= 0, the returned level is
// never lower than s.Level, since Total only grows and LevelFor is
// monotonic in total.
func WithIndicator(s Score, name string, weight int, t Thresholds) Score {
	next := make([]Indicator, len(s.Indicators), len(s.Indicators)+1)
	copy(next, s.Indicators)
	next = append(next, Indicator{Name: name, Weight: weight})

	total := s.Total + weight
	return Score{
		PID:        s.PID,
		Total:      total,
		Indicators: next,
		Level:      t.LevelFor(total),
	}
}

// WithIndicators folds WithIndicator over a batch so that a single probe
// cycle's worth of indicators lands as one composed delta — matching the
// "single update call composing the deltas" requirement for analyze().
func WithIndicators(s Score, indicators []Indicator, t Thresholds) Score {
	for _, ind := range indicators {
		s = WithIndicator(s, ind.Name, ind.Weight, t)
	}
	return s
}
