// Package plugin implements the detection-plugin capability registry
// (spec §4.5, §9 "Polymorphism over the capability set
// analyze_process(pid, name, cmdline, path) -> indicators").
//
// The actual loading of .so/.dll files from plugin_directory is an
// external collaborator (spec §1 OUT OF SCOPE — "the plugin loader"); this
// package owns only the in-process registration contract the loader
// populates and the process probe consumes. It is directly grounded on
// the teacher's contrib/scorer.go AnomalyScorer registry: a
// RegisterXxx/GetXxx/ListXxx triple backed by a package-level map guarded
// by a RWMutex, with init()-time self-registration for any built-ins.
package plugin

import (
	"fmt"
	"sync"

	"github.com/octoreflex/exfilguard/internal/behavior"
)

// Analyzer is the capability every detection plugin implements. Score()
// in the teacher's contrib package returned a single float; here the
// contract returns a finite list of (indicator, weight) pairs per spec
// §4.5 and §9 ("variants are unrestricted but all must return finite
// lists of (indicator, weight)").
type Analyzer interface {
	// Name returns a stable, unique identifier for this analyzer.
	Name() string

	// AnalyzeProcess inspects one process observation and returns zero or
	// more indicators. Must not block on I/O beyond what is strictly
	// necessary, must be goroutine-safe, and must never panic — the
	// process probe recovers defensively around each call regardless,
	// but a well-behaved plugin should not rely on that.
	AnalyzeProcess(pid int, name, commandLine, executablePath string) []behavior.Indicator
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Analyzer)
)

// Register adds an analyzer to the active set. Call from init() in
// built-in analyzer packages, or from the external plugin loader once it
// has resolved a plugin_directory entry to an Analyzer value. Panics on a
// duplicate name, matching the teacher's RegisterScorer contract.
func Register(a Analyzer) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[a.Name()]; exists {
		panic(fmt.Sprintf("plugin: analyzer %q already registered", a.Name()))
	}
	registry[a.Name()] = a
}

// Unregister removes a previously registered analyzer, used when the
// external plugin loader detects a plugin file has been removed or
// disabled. No-op if name was never registered.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, name)
}

// Active returns every currently registered analyzer. The process probe
// calls AnalyzeProcess on each during analyze(pid), in registration order
// is not guaranteed — indicators from different plugins are composed
// into the same update call regardless of order (spec §5 "the
// interleaving of indicators from different probes is unspecified").
func Active() []Analyzer {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Analyzer, 0, len(registry))
	for _, a := range registry {
		out = append(out, a)
	}
	return out
}

// Names returns the registered analyzer names, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
