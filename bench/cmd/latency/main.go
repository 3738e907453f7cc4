// Package bench — latency/main.go
//
// Containment latency measurement tool.
//
// Measures the time from Action Manager terminate() dispatch to the
// target process actually exiting, for a PID whose score has just
// crossed the Critical threshold (spec §4.4 "Terminate policy").
//
// Method:
//  1. Spawns a short-lived child process (`sleep`).
//  2. Drives its behavior score straight to Critical via a throwaway
//     behavior.Table.
//  3. Calls action.Manager.EvaluateAndRespond(pid), which dispatches
//     terminate().
//  4. Measures wall-clock time from dispatch to the child's Wait()
//     returning.
//  5. Results are written to a CSV file.
//
// Output CSV columns: iteration, latency_us, killed (true/false)
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/action"
	"github.com/octoreflex/exfilguard/internal/behavior"
)

func main() {
	iterations := flag.Int("iterations", 200, "Number of terminate cycles to measure")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "killed"})

	log := zap.NewNop()
	thresholds := behavior.Thresholds{Suspicious: 10, Malicious: 15, Critical: 20}

	var totalKilled int
	var hist [100001]int // microsecond histogram, 0-100ms

	for i := 0; i < *iterations; i++ {
		cmd := exec.Command("sleep", "5")
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "spawn child: %v\n", err)
			os.Exit(1)
		}
		pid := cmd.Process.Pid

		table := behavior.NewTable(thresholds, nullSink{}, log)
		table.Update(pid, func(s behavior.Score) behavior.Score {
			return behavior.WithIndicator(s, "benchCritical", 25, thresholds)
		})

		mgr := action.New(action.Config{
			MaxConcurrentTerminates: 1,
			ActionCooldown:          0,
		}, os.Getpid(), table, nullSink{}, log,
			action.NewSuspender(), action.NewSuspender(), action.NewKiller(), action.NewExistsChecker())

		start := time.Now()
		mgr.EvaluateAndRespond(pid)
		waitErr := cmd.Wait()
		latency := time.Since(start)

		killed := waitErr != nil // non-zero/signal exit expected for SIGKILL
		if killed {
			totalKilled++
		}

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(hist) {
			hist[latencyUs]++
		}
		_ = w.Write([]string{strconv.Itoa(i), strconv.Itoa(latencyUs), strconv.FormatBool(killed)})
	}

	p50, p95, p99 := computePercentiles(hist[:], *iterations)

	fmt.Printf("Containment Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Killed: %d/%d (%.1f%%)\n", totalKilled, *iterations,
		float64(totalKilled)/float64(*iterations)*100)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)
}

// nullSink discards audit events; this benchmark only cares about
// wall-clock latency, not the resulting audit trail.
type nullSink struct{}

func (nullSink) Log(map[string]any) {}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
