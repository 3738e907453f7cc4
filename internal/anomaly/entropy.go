// Package anomaly provides a built-in detection plugin (spec §4.5, §9
// "the capability set analyze_process(pid, name, cmdline, path) ->
// indicators is open to variants") that flags command lines carrying a
// high-entropy token — the signature of a base64-encoded or otherwise
// packed payload passed inline on argv rather than dropped to disk.
//
// Grounded on the teacher's contrib/scorer.go ZScoreScorer: a small
// self-contained scorer registered from its own init() as a reference
// implementation of the plugin contract, living next to (rather than
// inside) the registry package it registers with.
//
// Formula:
//
//	H = -Σ p(bᵢ) * log₂(p(bᵢ))
//
// Where p(bᵢ) is the empirical probability of byte value i within the
// token. Natural-language and typical path/flag tokens sit well under 4
// bits/byte; base64 and hex-encoded blobs sit close to their alphabet's
// theoretical maximum (6 bits/byte for base64, 4 for hex) because every
// byte position is close to uniformly distributed.
package anomaly

import (
	"math"
	"strings"

	"github.com/octoreflex/exfilguard/internal/behavior"
	"github.com/octoreflex/exfilguard/internal/plugin"
)

func init() {
	plugin.Register(NewCommandLineEntropyAnalyzer())
}

// ShannonEntropy computes H = -Σ p(bᵢ) * log₂(p(bᵢ)) over a byte-value
// frequency distribution. Returns 0 if the total count is zero or only
// one byte value is present (degenerate distribution, no information).
// The result is in bits.
func ShannonEntropy(counts [256]uint64) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0.0
	}

	fTotal := float64(total)
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue // 0 * log(0) = 0 by convention.
		}
		p := float64(c) / fTotal
		h -= p * math.Log2(p)
	}
	return h
}

// StringEntropy computes the Shannon entropy, in bits per byte, of s's
// raw byte content.
func StringEntropy(s string) float64 {
	var counts [256]uint64
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	return ShannonEntropy(counts)
}

// Defaults for CommandLineEntropyAnalyzer, chosen so that ordinary flags,
// file paths, and URLs (which rarely exceed ~4.3 bits/byte) stay below
// threshold while longer base64 blobs trip it (an 80-character random
// base64 token measures about 5.4 bits/byte). A token's entropy cannot
// exceed log2 of its length, so tokens shorter than 32 bytes never reach
// the 5.0 threshold.
const (
	defaultEntropyThreshold = 5.0
	defaultMinTokenLength   = 24
)

// CommandLineEntropyAnalyzer implements plugin.Analyzer. It tokenizes a
// command line on whitespace and raises highEntropyCommandLine if any
// token at least minLength bytes long has entropy at or above threshold.
type CommandLineEntropyAnalyzer struct {
	threshold float64
	minLength int
}

// NewCommandLineEntropyAnalyzer constructs the analyzer with its default
// threshold and minimum token length.
func NewCommandLineEntropyAnalyzer() *CommandLineEntropyAnalyzer {
	return &CommandLineEntropyAnalyzer{
		threshold: defaultEntropyThreshold,
		minLength: defaultMinTokenLength,
	}
}

// Name returns the stable indicator/plugin name.
func (a *CommandLineEntropyAnalyzer) Name() string { return "highEntropyCommandLine" }

// AnalyzeProcess raises at most one highEntropyCommandLine indicator per
// call regardless of how many qualifying tokens are present — the
// presence of one encoded blob is the signal, not the count.
func (a *CommandLineEntropyAnalyzer) AnalyzeProcess(_ int, _, commandLine, _ string) []behavior.Indicator {
	for _, token := range strings.Fields(commandLine) {
		if len(token) < a.minLength {
			continue
		}
		if StringEntropy(token) >= a.threshold {
			return []behavior.Indicator{{Name: a.Name(), Weight: 3}}
		}
	}
	return nil
}
