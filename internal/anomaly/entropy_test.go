package anomaly

import (
	"math"
	"testing"
)

func TestShannonEntropy_EmptyIsZero(t *testing.T) {
	var counts [256]uint64
	if got := ShannonEntropy(counts); got != 0 {
		t.Fatalf("entropy of empty distribution = %v, want 0", got)
	}
}

func TestShannonEntropy_SingleValueIsZero(t *testing.T) {
	var counts [256]uint64
	counts['a'] = 50
	if got := ShannonEntropy(counts); got != 0 {
		t.Fatalf("entropy of degenerate distribution = %v, want 0", got)
	}
}

func TestShannonEntropy_UniformIsLog2OfAlphabetSize(t *testing.T) {
	var counts [256]uint64
	counts['a'] = 10
	counts['b'] = 10
	counts['c'] = 10
	counts['d'] = 10
	got := ShannonEntropy(counts)
	want := math.Log2(4)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("entropy = %v, want %v", got, want)
	}
}

func TestStringEntropy_NaturalTextIsLow(t *testing.T) {
	got := StringEntropy("/usr/local/bin/my-application --config=/etc/app/config.yaml")
	if got >= defaultEntropyThreshold {
		t.Fatalf("natural-language command line scored %v, expected below threshold %v", got, defaultEntropyThreshold)
	}
}

// highEntropyBlob is a base64 encoding of random bytes — representative
// of a packed/encrypted payload passed inline on argv rather than the
// heavily padded, low-entropy base64 that UTF-16 encoded-command
// PowerShell invocations typically produce.
const highEntropyBlob = "3hEcpvEOSPtKjjUHVMf1s8eUxrD+5wQKmg98c3WlqTB528fJOd6meC6Qr+kKgXNTFNgVnpX+tgpNZloP"

func TestStringEntropy_Base64BlobIsHigh(t *testing.T) {
	got := StringEntropy(highEntropyBlob)
	if got < defaultEntropyThreshold {
		t.Fatalf("base64 blob scored %v, expected at or above threshold %v", got, defaultEntropyThreshold)
	}
}

func TestCommandLineEntropyAnalyzer_FlagsEncodedPayload(t *testing.T) {
	a := NewCommandLineEntropyAnalyzer()
	cmdline := "powershell.exe -nop -w hidden -enc " + highEntropyBlob

	indicators := a.AnalyzeProcess(123, "powershell.exe", cmdline, `C:\Windows\System32\powershell.exe`)
	if len(indicators) != 1 {
		t.Fatalf("expected exactly 1 indicator, got %v", indicators)
	}
	if indicators[0].Name != "highEntropyCommandLine" {
		t.Fatalf("indicator name = %q, want highEntropyCommandLine", indicators[0].Name)
	}
}

func TestCommandLineEntropyAnalyzer_IgnoresOrdinaryCommandLine(t *testing.T) {
	a := NewCommandLineEntropyAnalyzer()
	indicators := a.AnalyzeProcess(1, "bash", "/bin/bash -c \"tail -f /var/log/syslog\"", "/bin/bash")
	if len(indicators) != 0 {
		t.Fatalf("expected no indicators for an ordinary command line, got %v", indicators)
	}
}

func TestCommandLineEntropyAnalyzer_IgnoresShortTokens(t *testing.T) {
	a := NewCommandLineEntropyAnalyzer()
	// Short high-entropy-looking token below minLength should not trip.
	indicators := a.AnalyzeProcess(1, "x", "run --key=aZ9!qW3", "/bin/run")
	if len(indicators) != 0 {
		t.Fatalf("expected no indicators for a short token, got %v", indicators)
	}
}
