package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/keyprotect"
)

func openTestLog(t *testing.T) (*Log, context.Context, string) {
	t.Helper()
	dir := t.TempDir()
	protector, err := keyprotect.New(dir)
	if err != nil {
		t.Fatalf("keyprotect.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l, err := Open(ctx, dir, protector, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Dispose(2 * time.Second) })
	return l, ctx, dir
}

func TestLog_WriteAndDecodeRoundTrip(t *testing.T) {
	l, _, dir := openTestLog(t)

	l.Log(map[string]any{
		"event_type": "behaviorScore",
		"pid":        123,
		"total":      15,
	})
	l.Dispose(2 * time.Second)

	path, err := NewestLogFile(dir)
	if err != nil {
		t.Fatalf("NewestLogFile: %v", err)
	}

	lines, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 decoded line, got %d", len(lines))
	}
}

func TestLog_DropsEventsWhenQueueSaturated(t *testing.T) {
	dir := t.TempDir()
	protector, err := keyprotect.New(dir)
	if err != nil {
		t.Fatalf("keyprotect.New: %v", err)
	}

	// A context that is already cancelled: the writer goroutine drains at
	// most one entry before exiting, so every further Log() call that
	// doesn't fit in the channel buffer is counted as dropped.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := Open(ctx, dir, protector, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Dispose(2 * time.Second)

	// Give the writer goroutine a moment to observe ctx.Done() and exit
	// before we start filling the queue past capacity.
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < queueDepth+10; i++ {
		l.Log(map[string]any{"event_type": "behaviorScore", "pid": i})
	}

	if l.Dropped() == 0 {
		t.Fatal("expected at least one dropped event once the queue saturated")
	}
}

func TestLog_DisposeReturnsWithinBound(t *testing.T) {
	l, _, _ := openTestLog(t)
	start := time.Now()
	l.Dispose(200 * time.Millisecond)
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Dispose took too long: %v", time.Since(start))
	}
}

func TestEventTime_FallsBackToNowForMissingTimestamp(t *testing.T) {
	got := eventTime(map[string]any{})
	if time.Since(got) > time.Minute {
		t.Fatalf("eventTime fallback should be close to now, got %v", got)
	}
}

func TestKeyFingerprint_DifferentKeysDifferentFingerprints(t *testing.T) {
	var k1, k2 [32]byte
	k1[0] = 1
	k2[0] = 2
	if keyFingerprint(k1) == keyFingerprint(k2) {
		t.Fatal("expected different keys to produce different fingerprints")
	}
}

func TestResolveLogPath_RotatesOnFingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	var keyA, keyB [32]byte
	keyA[0], keyB[0] = 1, 2

	pathA, err := resolveLogPath(dir, "20260101", keyA)
	if err != nil {
		t.Fatalf("resolveLogPath (first): %v", err)
	}
	if err := writeFingerprintIfAbsent(pathA, keyA); err != nil {
		t.Fatalf("writeFingerprintIfAbsent: %v", err)
	}

	pathB, err := resolveLogPath(dir, "20260101", keyB)
	if err != nil {
		t.Fatalf("resolveLogPath (second): %v", err)
	}
	if pathB == pathA {
		t.Fatalf("expected a distinct rotated path for a different key, got the same path %q", pathA)
	}
	if filepath.Ext(pathB) != ".bin" {
		t.Fatalf("rotated path %q should still be a .bin file", pathB)
	}
}
