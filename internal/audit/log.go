// Package audit implements the Secure Audit Log: a durable, line-framed,
// AES-256-CBC-encrypted append-only event sink (spec §4.1), and its
// offline companion the Log Decoder (spec §4.2).
//
// Ownership (spec §3): the Log uniquely owns the writer goroutine, the
// key material, and the file handle. Every other component holds only a
// reference to it via the EventSink interface it satisfies for
// internal/behavior and internal/action.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/keyprotect"
)

// queueDepth bounds the producer-to-writer channel. Producers never block
// beyond enqueueing (spec §4.1 contract); once full, new events are
// dropped and counted rather than applying backpressure.
const queueDepth = 4096

// pollInterval bounds how long the writer can go without rechecking
// cancellation when the queue is empty (spec §5 "no starve beyond a short
// poll interval (<=100ms)"). The writer's select already reacts
// instantly to both queue sends and ctx.Done(), so this ticker does no
// work of its own and is not load-bearing for cancellation latency; date
// rollover is checked per write in fileFor.
const pollInterval = 100 * time.Millisecond

// Log is the Secure Audit Log writer.
type Log struct {
	dir  string
	key  [32]byte
	log  *zap.Logger

	queue chan map[string]any
	done  chan struct{}
	wg    sync.WaitGroup

	mu          sync.Mutex
	currentPath string
	currentDate string
	file        *os.File

	dropped atomic.Uint64
}

// Open ensures the log directory and key exist (spec §4.1 "Key
// lifecycle"), then starts the single writer goroutine.
func Open(ctx context.Context, dir string, protector keyprotect.Protector, log *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: mkdir %s: %w", dir, err)
	}

	key, err := loadOrCreateKey(dir, protector, log)
	if err != nil {
		return nil, fmt.Errorf("audit: key lifecycle: %w", err)
	}

	l := &Log{
		dir:   dir,
		key:   key,
		log:   log,
		queue: make(chan map[string]any, queueDepth),
		done:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run(ctx)
	return l, nil
}

// Log enqueues a structured event for durable, encrypted append. Never
// blocks the caller beyond the channel send; if the queue is saturated
// the event is dropped and counted (spec §4.1 contract, §7 "Audit I/O or
// crypto failure: ... dropped; writer continues").
func (l *Log) Log(event map[string]any) {
	if event == nil {
		return
	}
	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = time.Now().UTC()
	}
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		if l.log != nil {
			l.log.Warn("audit queue full — event dropped",
				zap.String("event_type", fmt.Sprintf("%v", event["event_type"])))
		}
	}
}

// Dropped returns the lifetime count of events dropped due to a full
// queue, for the observability layer.
func (l *Log) Dropped() uint64 { return l.dropped.Load() }

// Dispose requests the writer drain and stop, waiting up to the given
// bound (spec §4.1 contract: "<= 2s"), then releases key material.
// Calling Dispose again after the first call is a no-op.
func (l *Log) Dispose(timeout time.Duration) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
		close(l.done)
	}
	l.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		if l.log != nil {
			l.log.Warn("audit writer drain timed out", zap.Duration("timeout", timeout))
		}
	}

	l.mu.Lock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	l.mu.Unlock()

	// Release key material from memory.
	for i := range l.key {
		l.key[i] = 0
	}
}

// run is the single writer goroutine: multi-producer, single-consumer
// drain of the queue (spec §5). Cancellation is observed via l.done
// (set by Dispose) and the caller's ctx; on either, one last pending
// entry is drained before exit (spec §5 "drains one pending entry before
// exiting").
func (l *Log) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-l.queue:
			l.writeOne(ev)
		case <-ticker.C:
			// Periodic housekeeping tick; nothing required today beyond
			// keeping the select loop responsive.
		case <-l.done:
			select {
			case ev := <-l.queue:
				l.writeOne(ev)
			default:
			}
			return
		case <-ctx.Done():
			select {
			case ev := <-l.queue:
				l.writeOne(ev)
			default:
			}
			return
		}
	}
}

// writeOne encrypts and appends a single event. All failures are
// swallowed after being logged — a corrupted entry must never poison the
// writer loop (spec §4.1 "Failure semantics").
func (l *Log) writeOne(event map[string]any) {
	payload, err := json.Marshal(event)
	if err != nil {
		if l.log != nil {
			l.log.Warn("audit: marshal failed, entry dropped", zap.Error(err))
		}
		return
	}

	line, err := encryptLine(l.key, payload)
	if err != nil {
		if l.log != nil {
			l.log.Warn("audit: encrypt failed, entry dropped", zap.Error(err))
		}
		return
	}

	f, err := l.fileFor(eventTime(event))
	if err != nil {
		if l.log != nil {
			l.log.Warn("audit: open log file failed, entry dropped", zap.Error(err))
		}
		return
	}

	if _, err := f.WriteString(line + "\n"); err != nil {
		if l.log != nil {
			l.log.Warn("audit: write failed, entry dropped", zap.Error(err))
		}
		return
	}
	_ = f.Sync() // best-effort; spec §1 NON-GOALS: "append-then-fsync-best-effort"
}

func eventTime(event map[string]any) time.Time {
	if ts, ok := event["timestamp"].(time.Time); ok {
		return ts
	}
	return time.Now().UTC()
}

// fileFor returns the open file handle for the log covering t's UTC
// date, rolling over (and resolving the key-rotation ambiguity from spec
// §9) as needed.
func (l *Log) fileFor(t time.Time) (*os.File, error) {
	date := t.UTC().Format("20060102")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil && l.currentDate == date {
		return l.file, nil
	}

	path, err := resolveLogPath(l.dir, date, l.key)
	if err != nil {
		return nil, err
	}

	if l.file != nil {
		_ = l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := writeFingerprintIfAbsent(path, l.key); err != nil && l.log != nil {
		l.log.Debug("audit: fingerprint sidecar write failed", zap.Error(err))
	}

	l.file, l.currentPath, l.currentDate = f, path, date
	return f, nil
}

// keyFingerprint is a short, non-reversible tag identifying which key a
// given log file was written under. It is never sensitive on its own
// (it cannot be used to recover the key) but lets a later run detect
// "this log.key no longer matches this file" without decrypting
// anything.
func keyFingerprint(key [32]byte) string {
	h := sha256.Sum256(key[:])
	return hex.EncodeToString(h[:8])
}

func fingerprintPath(logPath string) string { return logPath + ".keyfp" }

// resolveLogPath implements the chosen resolution (b) of spec §9's open
// question: rotate to a new dated log file rather than silently
// overwriting one written under a different key. log-YYYYMMDD.bin is
// tried first; if its fingerprint sidecar exists and disagrees with the
// current key, log-YYYYMMDD-2.bin, -3.bin, ... are tried until one
// matches or has no sidecar yet.
func resolveLogPath(dir, date string, key [32]byte) (string, error) {
	fp := keyFingerprint(key)
	base := filepath.Join(dir, fmt.Sprintf("log-%s.bin", date))

	for suffix := 1; suffix < 1000; suffix++ {
		candidate := base
		if suffix > 1 {
			candidate = filepath.Join(dir, fmt.Sprintf("log-%s-%d.bin", date, suffix))
		}
		existingFP, err := os.ReadFile(fingerprintPath(candidate))
		switch {
		case os.IsNotExist(err):
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("read fingerprint sidecar: %w", err)
		case string(existingFP) == fp:
			return candidate, nil
		}
	}
	return "", fmt.Errorf("resolveLogPath: exhausted rotation suffixes for date %s", date)
}

func writeFingerprintIfAbsent(logPath string, key [32]byte) error {
	fp := fingerprintPath(logPath)
	if _, err := os.Stat(fp); err == nil {
		return nil
	}
	return writeFileAtomic(fp, []byte(keyFingerprint(key)), 0o600)
}
