package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/octoreflex/exfilguard/internal/keyprotect"
)

// ErrMissingKey is returned when log.key is absent from the log file's
// directory (spec §4.2 contract).
var ErrMissingKey = errors.New("audit: log.key not found")

// decodeKey loads the key strictly — it never generates one. Decoder
// never imports writer state (spec §4.2): this is a read-only, one-shot
// recovery of the existing key.
func decodeKey(dir string, protector keyprotect.Protector) ([32]byte, error) {
	var key [32]byte
	path := filepath.Join(dir, KeyFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return key, ErrMissingKey
	}
	if err != nil {
		return key, fmt.Errorf("audit: read %s: %w", path, err)
	}

	unwrapped, err := protector.Unprotect(data)
	if err != nil {
		return key, fmt.Errorf("%w: %v", keyprotect.ErrUnprotectFailed, err)
	}

	if len(unwrapped) == 32 {
		copy(key[:], unwrapped)
		return key, nil
	}
	// Mirrors key.go's derivation path so the decoder reconstructs
	// exactly the same 32-byte key the writer would have used for a
	// non-32-byte unwrapped buffer (spec §4.1 step 3, §4.2 "Decoder MUST
	// tolerate lines produced by any writer version whose
	// key-derivation path yields the same 32-byte key").
	return sha256.Sum256(unwrapped), nil
}

// DecodeFile decrypts every non-empty line of the log file at path and
// returns the decoded UTF-8 JSON text, one entry per line, in file
// order. It stops at the first malformed line and returns that error
// with no partial output.
func DecodeFile(path string) ([]string, error) {
	dir := filepath.Dir(path)
	protector, err := keyprotect.New(dir)
	if err != nil {
		return nil, fmt.Errorf("audit: protector: %w", err)
	}
	key, err := decodeKey(dir, protector)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		plain, err := decryptLine(key, line)
		if err != nil {
			return nil, fmt.Errorf("audit: decode line: %w", err)
		}
		out = append(out, string(plain))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return out, nil
}

// DecodeFileTo streams decoded lines to w, one JSON object per line,
// for the --decode-log CLI surface (spec §6).
func DecodeFileTo(path string, w io.Writer) error {
	lines, err := DecodeFile(path)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return fmt.Errorf("audit: write output: %w", err)
		}
	}
	return nil
}

// RuntimeLoadEvent is the fixed schema for the "runtimeLoad" event_type
// (spec §4.2 "structured variant").
type RuntimeLoadEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	PID          int       `json:"pid"`
	ModuleName   string    `json:"module_name"`
	BaseAddress  uint64    `json:"base_address"`
}

// ParseRuntimeLoads decodes path and returns only the well-formed
// "runtimeLoad" events; malformed entries (wrong event_type, missing
// fields, bad JSON) are skipped silently (spec §4.2).
func ParseRuntimeLoads(path string) ([]RuntimeLoadEvent, error) {
	lines, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}

	var out []RuntimeLoadEvent
	for _, line := range lines {
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if t, _ := raw["event_type"].(string); t != "runtimeLoad" {
			continue
		}
		complete := true
		for _, field := range []string{"timestamp", "pid", "module_name", "base_address"} {
			if _, ok := raw[field]; !ok {
				complete = false
			}
		}
		if !complete {
			continue
		}
		var ev RuntimeLoadEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// NewestLogFile returns the most-recently-modified log-*.bin file in
// dir, for the --decode-log default path (spec §6).
//
// Modification time, not filename, decides "newest": the rotation
// suffix in log-YYYYMMDD-2.bin (spec §9 key-derivation ambiguity) sorts
// lexicographically *before* log-YYYYMMDD.bin ('-' < '.'), so a raw
// string comparison would pick the original file over a later rotated
// one sharing the same date.
func NewestLogFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("audit: read dir %s: %w", dir, err)
	}
	var newestName string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".bin" || len(name) < 4 || name[:4] != "log-" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newestName == "" || info.ModTime().After(newestMod) {
			newestName, newestMod = name, info.ModTime()
		}
	}
	if newestName == "" {
		return "", fmt.Errorf("audit: no log-*.bin files found in %s", dir)
	}
	return filepath.Join(dir, newestName), nil
}
