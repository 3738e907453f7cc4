package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/octoreflex/exfilguard/internal/keyprotect"
)

// KeyFileName is the single key file co-located with every log-*.bin in
// the logging directory (spec §6 "Key file").
const KeyFileName = "log.key"

// loadOrCreateKey implements spec §4.1 "Key lifecycle" steps 1-4.
//
// Step 4's "generate a new key, best-effort persist, continue in-memory"
// path is the only one that can silently diverge from what's already on
// disk; everywhere else the returned key is exactly what log.key
// protects.
func loadOrCreateKey(dir string, protector keyprotect.Protector, log *zap.Logger) ([32]byte, error) {
	path := filepath.Join(dir, KeyFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateAndPersistKey(path, protector, log)
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("audit: read %s: %w", path, err)
	}

	unwrapped, err := protector.Unprotect(data)
	if err != nil {
		log.Warn("log key unwrap failed — generating a fresh in-memory key; "+
			"existing log files under this key become unreadable",
			zap.Error(err))
		return generateAndPersistKey(path, protector, log)
	}

	if len(unwrapped) == 32 {
		var key [32]byte
		copy(key[:], unwrapped)
		return key, nil
	}

	// Non-32-byte unwrapped buffer: derive via SHA-256 (spec §4.1 step 3).
	return sha256.Sum256(unwrapped), nil
}

// generateAndPersistKey creates 32 fresh random bytes, wraps them, and
// writes them atomically (temp file + rename) to path. Persistence
// failure is best-effort: the in-memory key is still returned so the
// agent can keep running (spec §4.1 step 4, §7 "Key unwrap failure").
func generateAndPersistKey(path string, protector keyprotect.Protector, log *zap.Logger) ([32]byte, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("audit: generate key: %w", err)
	}

	wrapped, err := protector.Protect(key[:])
	if err != nil {
		log.Warn("key protection failed — continuing with in-memory key only",
			zap.Error(err))
		return key, nil
	}

	if err := writeFileAtomic(path, wrapped, 0o600); err != nil {
		log.Warn("key persistence failed — continuing with in-memory key only",
			zap.Error(err), zap.String("path", path))
		return key, nil
	}
	hideIfSupported(path, log)
	return key, nil
}

// writeFileAtomic writes data to a temp file in the same directory then
// renames over the target, so a crash mid-write never leaves a partial
// key file in place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".log-key-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// hideIfSupported marks the key file hidden where the platform has a
// notion of it (Windows FILE_ATTRIBUTE_HIDDEN). On Linux/other platforms
// this is a no-op — hiding a dotfile would change its configured name,
// which the spec fixes as exactly "log.key".
func hideIfSupported(path string, log *zap.Logger) {
	if runtime.GOOS != "windows" {
		return
	}
	if err := hideFileWindows(path); err != nil {
		log.Debug("failed to set hidden attribute on key file", zap.Error(err))
	}
}
