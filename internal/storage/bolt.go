// Package storage — bolt.go
//
// BoltDB-backed persistent storage for EXFILGUARD's Hook State
// bookkeeping (spec §3 "Hook state").
//
// Schema (BoltDB bucket layout):
//
//	/hookstate
//	    key:   PID, big-endian uint32
//	    value: JSON-encoded HookState
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Hook state records which module names are associated with a given
// PID for bookkeeping purposes only — no actual API interception is
// implied by the core (spec §3).
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent
//     writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The agent logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The caller logs the
//     error and continues without persisting (in-memory state retained
//     by whichever component called in).
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/exfilguard/exfilguard.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketHookState = "hookstate"
	bucketMeta       = "meta"
)

// HookState is the persisted bookkeeping record for one instrumented
// process (spec §3). Stored as JSON in the hookstate bucket.
type HookState struct {
	PID       int      `json:"pid"`
	Modules   []string `json:"modules"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DB wraps a BoltDB instance with typed accessors for EXFILGUARD's hook
// state bookkeeping.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path and
// initializes its buckets.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketHookState, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q",
				string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

func pidKey(pid int) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(pid))
	return key
}

// PutHookState writes or replaces the hook-state record for a PID.
func (d *DB) PutHookState(pid int, modules []string) error {
	rec := HookState{PID: pid, Modules: modules, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutHookState marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHookState))
		return b.Put(pidKey(pid), data)
	})
}

// AppendModule adds a module name to a PID's hook state, creating the
// record if absent. Duplicate module names are not de-duplicated — the
// spec models modules as an ordered list, and a module genuinely
// re-hooked is a meaningful second entry.
func (d *DB) AppendModule(pid int, moduleName string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHookState))
		var rec HookState
		if data := b.Get(pidKey(pid)); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("AppendModule unmarshal: %w", err)
			}
		} else {
			rec.PID = pid
		}
		rec.Modules = append(rec.Modules, moduleName)
		rec.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("AppendModule marshal: %w", err)
		}
		return b.Put(pidKey(pid), data)
	})
}

// GetHookState retrieves the hook-state record for a PID. Returns (nil,
// nil) if no record exists.
func (d *DB) GetHookState(pid int) (*HookState, error) {
	var rec HookState
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHookState))
		data := b.Get(pidKey(pid))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetHookState(%d): %w", pid, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// DeleteHookState removes a PID's hook-state record, called when a
// process is found to have vanished (spec §4.5 "process vanished").
func (d *DB) DeleteHookState(pid int) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHookState))
		return b.Delete(pidKey(pid))
	})
}

// ListHookStates returns every persisted hook-state record. For
// operational inspection; not called on the hot path.
func (d *DB) ListHookStates() ([]HookState, error) {
	var out []HookState
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketHookState))
		return b.ForEach(func(_, v []byte) error {
			var rec HookState
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
