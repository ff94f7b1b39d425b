// Package storage — bolt.go
//
// BoltDB-backed persistent storage for the agent's two durable stores:
// Tactician patterns (tri-tier memory's long-lived tier) and snapshot
// metadata (the ring buffer and named snapshots SnapshotStore manages).
// Blob payloads for snapshots live on the filesystem next to the database;
// only metadata goes through BoltDB.
//
// Schema (BoltDB bucket layout):
//
//	/tactician
//	    key:   trigger signature, 16 bytes hex-encoded (32 characters)
//	    value: JSON-encoded TacticianRecord
//
//	/snapshots
//	    key:   fixed-width UTC nanosecond timestamp + "_" + tick_id  [sortable]
//	    value: JSON-encoded SnapshotRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit via Update).
//   - Reads use read-only transactions (bbolt.View).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Ring-buffer snapshot entries beyond the configured K are pruned by
//     the snapshot store; named snapshots are never pruned here.
//
// Failure modes:
//   - Database file corruption: bbolt detects via CRC and returns an error
//     on Open. The agent logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update returns an error; the caller logs and
//     continues with in-memory state only (that tick's write is lost).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketTactician = "tactician"
	bucketSnapshots = "snapshots"
	bucketMeta      = "meta"
)

// TacticianRecord is the persisted form of a learned trigger/response
// pattern. Stored as JSON in the tactician bucket.
type TacticianRecord struct {
	TriggerSignature string    `json:"trigger_signature"`
	Response         string    `json:"response"`
	EvidenceCount    uint32    `json:"evidence_count"`
	Confidence       float64   `json:"confidence"`
	LastUsedTick     uint64    `json:"last_used_tick"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SnapshotRecord is the persisted metadata for one snapshot. The blob
// itself is stored in a sibling file named BlobPath.
type SnapshotRecord struct {
	TickID    uint64    `json:"tick_id"`
	Reason    string    `json:"reason"`
	Name      string    `json:"name"` // empty for ring-buffer (unnamed) entries
	AgentHash string    `json:"agent_hash"`
	RunID     string    `json:"run_id"` // agent process instance that wrote this entry
	BlobPath  string    `json:"blob_path"`
	CreatedAt time.Time `json:"created_at"`
}

// DB wraps a BoltDB instance with typed accessors for agent data.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path,
// initializing all required buckets and verifying the schema version.
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
		for _, name := range []string{bucketTactician, bucketSnapshots, bucketMeta} {
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
			return fmt.Errorf("schema version mismatch: database has %q, agent requires %q", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Tactician operations ─────────────────────────────────────────────────

// PutTactician writes or updates a pattern record, keyed by its trigger
// signature (hex-encoded).
func (d *DB) PutTactician(rec TacticianRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutTactician marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTactician))
		return b.Put([]byte(rec.TriggerSignature), data)
	})
}

// GetTactician retrieves the pattern for a trigger signature. Returns
// (nil, nil) if absent.
func (d *DB) GetTactician(sig string) (*TacticianRecord, error) {
	var rec TacticianRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTactician))
		data := b.Get([]byte(sig))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetTactician(%q): %w", sig, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// DeleteTactician removes a pattern record, used when confidence decays
// below the prune threshold.
func (d *DB) DeleteTactician(sig string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTactician)).Delete([]byte(sig))
	})
}

// AllTactician returns every stored pattern. Used by the Consolidator's
// decay pass, not on the per-tick hot path.
func (d *DB) AllTactician() ([]TacticianRecord, error) {
	var out []TacticianRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTactician)).ForEach(func(_, v []byte) error {
			var rec TacticianRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ─── Snapshot metadata operations ─────────────────────────────────────────

func snapshotKey(t time.Time, tick uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), tick))
}

// PutSnapshot writes snapshot metadata under a sortable key.
func (d *DB) PutSnapshot(rec SnapshotRecord) (string, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	key := snapshotKey(rec.CreatedAt, rec.TickID)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("PutSnapshot marshal: %w", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).Put(key, data)
	})
	return string(key), err
}

// PutNamedSnapshot writes a named snapshot under a stable key derived from
// its name, so repeated writes to the same name overwrite in place.
func (d *DB) PutNamedSnapshot(rec SnapshotRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutNamedSnapshot marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).Put([]byte("named_"+rec.Name), data)
	})
}

// GetNamedSnapshot retrieves a named snapshot's metadata.
func (d *DB) GetNamedSnapshot(name string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketSnapshots)).Get([]byte("named_" + name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ListRingSnapshots returns every unnamed (ring-buffer) snapshot keyed by
// its sortable key. The map itself is unordered; sorting the keys gives
// chronological order.
func (d *DB) ListRingSnapshots() (map[string]SnapshotRecord, error) {
	out := make(map[string]SnapshotRecord)
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).ForEach(func(k, v []byte) error {
			if len(k) >= 6 && string(k[:6]) == "named_" {
				return nil
			}
			var rec SnapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

// DeleteSnapshot removes one ring-buffer snapshot's metadata by key.
func (d *DB) DeleteSnapshot(key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).Delete([]byte(key))
	})
}
