// Package snapshot manages the rotating ring of emulator/agent snapshots
// plus a set of preserved named snapshots, backed by BoltDB for metadata
// (the same storage.DB the Tactician tier uses) and atomic temp-file-plus-
// rename writes for the opaque blob payload.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pokeloop/pokeagent/internal/storage"
)

const (
	ringCapacity  = 10
	writeQueueCap = 4
)

// Reason enumerates why a snapshot was taken.
type Reason string

const (
	ReasonMilestone    Reason = "milestone"
	ReasonPreRecovery  Reason = "pre_recovery"
	ReasonGracefulStop Reason = "graceful_stop"
	ReasonPeriodic     Reason = "periodic"
)

// Meta is the caller-visible metadata for a stored snapshot.
type Meta struct {
	TickID    uint64
	Reason    Reason
	Name      string
	AgentHash string
	CreatedAt time.Time
}

type writeRequest struct {
	meta Meta
	blob []byte
	key  string // "" for ring entries, name for named entries
	done chan error
}

// Store manages the ring buffer and named snapshots. Writes are
// asynchronous with a bounded queue (depth 4); when the queue is full the
// oldest queued ring write is dropped to make room rather than blocking
// the tick loop.
type Store struct {
	db      *storage.DB
	blobDir string

	mu       sync.Mutex
	ringKeys []string // oldest first

	writeCh chan writeRequest
	wg      sync.WaitGroup

	runID string
}

// NewStore returns a Store writing blobs under blobDir and metadata into
// db. Each Store is stamped with a fresh run ID distinguishing the
// snapshots a given agent process instance wrote, so entries surviving
// across restarts in the ring can be told apart during recovery review.
func NewStore(db *storage.DB, blobDir string) (*Store, error) {
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir blob dir: %w", err)
	}
	s := &Store{
		db:      db,
		blobDir: blobDir,
		writeCh: make(chan writeRequest, writeQueueCap),
		runID:   uuid.New().String(),
	}
	ring, err := db.ListRingSnapshots()
	if err != nil {
		return nil, fmt.Errorf("snapshot: list ring: %w", err)
	}
	for k := range ring {
		s.ringKeys = append(s.ringKeys, k)
	}
	sort.Strings(s.ringKeys)
	return s, nil
}

// Run drains the async write queue until ctx is cancelled. Must be started
// once as its own goroutine.
func (s *Store) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.writeCh:
			err := s.write(req.meta, req.blob, req.key)
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

// WriteAsync enqueues a ring-buffer snapshot write, returning immediately.
// If the queue is full, the oldest queued write is dropped to make room;
// false is returned only if the queue is still full after that.
// Ring-buffer entries are best-effort by design.
func (s *Store) WriteAsync(tick uint64, reason Reason, agentHash string, blob []byte) bool {
	meta := Meta{TickID: tick, Reason: reason, AgentHash: agentHash, CreatedAt: time.Now()}
	req := writeRequest{meta: meta, blob: blob}
	select {
	case s.writeCh <- req:
		return true
	default:
	}
	select {
	case <-s.writeCh:
	default:
	}
	select {
	case s.writeCh <- req:
		return true
	default:
		return false
	}
}

// WriteNamedSync writes a named snapshot synchronously, bypassing the
// queue — named snapshots (boot-complete, pre-gym-N, graceful-stop) are
// few and important enough to justify blocking the caller briefly.
func (s *Store) WriteNamedSync(tick uint64, reason Reason, name, agentHash string, blob []byte) error {
	meta := Meta{TickID: tick, Reason: reason, Name: name, AgentHash: agentHash, CreatedAt: time.Now()}
	return s.write(meta, blob, name)
}

func (s *Store) write(meta Meta, blob []byte, name string) error {
	blobName := fmt.Sprintf("snap-%d-%s.bin", meta.TickID, sanitize(string(meta.Reason)))
	if name != "" {
		blobName = fmt.Sprintf("named-%s.bin", sanitize(name))
	}
	blobPath := filepath.Join(s.blobDir, blobName)
	if err := atomicWrite(blobPath, blob); err != nil {
		return fmt.Errorf("snapshot: write blob: %w", err)
	}

	rec := storage.SnapshotRecord{
		TickID:    meta.TickID,
		Reason:    string(meta.Reason),
		Name:      name,
		AgentHash: meta.AgentHash,
		RunID:     s.runID,
		BlobPath:  blobPath,
		CreatedAt: meta.CreatedAt,
	}

	if name != "" {
		return s.db.PutNamedSnapshot(rec)
	}

	key, err := s.db.PutSnapshot(rec)
	if err != nil {
		return fmt.Errorf("snapshot: put metadata: %w", err)
	}
	return s.rotate(key)
}

// rotate appends key to the ring and evicts the oldest entry once beyond
// ringCapacity.
func (s *Store) rotate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringKeys = append(s.ringKeys, key)
	if len(s.ringKeys) <= ringCapacity {
		return nil
	}
	evict := s.ringKeys[0]
	s.ringKeys = s.ringKeys[1:]
	rec, err := s.db.ListRingSnapshots()
	if err != nil {
		return err
	}
	if old, ok := rec[evict]; ok {
		_ = os.Remove(old.BlobPath)
	}
	return s.db.DeleteSnapshot(evict)
}

// LoadNamed synchronously loads a named snapshot's blob. Loading always
// blocks the caller — it is used only on the recovery path, never on the
// steady-state hot path.
func (s *Store) LoadNamed(name string) ([]byte, Meta, error) {
	rec, err := s.db.GetNamedSnapshot(name)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("snapshot: get named metadata: %w", err)
	}
	if rec == nil {
		return nil, Meta{}, fmt.Errorf("snapshot: named snapshot %q not found", name)
	}
	blob, err := os.ReadFile(rec.BlobPath)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("snapshot: read blob: %w", err)
	}
	return blob, Meta{TickID: rec.TickID, Reason: Reason(rec.Reason), Name: rec.Name, AgentHash: rec.AgentHash, CreatedAt: rec.CreatedAt}, nil
}

// RunID returns this Store's process-instance identifier.
func (s *Store) RunID() string {
	return s.runID
}

// LoadLatestRing loads the most recently written ring-buffer snapshot,
// used by the L4 "reload last safe snapshot" recovery tier.
func (s *Store) LoadLatestRing() ([]byte, Meta, error) {
	s.mu.Lock()
	if len(s.ringKeys) == 0 {
		s.mu.Unlock()
		return nil, Meta{}, fmt.Errorf("snapshot: ring is empty")
	}
	latest := s.ringKeys[len(s.ringKeys)-1]
	s.mu.Unlock()

	all, err := s.db.ListRingSnapshots()
	if err != nil {
		return nil, Meta{}, err
	}
	rec, ok := all[latest]
	if !ok {
		return nil, Meta{}, fmt.Errorf("snapshot: ring entry %q missing", latest)
	}
	blob, err := os.ReadFile(rec.BlobPath)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("snapshot: read blob: %w", err)
	}
	return blob, Meta{TickID: rec.TickID, Reason: Reason(rec.Reason), AgentHash: rec.AgentHash, CreatedAt: rec.CreatedAt}, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
