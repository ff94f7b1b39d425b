package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/pokeloop/pokeagent/internal/storage"
)

// TacticianPattern is the in-memory view of a learned trigger/response
// pattern, mirroring storage.TacticianRecord. Confidence is the
// Beta-Bernoulli posterior mean that Upsert computes and stores, matching the Bayesian success-rate shape used across the agent (goal
// utility, break-out tier success).
type TacticianPattern struct {
	TriggerSignature string
	Response         string
	EvidenceCount    uint32
	Confidence       float64
	LastUsedTick     uint64
}

const (
	tacticianPriorAlpha = 1.0
	tacticianPriorBeta  = 1.0
	pruneMinConfidence  = 0.2
	pruneMinEvidence    = 5
	decayHalfLifeTicks  = 1_000_000
)

// Signature hashes a state-path string and a feature description into a
// stable 16-byte trigger signature, hex-encoded for storage as a BoltDB
// key.
func Signature(statePath string, features string) string {
	sum := sha256.Sum256([]byte(statePath + "|" + features))
	return hex.EncodeToString(sum[:16])
}

// Tactician is the persistent, content-addressed pattern tier, backed by
// BoltDB exactly as the agent's snapshot metadata is.
type Tactician struct {
	db *storage.DB
}

// NewTactician wraps an already-open storage.DB.
func NewTactician(db *storage.DB) *Tactician {
	return &Tactician{db: db}
}

// Upsert records one piece of evidence for sig with the given response and
// outcome, creating the pattern if absent. Confidence is updated with a
// Beta-Bernoulli posterior mean (alpha+successes)/(alpha+beta+n).
func (t *Tactician) Upsert(sig, response string, tick uint64, success bool) (*TacticianPattern, error) {
	existing, err := t.db.GetTactician(sig)
	if err != nil {
		return nil, fmt.Errorf("tactician: get: %w", err)
	}

	var evidence uint32
	successes := tacticianPriorAlpha
	failures := tacticianPriorBeta
	if existing != nil {
		evidence = existing.EvidenceCount
		// Recover implied successes/failures from the stored confidence and
		// evidence count so repeated upserts keep accumulating correctly.
		successes = existing.Confidence * (float64(evidence) + tacticianPriorAlpha + tacticianPriorBeta)
		failures = float64(evidence) + tacticianPriorAlpha + tacticianPriorBeta - successes
		if successes < 0 {
			successes = 0
		}
		if failures < 0 {
			failures = 0
		}
	}
	if success {
		successes++
	} else {
		failures++
	}
	evidence++
	confidence := successes / (successes + failures)

	rec := storage.TacticianRecord{
		TriggerSignature: sig,
		Response:         response,
		EvidenceCount:    evidence,
		Confidence:       confidence,
		LastUsedTick:     tick,
	}
	if err := t.db.PutTactician(rec); err != nil {
		return nil, fmt.Errorf("tactician: put: %w", err)
	}
	return &TacticianPattern{
		TriggerSignature: sig,
		Response:         response,
		EvidenceCount:    evidence,
		Confidence:       confidence,
		LastUsedTick:     tick,
	}, nil
}

// Get retrieves the pattern for sig, if one has been learned.
func (t *Tactician) Get(sig string) (*TacticianPattern, bool, error) {
	rec, err := t.db.GetTactician(sig)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return &TacticianPattern{
		TriggerSignature: rec.TriggerSignature,
		Response:         rec.Response,
		EvidenceCount:    rec.EvidenceCount,
		Confidence:       rec.Confidence,
		LastUsedTick:     rec.LastUsedTick,
	}, true, nil
}

// DecayAndPrune applies time-based confidence decay to every stored
// pattern (half-life decayHalfLifeTicks) and deletes any pattern that falls
// below pruneMinConfidence with at least pruneMinEvidence observations.
// Run by the Consolidator, never on the per-tick hot path.
func (t *Tactician) DecayAndPrune(currentTick uint64) (decayed, pruned int, err error) {
	all, err := t.db.AllTactician()
	if err != nil {
		return 0, 0, fmt.Errorf("tactician: list: %w", err)
	}
	for _, rec := range all {
		dt := float64(currentTick - rec.LastUsedTick)
		if dt <= 0 {
			continue
		}
		decayFactor := math.Exp(-dt * math.Ln2 / decayHalfLifeTicks)
		rec.Confidence *= decayFactor
		decayed++

		if rec.Confidence < pruneMinConfidence && rec.EvidenceCount >= pruneMinEvidence {
			if err := t.db.DeleteTactician(rec.TriggerSignature); err != nil {
				return decayed, pruned, fmt.Errorf("tactician: prune delete: %w", err)
			}
			pruned++
			continue
		}
		if err := t.db.PutTactician(rec); err != nil {
			return decayed, pruned, fmt.Errorf("tactician: decay put: %w", err)
		}
	}
	return decayed, pruned, nil
}
