package memory

import (
	"path/filepath"
	"testing"

	"github.com/pokeloop/pokeagent/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSignature_StableForSameInputs(t *testing.T) {
	a := Signature("OVERWORLD.WALKING", "ledge-hop")
	b := Signature("OVERWORLD.WALKING", "ledge-hop")
	if a != b {
		t.Error("expected Signature to be deterministic for identical inputs")
	}
	c := Signature("OVERWORLD.WALKING", "different-feature")
	if a == c {
		t.Error("expected different features to produce different signatures")
	}
}

func TestTactician_Upsert_CreatesPatternOnFirstCall(t *testing.T) {
	tact := NewTactician(openTestDB(t))
	sig := Signature("OVERWORLD.WALKING", "ledge-hop")

	pat, err := tact.Upsert(sig, "press-B", 100, true)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if pat.EvidenceCount != 1 {
		t.Errorf("expected EvidenceCount=1, got %d", pat.EvidenceCount)
	}
	// prior alpha=beta=1, one success: confidence = 2/3
	want := 2.0 / 3.0
	if pat.Confidence != want {
		t.Errorf("expected Confidence=%f, got %f", want, pat.Confidence)
	}
}

func TestTactician_Upsert_AccumulatesEvidence(t *testing.T) {
	tact := NewTactician(openTestDB(t))
	sig := Signature("BATTLE.WILD_FIGHT", "run-away")

	for i := 0; i < 5; i++ {
		if _, err := tact.Upsert(sig, "press-B", uint64(i), true); err != nil {
			t.Fatalf("Upsert iteration %d: %v", i, err)
		}
	}
	pat, err := tact.Upsert(sig, "press-B", 5, false)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if pat.EvidenceCount != 6 {
		t.Errorf("expected EvidenceCount=6, got %d", pat.EvidenceCount)
	}
	if pat.Confidence <= 0 || pat.Confidence >= 1 {
		t.Errorf("expected confidence strictly between 0 and 1, got %f", pat.Confidence)
	}
}

func TestTactician_Get_UnknownSignatureReturnsFalse(t *testing.T) {
	tact := NewTactician(openTestDB(t))
	_, ok, err := tact.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for an unrecorded signature")
	}
}

func TestTactician_DecayAndPrune_RemovesLowConfidencePatterns(t *testing.T) {
	tact := NewTactician(openTestDB(t))
	sig := Signature("OVERWORLD.WALKING", "stuck-loop")

	// Accumulate enough failing evidence to push confidence below the prune
	// floor with at least pruneMinEvidence observations.
	for i := 0; i < 6; i++ {
		if _, err := tact.Upsert(sig, "reset", uint64(i), false); err != nil {
			t.Fatalf("Upsert iteration %d: %v", i, err)
		}
	}

	_, pruned, err := tact.DecayAndPrune(7)
	if err != nil {
		t.Fatalf("DecayAndPrune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected the low-confidence pattern to be pruned, pruned=%d", pruned)
	}
	if _, ok, _ := tact.Get(sig); ok {
		t.Error("expected the pruned pattern to no longer be retrievable")
	}
}

func TestTactician_DecayAndPrune_KeepsHighConfidencePatterns(t *testing.T) {
	tact := NewTactician(openTestDB(t))
	sig := Signature("BATTLE.WILD_FIGHT", "super-effective")

	for i := 0; i < 6; i++ {
		if _, err := tact.Upsert(sig, "use-move", uint64(i), true); err != nil {
			t.Fatalf("Upsert iteration %d: %v", i, err)
		}
	}

	_, pruned, err := tact.DecayAndPrune(7)
	if err != nil {
		t.Fatalf("DecayAndPrune: %v", err)
	}
	if pruned != 0 {
		t.Errorf("expected no pruning for a consistently successful pattern, pruned=%d", pruned)
	}
	if _, ok, _ := tact.Get(sig); !ok {
		t.Error("expected the high-confidence pattern to survive")
	}
}
