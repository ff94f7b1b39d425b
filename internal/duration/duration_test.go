package duration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pokeloop/pokeagent/internal/hsm"
)

func walkingPath(t *testing.T) hsm.StatePath {
	t.Helper()
	st, ok := hsm.Lookup("OVERWORLD.WALKING")
	if !ok {
		t.Fatal("OVERWORLD.WALKING not registered")
	}
	return hsm.StatePath{Nodes: []hsm.State{st}}
}

func battlePath(t *testing.T) hsm.StatePath {
	t.Helper()
	st, ok := hsm.Lookup("BATTLE.BATTLE_MENU_ROOT")
	if !ok {
		t.Fatal("BATTLE.BATTLE_MENU_ROOT not registered")
	}
	return hsm.StatePath{Nodes: []hsm.State{st}}
}

func TestTracker_Ingest_FirstTickOpensWithNoTransition(t *testing.T) {
	tr := NewTracker(0.3, 5, 0)
	transition, changed := tr.Ingest(walkingPath(t), 0, time.Now())

	if transition != nil {
		t.Errorf("expected no transition on the very first tick, got %+v", transition)
	}
	if !changed {
		t.Error("expected changed=true when opening the first window")
	}
}

func TestTracker_Ingest_SameModeDoesNotClose(t *testing.T) {
	tr := NewTracker(0.3, 5, 0)
	now := time.Now()
	tr.Ingest(walkingPath(t), 0, now)

	transition, changed := tr.Ingest(walkingPath(t), 1, now.Add(10*time.Millisecond))
	if transition != nil {
		t.Errorf("expected no transition while mode is unchanged, got %+v", transition)
	}
	if changed {
		t.Error("expected changed=false while mode is unchanged")
	}
}

func TestTracker_Ingest_ModeChangeClosesWindowAndUpdatesProfile(t *testing.T) {
	tr := NewTracker(0.3, 1, 0)
	now := time.Now()
	tr.Ingest(walkingPath(t), 0, now)

	transition, changed := tr.Ingest(battlePath(t), 1, now.Add(200*time.Millisecond))
	if !changed {
		t.Fatal("expected changed=true on mode switch")
	}
	if transition == nil {
		t.Fatal("expected a closed transition on mode switch")
	}
	if transition.ModeKey != "OVERWORLD.OVERWORLD.WALKING" {
		t.Errorf("unexpected mode key %q", transition.ModeKey)
	}
	if transition.DwellMS < 150 || transition.DwellMS > 250 {
		t.Errorf("expected dwell ~200ms, got %f", transition.DwellMS)
	}
	if transition.Profile.Samples != 1 {
		t.Errorf("expected profile to have exactly 1 sample, got %d", transition.Profile.Samples)
	}
}

func TestProfile_Warm(t *testing.T) {
	p := &DurationProfile{Samples: 29}
	if p.Warm(30) {
		t.Error("29 samples should not be warm against nMin=30")
	}
	p.Samples = 30
	if !p.Warm(30) {
		t.Error("30 samples should be warm against nMin=30")
	}
}

func TestTracker_PersistAndLoad_RoundTrips(t *testing.T) {
	tr := NewTracker(0.3, 1, 0)
	now := time.Now()
	tr.Ingest(walkingPath(t), 0, now)
	tr.Ingest(battlePath(t), 1, now.Add(100*time.Millisecond))

	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := tr.Persist(path); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded := NewTracker(0.3, 1, 0)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	prof, warm := loaded.Profile("OVERWORLD.OVERWORLD.WALKING")
	if prof == nil {
		t.Fatal("expected a loaded profile for the walking mode key")
	}
	if !warm {
		t.Error("expected the loaded profile to be warm (nMin=1)")
	}
}

func TestTracker_Load_MissingFileIsNotAnError(t *testing.T) {
	tr := NewTracker(0.3, 1, 0)
	if err := tr.Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err != nil {
		t.Fatalf("expected no error loading a missing profile file, got %v", err)
	}
}
