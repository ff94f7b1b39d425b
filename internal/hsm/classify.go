package hsm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pokeloop/pokeagent/internal/perception"
)

// categoryAdjacency is the authoritative legal-transition table at category
// granularity. Transitions within a category are always legal; transitions
// are legal across categories only along a listed edge, from any state into
// EMERGENCY, and from EMERGENCY back into OVERWORLD, MENU, BATTLE or
// TRANSITION (recovery).
var categoryAdjacency = map[Category]map[Category]bool{
	CategoryBoot:       {CategoryTitle: true, CategoryTransition: true},
	CategoryTitle:      {CategoryOverworld: true, CategoryTransition: true, CategoryMenu: true},
	CategoryMenu:       {CategoryOverworld: true, CategoryDialog: true, CategoryBattle: true, CategoryTransition: true},
	CategoryDialog:     {CategoryOverworld: true, CategoryMenu: true, CategoryBattle: true, CategoryTransition: true},
	CategoryOverworld:  {CategoryMenu: true, CategoryDialog: true, CategoryBattle: true, CategoryTransition: true},
	CategoryBattle:     {CategoryOverworld: true, CategoryMenu: true, CategoryDialog: true, CategoryTransition: true},
	CategoryTransition: {CategoryOverworld: true, CategoryBattle: true, CategoryMenu: true, CategoryDialog: true, CategoryTitle: true},
	CategoryEmergency:  {CategoryOverworld: true, CategoryMenu: true, CategoryBattle: true, CategoryTransition: true},
}

// LegalTransition reports whether next is reachable from prev in one tick.
// Any state is always reachable from itself (no-op tick) and the Emergency
// category is reachable from anywhere.
func LegalTransition(prev, next State) bool {
	if prev == next {
		return true
	}
	pc, nc := prev.Category(), next.Category()
	if nc == CategoryEmergency {
		return true
	}
	if pc == nc {
		return true
	}
	return categoryAdjacency[pc][nc]
}

// emergencyState resolves a stable emergency state name, defaulting to the
// first emergency state if the table has somehow changed shape.
func emergencyState(name string) State {
	if s, ok := Lookup("EMERGENCY." + name); ok {
		return s
	}
	states := StatesInCategory(CategoryEmergency)
	if len(states) > 0 {
		return states[0]
	}
	return State(0)
}

// Machine holds classification state across ticks: the previous path, a
// run-length counter of ambiguous classifications, the last accepted
// tick_id, and transition subscribers notified between ticks.
type Machine struct {
	mu           sync.Mutex
	prevPath     StatePath
	ambiguousRun int
	ambiguousTau float64
	maxAmbiguous int
	subscribers  []func(prev, next StatePath)
	haveTick     bool
	lastTickID   uint64
}

// ErrNonMonotonicTick is returned by Classify when obs.TickID does not
// strictly exceed the tick_id of the previous classification. Tick
// ordering is a hard invariant: the caller must treat this as fatal, not
// retry or skip it silently.
var ErrNonMonotonicTick = errors.New("hsm: tick_id not strictly greater than previous classification")

// NewMachine returns a Machine. tau is the confidence floor below which a
// classification is considered ambiguous; maxAmbiguous is the number of
// consecutive ambiguous ticks tolerated before EMERGENCY.AMBIGUOUS_STATE is
// forced.
func NewMachine(tau float64, maxAmbiguous int) *Machine {
	ensureInit()
	return &Machine{ambiguousTau: tau, maxAmbiguous: maxAmbiguous}
}

// SetParams applies a new confidence floor and ambiguous-run ceiling to the
// live Machine, for non-destructive config hot-reload.
func (m *Machine) SetParams(confidenceFloor float64, maxAmbiguous int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambiguousTau = confidenceFloor
	m.maxAmbiguous = maxAmbiguous
}

// OnTransition registers a callback invoked between ticks whenever the
// classified path changes.
func (m *Machine) OnTransition(cb func(prev, next StatePath)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, cb)
}

// Classify maps an Observation to a StatePath and a confidence in [0,1].
// The decision tree keys first on ScreenKind, then on flags. An illegal
// transition halves confidence and replaces the candidate with its own
// category's root (the category's first table entry); no ambiguity marker
// is set, and the root is not re-checked against the previous state.
//
// Monotonic tick ordering is enforced as a hard error: classifying with a
// tick_id not strictly greater than the previous one returns
// ErrNonMonotonicTick and leaves the Machine's state untouched.
func (m *Machine) Classify(obs perception.Observation) (StatePath, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.haveTick && obs.TickID <= m.lastTickID {
		return StatePath{}, 0, fmt.Errorf("%w: got %d, want > %d", ErrNonMonotonicTick, obs.TickID, m.lastTickID)
	}
	m.haveTick = true
	m.lastTickID = obs.TickID

	candidate, confidence := classifyLeaf(obs)

	if m.prevPath.Depth() > 0 && !LegalTransition(m.prevPath.Leaf(), candidate) {
		confidence *= 0.5
		candidate = categoryRoot(candidate.Category())
	}

	if confidence < m.ambiguousTau {
		m.ambiguousRun++
	} else {
		m.ambiguousRun = 0
	}

	path := pathOf(candidate)
	if m.ambiguousRun >= m.maxAmbiguous {
		path = pathOf(emergencyState("AMBIGUOUS_STATE"))
		confidence = 0
	}

	prev := m.prevPath
	if prev.Depth() == 0 || prev.Leaf() != path.Leaf() {
		for _, cb := range m.subscribers {
			cb(prev, path)
		}
	}
	m.prevPath = path
	return path, confidence, nil
}

// categoryRoot returns a representative "safe" state for a category, used
// when a candidate leaf fails the legal-transition check. Each category's
// first table entry serves as its root.
func categoryRoot(cat Category) State {
	states := StatesInCategory(cat)
	if len(states) == 0 {
		return State(0)
	}
	return states[0]
}

// classifyLeaf is the core decision tree: ScreenKind first, flags second.
// It never consults transition legality — that check happens in Classify.
func classifyLeaf(obs perception.Observation) (State, float64) {
	switch obs.ScreenKind {
	case perception.ScreenTitle:
		if st, ok := Lookup("TITLE.TITLE_SCREEN"); ok {
			return st, 0.95
		}
	case perception.ScreenMenu:
		if st, ok := Lookup("MENU.MAIN_MENU"); ok {
			return st, 0.9
		}
	case perception.ScreenDialog:
		if obs.DialogPresent {
			if st, ok := Lookup("DIALOG.NPC_DIALOG"); ok {
				return st, 0.9
			}
		}
	case perception.ScreenBattle:
		if obs.HPBarsVisible {
			if st, ok := Lookup("BATTLE.BATTLE_MENU_ROOT"); ok {
				return st, 0.92
			}
		}
		if st, ok := Lookup("BATTLE.BATTLE_INTRO"); ok {
			return st, 0.7
		}
	case perception.ScreenTransition:
		if st, ok := Lookup("TRANSITION.FADE_OUT"); ok {
			return st, 0.6
		}
	case perception.ScreenOverworld:
		if st, ok := Lookup("OVERWORLD.WALKING"); ok {
			return st, 0.85
		}
	}
	if st, ok := Lookup("EMERGENCY.AMBIGUOUS_STATE"); ok {
		return st, 0.2
	}
	return State(0), 0.2
}
