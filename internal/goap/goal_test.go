package goap

import "testing"

func TestNewGoal_StartsWithUninformativePrior(t *testing.T) {
	g := NewGoal("g1", "navigate", 10)
	if rate := g.SuccessRate(); rate != 0.5 {
		t.Errorf("expected a Beta(1,1) prior to give success rate 0.5, got %f", rate)
	}
}

func TestGoal_RecordOutcome_UpdatesPosterior(t *testing.T) {
	g := NewGoal("g1", "navigate", 10)
	g.RecordOutcome(1, true)
	g.RecordOutcome(2, true)
	g.RecordOutcome(3, false)
	// alpha=1+2=3, beta=1+1=2 -> 3/5 = 0.6
	if rate := g.SuccessRate(); rate != 0.6 {
		t.Errorf("expected success rate 0.6 after 2 wins / 1 loss, got %f", rate)
	}
	if g.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", g.Attempts)
	}
	if g.LastAttemptTick != 3 {
		t.Errorf("expected LastAttemptTick=3, got %d", g.LastAttemptTick)
	}
}

func TestGoal_Achievable_RequiresAllPrereqs(t *testing.T) {
	g := NewGoal("g2", "battle", 5)
	g.Prereqs["g1"] = struct{}{}
	if g.Achievable(map[string]bool{}, nil) {
		t.Error("expected unachievable goal with an unmet prereq")
	}
	if !g.Achievable(map[string]bool{"g1": true}, nil) {
		t.Error("expected achievable goal once its prereq is completed")
	}
}

func TestGoal_Achievable_ChecksRequiredWorldState(t *testing.T) {
	g := NewGoal("g3", "shop", 5)
	g.RequiredState["map_id"] = "viridian_mart"
	if g.Achievable(nil, map[string]string{"map_id": "route_1"}) {
		t.Error("expected unachievable goal when world state doesn't match")
	}
	if !g.Achievable(nil, map[string]string{"map_id": "viridian_mart"}) {
		t.Error("expected achievable goal when world state matches")
	}
}

func TestGoal_Achievable_FalseWhenCompletedOrFailed(t *testing.T) {
	g := NewGoal("g4", "navigate", 5)
	g.Completed = true
	if g.Achievable(nil, nil) {
		t.Error("expected a completed goal to be unachievable")
	}
	g2 := NewGoal("g5", "navigate", 5)
	g2.Failed = true
	if g2.Achievable(nil, nil) {
		t.Error("expected a failed goal to be unachievable")
	}
}

func TestRegistry_Register_RejectsCycle(t *testing.T) {
	r := NewRegistry()
	a := NewGoal("a", "navigate", 1)
	b := NewGoal("b", "navigate", 1)
	b.Prereqs["a"] = struct{}{}
	a.Prereqs["b"] = struct{}{}

	if err := r.Register(b); err != nil {
		t.Fatalf("Register(b): %v", err)
	}
	if err := r.Register(a); err == nil {
		t.Error("expected registering a cyclic prerequisite to fail")
	}
	if _, ok := r.Get("a"); ok {
		t.Error("expected the cyclic registration to leave the registry unchanged")
	}
}

func TestRegistry_Register_AllowsAcyclicDAG(t *testing.T) {
	r := NewRegistry()
	a := NewGoal("a", "navigate", 1)
	b := NewGoal("b", "navigate", 1)
	b.Prereqs["a"] = struct{}{}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("Register(b): %v", err)
	}
	if len(r.All()) != 2 {
		t.Errorf("expected 2 registered goals, got %d", len(r.All()))
	}
}

func TestRegistry_TopologicalFrontier_IsSortedByID(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(NewGoal("charlie", "navigate", 1))
	_ = r.Register(NewGoal("alpha", "navigate", 1))
	_ = r.Register(NewGoal("bravo", "navigate", 1))

	frontier := r.TopologicalFrontier(map[string]bool{}, map[string]string{})
	if len(frontier) != 3 {
		t.Fatalf("expected 3 achievable goals, got %d", len(frontier))
	}
	if frontier[0].ID != "alpha" || frontier[1].ID != "bravo" || frontier[2].ID != "charlie" {
		t.Errorf("expected alphabetical order, got %s, %s, %s", frontier[0].ID, frontier[1].ID, frontier[2].ID)
	}
}

func TestRegistry_TopologicalFrontier_ExcludesUnachievable(t *testing.T) {
	r := NewRegistry()
	a := NewGoal("a", "navigate", 1)
	b := NewGoal("b", "navigate", 1)
	b.Prereqs["a"] = struct{}{}
	_ = r.Register(a)
	_ = r.Register(b)

	frontier := r.TopologicalFrontier(map[string]bool{}, map[string]string{})
	if len(frontier) != 1 || frontier[0].ID != "a" {
		t.Errorf("expected only goal 'a' in the frontier before its dependent unlocks, got %+v", frontier)
	}
}
