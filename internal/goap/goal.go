// Package goap implements the hierarchical goal-oriented action planner:
// a goal DAG with Bayesian success rates, a three-layer cadence
// (Strategic/Tactical/Reactive), and a utility formula combining priority,
// temporal discount, and learned success rate.
package goap

import "fmt"

// Goal is one node in the planner's goal DAG.
type Goal struct {
	ID              string
	Category        string
	BasePriority    int32
	Prereqs         map[string]struct{}
	Unlocks         map[string]struct{}
	RequiredState   map[string]string
	Effects         map[string]string
	Attempts        uint32
	LastAttemptTick uint64
	// SuccessAlpha/SuccessBeta are the Beta-Bernoulli posterior parameters
	// backing the Bayesian success rate, the same shape Tactician uses.
	SuccessAlpha float64
	SuccessBeta  float64
	Completed    bool
	Failed       bool
	// PriorityModifier is a bounded [-0.3,0.3] hint set by the Tactical
	// layer, folded into utility.
	PriorityModifier float64
}

// NewGoal returns a Goal with an uninformative Beta(1,1) prior.
func NewGoal(id, category string, basePriority int32) *Goal {
	return &Goal{
		ID:           id,
		Category:     category,
		BasePriority: basePriority,
		Prereqs:      make(map[string]struct{}),
		Unlocks:      make(map[string]struct{}),
		RequiredState: make(map[string]string),
		Effects:      make(map[string]string),
		SuccessAlpha: 1,
		SuccessBeta:  1,
	}
}

// SuccessRate returns the Bayesian posterior mean success rate in [0,1].
func (g *Goal) SuccessRate() float64 {
	return g.SuccessAlpha / (g.SuccessAlpha + g.SuccessBeta)
}

// RecordOutcome updates the goal's posterior and attempt bookkeeping.
func (g *Goal) RecordOutcome(tick uint64, success bool) {
	g.Attempts++
	g.LastAttemptTick = tick
	if success {
		g.SuccessAlpha++
	} else {
		g.SuccessBeta++
	}
}

// Achievable reports whether every prerequisite is satisfied and the goal
// is still open (not already completed or permanently failed).
func (g *Goal) Achievable(completed map[string]bool, worldState map[string]string) bool {
	if g.Completed || g.Failed {
		return false
	}
	for p := range g.Prereqs {
		if !completed[p] {
			return false
		}
	}
	for k, want := range g.RequiredState {
		if worldState[k] != want {
			return false
		}
	}
	return true
}

// Registry holds the goal DAG and validates it is acyclic at mutation time.
type Registry struct {
	goals map[string]*Goal
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{goals: make(map[string]*Goal)}
}

// Register adds g to the registry and checks the DAG remains acyclic.
// Returns an error and leaves the registry unchanged if a cycle would
// result.
func (r *Registry) Register(g *Goal) error {
	prev := r.goals[g.ID]
	r.goals[g.ID] = g
	if r.hasCycle() {
		if prev != nil {
			r.goals[g.ID] = prev
		} else {
			delete(r.goals, g.ID)
		}
		return fmt.Errorf("goap: registering goal %q would introduce a cycle", g.ID)
	}
	return nil
}

func (r *Registry) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.goals))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		g := r.goals[id]
		if g != nil {
			for p := range g.Prereqs {
				switch color[p] {
				case gray:
					return true
				case white:
					if visit(p) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range r.goals {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Get returns the goal with the given id, if registered.
func (r *Registry) Get(id string) (*Goal, bool) {
	g, ok := r.goals[id]
	return g, ok
}

// All returns every registered goal.
func (r *Registry) All() []*Goal {
	out := make([]*Goal, 0, len(r.goals))
	for _, g := range r.goals {
		out = append(out, g)
	}
	return out
}

// TopologicalFrontier returns goals whose prerequisites are fully satisfied
// and which are not yet completed or failed, in a deterministic order
// (by ID) so utility tie-breaking is reproducible.
func (r *Registry) TopologicalFrontier(completed map[string]bool, worldState map[string]string) []*Goal {
	var frontier []*Goal
	for _, g := range r.goals {
		if g.Achievable(completed, worldState) {
			frontier = append(frontier, g)
		}
	}
	// Deterministic order: simple insertion sort by ID, good enough for the
	// small goal counts this planner deals with.
	for i := 1; i < len(frontier); i++ {
		for j := i; j > 0 && frontier[j-1].ID > frontier[j].ID; j-- {
			frontier[j-1], frontier[j] = frontier[j], frontier[j-1]
		}
	}
	return frontier
}
