package goap

import (
	"math"

	"github.com/pokeloop/pokeagent/internal/hsm"
)

// Interrupt is a reactive-layer signal that preempts the current plan for
// exactly this tick (e.g. critical HP, a dialog choice pending).
type Interrupt struct {
	Reason string
	Action Action
}

// ReactiveCheck inspects the current path/observation-derived context and
// returns an interrupt action, if one applies this tick.
type ReactiveCheck func(path hsm.StatePath, hpPercent float64) (Interrupt, bool)

// Config holds the planner's tunables.
type Config struct {
	// Gamma is the temporal discount base, applied per 100 ticks since a
	// goal's last attempt.
	Gamma float64
	// MaxRepairAttempts (R) bounds local failure repair before a goal is
	// marked failed for the session.
	MaxRepairAttempts int
	StrategicInterval uint64
	TacticalInterval  uint64
}

// DefaultConfig matches the design's default cadences and discount.
func DefaultConfig() Config {
	return Config{Gamma: 0.95, MaxRepairAttempts: 3, StrategicInterval: 1000, TacticalInterval: 30}
}

// Planner is the hierarchical GOAP engine. Strategic re-evaluates the
// full frontier on a long cadence, Tactical picks and (re)plans toward the
// highest-utility achievable goal on a short cadence, and Reactive runs
// every tick to check interrupts.
type Planner struct {
	cfg      Config
	registry *Registry
	reactive []ReactiveCheck

	completed  map[string]bool
	worldState map[string]string

	currentPlan   *Plan
	repairAttempts map[string]int

	lastStrategic uint64
	lastTactical  uint64
	frontier      []*Goal
}

// NewPlanner returns a Planner over registry using cfg.
func NewPlanner(registry *Registry, cfg Config) *Planner {
	return &Planner{
		cfg:            cfg,
		registry:       registry,
		completed:      make(map[string]bool),
		worldState:     make(map[string]string),
		repairAttempts: make(map[string]int),
	}
}

// RegisterReactiveCheck adds an interrupt check, evaluated in registration
// order; the first one that fires wins.
func (p *Planner) RegisterReactiveCheck(c ReactiveCheck) {
	p.reactive = append(p.reactive, c)
}

// SetWorldState records a fact observed this tick (map id, badge count,
// etc.) consulted by Goal.RequiredState checks.
func (p *Planner) SetWorldState(key, value string) {
	p.worldState[key] = value
}

// Utility computes U(g,t) = priority * gamma^(elapsed/100) * (0.5+0.5*rate)
// * (1+modifier), the temporal-discount utility formula.
func Utility(g *Goal, tick uint64, gamma float64) float64 {
	elapsed := 0.0
	if tick > g.LastAttemptTick {
		elapsed = float64(tick - g.LastAttemptTick)
	}
	discount := math.Pow(gamma, elapsed/100.0)
	rateTerm := 0.5 + 0.5*g.SuccessRate()
	modTerm := 1.0 + clampModifier(g.PriorityModifier)
	return float64(g.BasePriority) * discount * rateTerm * modTerm
}

func clampModifier(m float64) float64 {
	if m > 0.3 {
		return 0.3
	}
	if m < -0.3 {
		return -0.3
	}
	return m
}

// Step runs the reactive check, then the tactical/strategic layers on
// their cadence, and returns the next Action to dispatch this tick.
// Returns (Action{}, false) if no action applies (e.g. no achievable goal).
func (p *Planner) Step(tick uint64, path hsm.StatePath, hpPercent float64) (Action, bool) {
	for _, check := range p.reactive {
		if interrupt, ok := check(path, hpPercent); ok {
			return interrupt.Action, true
		}
	}

	if tick-p.lastStrategic >= p.cfg.StrategicInterval || p.frontier == nil {
		p.frontier = p.registry.TopologicalFrontier(p.completed, p.worldState)
		p.lastStrategic = tick
	}

	needsReplan := p.currentPlan == nil || p.currentPlan.Done() || p.currentPlan.Expired(tick)
	dueForTactical := tick-p.lastTactical >= p.cfg.TacticalInterval
	if needsReplan || dueForTactical {
		p.lastTactical = tick
		p.planTactical(tick)
	}

	if p.currentPlan == nil {
		return Action{}, false
	}
	action, ok := p.currentPlan.Next()
	if ok {
		p.currentPlan.Advance()
	}
	return action, ok
}

// planTactical picks the highest-utility achievable goal and builds a
// single-action plan toward it. Real goal->action decomposition is domain
// specific; this planner emits one representative Action per goal category
// and leaves multi-step decomposition to richer goal definitions supplied
// by the caller via Effects/Params conventions.
func (p *Planner) planTactical(tick uint64) {
	best := p.selectBestGoal(tick)
	if best == nil {
		p.currentPlan = nil
		return
	}
	p.currentPlan = &Plan{
		GoalID:     best.ID,
		Actions:    []Action{actionForGoal(best)},
		ExpiryTick: tick + 300,
	}
}

func (p *Planner) selectBestGoal(tick uint64) *Goal {
	var best *Goal
	bestUtility := math.Inf(-1)
	for _, g := range p.frontier {
		if g.Completed || g.Failed {
			continue
		}
		u := Utility(g, tick, p.cfg.Gamma)
		if u > bestUtility {
			bestUtility = u
			best = g
		}
	}
	return best
}

func actionForGoal(g *Goal) Action {
	kind := ActionWait
	switch g.Category {
	case "navigate":
		kind = ActionNavigateTo
	case "battle":
		kind = ActionBattle
	case "menu":
		kind = ActionMenuSelect
	case "dialog":
		kind = ActionDialog
	case "shop":
		kind = ActionShop
	case "heal":
		kind = ActionHeal
	}
	return Action{Kind: kind, Params: g.Effects, TimeoutTicks: 300}
}

// CurrentGoalID returns the goal ID of the in-flight plan, or "" if no
// plan is active.
func (p *Planner) CurrentGoalID() string {
	if p.currentPlan == nil {
		return ""
	}
	return p.currentPlan.GoalID
}

// ReportActionResult feeds an action outcome back into the goal's
// Bayesian success rate and applies local failure repair: up to
// MaxRepairAttempts alternative attempts before the goal is marked failed
// for the session and its dependents are re-scored on the next Strategic
// pass.
func (p *Planner) ReportActionResult(tick uint64, goalID string, success bool) {
	g, ok := p.registry.Get(goalID)
	if !ok {
		return
	}
	g.RecordOutcome(tick, success)

	if success {
		g.Completed = true
		p.completed[goalID] = true
		delete(p.repairAttempts, goalID)
		p.frontier = nil // force a re-evaluation next Step
		return
	}

	p.repairAttempts[goalID]++
	if p.repairAttempts[goalID] > p.cfg.MaxRepairAttempts {
		g.Failed = true
		p.frontier = nil
	}
}
