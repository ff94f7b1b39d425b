// Package breakout implements the graded escalation ladder that responds to
// anomaly alarms: a sequence of increasingly disruptive recovery actions,
// escalating per mode on repeated alarms within a cooldown window and
// demoting a tier that keeps failing. The tier state machine (monotonic
// escalate, bounded decay) and the sequential threshold lookup are the same
// shapes used by the escalation state machine this module generalizes from
// per-process containment states to per-mode recovery tiers.
package breakout

import (
	"sync"
	"time"

	"github.com/pokeloop/pokeagent/internal/budget"
	"github.com/pokeloop/pokeagent/internal/emulator"
)

// Tier is a graded recovery action, ordered from least to most disruptive.
type Tier uint8

const (
	TierNone Tier = iota
	TierL1
	TierL2
	TierL3
	TierL4
	TierL5
)

func (t Tier) String() string {
	names := [...]string{"NONE", "L1", "L2", "L3", "L4", "L5"}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// Press is one scheduled button press with its hold duration.
type Press struct {
	Button emulator.Button
	HoldMS int
}

// Plan is the ordered sequence of presses for a tier invocation, plus a
// flag telling the Scheduler whether it must load or hard-reset a snapshot
// rather than press buttons.
type Plan struct {
	Tier          Tier
	Presses       []Press
	LoadSnapshot  string // non-empty for L4/L5
	HardReset     bool   // true for L5
}

type tierState struct {
	current      Tier
	lastAlarmAt  time.Time
	attempts     map[Tier]int
	successes    map[Tier]int
}

// Manager tracks per-mode tier state and builds the Plan for an alarm.
type Manager struct {
	mu       sync.Mutex
	states   map[string]*tierState
	cooldown time.Duration
	bucket   *budget.Bucket
	costs    budget.CostModel

	demoteMinAttempts int
	demoteMaxSuccess  float64
}

// NewManager returns a Manager using bucket for rate limiting and cooldown
// as the per-mode escalation window. The window is wall time supplied by the
// caller; it is not derived from a tick count.
func NewManager(bucket *budget.Bucket, cooldown time.Duration) *Manager {
	return &Manager{
		states:            make(map[string]*tierState),
		cooldown:          cooldown,
		bucket:            bucket,
		costs:             budget.DefaultBreakoutCostModel(),
		demoteMinAttempts: 10,
		demoteMaxSuccess:  0.20,
	}
}

// Plan escalates (or holds) the tier for modeKey given an alarm and returns
// the concrete action plan. Inside the cooldown window since the last alarm
// for this mode the current tier is re-issued instead of escalated. Returns
// (nil, false) only if the budget has no tokens for the resulting tier.
func (m *Manager) Plan(modeKey string, alarmCritical bool, now time.Time) (*Plan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[modeKey]
	if !ok {
		st = &tierState{attempts: make(map[Tier]int), successes: make(map[Tier]int)}
		m.states[modeKey] = st
	}

	if st.current != TierNone && now.Sub(st.lastAlarmAt) < m.cooldown {
		// Still inside cooldown for the current tier: re-issue it rather
		// than escalate further.
	} else if st.current == TierNone || now.Sub(st.lastAlarmAt) >= m.cooldown {
		next := st.current + 1
		if next > TierL5 {
			next = TierL5
		}
		if !alarmCritical && st.current == TierNone {
			next = TierL1
		}
		st.current = next
	}
	st.lastAlarmAt = now

	tier := st.current
	if tier == TierNone {
		tier = TierL1
		st.current = tier
	}

	if m.demoted(st, tier) {
		tier--
		if tier == TierNone {
			tier = TierL1
		}
	}

	if m.bucket != nil && !m.bucket.ConsumeForTier(m.costs, tier.String()) {
		return nil, false
	}

	st.attempts[tier]++
	return buildPlan(tier, modeKey), true
}

// demoted reports whether tier has a success rate below threshold over at
// least demoteMinAttempts attempts, in which case the caller should fall
// back to a less disruptive tier.
func (m *Manager) demoted(st *tierState, tier Tier) bool {
	attempts := st.attempts[tier]
	if attempts < m.demoteMinAttempts {
		return false
	}
	rate := float64(st.successes[tier]) / float64(attempts)
	return rate < m.demoteMaxSuccess
}

// RecordOutcome reports whether the most recent tier invocation for
// modeKey resolved the alarm, updating the per-(mode,tier) success ledger
// used by Plan to demote chronically unsuccessful tiers.
func (m *Manager) RecordOutcome(modeKey string, tier Tier, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[modeKey]
	if !ok {
		return
	}
	if success {
		st.successes[tier]++
		// A successful recovery relaxes escalation back to L1 next time.
		st.current = TierNone
	}
}

// Reset clears tier state for modeKey, used when the mode is exited
// normally (not via recovery).
func (m *Manager) Reset(modeKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, modeKey)
}

func buildPlan(tier Tier, modeKey string) *Plan {
	switch tier {
	case TierL1:
		presses := make([]Press, 0, 10)
		for i := 0; i < 10; i++ {
			presses = append(presses, Press{Button: emulator.ButtonB, HoldMS: 100})
		}
		return &Plan{Tier: tier, Presses: presses}
	case TierL2:
		seq := []emulator.Button{emulator.ButtonUp, emulator.ButtonDown, emulator.ButtonLeft, emulator.ButtonRight, emulator.ButtonA, emulator.ButtonB}
		presses := make([]Press, 0, len(seq))
		for _, b := range seq {
			presses = append(presses, Press{Button: b, HoldMS: 150})
		}
		return &Plan{Tier: tier, Presses: presses}
	case TierL3:
		seq := []emulator.Button{emulator.ButtonB, emulator.ButtonB, emulator.ButtonB, emulator.ButtonStart, emulator.ButtonB}
		presses := make([]Press, 0, len(seq))
		for _, b := range seq {
			presses = append(presses, Press{Button: b, HoldMS: 120})
		}
		return &Plan{Tier: tier, Presses: presses}
	case TierL4:
		return &Plan{Tier: tier, LoadSnapshot: "last-safe"}
	case TierL5:
		return &Plan{Tier: tier, LoadSnapshot: "boot-complete", HardReset: true}
	default:
		return &Plan{Tier: TierNone}
	}
}
