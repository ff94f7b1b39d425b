package failsafe

import "github.com/pokeloop/pokeagent/internal/anomaly"

// SoftlockKind names which detector fired.
type SoftlockKind string

const (
	SoftlockNone            SoftlockKind = ""
	SoftlockPositionDeadlock SoftlockKind = "position_deadlock"
	SoftlockActionOscillation SoftlockKind = "action_oscillation"
	SoftlockZeroProgress    SoftlockKind = "zero_progress"
)

const (
	positionDeadlockTicks = 600
	oscillationWindow     = 12
	zeroProgressWindow    = 10000
	zeroProgressEpsilon   = 0.01

	// lowEntropyThreshold corroborates an oscillation candidate: a period-2/3
	// action cycle that still exercises most button kinds (e.g. alternating
	// A and a directional button while walking) is more likely legitimate
	// play than a stuck loop, so oscillation only escalates when the
	// recent button distribution is also this skewed.
	lowEntropyThreshold = 0.4
)

// PositionSample is one tick's player coordinates, used by the position
// deadlock detector.
type PositionSample struct {
	Tick uint64
	X, Y int
	PlannerWantsMovement bool
}

// positionDeadlock detects the player remaining at the same coordinates for
// positionDeadlockTicks while the planner keeps issuing movement actions.
func positionDeadlock(history []PositionSample) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if !last.PlannerWantsMovement {
		return false
	}
	first := history[0]
	if last.Tick-first.Tick < positionDeadlockTicks {
		return false
	}
	for _, s := range history {
		if s.X != first.X || s.Y != first.Y {
			return false
		}
		if !s.PlannerWantsMovement {
			return false
		}
	}
	return true
}

// actionOscillation detects the last actions forming a period-2 or
// period-3 repeating cycle with no accompanying state progress, corroborated
// by low button-press entropy over the same window.
func actionOscillation(actions []string, stateChanged []bool, counts anomaly.ButtonCounts) bool {
	n := len(actions)
	if n < oscillationWindow {
		return false
	}
	for _, changed := range stateChanged[n-oscillationWindow:] {
		if changed {
			return false
		}
	}
	periodic := false
	for _, period := range []int{2, 3} {
		if isPeriodic(actions[n-oscillationWindow:], period) {
			periodic = true
			break
		}
	}
	if !periodic {
		return false
	}
	return anomaly.NormalisedEntropy(counts, len(counts)) <= lowEntropyThreshold
}

func isPeriodic(seq []string, period int) bool {
	if len(seq) < period*2 {
		return false
	}
	for i := period; i < len(seq); i++ {
		if seq[i] != seq[i%period] {
			return false
		}
	}
	return true
}

// ZeroProgressWindow returns W, the tick span the zero-progress detector
// compares win-rate movement over. Callers sampling a win-rate history to
// compute WinRateDelta should keep exactly this many ticks of history.
func ZeroProgressWindow() uint64 {
	return zeroProgressWindow
}

// zeroProgress detects win-rate stagnation: the Strategist win rate has
// moved by less than epsilon over the last zeroProgressWindow ticks.
func zeroProgress(winRateDelta float64, ticksElapsed uint64) bool {
	if ticksElapsed < zeroProgressWindow {
		return false
	}
	if winRateDelta < 0 {
		winRateDelta = -winRateDelta
	}
	return winRateDelta < zeroProgressEpsilon
}

// SoftlockInputs bundles the signals the three detectors need for one
// evaluation.
type SoftlockInputs struct {
	PositionHistory []PositionSample
	RecentActions   []string
	StateChanged    []bool
	ButtonCounts    anomaly.ButtonCounts
	WinRateDelta    float64
	TicksSinceStart uint64
}

// CheckSoftlock runs all three detectors in priority order and returns the
// first that fires.
func CheckSoftlock(in SoftlockInputs) SoftlockKind {
	if positionDeadlock(in.PositionHistory) {
		return SoftlockPositionDeadlock
	}
	if actionOscillation(in.RecentActions, in.StateChanged, in.ButtonCounts) {
		return SoftlockActionOscillation
	}
	if zeroProgress(in.WinRateDelta, in.TicksSinceStart) {
		return SoftlockZeroProgress
	}
	return SoftlockNone
}
