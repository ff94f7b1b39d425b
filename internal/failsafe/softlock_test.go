package failsafe

import (
	"testing"

	"github.com/pokeloop/pokeagent/internal/anomaly"
)

func fixedPositionHistory(n int, wantsMove bool) []PositionSample {
	out := make([]PositionSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PositionSample{Tick: uint64(i), X: 5, Y: 5, PlannerWantsMovement: wantsMove})
	}
	return out
}

func TestCheckSoftlock_PositionDeadlock_FiresWhenStuckWithMovementIntent(t *testing.T) {
	in := SoftlockInputs{PositionHistory: fixedPositionHistory(positionDeadlockTicks+1, true)}
	if kind := CheckSoftlock(in); kind != SoftlockPositionDeadlock {
		t.Errorf("expected SoftlockPositionDeadlock, got %q", kind)
	}
}

func TestCheckSoftlock_PositionDeadlock_DoesNotFireWithoutMovementIntent(t *testing.T) {
	in := SoftlockInputs{PositionHistory: fixedPositionHistory(positionDeadlockTicks+1, false)}
	if kind := CheckSoftlock(in); kind == SoftlockPositionDeadlock {
		t.Error("expected no deadlock when the planner never wanted movement")
	}
}

func lowEntropyCounts() anomaly.ButtonCounts {
	var c anomaly.ButtonCounts
	c.RecordButton("A")
	c.RecordButton("A")
	c.RecordButton("A")
	c.RecordButton("A")
	return c
}

func highEntropyCounts() anomaly.ButtonCounts {
	var c anomaly.ButtonCounts
	c.RecordButton("A")
	c.RecordButton("B")
	c.RecordButton("UP")
	c.RecordButton("DOWN")
	return c
}

func TestCheckSoftlock_ActionOscillation_FiresOnLowEntropyPeriodicCycle(t *testing.T) {
	actions := make([]string, oscillationWindow)
	stateChanged := make([]bool, oscillationWindow)
	for i := range actions {
		if i%2 == 0 {
			actions[i] = "press_a"
		} else {
			actions[i] = "press_b"
		}
	}
	in := SoftlockInputs{RecentActions: actions, StateChanged: stateChanged, ButtonCounts: lowEntropyCounts()}
	if kind := CheckSoftlock(in); kind != SoftlockActionOscillation {
		t.Errorf("expected SoftlockActionOscillation, got %q", kind)
	}
}

func TestCheckSoftlock_ActionOscillation_SuppressedByHighEntropy(t *testing.T) {
	actions := make([]string, oscillationWindow)
	stateChanged := make([]bool, oscillationWindow)
	for i := range actions {
		if i%2 == 0 {
			actions[i] = "press_a"
		} else {
			actions[i] = "press_b"
		}
	}
	in := SoftlockInputs{RecentActions: actions, StateChanged: stateChanged, ButtonCounts: highEntropyCounts()}
	if kind := CheckSoftlock(in); kind == SoftlockActionOscillation {
		t.Error("expected a diverse button distribution to suppress the oscillation verdict")
	}
}

func TestCheckSoftlock_ActionOscillation_RequiresNoStateProgress(t *testing.T) {
	actions := make([]string, oscillationWindow)
	stateChanged := make([]bool, oscillationWindow)
	for i := range actions {
		actions[i] = "press_a"
	}
	stateChanged[oscillationWindow-1] = true // progress occurred recently

	in := SoftlockInputs{RecentActions: actions, StateChanged: stateChanged, ButtonCounts: lowEntropyCounts()}
	if kind := CheckSoftlock(in); kind == SoftlockActionOscillation {
		t.Error("expected recent state progress to suppress the oscillation verdict")
	}
}

func TestCheckSoftlock_ZeroProgress_FiresOnStagnation(t *testing.T) {
	in := SoftlockInputs{WinRateDelta: 0.001, TicksSinceStart: zeroProgressWindow + 1}
	if kind := CheckSoftlock(in); kind != SoftlockZeroProgress {
		t.Errorf("expected SoftlockZeroProgress, got %q", kind)
	}
}

func TestCheckSoftlock_ZeroProgress_DoesNotFireTooEarly(t *testing.T) {
	in := SoftlockInputs{WinRateDelta: 0.0, TicksSinceStart: 10}
	if kind := CheckSoftlock(in); kind == SoftlockZeroProgress {
		t.Error("expected no stagnation verdict before the window elapses")
	}
}

func TestCheckSoftlock_PriorityOrder_PositionDeadlockBeatsOthers(t *testing.T) {
	in := SoftlockInputs{
		PositionHistory: fixedPositionHistory(positionDeadlockTicks+1, true),
		WinRateDelta:    0.0,
		TicksSinceStart: zeroProgressWindow + 1,
	}
	if kind := CheckSoftlock(in); kind != SoftlockPositionDeadlock {
		t.Errorf("expected position deadlock to take priority, got %q", kind)
	}
}

func TestIsPeriodic_DetectsPeriodTwoAndThree(t *testing.T) {
	p2 := []string{"a", "b", "a", "b", "a", "b"}
	if !isPeriodic(p2, 2) {
		t.Error("expected period-2 sequence to be detected")
	}
	p3 := []string{"a", "b", "c", "a", "b", "c"}
	if !isPeriodic(p3, 3) {
		t.Error("expected period-3 sequence to be detected")
	}
	notPeriodic := []string{"a", "b", "c", "d", "e", "f"}
	if isPeriodic(notPeriodic, 2) || isPeriodic(notPeriodic, 3) {
		t.Error("expected a non-repeating sequence to not be periodic")
	}
}
