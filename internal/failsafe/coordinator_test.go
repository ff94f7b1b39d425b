package failsafe

import (
	"math"
	"testing"
	"time"
)

func TestComputeConfidence_WeightsAggregateCorrectly(t *testing.T) {
	w := DefaultWeights()
	in := Inputs{AIConfidence: 1.0, VisionConfidence: 0.8, StateConsistency: 0.6}
	// 0.4*1.0 + 0.35*0.8 + 0.25*0.6 = 0.4 + 0.28 + 0.15 = 0.83
	got := ComputeConfidence(in, w).Aggregate
	want := 0.83
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected aggregate=%f, got %f", want, got)
	}
}

func TestCoordinator_Evaluate_HealthyTickReturnsNone(t *testing.T) {
	c := NewCoordinator(DefaultWeights(), DefaultThresholds())
	_, tier, evt := c.Evaluate(1, Inputs{AIConfidence: 1, VisionConfidence: 1, StateConsistency: 1}, SoftlockNone, time.Now())
	if tier != RecoveryNone {
		t.Errorf("expected RecoveryNone, got %s", tier)
	}
	if evt.Kind != "ok" {
		t.Errorf("expected event kind 'ok', got %q", evt.Kind)
	}
}

func TestCoordinator_Evaluate_LowConfidenceClimbsLadderGradually(t *testing.T) {
	c := NewCoordinator(DefaultWeights(), DefaultThresholds())
	low := Inputs{AIConfidence: 0, VisionConfidence: 0, StateConsistency: 0}
	now := time.Now()

	_, t1, _ := c.Evaluate(1, low, SoftlockNone, now)
	_, t2, _ := c.Evaluate(2, low, SoftlockNone, now)

	if t1 != RecoveryReactiveInterrupt {
		t.Errorf("expected the first bad tick to reach ReactiveInterrupt, got %s", t1)
	}
	if t2 != RecoveryForcedBreakout {
		t.Errorf("expected the second consecutive bad tick to reach ForcedBreakout, got %s", t2)
	}
}

func TestCoordinator_Evaluate_SoftlockJumpsStraightToForcedBreakout(t *testing.T) {
	c := NewCoordinator(DefaultWeights(), DefaultThresholds())
	healthy := Inputs{AIConfidence: 1, VisionConfidence: 1, StateConsistency: 1}
	_, tier, evt := c.Evaluate(1, healthy, SoftlockActionOscillation, time.Now())
	if tier != RecoveryForcedBreakout {
		t.Errorf("expected a softlock to jump straight to ForcedBreakout, got %s", tier)
	}
	if evt.Reason != string(SoftlockActionOscillation) {
		t.Errorf("expected reason %q, got %q", SoftlockActionOscillation, evt.Reason)
	}
}

func TestCoordinator_Evaluate_EscalatesToGracefulShutdownAfterSnapshotRetriesExhausted(t *testing.T) {
	c := NewCoordinator(DefaultWeights(), DefaultThresholds())
	low := Inputs{AIConfidence: 0, VisionConfidence: 0, StateConsistency: 0}
	now := time.Now()

	var last RecoveryTier
	for i := 0; i < 10; i++ {
		_, last, _ = c.Evaluate(uint64(i), low, SoftlockNone, now)
	}
	if last != RecoveryGracefulShutdown {
		t.Errorf("expected sustained low confidence to eventually reach GracefulShutdown, got %s", last)
	}
}

func TestCoordinator_Resolved_ResetsLadder(t *testing.T) {
	c := NewCoordinator(DefaultWeights(), DefaultThresholds())
	low := Inputs{AIConfidence: 0, VisionConfidence: 0, StateConsistency: 0}
	now := time.Now()
	c.Evaluate(1, low, SoftlockNone, now)
	c.Evaluate(2, low, SoftlockNone, now)
	c.Resolved()

	_, tier, _ := c.Evaluate(3, low, SoftlockNone, now)
	if tier != RecoveryReactiveInterrupt {
		t.Errorf("expected the ladder to restart at ReactiveInterrupt after Resolved, got %s", tier)
	}
}

func TestRecoveryTier_String_UnknownValue(t *testing.T) {
	var tier RecoveryTier = 99
	if tier.String() != "unknown" {
		t.Errorf("expected 'unknown' for an out-of-range tier, got %q", tier.String())
	}
}
