package breakout

import (
	"testing"
	"time"

	"github.com/pokeloop/pokeagent/internal/budget"
)

func newTestManager(t *testing.T, cooldown time.Duration) *Manager {
	t.Helper()
	b := budget.New(1000, time.Hour)
	t.Cleanup(b.Close)
	return NewManager(b, cooldown)
}

func TestPlan_FirstWarnAlarmStartsAtL1(t *testing.T) {
	m := newTestManager(t, time.Minute)
	plan, ok := m.Plan("OVERWORLD.WALKING", false, time.Now())
	if !ok {
		t.Fatal("expected Plan to allow the first escalation")
	}
	if plan.Tier != TierL1 {
		t.Errorf("expected TierL1, got %s", plan.Tier)
	}
	if len(plan.Presses) == 0 {
		t.Error("expected L1 to produce a press sequence")
	}
}

func TestPlan_CriticalAlarmStillStartsAtL1FromNone(t *testing.T) {
	m := newTestManager(t, time.Minute)
	plan, ok := m.Plan("BATTLE.BATTLE_MENU_ROOT", true, time.Now())
	if !ok {
		t.Fatal("expected Plan to allow the first escalation")
	}
	if plan.Tier != TierL1 {
		t.Errorf("expected first escalation to start at L1 regardless of severity, got %s", plan.Tier)
	}
}

func TestPlan_RepeatedAlarmsOutsideCooldownEscalate(t *testing.T) {
	m := newTestManager(t, 0) // no cooldown: every call escalates
	now := time.Now()

	first, _ := m.Plan("DIALOG.NPC_DIALOG", true, now)
	second, _ := m.Plan("DIALOG.NPC_DIALOG", true, now.Add(time.Millisecond))

	if first.Tier != TierL1 {
		t.Fatalf("expected first tier L1, got %s", first.Tier)
	}
	if second.Tier <= first.Tier {
		t.Errorf("expected escalation beyond L1, got %s", second.Tier)
	}
}

func TestPlan_WithinCooldownReissuesCurrentTier(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Now()

	first, _ := m.Plan("OVERWORLD.WALKING", true, now)
	second, _ := m.Plan("OVERWORLD.WALKING", true, now.Add(time.Second))

	if second.Tier != first.Tier {
		t.Errorf("expected the same tier to be reissued within cooldown, got %s then %s", first.Tier, second.Tier)
	}
}

func TestPlan_NeverEscalatesPastL5(t *testing.T) {
	m := newTestManager(t, 0)
	now := time.Now()
	var last *Plan
	for i := 0; i < 10; i++ {
		p, ok := m.Plan("BATTLE.WILD_FIGHT", true, now.Add(time.Duration(i)*time.Millisecond))
		if !ok {
			t.Fatalf("iteration %d: Plan rejected", i)
		}
		last = p
	}
	if last.Tier != TierL5 {
		t.Errorf("expected the ladder to cap at L5, got %s", last.Tier)
	}
	if !last.HardReset {
		t.Error("expected L5 to request a hard reset")
	}
}

func TestRecordOutcome_SuccessResetsToNone(t *testing.T) {
	m := newTestManager(t, 0)
	now := time.Now()
	plan, _ := m.Plan("OVERWORLD.WALKING", true, now)
	m.RecordOutcome("OVERWORLD.WALKING", plan.Tier, true)

	next, _ := m.Plan("OVERWORLD.WALKING", true, now.Add(time.Millisecond))
	if next.Tier != TierL1 {
		t.Errorf("expected a fresh escalation to restart at L1 after a success, got %s", next.Tier)
	}
}

func TestPlan_BudgetExhaustedRejects(t *testing.T) {
	b := budget.New(2, time.Hour) // too small to afford even L1 (cost 1) for long
	defer b.Close()
	m := NewManager(b, 0)
	now := time.Now()

	ok := false
	for i := 0; i < 10; i++ {
		_, allowed := m.Plan("OVERWORLD.WALKING", true, now.Add(time.Duration(i)*time.Millisecond))
		if !allowed {
			ok = true
			break
		}
	}
	if !ok {
		t.Error("expected repeated escalation to eventually exhaust a small budget")
	}
}

func TestReset_ClearsModeState(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Now()
	m.Plan("OVERWORLD.WALKING", true, now)
	m.Reset("OVERWORLD.WALKING")

	plan, ok := m.Plan("OVERWORLD.WALKING", true, now.Add(time.Millisecond))
	if !ok {
		t.Fatal("expected Plan to succeed after Reset")
	}
	if plan.Tier != TierL1 {
		t.Errorf("expected tier state to restart at L1 after Reset, got %s", plan.Tier)
	}
}

func TestTier_String_UnknownValue(t *testing.T) {
	var t6 Tier = 99
	if t6.String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN for an out-of-range tier, got %q", t6.String())
	}
}
