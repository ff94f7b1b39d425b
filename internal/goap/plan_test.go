package goap

import "testing"

func TestPlan_Next_ReturnsCurrentActionWithoutAdvancing(t *testing.T) {
	p := &Plan{Actions: []Action{{Kind: ActionWait}, {Kind: ActionPress}}}
	a, ok := p.Next()
	if !ok || a.Kind != ActionWait {
		t.Fatalf("expected the first action (wait), got %+v ok=%v", a, ok)
	}
	a2, ok2 := p.Next()
	if !ok2 || a2.Kind != ActionWait {
		t.Errorf("expected Next to be idempotent without Advance, got %+v", a2)
	}
}

func TestPlan_Advance_MovesCursorForward(t *testing.T) {
	p := &Plan{Actions: []Action{{Kind: ActionWait}, {Kind: ActionPress}}}
	p.Advance()
	a, ok := p.Next()
	if !ok || a.Kind != ActionPress {
		t.Fatalf("expected the second action after Advance, got %+v ok=%v", a, ok)
	}
}

func TestPlan_Done_TrueOnceAllActionsExecuted(t *testing.T) {
	p := &Plan{Actions: []Action{{Kind: ActionWait}}}
	if p.Done() {
		t.Fatal("expected Done=false before any Advance")
	}
	p.Advance()
	if !p.Done() {
		t.Error("expected Done=true after advancing past the last action")
	}
	if _, ok := p.Next(); ok {
		t.Error("expected Next to report false once the plan is done")
	}
}

func TestPlan_Expired_ComparesAgainstExpiryTick(t *testing.T) {
	p := &Plan{ExpiryTick: 100}
	if p.Expired(100) {
		t.Error("expected a plan to not be expired exactly at its expiry tick")
	}
	if !p.Expired(101) {
		t.Error("expected a plan to be expired one tick past its expiry")
	}
}
