package memory

import (
	"testing"

	"go.uber.org/zap"
)

func newTestConsolidator(t *testing.T) (*Consolidator, *Observer, *Strategist, *Tactician) {
	t.Helper()
	obs := NewObserver()
	strat := NewStrategist()
	tact := NewTactician(openTestDB(t))
	c := NewConsolidator(obs, strat, tact, 100, zap.NewNop())
	return c, obs, strat, tact
}

func TestConsolidator_MaybeTrigger_EnqueuesAfterInterval(t *testing.T) {
	c, _, _, _ := newTestConsolidator(t)
	c.MaybeTrigger(50) // below interval (100), no-op
	select {
	case <-c.sigCh:
		t.Fatal("expected no signal before the interval elapses")
	default:
	}

	c.MaybeTrigger(101)
	select {
	case sig := <-c.sigCh:
		if sig.tick != 101 {
			t.Errorf("expected signal tick 101, got %d", sig.tick)
		}
	default:
		t.Fatal("expected a signal once the interval elapses")
	}
}

func TestConsolidator_MaybeTrigger_DropsWhenChannelFull(t *testing.T) {
	c, _, _, _ := newTestConsolidator(t)
	// sigCh has capacity 4; fill it without draining.
	for i := uint64(1); i <= 5; i++ {
		c.MaybeTrigger(i * 100)
	}
	if c.DroppedCount() == 0 {
		t.Error("expected at least one dropped consolidation request once the channel fills")
	}
}

func TestConsolidator_Consolidate_PromotesStrategistToTactician(t *testing.T) {
	c, obs, strat, tact := newTestConsolidator(t)

	for i := 0; i < 4; i++ {
		obs.Append(ObserverItem{TickID: uint64(i + 1), ActionKind: "badge_3", Success: true})
	}

	c.consolidate(10)

	rec, ok := strat.Get("badge_3")
	if !ok {
		t.Fatal("expected the Observer outcomes to be aggregated into the Strategist")
	}
	if rec.Attempts != 4 || rec.Wins != 4 {
		t.Fatalf("expected 4 attempts / 4 wins, got %d/%d", rec.Attempts, rec.Wins)
	}

	sig := Signature("badge_3", "strategist-promotion")
	if _, ok, _ := tact.Get(sig); !ok {
		t.Error("expected the recurring objective to be promoted into the Tactician")
	}
}

func TestConsolidator_Consolidate_SkipsPromotionBelowThreshold(t *testing.T) {
	c, obs, strat, tact := newTestConsolidator(t)

	obs.Append(ObserverItem{TickID: 1, ActionKind: "badge_3", Success: true})
	c.consolidate(1)

	if _, ok := strat.Get("badge_3"); !ok {
		t.Fatal("expected the single observation to still reach the Strategist")
	}
	sig := Signature("badge_3", "strategist-promotion")
	if _, ok, _ := tact.Get(sig); ok {
		t.Error("expected a single attempt to stay below the promotion threshold")
	}
}
