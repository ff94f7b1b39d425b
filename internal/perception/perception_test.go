package perception

import (
	"context"
	"testing"

	"github.com/pokeloop/pokeagent/internal/emulator"
)

func TestStubProvider_Produce_OverworldWhenNotInBattle(t *testing.T) {
	p := NewStubProvider()
	screen := emulator.ScreenBuffer{Pixels: []byte{1, 2, 3}}
	obs, err := p.Produce(context.Background(), screen, emulator.WRAMWindow{InBattle: false})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if obs.ScreenKind != ScreenOverworld {
		t.Errorf("expected ScreenOverworld, got %s", obs.ScreenKind)
	}
	if obs.HPPercent != -1.0 {
		t.Errorf("expected HPPercent=-1 outside of battle, got %f", obs.HPPercent)
	}
	if obs.HPBarsVisible {
		t.Error("expected HPBarsVisible=false outside of battle")
	}
}

func TestStubProvider_Produce_BattleReadsPartyHP(t *testing.T) {
	p := NewStubProvider()
	screen := emulator.ScreenBuffer{Pixels: []byte{1, 2, 3}}
	wram := emulator.WRAMWindow{InBattle: true, PartyHPPercent: []float64{0.42}}
	obs, err := p.Produce(context.Background(), screen, wram)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if obs.ScreenKind != ScreenBattle {
		t.Errorf("expected ScreenBattle, got %s", obs.ScreenKind)
	}
	if obs.HPPercent != 0.42 {
		t.Errorf("expected HPPercent=0.42, got %f", obs.HPPercent)
	}
	if !obs.HPBarsVisible {
		t.Error("expected HPBarsVisible=true in battle")
	}
}

func TestStubProvider_Produce_TickIDIncrementsMonotonically(t *testing.T) {
	p := NewStubProvider()
	screen := emulator.ScreenBuffer{Pixels: []byte{1}}
	first, _ := p.Produce(context.Background(), screen, emulator.WRAMWindow{})
	second, _ := p.Produce(context.Background(), screen, emulator.WRAMWindow{})
	if second.TickID != first.TickID+1 {
		t.Errorf("expected TickID to increment by 1, got %d -> %d", first.TickID, second.TickID)
	}
}

func TestStubProvider_Produce_FrameHashMatchesScreen(t *testing.T) {
	p := NewStubProvider()
	screen := emulator.ScreenBuffer{Pixels: []byte{9, 9, 9}}
	obs, _ := p.Produce(context.Background(), screen, emulator.WRAMWindow{})
	if obs.FrameHash != screen.Hash() {
		t.Error("expected the observation's FrameHash to match the source screen's hash")
	}
}

func TestStubProvider_Produce_RejectsCancelledContext(t *testing.T) {
	p := NewStubProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Produce(ctx, emulator.ScreenBuffer{}, emulator.WRAMWindow{}); err == nil {
		t.Error("expected Produce to reject an already-cancelled context")
	}
}

func TestScreenKind_String_CoversAllValues(t *testing.T) {
	cases := map[ScreenKind]string{
		ScreenUnknown:    "unknown",
		ScreenBlank:      "blank",
		ScreenTitle:      "title",
		ScreenMenu:       "menu",
		ScreenDialog:     "dialog",
		ScreenOverworld:  "overworld",
		ScreenBattle:     "battle",
		ScreenTransition: "transition",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("ScreenKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
