// Package perception turns a raw frame and WRAM window into a structured
// Observation. The core depends only on the Observation shape and the
// Provider interface; OCR and sprite-recognition internals live outside this
// module's concern.
package perception

import (
	"context"
	"fmt"

	"github.com/pokeloop/pokeagent/internal/emulator"
)

// ScreenKind is the coarse classification of the current frame, the primary
// signal HSM.Classify keys on.
type ScreenKind int

const (
	ScreenUnknown ScreenKind = iota
	ScreenBlank
	ScreenTitle
	ScreenMenu
	ScreenDialog
	ScreenOverworld
	ScreenBattle
	ScreenTransition
)

func (k ScreenKind) String() string {
	switch k {
	case ScreenBlank:
		return "blank"
	case ScreenTitle:
		return "title"
	case ScreenMenu:
		return "menu"
	case ScreenDialog:
		return "dialog"
	case ScreenOverworld:
		return "overworld"
	case ScreenBattle:
		return "battle"
	case ScreenTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Sprite is a recognized on-screen entity (NPC, player, item, enemy).
type Sprite struct {
	ID   int
	X, Y int
}

// Cursor is the position of a selectable menu/battle cursor, if any.
type Cursor struct {
	Row, Col int
	Visible  bool
}

// Observation is the per-tick perception result the rest of the agent
// consumes. tick_id is monotonic; HPPercent is -1 when no HP bar is visible.
type Observation struct {
	TickID        uint64
	ScreenKind    ScreenKind
	OCRText       string
	Sprites       []Sprite
	HPPercent     float64
	Cursor        Cursor
	FrameHash     [16]byte
	AnomalyFlags  uint32
	DialogPresent bool
	HPBarsVisible bool
}

// Provider produces an Observation from the current frame and WRAM window.
// A real implementation wraps OCR and sprite-matching models; it must be a
// pure function of its inputs plus bounded internal cache (last frame hash,
// last sprite set) — no blocking I/O on the hot path.
type Provider interface {
	Produce(ctx context.Context, screen emulator.ScreenBuffer, wram emulator.WRAMWindow) (Observation, error)
}

// StubProvider is a deterministic Provider with no real OCR/vision behind
// it. It derives a plausible Observation purely from the WRAM window and
// frame hash, enough to exercise HSM/duration/anomaly/planner logic in
// tests and local runs without a vision pipeline.
type StubProvider struct {
	tick uint64
}

// NewStubProvider returns a ready-to-use StubProvider.
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Produce(ctx context.Context, screen emulator.ScreenBuffer, wram emulator.WRAMWindow) (Observation, error) {
	if ctx.Err() != nil {
		return Observation{}, fmt.Errorf("perception: %w", ctx.Err())
	}
	p.tick++

	kind := ScreenOverworld
	hpPct := -1.0
	if wram.InBattle {
		kind = ScreenBattle
		if len(wram.PartyHPPercent) > 0 {
			hpPct = wram.PartyHPPercent[0]
		}
	}

	return Observation{
		TickID:        p.tick,
		ScreenKind:    kind,
		OCRText:       "",
		Sprites:       nil,
		HPPercent:     hpPct,
		Cursor:        Cursor{Visible: false},
		FrameHash:     screen.Hash(),
		AnomalyFlags:  0,
		DialogPresent: false,
		HPBarsVisible: wram.InBattle,
	}, nil
}
