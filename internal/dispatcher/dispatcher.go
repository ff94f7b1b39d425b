// Package dispatcher converts a planned goap.Action into a timed sequence
// of button presses, honoring per-button cooldowns. Cooldowns are tracked as
// per-button last-press timestamps; each pressed button is also charged
// against the token bucket the agent uses for break-out tier escalation,
// keyed by button name instead of tier name (free by default).
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/pokeloop/pokeagent/internal/budget"
	"github.com/pokeloop/pokeagent/internal/emulator"
	"github.com/pokeloop/pokeagent/internal/goap"
)

// ActionResult is the outcome of one Dispatch call.
type ActionResult struct {
	Success bool
	Reason  string
	Buttons []emulator.Button // buttons actually pressed, empty on rejection/no-op
}

// buttonPlan maps an ActionKind to its concrete button sequence. Real
// navigation/battle action decomposition would consult Params (target
// coordinates, menu index); this mapping covers the representative
// single-button case each ActionKind reduces to once the planner has
// already chosen a direction/selection via Params.
func buttonPlan(a goap.Action) ([]emulator.Button, error) {
	switch a.Kind {
	case goap.ActionPress:
		b, ok := a.Params["button"]
		if !ok {
			return nil, fmt.Errorf("dispatcher: press action missing button param")
		}
		return []emulator.Button{emulator.Button(b)}, nil
	case goap.ActionNavigateTo:
		dir, ok := a.Params["direction"]
		if !ok {
			return []emulator.Button{emulator.ButtonUp}, nil
		}
		return []emulator.Button{emulator.Button(dir)}, nil
	case goap.ActionBattle:
		return []emulator.Button{emulator.ButtonA}, nil
	case goap.ActionMenuSelect:
		return []emulator.Button{emulator.ButtonA}, nil
	case goap.ActionDialog:
		return []emulator.Button{emulator.ButtonA}, nil
	case goap.ActionShop:
		return []emulator.Button{emulator.ButtonA}, nil
	case goap.ActionHeal:
		return []emulator.Button{emulator.ButtonA}, nil
	case goap.ActionWait:
		return nil, nil
	default:
		return nil, fmt.Errorf("dispatcher: unknown action kind %q", a.Kind)
	}
}

// disallowedChords lists button pairs that must never be pressed together
// (Game Boy hardware has no concept of chording most of these safely for
// an autonomous agent — Up+Down and Left+Right produce undefined behavior
// on real hardware and many emulator cores).
var disallowedChords = map[[2]emulator.Button]bool{
	{emulator.ButtonUp, emulator.ButtonDown}:   true,
	{emulator.ButtonDown, emulator.ButtonUp}:   true,
	{emulator.ButtonLeft, emulator.ButtonRight}: true,
	{emulator.ButtonRight, emulator.ButtonLeft}: true,
}

// Dispatcher tracks per-button cooldowns and emits presses through an
// emulator.Port.
type Dispatcher struct {
	cooldowns  map[emulator.Button]time.Time
	minGap     time.Duration
	bucket     *budget.Bucket
	costs      budget.CostModel
}

// NewDispatcher returns a Dispatcher with a default 50ms per-button
// cooldown.
func NewDispatcher(bucket *budget.Bucket) *Dispatcher {
	return &Dispatcher{
		cooldowns: make(map[emulator.Button]time.Time),
		minGap:    50 * time.Millisecond,
		bucket:    bucket,
		costs:     budget.CostModel{}, // dispatch actions are free by default; cooldown is the limiter
	}
}

// Dispatch translates action into button presses and sends them through
// emu, honoring per-button cooldowns and the disallowed-chord table. No
// retries at this layer: failures are reported back to the planner.
func (d *Dispatcher) Dispatch(ctx context.Context, emu emulator.Port, action goap.Action, now time.Time) (ActionResult, error) {
	if ctx.Err() != nil {
		return ActionResult{}, ctx.Err()
	}

	buttons, err := buttonPlan(action)
	if err != nil {
		return ActionResult{Success: false, Reason: err.Error()}, nil
	}
	if len(buttons) == 0 {
		return ActionResult{Success: true, Reason: "no-op"}, nil
	}
	for i := 0; i < len(buttons)-1; i++ {
		if disallowedChords[[2]emulator.Button{buttons[i], buttons[i+1]}] {
			return ActionResult{Success: false, Reason: "disallowed chord"}, nil
		}
	}

	for _, b := range buttons {
		if last, ok := d.cooldowns[b]; ok && now.Sub(last) < d.minGap {
			return ActionResult{Success: false, Reason: "cooldown"}, nil
		}
	}

	for _, b := range buttons {
		if !d.bucket.ConsumeForTier(d.costs, string(b)) {
			return ActionResult{Success: false, Reason: "budget exhausted"}, nil
		}
	}

	for _, b := range buttons {
		if err := emu.Press(b, 100); err != nil {
			return ActionResult{Success: false, Reason: err.Error()}, nil
		}
		d.cooldowns[b] = now
	}
	return ActionResult{Success: true, Buttons: buttons}, nil
}
