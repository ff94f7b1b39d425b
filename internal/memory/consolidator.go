package memory

import (
	"context"

	"go.uber.org/zap"
)

// consolidateSignal carries the tick at which consolidation was requested.
// The channel it travels over is bounded and non-blocking on send, the same
// backpressure shape the agent's kernel/ring-buffer event processor uses:
// a slow consumer drops requests rather than stalling the tick loop.
type consolidateSignal struct {
	tick uint64
}

// Consolidator periodically promotes Observer outcomes into Strategist
// aggregates and recurring Strategist patterns into Tactician, and applies
// Tactician confidence decay. It runs on its own goroutine so a slow
// consolidation pass never blocks the tick loop.
type Consolidator struct {
	observer   *Observer
	strategist *Strategist
	tactician  *Tactician
	log        *zap.Logger

	interval uint64
	lastRun  uint64
	sigCh    chan consolidateSignal
	dropped  uint64

	promotionThreshold int
}

// NewConsolidator returns a Consolidator that runs every interval ticks
// (default 1000).
func NewConsolidator(obs *Observer, strat *Strategist, tact *Tactician, interval uint64, log *zap.Logger) *Consolidator {
	if interval == 0 {
		interval = 1000
	}
	return &Consolidator{
		observer:           obs,
		strategist:         strat,
		tactician:          tact,
		log:                log,
		interval:           interval,
		sigCh:              make(chan consolidateSignal, 4),
		promotionThreshold: 3,
	}
}

// MaybeTrigger is called once per tick by the Scheduler; it is cheap
// (an integer comparison) and only enqueues a consolidation request when
// the interval has elapsed. Non-blocking: if the worker is still busy with
// the previous pass, the request is dropped and counted.
func (c *Consolidator) MaybeTrigger(tick uint64) {
	if tick-c.lastRun < c.interval {
		return
	}
	c.lastRun = tick
	select {
	case c.sigCh <- consolidateSignal{tick: tick}:
	default:
		c.dropped++
		if c.log != nil {
			c.log.Warn("consolidator: request dropped, worker busy", zap.Uint64("tick", tick))
		}
	}
}

// DroppedCount returns how many consolidation requests were dropped due to
// a busy worker, exposed for metrics.
func (c *Consolidator) DroppedCount() uint64 {
	return c.dropped
}

// Run drives the consolidation worker until ctx is cancelled. Intended to
// be started once as its own goroutine alongside the Scheduler.
func (c *Consolidator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-c.sigCh:
			c.consolidate(sig.tick)
		}
	}
}

// consolidate runs one pass: Observer -> Strategist aggregation, then
// Strategist -> Tactician promotion for any objective whose recent win
// rate recurs with enough attempts, then Tactician decay/prune. Idempotent
// if invoked twice with no intervening ticks (it just re-decays by zero
// elapsed ticks and re-observes the same window).
func (c *Consolidator) consolidate(tick uint64) {
	items := c.observer.DrainSince(0)
	for _, it := range items {
		c.strategist.RecordOutcome(it.ActionKind, it.Success)
	}

	for _, rec := range c.strategist.All() {
		if int(rec.Attempts) < c.promotionThreshold {
			continue
		}
		sig := Signature(rec.ObjectiveID, "strategist-promotion")
		_, err := c.tactician.Upsert(sig, rec.ObjectiveID, tick, rec.WinRate >= 0.5)
		if err != nil && c.log != nil {
			c.log.Error("consolidator: tactician promotion failed", zap.Error(err))
		}
	}

	decayed, pruned, err := c.tactician.DecayAndPrune(tick)
	if err != nil && c.log != nil {
		c.log.Error("consolidator: decay/prune failed", zap.Error(err))
		return
	}
	if c.log != nil {
		c.log.Info("consolidator: pass complete",
			zap.Uint64("tick", tick),
			zap.Int("decayed", decayed),
			zap.Int("pruned", pruned),
			zap.Int("observer_items", len(items)))
	}
}
