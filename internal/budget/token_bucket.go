// Package budget implements the token-bucket rate limiter that caps how
// often costly or disruptive actions may fire: BreakoutManager tier
// escalation and ButtonDispatcher cooldowns both consume from a Bucket
// before acting.
//
// Cost model (BreakoutManager tiers):
//   - L1 (press B):            cost 1
//   - L2 (directional nudge):  cost 3
//   - L3 (menu escape):        cost 7
//   - L4 (reload snapshot):    cost 15
//   - L5 (hard reset):         cost 40
//
// Rationale: higher-impact recovery actions consume more budget, preventing
// a cascade of hard resets from a single burst of anomalous dwell times.
// Full refill on each period lets the system recover quickly after a
// legitimate rough patch (long dialog trees, grinding).
//
// Invariants:
//   - tokens ∈ [0, capacity] at all times.
//   - Consume() is atomic under mutex.
//   - Refill goroutine runs for the lifetime of the Bucket.
//   - No external dependencies.
package budget

import (
	"sync"
	"sync/atomic"
	"time"
)

// CostModel maps a named tier or action to its token cost. Shared shape
// between BreakoutManager (keyed by tier name, e.g. "L1".."L5") and
// ButtonDispatcher (keyed by button name).
type CostModel map[string]int

// DefaultBreakoutCostModel assigns increasing cost to each escalation tier
// so repeated L4/L5 recoveries drain the bucket far faster than L1 nudges.
func DefaultBreakoutCostModel() CostModel {
	return CostModel{
		"L1": 1,
		"L2": 3,
		"L3": 7,
		"L4": 15,
		"L5": 40,
	}
}

// Bucket is a thread-safe token bucket for rate-limiting recovery and
// dispatch actions.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	// consumedTotal tracks lifetime tokens consumed (for metrics).
	consumedTotal atomic.Uint64

	// refillCount tracks number of refill cycles (for metrics).
	refillCount atomic.Uint64

	// stop channel for graceful shutdown of the refill goroutine.
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Bucket with the given capacity and starts the refill
// goroutine. capacity must be > 0. refillPeriod must be > 0. Call Close to
// stop the refill goroutine.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("budget.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("budget.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

// refillLoop runs in a dedicated goroutine and refills the bucket to full
// capacity every refillPeriod. Exits when Close is called.
func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to consume cost tokens from the bucket. Returns true if
// the tokens were available and deducted. Thread-safe.
func (b *Bucket) Consume(cost int) bool {
	if cost <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeForTier consumes the standard cost for a named tier under model.
// Returns true if the tier has no defined cost (free action).
func (b *Bucket) ConsumeForTier(model CostModel, tier string) bool {
	cost, ok := model[tier]
	if !ok {
		return true
	}
	return b.Consume(cost)
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int {
	return b.capacity // Immutable after construction.
}

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 {
	return b.consumedTotal.Load()
}

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 {
	return b.refillCount.Load()
}

// Close stops the refill goroutine. Safe to call more than once.
func (b *Bucket) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}
