package failsafe

import "sync"

// ConsistencyTracker maintains a sliding window of recent classification
// legality outcomes, the same "record an observation, count how many of
// the recent ones are active" shape used elsewhere in this codebase for
// multi-signal quorum evaluation, adapted here from a wall-clock TTL window
// to a fixed-size tick window since state-consistency is judged over the
// last K ticks, not the last K seconds.
type ConsistencyTracker struct {
	mu      sync.Mutex
	window  []bool
	size    int
	next    int
	filled  int
}

// NewConsistencyTracker returns a tracker over the last windowSize ticks
// (default 20).
func NewConsistencyTracker(windowSize int) *ConsistencyTracker {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &ConsistencyTracker{window: make([]bool, windowSize), size: windowSize}
}

// Record appends whether the tick's classification held a legal transition.
func (c *ConsistencyTracker) Record(legal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window[c.next] = legal
	c.next = (c.next + 1) % c.size
	if c.filled < c.size {
		c.filled++
	}
}

// Ratio returns the fraction of the window's recorded ticks that were
// legal. Returns 1.0 (fully consistent) for an empty window, matching the
// "no evidence of inconsistency yet" default.
func (c *ConsistencyTracker) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled == 0 {
		return 1.0
	}
	var legal int
	for i := 0; i < c.filled; i++ {
		if c.window[i] {
			legal++
		}
	}
	return float64(legal) / float64(c.filled)
}
