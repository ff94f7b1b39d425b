// Package memory implements the tri-tier memory store: a volatile Observer
// FIFO, a session-scoped Strategist KV, and a persistent Bayesian
// Tactician, consolidated periodically by a dedicated worker.
package memory

// ObserverItem is one action/outcome record kept in the volatile tier.
type ObserverItem struct {
	TickID     uint64
	ActionKind string
	HPDelta    float64
	PosDeltaX  int
	PosDeltaY  int
	Success    bool
}

const observerCapacity = 100

// Observer is a bounded FIFO of the most recent action outcomes. Queries
// are O(1)/O(n) over at most 100 items, comfortably under the <1ms budget.
type Observer struct {
	items []ObserverItem
	head  int
	count int
}

// NewObserver returns an empty Observer with capacity 100.
func NewObserver() *Observer {
	return &Observer{items: make([]ObserverItem, observerCapacity)}
}

// Append adds item, evicting the oldest entry once at capacity.
func (o *Observer) Append(item ObserverItem) {
	idx := (o.head + o.count) % observerCapacity
	o.items[idx] = item
	if o.count < observerCapacity {
		o.count++
	} else {
		o.head = (o.head + 1) % observerCapacity
	}
}

// Recent returns up to n most recent items, newest first.
func (o *Observer) Recent(n int) []ObserverItem {
	if n > o.count {
		n = o.count
	}
	out := make([]ObserverItem, 0, n)
	for i := 0; i < n; i++ {
		idx := (o.head + o.count - 1 - i + observerCapacity) % observerCapacity
		out = append(out, o.items[idx])
	}
	return out
}

// SuccessRateLast returns the fraction of the last n items (or fewer, if
// the buffer holds less) that succeeded. Returns 0 for an empty buffer.
func (o *Observer) SuccessRateLast(n int) float64 {
	recent := o.Recent(n)
	if len(recent) == 0 {
		return 0
	}
	var succ int
	for _, it := range recent {
		if it.Success {
			succ++
		}
	}
	return float64(succ) / float64(len(recent))
}

// Len returns the number of items currently held.
func (o *Observer) Len() int {
	return o.count
}

// DrainSince returns every item with TickID > sinceTick, oldest first. Used
// by the Consolidator to aggregate outcomes since its last run.
func (o *Observer) DrainSince(sinceTick uint64) []ObserverItem {
	all := o.Recent(o.count)
	out := make([]ObserverItem, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TickID > sinceTick {
			out = append(out, all[i])
		}
	}
	return out
}
