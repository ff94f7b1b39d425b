// Package anomaly — registry.go
//
// Plugin interface for custom dwell-time scorers, carried over from the
// contrib anomaly-scorer extension point: the built-in z-score/ratio scorer
// can be replaced or augmented by a custom implementation (e.g. a learned
// model) without changing the detector or scheduler.
//
// Plugin contract:
//   - Score must be goroutine-safe.
//   - Score must return in well under a tick's anomaly-check budget.
//   - Score must not block on I/O.
//   - Name must return a stable, unique string used as a config key.
package anomaly

import (
	"fmt"
	"math"
	"sync"

	"github.com/pokeloop/pokeagent/internal/duration"
)

// Scorer computes a dwell-time anomaly score from the current dwell and the
// learned profile for its mode. z is a standard-deviation distance from the
// mean; ratio is dwell/p95. The detector combines both.
type Scorer interface {
	Name() string
	Score(dwellMS float64, profile *duration.DurationProfile) (z, ratio float64)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Scorer)
)

// RegisterScorer registers a named Scorer. Panics on duplicate names; call
// from an init() function in the scorer's defining package.
func RegisterScorer(s Scorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("anomaly: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the named scorer, or an error if unregistered.
func GetScorer(name string) (Scorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("anomaly: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of every registered scorer.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ZRatioScorer is the built-in scorer: z-score distance from the EWMA mean,
// plus a p95 ratio, evaluated independently so the detector can threshold
// on whichever signal fires first.
type ZRatioScorer struct{}

func init() {
	RegisterScorer(&ZRatioScorer{})
}

func (ZRatioScorer) Name() string { return "zratio" }

func (ZRatioScorer) Score(dwellMS float64, profile *duration.DurationProfile) (z, ratio float64) {
	if profile == nil {
		return 0, 0
	}
	sd := math.Sqrt(profile.Var)
	if sd > 0 {
		z = (dwellMS - profile.Mean) / sd
	}
	if profile.P95 > 0 {
		ratio = dwellMS / profile.P95
	}
	return z, ratio
}
