// Package anomaly scores a dwell window against its learned
// DurationProfile and raises a graded alarm BreakoutManager acts on. The
// Scheduler calls Check when a dwell window closes; a window that is still
// open is not scored.
package anomaly

import (
	"sync"

	"github.com/pokeloop/pokeagent/internal/duration"
)

// Alarm is the graded result of Check.
type Alarm int

const (
	AlarmNone Alarm = iota
	AlarmWarn
	AlarmCritical
)

func (a Alarm) String() string {
	switch a {
	case AlarmWarn:
		return "warn"
	case AlarmCritical:
		return "critical"
	default:
		return "none"
	}
}

// Thresholds configures the z-score and p95-ratio boundaries for Warn and
// Critical alarms. Each fires if either signal crosses its bound; Critical
// is checked first and takes precedence over Warn.
type Thresholds struct {
	WarnZ       float64
	CriticalZ   float64
	WarnRatio   float64
	CriticalRatio float64
}

// DefaultThresholds matches the dwell-time boundaries named in the design:
// Warn at z>=2.0 or ratio>=1.5, Critical at z>=3.0 or ratio>=2.0.
func DefaultThresholds() Thresholds {
	return Thresholds{WarnZ: 2.0, CriticalZ: 3.0, WarnRatio: 1.5, CriticalRatio: 2.0}
}

// Detector evaluates dwell anomalies using a pluggable Scorer.
type Detector struct {
	mu         sync.RWMutex
	scorer     Scorer
	thresholds Thresholds
	nMin       uint64
}

// NewDetector returns a Detector using the named scorer. nMin must match
// the Tracker's warm-up threshold so Check correctly disables itself while
// cold.
func NewDetector(scorerName string, thresholds Thresholds, nMin uint64) (*Detector, error) {
	s, err := GetScorer(scorerName)
	if err != nil {
		return nil, err
	}
	return &Detector{scorer: s, thresholds: thresholds, nMin: nMin}, nil
}

// Check scores dwellMS against profile and returns the graded alarm. A nil
// or cold profile always returns AlarmNone — the detector does not fire
// until the tracker has learned enough samples for the mode.
func (d *Detector) Check(dwellMS float64, profile *duration.DurationProfile) Alarm {
	d.mu.RLock()
	thresholds, nMin := d.thresholds, d.nMin
	d.mu.RUnlock()

	if profile == nil || !profile.Warm(nMin) {
		return AlarmNone
	}
	z, ratio := d.scorer.Score(dwellMS, profile)
	switch {
	case z >= thresholds.CriticalZ || ratio >= thresholds.CriticalRatio:
		return AlarmCritical
	case z >= thresholds.WarnZ || ratio >= thresholds.WarnRatio:
		return AlarmWarn
	default:
		return AlarmNone
	}
}

// SetThresholds applies new alarm boundaries to the live Detector, for
// non-destructive config hot-reload.
func (d *Detector) SetThresholds(t Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.thresholds = t
}
