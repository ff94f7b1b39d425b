// Package duration learns a per-mode dwell-time profile (EWMA mean,
// variance, and a decayed-histogram p95 estimate) and tracks the currently
// open dwell window. AnomalyDetector consumes the profiles this package
// maintains.
package duration

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pokeloop/pokeagent/internal/hsm"
)

const (
	defaultAlpha      = 0.3
	defaultNMin       = 30
	defaultClipFactor = 5.0
	histBuckets       = 32
	// histBucketMS is the width of each histogram bucket; samples beyond the
	// last bucket accumulate in it (tail bucket).
	histBucketMS = 500.0
	histDecay    = 0.98
)

// Mode is the coarse category a dwell window is measured against. SubMode
// refines it; profiles are keyed by "mode.submode".
type Mode = hsm.Category

// DurationProfile is the learned dwell-time distribution for one mode.
type DurationProfile struct {
	Mean      float64         `json:"mean_ms"`
	Var       float64         `json:"var_ms"`
	P95       float64         `json:"p95_ms"`
	Samples   uint64          `json:"samples_count"`
	EWMAAlpha float64         `json:"ewma_alpha"`
	Hist      [histBuckets]float64 `json:"hist"`
}

// Warm reports whether the profile has enough samples to be trusted by the
// anomaly detector.
func (p *DurationProfile) Warm(nMin uint64) bool {
	return p.Samples >= nMin
}

// update folds one closed-dwell sample into the profile using an EWMA mean,
// a Welford-style compensated variance update, and a decayed histogram used
// to estimate p95 in O(1) memory instead of retaining raw samples.
func (p *DurationProfile) update(sampleMS float64, clip float64) {
	if p.EWMAAlpha == 0 {
		p.EWMAAlpha = defaultAlpha
	}
	ceiling := clip
	if p.Samples > 0 && p.P95 > 0 {
		c := p.P95 * defaultClipFactor
		if c > ceiling {
			ceiling = c
		}
	}
	if ceiling > 0 && sampleMS > ceiling {
		sampleMS = ceiling
	}

	alpha := p.EWMAAlpha
	delta := sampleMS - p.Mean
	p.Mean += alpha * delta
	// Exponentially weighted variance: var <- (1-a)*(var + a*delta^2)
	p.Var = (1 - alpha) * (p.Var + alpha*delta*delta)
	p.Samples++

	bucket := int(sampleMS / histBucketMS)
	if bucket >= histBuckets {
		bucket = histBuckets - 1
	}
	for i := range p.Hist {
		p.Hist[i] *= histDecay
	}
	p.Hist[bucket]++
	p.P95 = estimateP95(p.Hist[:])
}

// estimateP95 walks the decayed histogram from the lowest bucket upward until
// 95% of the decayed mass has been accounted for, and returns the upper edge
// of that bucket.
func estimateP95(hist []float64) float64 {
	var total float64
	for _, v := range hist {
		total += v
	}
	if total <= 0 {
		return 0
	}
	threshold := total * 0.95
	var cum float64
	for i, v := range hist {
		cum += v
		if cum >= threshold {
			return float64(i+1) * histBucketMS
		}
	}
	return float64(len(hist)) * histBucketMS
}

// DwellWindow is the currently open dwell measurement for a mode.
type DwellWindow struct {
	ModeKey          string
	StartTick        uint64
	StartWall        time.Time
	LastSameModeTick uint64
}

// ModeTransition is returned by Ingest when a dwell window closes.
type ModeTransition struct {
	ModeKey   string
	DwellMS   float64
	DwellTick uint64
	Profile   *DurationProfile
}

// Tracker maintains one open DwellWindow and a profile per mode key.
type Tracker struct {
	mu       sync.Mutex
	profiles map[string]*DurationProfile
	open     *DwellWindow
	nMin     uint64
	alpha    float64
	clipMS   float64
}

// NewTracker returns a Tracker with the given learning parameters.
func NewTracker(alpha float64, nMin uint64, clipMS float64) *Tracker {
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	if nMin == 0 {
		nMin = defaultNMin
	}
	return &Tracker{
		profiles: make(map[string]*DurationProfile),
		nMin:     nMin,
		alpha:    alpha,
		clipMS:   clipMS,
	}
}

// SetParams applies new learning parameters to the live Tracker, for
// non-destructive config hot-reload. Already-accumulated profiles keep
// their EWMAAlpha as recorded; only new profiles and the min-samples/clip
// floor pick up the new values.
func (t *Tracker) SetParams(alpha float64, nMin uint64, clipMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if alpha > 0 {
		t.alpha = alpha
	}
	if nMin > 0 {
		t.nMin = nMin
	}
	t.clipMS = clipMS
}

func modeKey(path hsm.StatePath) string {
	return fmt.Sprintf("%s.%s", path.Leaf().Category().String(), path.Leaf().String())
}

// Ingest folds the current tick's classified path into the tracker. It
// closes the previous dwell window (updating its profile) the instant the
// mode key changes, and opens a new window. Returns the closed transition,
// if any, and whether the mode changed this tick.
func (t *Tracker) Ingest(path hsm.StatePath, tick uint64, now time.Time) (*ModeTransition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := modeKey(path)

	if t.open == nil {
		t.open = &DwellWindow{ModeKey: key, StartTick: tick, StartWall: now, LastSameModeTick: tick}
		return nil, true
	}
	if t.open.ModeKey == key {
		t.open.LastSameModeTick = tick
		return nil, false
	}

	closedKey := t.open.ModeKey
	dwellMS := float64(now.Sub(t.open.StartWall).Milliseconds())
	prof := t.profiles[closedKey]
	if prof == nil {
		prof = &DurationProfile{EWMAAlpha: t.alpha}
		t.profiles[closedKey] = prof
	}
	prof.update(dwellMS, t.clipMS)

	transition := &ModeTransition{ModeKey: closedKey, DwellMS: dwellMS, DwellTick: tick, Profile: prof}
	t.open = &DwellWindow{ModeKey: key, StartTick: tick, StartWall: now, LastSameModeTick: tick}
	return transition, true
}

// CurrentDwellMS returns how long the open window has been in its mode.
func (t *Tracker) CurrentDwellMS(now time.Time) (string, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return "", 0
	}
	return t.open.ModeKey, float64(now.Sub(t.open.StartWall).Milliseconds())
}

// Profile returns the learned profile for a mode key, and whether it is
// warm enough (>= N_MIN samples) to drive anomaly scoring.
func (t *Tracker) Profile(modeKey string) (*DurationProfile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[modeKey]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, p.Warm(t.nMin)
}

type profileFile struct {
	Schema   int                         `json:"schema"`
	Profiles map[string]*DurationProfile `json:"profiles"`
}

// Persist writes all learned profiles to path as stable-ordered JSON.
func (t *Tracker) Persist(path string) error {
	t.mu.Lock()
	snapshot := make(map[string]*DurationProfile, len(t.profiles))
	for k, v := range t.profiles {
		cp := *v
		snapshot[k] = &cp
	}
	t.mu.Unlock()

	data, err := json.MarshalIndent(profileFile{Schema: 1, Profiles: snapshot}, "", "  ")
	if err != nil {
		return fmt.Errorf("duration: marshal profiles: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("duration: write profiles tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("duration: rename profiles: %w", err)
	}
	return nil
}

// Load reads profiles previously written by Persist. Missing files are not
// an error: the tracker simply starts cold.
func (t *Tracker) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("duration: read profiles: %w", err)
	}
	var pf profileFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("duration: unmarshal profiles: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range pf.Profiles {
		t.profiles[k] = v
	}
	return nil
}
