// Package anomaly — entropy.go
//
// Shannon entropy over the distribution of recent button presses. A
// dispatcher issuing the same button over and over (entropy near 0) is a
// weak corroborating signal for a softlock; a healthy planner alternates
// buttons according to context, giving higher entropy.
//
// Formula:
//
//	H = -Σ p(bᵢ) * log₂(p(bᵢ))
//
// Bounds: H = 0 when every press in the window is the same button; H =
// log₂(k) when all k button kinds are equally represented.

package anomaly

import "math"

// ButtonCounts holds the count of each tracked button kind in a window.
// Index order: A, B, UP, DOWN, LEFT, RIGHT, START, SELECT.
type ButtonCounts [8]uint64

// buttonOrder is the name-to-index mapping ButtonCounts uses. Kept as
// strings rather than importing the emulator package's Button type, so
// this package stays usable by anything scoring button distributions
// without depending on the emulator wire format.
var buttonOrder = [8]string{"A", "B", "UP", "DOWN", "LEFT", "RIGHT", "START", "SELECT"}

// RecordButton increments the count for the named button. Unknown names
// are ignored.
func (c *ButtonCounts) RecordButton(name string) {
	for i, n := range buttonOrder {
		if n == name {
			c[i]++
			return
		}
	}
}

// ShannonEntropy computes H in bits over the button-count distribution.
// Returns 0 for an empty or degenerate (single-button) window.
func ShannonEntropy(counts ButtonCounts) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0.0
	}
	fTotal := float64(total)
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / fTotal
		h -= p * math.Log2(p)
	}
	return h
}

// MaxEntropy returns log2(k), the maximum possible entropy for k button
// kinds.
func MaxEntropy(k int) float64 {
	if k <= 1 {
		return 0.0
	}
	return math.Log2(float64(k))
}

// NormalisedEntropy returns H / H_max in [0, 1].
func NormalisedEntropy(counts ButtonCounts, numKinds int) float64 {
	hMax := MaxEntropy(numKinds)
	if hMax == 0.0 {
		return 0.0
	}
	return ShannonEntropy(counts) / hMax
}
