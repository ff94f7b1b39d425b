// Package invariant enforces the agent's foundational runtime constraints
// on every recovery decision the FailsafeCoordinator emits: inputs must be
// finite and in-bounds, wall-clock time must move forward, and every
// decision is chained by hash to its predecessor so the recovery history
// can be replayed and verified after the fact. This is the same
// bounds-check-then-hash-chain shape the reference agent's constitutional
// kernel applies to escalation decisions, narrowed here from seven
// general axioms to the three that actually apply to a single-process
// recovery ladder: bounded inputs, finite values (no NaN or Inf), and
// monotonic time.
package invariant

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViolationType names which constraint failed.
type ViolationType string

const (
	ViolationUnboundedParameter ViolationType = "unbounded_parameter"
	ViolationNonMonotonicTime   ViolationType = "non_monotonic_time"
	ViolationNaNInf             ViolationType = "nan_inf_detected"
)

// Violation is a structured invariant failure.
type Violation struct {
	Type      ViolationType          `json:"type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", v.Type, v.Message)
}

// Decision is the auditable record of one failsafe recovery evaluation.
type Decision struct {
	TickID       uint64                 `json:"tick_id"`
	Confidence   float64                `json:"confidence"`
	Tier         int                    `json:"tier"`
	Reason       string                 `json:"reason"`
	Timestamp    time.Time              `json:"timestamp"`
	Inputs       map[string]interface{} `json:"inputs"`
	DecisionHash string                 `json:"decision_hash"`
	ParentHash   string                 `json:"parent_hash"`
}

// Bounds defines allowed parameter ranges.
type Bounds struct {
	ConfidenceMin, ConfidenceMax float64
	TierMin, TierMax             int
	TimestampSkewTolerance       time.Duration
}

// DefaultBounds matches the design's [0,1] confidence range and the five
// rungs of the recovery ladder (none..graceful_shutdown).
func DefaultBounds() Bounds {
	return Bounds{
		ConfidenceMin:          0.0,
		ConfidenceMax:          1.0,
		TierMin:                0,
		TierMax:                4,
		TimestampSkewTolerance: 5 * time.Second,
	}
}

// Checker enforces Bounds on every Decision and maintains the hash chain.
// In strict mode (test harnesses only) a violation panics; in production
// it is logged and counted.
type Checker struct {
	mu               sync.Mutex
	bounds           Bounds
	lastTimestamp    time.Time
	lastDecisionHash string
	violationCount   int64
	verifiedCount    int64
	log              *zap.Logger
	strict           bool
}

// NewChecker returns a Checker with DefaultBounds.
func NewChecker(log *zap.Logger, strict bool) *Checker {
	return &Checker{
		bounds:        DefaultBounds(),
		lastTimestamp: time.Now(),
		log:           log,
		strict:        strict,
	}
}

// Validate checks d against bounds and time monotonicity, sets its hash
// chain fields on success, and returns an error (never a panic outside
// strict mode) on the first violated constraint.
func (c *Checker) Validate(d *Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTime(d.Timestamp); err != nil {
		return c.handle(err)
	}
	if math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0) {
		return c.handle(&Violation{
			Type: ViolationNaNInf, Message: fmt.Sprintf("confidence is NaN/Inf: %f", d.Confidence),
			Timestamp: time.Now(), Context: map[string]interface{}{"tick": d.TickID},
		})
	}
	if d.Confidence < c.bounds.ConfidenceMin || d.Confidence > c.bounds.ConfidenceMax {
		return c.handle(&Violation{
			Type:      ViolationUnboundedParameter,
			Message:   fmt.Sprintf("confidence %.4f outside [%.2f, %.2f]", d.Confidence, c.bounds.ConfidenceMin, c.bounds.ConfidenceMax),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"tick": d.TickID, "confidence": d.Confidence},
		})
	}
	if d.Tier < c.bounds.TierMin || d.Tier > c.bounds.TierMax {
		return c.handle(&Violation{
			Type:      ViolationUnboundedParameter,
			Message:   fmt.Sprintf("tier %d outside [%d, %d]", d.Tier, c.bounds.TierMin, c.bounds.TierMax),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"tick": d.TickID, "tier": d.Tier},
		})
	}

	hash, err := c.computeHash(d)
	if err != nil {
		return fmt.Errorf("invariant: hash decision: %w", err)
	}
	d.DecisionHash = hash
	d.ParentHash = c.lastDecisionHash
	c.lastDecisionHash = hash
	c.lastTimestamp = d.Timestamp
	c.verifiedCount++
	return nil
}

func (c *Checker) checkTime(ts time.Time) error {
	if ts.Before(c.lastTimestamp) {
		return &Violation{
			Type:      ViolationNonMonotonicTime,
			Message:   fmt.Sprintf("time went backwards: %v < %v", ts, c.lastTimestamp),
			Timestamp: time.Now(),
			Context: map[string]interface{}{
				"current":  ts.Format(time.RFC3339Nano),
				"previous": c.lastTimestamp.Format(time.RFC3339Nano),
			},
		}
	}
	if skew := ts.Sub(c.lastTimestamp); skew > c.bounds.TimestampSkewTolerance {
		c.log.Warn("large timestamp skew between recovery decisions", zap.Duration("skew", skew))
	}
	return nil
}

func (c *Checker) computeHash(d *Decision) (string, error) {
	canonical := map[string]interface{}{
		"tick_id":    d.TickID,
		"confidence": fmt.Sprintf("%.8f", d.Confidence),
		"tier":       d.Tier,
		"reason":     d.Reason,
		"timestamp":  d.Timestamp.UnixNano(),
		"inputs":     d.Inputs,
	}
	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:]), nil
}

func (c *Checker) handle(err error) error {
	c.violationCount++
	v, ok := err.(*Violation)
	if !ok {
		v = &Violation{Type: "unknown", Message: err.Error(), Timestamp: time.Now()}
	}
	c.log.Error("invariant violation",
		zap.String("type", string(v.Type)),
		zap.String("message", v.Message),
		zap.Int64("total_violations", c.violationCount))
	if c.strict {
		panic(fmt.Sprintf("invariant violation in strict mode: %v", v))
	}
	return v
}

// Stats reports the checker's lifetime counters.
type Stats struct {
	Verified   int64  `json:"verified"`
	Violations int64  `json:"violations"`
	LastHash   string `json:"last_hash"`
}

// Stats returns the checker's current statistics.
func (c *Checker) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Verified: c.verifiedCount, Violations: c.violationCount, LastHash: c.lastDecisionHash}
}
