// Package scheduler runs the fixed-order per-tick pipeline: emulator step,
// perception, HSM classification, duration tracking, anomaly detection,
// break-out escalation, planning, dispatch, and failsafe evaluation. The
// failsafe runs after this tick's action has been pressed, so it does not
// veto that action; its recovery tier is acted on at the end of the tick.
// While degraded, consolidation is not triggered. It is
// the same "read → score → act, with backpressure and a drain on
// shutdown" shape the reference agent's kernel event processor and main
// worker loop use, collapsed here into a single synchronous per-tick
// pipeline instead of a fan-out over worker goroutines — ticks are
// strictly ordered, so nothing is gained from distributing them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pokeloop/pokeagent/internal/anomaly"
	"github.com/pokeloop/pokeagent/internal/breakout"
	"github.com/pokeloop/pokeagent/internal/dispatcher"
	"github.com/pokeloop/pokeagent/internal/duration"
	"github.com/pokeloop/pokeagent/internal/emulator"
	"github.com/pokeloop/pokeagent/internal/failsafe"
	"github.com/pokeloop/pokeagent/internal/goap"
	"github.com/pokeloop/pokeagent/internal/hsm"
	"github.com/pokeloop/pokeagent/internal/invariant"
	"github.com/pokeloop/pokeagent/internal/memory"
	"github.com/pokeloop/pokeagent/internal/perception"
	"github.com/pokeloop/pokeagent/internal/snapshot"
	"github.com/pokeloop/pokeagent/internal/telemetry"
)

// Config holds the scheduler's tunables.
type Config struct {
	TickBudget          time.Duration // soft per-tick latency budget
	OverBudgetForDegrade int           // consecutive over-budget ticks before degrading
	SnapshotInterval    uint64        // periodic ring snapshot cadence, in ticks
	PositionHistoryLen  int
	ActionHistoryLen    int
}

// DefaultConfig matches the design's tick budget and window sizes.
func DefaultConfig() Config {
	return Config{
		TickBudget:           16 * time.Millisecond,
		OverBudgetForDegrade: 3,
		SnapshotInterval:     5000,
		PositionHistoryLen:   600,
		ActionHistoryLen:     12,
	}
}

// Status is a point-in-time snapshot of the scheduler's run state, served
// by the control surface.
type Status struct {
	Tick           uint64
	Paused         bool
	Degraded       bool
	LastTickMS     float64
	CurrentMode    string
	RecoveryTier   string
	OverBudgetRun  int
	Confidence     float64
	CurrentGoal    string
	LastEvent      string
}

// Scheduler wires every pipeline component and drives the tick loop.
type Scheduler struct {
	emu        emulator.Port
	perception perception.Provider
	hsmMachine *hsm.Machine
	durations  *duration.Tracker
	detector   *anomaly.Detector
	breakoutMgr *breakout.Manager
	observer   *memory.Observer
	consolidator *memory.Consolidator
	strategist *memory.Strategist
	planner    *goap.Planner
	consistency *failsafe.ConsistencyTracker
	coordinator *failsafe.Coordinator
	dispatch   *dispatcher.Dispatcher
	snapStore  *snapshot.Store
	invariantChecker *invariant.Checker
	log        *zap.Logger
	cfg        Config

	mu            sync.Mutex
	tick          uint64
	paused        bool
	degraded      bool
	overBudgetRun int
	lastTickMS    float64
	currentMode   string
	currentGoal   string
	recoveryTier  string

	pauseCh  chan struct{}
	resumeCh chan struct{}
	stopCh   chan struct{}

	positionHistory []failsafe.PositionSample
	actionHistory   []string
	stateChanged    []bool
	buttonHistory   []string
	lastPos         [2]int
	lastHPPercent   float64
	haveLastHP      bool
	startTick       uint64
	winRateHistory  []float64 // ring buffer, one slot per tick mod failsafe.ZeroProgressWindow()
	lastConfidence  float64
	lastEvent       string
}

// New returns a Scheduler with every subsystem wired in.
func New(
	emu emulator.Port,
	prov perception.Provider,
	hsmMachine *hsm.Machine,
	durations *duration.Tracker,
	detector *anomaly.Detector,
	breakoutMgr *breakout.Manager,
	observer *memory.Observer,
	consolidator *memory.Consolidator,
	strategist *memory.Strategist,
	planner *goap.Planner,
	consistency *failsafe.ConsistencyTracker,
	coordinator *failsafe.Coordinator,
	dispatch *dispatcher.Dispatcher,
	snapStore *snapshot.Store,
	invariantChecker *invariant.Checker,
	log *zap.Logger,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		emu:          emu,
		perception:   prov,
		hsmMachine:   hsmMachine,
		durations:    durations,
		detector:     detector,
		breakoutMgr:  breakoutMgr,
		observer:     observer,
		consolidator: consolidator,
		strategist:   strategist,
		planner:      planner,
		consistency:  consistency,
		coordinator:  coordinator,
		dispatch:     dispatch,
		snapStore:    snapStore,
		invariantChecker: invariantChecker,
		log:          log,
		cfg:          cfg,
		pauseCh:      make(chan struct{}),
		resumeCh:     make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Pause blocks the tick loop before its next iteration begins.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume unblocks a paused tick loop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
}

// RequestStop asks the tick loop to exit at the start of its next
// iteration. Safe to call more than once.
func (s *Scheduler) RequestStop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Status returns the scheduler's current run state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Tick:          s.tick,
		Paused:        s.paused,
		Degraded:      s.degraded,
		LastTickMS:    s.lastTickMS,
		CurrentMode:   s.currentMode,
		RecoveryTier:  s.recoveryTier,
		OverBudgetRun: s.overBudgetRun,
		Confidence:    s.lastConfidence,
		CurrentGoal:   s.currentGoal,
		LastEvent:     s.lastEvent,
	}
}

// Run drives the tick loop until ctx is cancelled or RequestStop is
// called. Each tick is wrapped in a panic recovery so that a defect in
// one subsystem degrades the agent instead of crashing the process — the
// tick is logged and skipped, and three consecutive panicking ticks force
// a graceful stop.
func (s *Scheduler) Run(ctx context.Context) error {
	consecutivePanics := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			s.log.Info("scheduler stop requested")
			return nil
		default:
		}

		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stopCh:
				return nil
			case <-s.resumeCh:
			}
			continue
		}

		if s.runTickSafely(ctx) {
			consecutivePanics = 0
		} else {
			consecutivePanics++
			if consecutivePanics >= 3 {
				s.log.Error("three consecutive tick panics, stopping")
				return fmt.Errorf("scheduler: aborting after %d consecutive tick panics", consecutivePanics)
			}
		}
	}
}

// StepOnce runs exactly one tick and returns its wall-clock latency,
// bypassing the pause/stop loop in Run. Intended for the latency benchmark
// in bench/cmd/ticklatency, not for production driving of the agent.
func (s *Scheduler) StepOnce(ctx context.Context) time.Duration {
	start := time.Now()
	s.runTickSafely(ctx)
	return time.Since(start)
}

// runTickSafely executes one tick, recovering from any panic raised by a
// subsystem. Returns false if the tick panicked.
func (s *Scheduler) runTickSafely(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panic recovered", zap.Any("panic", r), zap.Uint64("tick", s.tick))
			telemetry.CaptureTickPanic(s.tick, s.currentMode, r)
			ok = false
		}
	}()
	s.runTick(ctx)
	return true
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	tick := s.tick
	s.tick++
	if tick == 0 {
		s.startTick = 0
	}

	if err := s.emu.Tick(ctx); err != nil {
		s.log.Warn("emulator tick failed", zap.Error(err), zap.Uint64("tick", tick))
		return
	}

	screen := s.emu.Screen()
	wram, err := s.emu.ReadWindow()
	if err != nil {
		s.log.Warn("read window failed", zap.Error(err), zap.Uint64("tick", tick))
		return
	}

	obs, err := s.perception.Produce(ctx, screen, wram)
	if err != nil {
		s.log.Warn("perception produce failed", zap.Error(err), zap.Uint64("tick", tick))
		return
	}

	path, visionConf, err := s.hsmMachine.Classify(obs)
	if err != nil {
		s.log.Error("hsm classification hard error", zap.Error(err), zap.Uint64("tick", tick))
		s.RequestStop()
		return
	}
	s.consistency.Record(visionConf >= 0.5)

	modeKey := fmt.Sprintf("%s.%s", path.Leaf().Category(), path.Leaf())
	s.mu.Lock()
	s.currentMode = modeKey
	s.mu.Unlock()

	if transition, closed := s.durations.Ingest(path, tick, time.Now()); closed && transition != nil {
		alarm := s.detector.Check(transition.DwellMS, transition.Profile)
		if alarm != anomaly.AlarmNone {
			if plan, allowed := s.breakoutMgr.Plan(transition.ModeKey, alarm == anomaly.AlarmCritical, time.Now()); allowed {
				s.executeBreakoutPlan(ctx, transition.ModeKey, plan)
			}
		}
	}

	pos := [2]int{int(wram.PlayerX), int(wram.PlayerY)}
	plannerWantsMove := false

	action, hasAction := s.planner.Step(tick, path, obs.HPPercent)
	goalID := s.planner.CurrentGoalID()
	s.mu.Lock()
	s.currentGoal = goalID
	s.mu.Unlock()
	if hasAction && action.Kind == goap.ActionNavigateTo {
		plannerWantsMove = true
	}

	s.recordPosition(tick, pos, plannerWantsMove)

	var result dispatcher.ActionResult
	if hasAction {
		result, err = s.dispatch.Dispatch(ctx, s.emu, action, time.Now())
		if err != nil {
			s.log.Warn("dispatch error", zap.Error(err), zap.Uint64("tick", tick))
		}
		if goalID != "" {
			s.planner.ReportActionResult(tick, goalID, result.Success)
		}
	}
	s.recordAction(string(action.Kind), pos != s.lastPos)
	s.recordButtons(result.Buttons)
	deltaX := pos[0] - s.lastPos[0]
	deltaY := pos[1] - s.lastPos[1]
	s.lastPos = pos

	hpDelta := 0.0
	if s.haveLastHP {
		hpDelta = obs.HPPercent - s.lastHPPercent
	}
	s.lastHPPercent = obs.HPPercent
	s.haveLastHP = true

	s.observer.Append(memory.ObserverItem{
		TickID:     tick,
		ActionKind: string(action.Kind),
		HPDelta:    hpDelta,
		PosDeltaX:  deltaX,
		PosDeltaY:  deltaY,
		Success:    result.Success,
	})
	if !s.degraded {
		s.consolidator.MaybeTrigger(tick)
	}

	softlock := failsafe.CheckSoftlock(failsafe.SoftlockInputs{
		PositionHistory: s.positionHistory,
		RecentActions:   s.actionHistory,
		StateChanged:    s.stateChanged,
		ButtonCounts:    s.recentButtonCounts(),
		WinRateDelta:    s.sampleWinRateDelta(tick),
		TicksSinceStart: tick - s.startTick,
	})

	conf, tier, evt := s.coordinator.Evaluate(tick, failsafe.Inputs{
		AIConfidence:     1.0,
		VisionConfidence: visionConf,
		StateConsistency: s.consistency.Ratio(),
	}, softlock, time.Now())

	if s.invariantChecker != nil {
		decision := &invariant.Decision{
			TickID:     tick,
			Confidence: conf.Aggregate,
			Tier:       int(tier),
			Reason:     evt.Reason,
			Timestamp:  time.Now(),
			Inputs: map[string]interface{}{
				"ai_confidence":     1.0,
				"vision_confidence": visionConf,
				"state_consistency": s.consistency.Ratio(),
			},
		}
		if err := s.invariantChecker.Validate(decision); err != nil {
			s.log.Error("invariant violation on failsafe decision", zap.Error(err), zap.Uint64("tick", tick))
		}
	}

	s.mu.Lock()
	s.recoveryTier = tier.String()
	s.lastConfidence = conf.Aggregate
	if evt.Kind != "" {
		s.lastEvent = evt.Kind + ":" + evt.Reason
	}
	s.mu.Unlock()

	s.handleRecoveryTier(ctx, tick, tier, evt, modeKey)

	if s.cfg.SnapshotInterval > 0 && tick%s.cfg.SnapshotInterval == 0 {
		if blob, err := s.emu.SaveState(); err == nil {
			s.snapStore.WriteAsync(tick, snapshot.ReasonPeriodic, fmt.Sprintf("%x", screen.Hash()), blob)
		}
	}

	elapsed := time.Since(start)
	s.mu.Lock()
	s.lastTickMS = float64(elapsed.Microseconds()) / 1000.0
	if elapsed > s.cfg.TickBudget {
		s.overBudgetRun++
		if s.overBudgetRun >= s.cfg.OverBudgetForDegrade && !s.degraded {
			s.degraded = true
			s.log.Warn("entering degraded mode: sustained over-budget ticks", zap.Int("run", s.overBudgetRun))
		}
	} else {
		s.overBudgetRun = 0
		s.degraded = false
	}
	s.mu.Unlock()
}

// handleRecoveryTier acts on the failsafe ladder's current rung. Reactive
// interrupts are already serviced by the planner's reactive checks each
// tick; this handles the tiers that require scheduler-level action.
func (s *Scheduler) handleRecoveryTier(ctx context.Context, tick uint64, tier failsafe.RecoveryTier, evt failsafe.Event, modeKey string) {
	switch tier {
	case failsafe.RecoveryNone, failsafe.RecoveryReactiveInterrupt:
		return
	case failsafe.RecoveryForcedBreakout:
		if plan, allowed := s.breakoutMgr.Plan(modeKey, true, time.Now()); allowed {
			s.executeBreakoutPlan(ctx, modeKey, plan)
		}
	case failsafe.RecoveryLoadSnapshot:
		if blob, err := s.emu.SaveState(); err == nil {
			s.snapStore.WriteNamedSync(tick, snapshot.ReasonPreRecovery, "pre-recovery", "", blob)
		}
		blob, _, err := s.snapStore.LoadLatestRing()
		if err != nil {
			s.log.Warn("load snapshot recovery failed, no ring snapshot available", zap.Error(err))
			return
		}
		if err := s.emu.LoadState(blob); err != nil {
			s.log.Error("snapshot load failed", zap.Error(err))
			return
		}
		s.coordinator.Resolved()
	case failsafe.RecoveryGracefulShutdown:
		s.log.Error("failsafe ladder reached graceful shutdown", zap.String("reason", evt.Reason))
		s.RequestStop()
	}
}

func (s *Scheduler) executeBreakoutPlan(ctx context.Context, modeKey string, plan *breakout.Plan) {
	if plan.LoadSnapshot != "" {
		blob, _, err := s.snapStore.LoadNamed(plan.LoadSnapshot)
		if err != nil {
			s.log.Warn("breakout snapshot load failed", zap.Error(err), zap.String("name", plan.LoadSnapshot))
			s.breakoutMgr.RecordOutcome(modeKey, plan.Tier, false)
			return
		}
		if err := s.emu.LoadState(blob); err != nil {
			s.log.Error("breakout snapshot restore failed", zap.Error(err))
			s.breakoutMgr.RecordOutcome(modeKey, plan.Tier, false)
			return
		}
		s.breakoutMgr.RecordOutcome(modeKey, plan.Tier, true)
		return
	}

	for _, press := range plan.Presses {
		if ctx.Err() != nil {
			return
		}
		if err := s.emu.Press(press.Button, press.HoldMS); err != nil {
			s.log.Warn("breakout press failed", zap.Error(err))
			s.breakoutMgr.RecordOutcome(modeKey, plan.Tier, false)
			return
		}
	}
	s.breakoutMgr.RecordOutcome(modeKey, plan.Tier, true)
}

// sampleWinRateDelta records the Strategist's current aggregate win rate
// into a ring buffer sized to failsafe.ZeroProgressWindow() and returns the
// movement since the sample recorded exactly one window ago — the signal
// the zero-progress softlock detector watches for stagnation.
func (s *Scheduler) sampleWinRateDelta(tick uint64) float64 {
	if s.strategist == nil {
		return 0
	}
	window := failsafe.ZeroProgressWindow()
	if s.winRateHistory == nil {
		s.winRateHistory = make([]float64, window)
	}
	current := s.strategist.AggregateWinRate()
	idx := tick % window
	delta := 0.0
	if tick >= window {
		delta = current - s.winRateHistory[idx]
	}
	s.winRateHistory[idx] = current
	return delta
}

func (s *Scheduler) recordPosition(tick uint64, pos [2]int, wantsMovement bool) {
	s.positionHistory = append(s.positionHistory, failsafe.PositionSample{
		Tick: tick, X: pos[0], Y: pos[1], PlannerWantsMovement: wantsMovement,
	})
	if len(s.positionHistory) > s.cfg.PositionHistoryLen {
		s.positionHistory = s.positionHistory[len(s.positionHistory)-s.cfg.PositionHistoryLen:]
	}
}

func (s *Scheduler) recordAction(kind string, moved bool) {
	s.actionHistory = append(s.actionHistory, kind)
	s.stateChanged = append(s.stateChanged, moved)
	if len(s.actionHistory) > s.cfg.ActionHistoryLen*4 {
		s.actionHistory = s.actionHistory[len(s.actionHistory)-s.cfg.ActionHistoryLen*4:]
		s.stateChanged = s.stateChanged[len(s.stateChanged)-s.cfg.ActionHistoryLen*4:]
	}
}

// recordButtons appends the names of buttons pressed this tick onto the
// rolling history used by recentButtonCounts, trimmed to the same window
// recordAction keeps for action/state history.
func (s *Scheduler) recordButtons(buttons []emulator.Button) {
	for _, b := range buttons {
		s.buttonHistory = append(s.buttonHistory, string(b))
	}
	if max := s.cfg.ActionHistoryLen * 4; len(s.buttonHistory) > max {
		s.buttonHistory = s.buttonHistory[len(s.buttonHistory)-max:]
	}
}

// recentButtonCounts tallies the last cfg.ActionHistoryLen entries of
// buttonHistory into a ButtonCounts distribution, so the softlock detector
// scores entropy over recent presses rather than an all-time accumulator.
func (s *Scheduler) recentButtonCounts() anomaly.ButtonCounts {
	var counts anomaly.ButtonCounts
	window := s.cfg.ActionHistoryLen
	if window <= 0 || window > len(s.buttonHistory) {
		window = len(s.buttonHistory)
	}
	for _, b := range s.buttonHistory[len(s.buttonHistory)-window:] {
		counts.RecordButton(b)
	}
	return counts
}
