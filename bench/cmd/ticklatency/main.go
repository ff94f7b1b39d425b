// Package bench — ticklatency/main.go
//
// Scheduler tick latency measurement tool.
//
// Measures the wall-clock time of scheduler.Scheduler.StepOnce across a
// full pipeline pass (emulator step, perception, HSM classification,
// duration tracking, anomaly detection, planning, failsafe evaluation,
// dispatch) against the hard-real-time per-tick budget the agent is
// expected to hold.
//
// Method:
//  1. Wires the full pipeline against stub emulator/perception providers
//     and a temporary BoltDB file.
//  2. Steps the scheduler iterations times, recording each tick's latency
//     with time.Now() immediately before and after StepOnce.
//  3. Results are written to a CSV file.
//
// The measurement includes every subsystem on the hot path. It does NOT
// include process startup (config load, BoltDB open) or shutdown.
//
// Output CSV columns:
//
//	tick, latency_us, over_budget (true/false)
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pokeloop/pokeagent/internal/anomaly"
	"github.com/pokeloop/pokeagent/internal/breakout"
	"github.com/pokeloop/pokeagent/internal/budget"
	"github.com/pokeloop/pokeagent/internal/dispatcher"
	"github.com/pokeloop/pokeagent/internal/duration"
	"github.com/pokeloop/pokeagent/internal/emulator"
	"github.com/pokeloop/pokeagent/internal/failsafe"
	"github.com/pokeloop/pokeagent/internal/goap"
	"github.com/pokeloop/pokeagent/internal/hsm"
	"github.com/pokeloop/pokeagent/internal/invariant"
	"github.com/pokeloop/pokeagent/internal/memory"
	"github.com/pokeloop/pokeagent/internal/perception"
	"github.com/pokeloop/pokeagent/internal/scheduler"
	"github.com/pokeloop/pokeagent/internal/snapshot"
	"github.com/pokeloop/pokeagent/internal/storage"
)

func main() {
	iterations := flag.Int("iterations", 10000, "Number of ticks to measure")
	outputFile := flag.String("output", "tick_latency_raw.csv", "Output CSV file path")
	budgetMS := flag.Float64("budget-ms", 16.0, "Per-tick latency budget in milliseconds")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter between ticks.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sched, cleanup, err := buildScheduler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build scheduler: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"tick", "latency_us", "over_budget"})

	budgetDur := time.Duration(*budgetMS * float64(time.Millisecond))
	ctx := context.Background()

	var overBudget int
	histBucket := make([]int, 50001) // 0-50000us

	for i := 0; i < *iterations; i++ {
		latency := sched.StepOnce(ctx)

		over := latency > budgetDur
		if over {
			overBudget++
		}

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(histBucket) {
			histBucket[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(over),
		})
	}

	p50, p95, p99 := computePercentiles(histBucket, *iterations)

	fmt.Printf("Tick Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Over budget (%gms): %d/%d (%.1f%%)\n", *budgetMS, overBudget, *iterations,
		float64(overBudget)/float64(*iterations)*100)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > int(budgetDur.Microseconds()) {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds %gms budget\n", p99, *budgetMS)
		os.Exit(1)
	}
}

// buildScheduler wires the full pipeline against stub providers, matching
// cmd/pokeagent/main.go's construction order, so this benchmark measures
// the real subsystem chain rather than a synthetic stand-in.
func buildScheduler() (*scheduler.Scheduler, func(), error) {
	dbPath, err := os.MkdirTemp("", "ticklatency-bolt")
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(dbPath + "/bench.db")
	if err != nil {
		os.RemoveAll(dbPath)
		return nil, nil, err
	}

	blobDir, err := os.MkdirTemp("", "ticklatency-blobs")
	if err != nil {
		db.Close()
		os.RemoveAll(dbPath)
		return nil, nil, err
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(dbPath)
		os.RemoveAll(blobDir)
	}

	log := zap.NewNop()

	emu := emulator.NewStubPort()
	prov := perception.NewStubProvider()
	hsmMachine := hsm.NewMachine(0.4, 10)
	durations := duration.NewTracker(0.3, 30, 5000)
	detector, err := anomaly.NewDetector("zratio", anomaly.DefaultThresholds(), 30)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	breakoutBudget := budget.New(100, 60*time.Second)
	breakoutMgr := breakout.NewManager(breakoutBudget, 2*time.Second)
	observer := memory.NewObserver()
	strategist := memory.NewStrategist()
	tactician := memory.NewTactician(db)
	consolidator := memory.NewConsolidator(observer, strategist, tactician, 1000, log)
	goalRegistry := goap.NewRegistry()
	planner := goap.NewPlanner(goalRegistry, goap.Config{
		Gamma:             0.95,
		MaxRepairAttempts: 3,
		StrategicInterval: 1000,
		TacticalInterval:  30,
	})
	consistency := failsafe.NewConsistencyTracker(20)
	coordinator := failsafe.NewCoordinator(failsafe.DefaultWeights(), failsafe.DefaultThresholds())
	dispatchBudget := budget.New(100, 60*time.Second)
	dispatch := dispatcher.NewDispatcher(dispatchBudget)
	snapStore, err := snapshot.NewStore(db, blobDir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	invariantChecker := invariant.NewChecker(log, false)

	cfg := scheduler.DefaultConfig()
	sched := scheduler.New(emu, prov, hsmMachine, durations, detector, breakoutMgr,
		observer, consolidator, strategist, planner, consistency, coordinator, dispatch, snapStore,
		invariantChecker, log, cfg)
	return sched, cleanup, nil
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
