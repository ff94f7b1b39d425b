// Package main — cmd/pokeagent/main.go
//
// pokeagent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/pokeagent/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open BoltDB storage.
//  4. Construct the emulator port, perception provider, and every
//     pipeline subsystem (HSM, duration tracker, anomaly detector,
//     breakout manager, tri-tier memory, GOAP planner, failsafe
//     coordinator, dispatcher, snapshot store, invariant checker).
//  5. Start the Prometheus metrics server.
//  6. Start the memory consolidator and snapshot writer background loops.
//  7. Start the control socket server.
//  8. Start the tick scheduler.
//  9. Register SIGHUP handler for config hot-reload.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Request the scheduler to stop at the next tick boundary.
//  2. Cancel the root context (propagates to all background goroutines).
//  3. Close BoltDB.
//  4. Flush the logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pokeloop/pokeagent/internal/anomaly"
	"github.com/pokeloop/pokeagent/internal/breakout"
	"github.com/pokeloop/pokeagent/internal/budget"
	"github.com/pokeloop/pokeagent/internal/config"
	"github.com/pokeloop/pokeagent/internal/control"
	"github.com/pokeloop/pokeagent/internal/dispatcher"
	"github.com/pokeloop/pokeagent/internal/duration"
	"github.com/pokeloop/pokeagent/internal/emulator"
	"github.com/pokeloop/pokeagent/internal/failsafe"
	"github.com/pokeloop/pokeagent/internal/goap"
	"github.com/pokeloop/pokeagent/internal/hsm"
	"github.com/pokeloop/pokeagent/internal/invariant"
	"github.com/pokeloop/pokeagent/internal/memory"
	"github.com/pokeloop/pokeagent/internal/observability"
	"github.com/pokeloop/pokeagent/internal/perception"
	"github.com/pokeloop/pokeagent/internal/scheduler"
	"github.com/pokeloop/pokeagent/internal/snapshot"
	"github.com/pokeloop/pokeagent/internal/storage"
	"github.com/pokeloop/pokeagent/internal/telemetry"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/pokeagent/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("pokeagent %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, logLevel, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("pokeagent starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("agent_id", cfg.AgentID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open BoltDB ───────────────────────────────────────────────────
	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err),
			zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	// ── Step 4: Construct pipeline subsystems ─────────────────────────────────
	emu := emulator.NewStubPort()
	provider := perception.NewStubProvider()

	hsmMachine := hsm.NewMachine(cfg.HSM.ConfidenceFloor, cfg.HSM.MaxAmbiguousTicks)

	durations := duration.NewTracker(cfg.Duration.EWMAAlpha, cfg.Duration.MinSamples, cfg.Duration.ClipMS)

	detector, err := anomaly.NewDetector(cfg.Anomaly.Scorer, anomaly.Thresholds{
		WarnZ:         cfg.Anomaly.WarnZ,
		CriticalZ:     cfg.Anomaly.CriticalZ,
		WarnRatio:     cfg.Anomaly.WarnRatio,
		CriticalRatio: cfg.Anomaly.CriticalRatio,
	}, cfg.Duration.MinSamples)
	if err != nil {
		log.Fatal("anomaly detector construction failed", zap.Error(err))
	}

	breakoutBudget := budget.New(cfg.Breakout.BudgetCapacity, cfg.Breakout.BudgetRefillPeriod)
	defer breakoutBudget.Close()
	breakoutMgr := breakout.NewManager(breakoutBudget, cfg.Breakout.Cooldown)

	observer := memory.NewObserver()
	strategist := memory.NewStrategist()
	tactician := memory.NewTactician(db)
	consolidator := memory.NewConsolidator(observer, strategist, tactician, cfg.Memory.ConsolidationInterval, log)

	goalRegistry := goap.NewRegistry()
	planner := goap.NewPlanner(goalRegistry, goap.Config{
		Gamma:             cfg.GOAP.Gamma,
		MaxRepairAttempts: cfg.GOAP.MaxRepairAttempts,
		StrategicInterval: cfg.GOAP.StrategicInterval,
		TacticalInterval:  cfg.GOAP.TacticalInterval,
	})

	consistency := failsafe.NewConsistencyTracker(cfg.Failsafe.ConsistencyWindow)
	coordinator := failsafe.NewCoordinator(
		failsafe.Weights{AI: cfg.Failsafe.WeightAI, Vision: cfg.Failsafe.WeightVision, State: cfg.Failsafe.WeightState},
		failsafe.Thresholds{LowConfidence: cfg.Failsafe.LowConfidence},
	)

	dispatchBudget := budget.New(cfg.Breakout.BudgetCapacity, cfg.Breakout.BudgetRefillPeriod)
	defer dispatchBudget.Close()
	dispatch := dispatcher.NewDispatcher(dispatchBudget)

	snapStore, err := snapshot.NewStore(db, cfg.Snapshot.BlobDir)
	if err != nil {
		log.Fatal("snapshot store construction failed", zap.Error(err))
	}

	invariantChecker := invariant.NewChecker(log, false)

	if err := telemetry.Init(cfg.Observability.SentryDSN, snapStore.RunID(), config.Version, log); err != nil {
		log.Warn("telemetry init failed — continuing without crash reporting", zap.Error(err))
	}
	defer telemetry.Flush()

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickBudget = cfg.Agent.TickBudget
	schedCfg.OverBudgetForDegrade = cfg.Agent.OverBudgetForDegrade
	schedCfg.SnapshotInterval = cfg.Snapshot.RingInterval

	sched := scheduler.New(
		emu, provider, hsmMachine, durations, detector, breakoutMgr,
		observer, consolidator, strategist, planner, consistency, coordinator,
		dispatch, snapStore, invariantChecker, log, schedCfg,
	)

	// Metrics, consolidator, snapshot writer, and control socket all run in
	// the background; a group is simpler to reason about at shutdown than a
	// handful of loose `go func()` calls, and Wait (called during shutdown)
	// reports the first error any of them returned.
	bg, bgCtx := errgroup.WithContext(ctx)

	// ── Step 5: Prometheus metrics ────────────────────────────────────────────
	var metrics *observability.Metrics
	if !cfg.Agent.LightweightMode {
		metrics = observability.NewMetrics()
		bg.Go(func() error {
			if err := metrics.ServeMetrics(bgCtx, cfg.Observability.MetricsAddr); err != nil {
				log.Error("metrics server error", zap.Error(err))
				return err
			}
			return nil
		})
		log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))
	} else {
		log.Info("lightweight mode: metrics server disabled")
	}

	// ── Step 6: Background loops ──────────────────────────────────────────────
	bg.Go(func() error { consolidator.Run(bgCtx); return nil })
	bg.Go(func() error { snapStore.Run(bgCtx); return nil })
	log.Info("memory consolidator and snapshot writer started", zap.String("run_id", snapStore.RunID()))

	// ── Step 7: Control socket ─────────────────────────────────────────────────
	if cfg.Control.Enabled {
		ctrlSrv := control.NewServer(cfg.Control.SocketPath, sched, log)
		bg.Go(func() error {
			if err := ctrlSrv.ListenAndServe(bgCtx); err != nil {
				log.Error("control server error", zap.Error(err))
				return err
			}
			return nil
		})
		log.Info("control socket started", zap.String("path", cfg.Control.SocketPath))
	} else {
		log.Info("control socket disabled")
	}

	// ── Step 8: Tick scheduler ─────────────────────────────────────────────────
	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()
	log.Info("tick scheduler started", zap.Duration("tick_budget", schedCfg.TickBudget))

	// ── Step 9: SIGHUP hot-reload ──────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}

			// Destructive settings (ROM path, DB path, control socket) require
			// a restart; only threshold/weight/log-level fields below are
			// applied to the already-running subsystems.
			hsmMachine.SetParams(newCfg.HSM.ConfidenceFloor, newCfg.HSM.MaxAmbiguousTicks)
			durations.SetParams(newCfg.Duration.EWMAAlpha, newCfg.Duration.MinSamples, newCfg.Duration.ClipMS)
			detector.SetThresholds(anomaly.Thresholds{
				WarnZ:         newCfg.Anomaly.WarnZ,
				CriticalZ:     newCfg.Anomaly.CriticalZ,
				WarnRatio:     newCfg.Anomaly.WarnRatio,
				CriticalRatio: newCfg.Anomaly.CriticalRatio,
			})
			coordinator.SetParams(
				failsafe.Weights{AI: newCfg.Failsafe.WeightAI, Vision: newCfg.Failsafe.WeightVision, State: newCfg.Failsafe.WeightState},
				failsafe.Thresholds{LowConfidence: newCfg.Failsafe.LowConfidence},
			)
			if newZapLevel, err := zapcore.ParseLevel(newCfg.Observability.LogLevel); err == nil {
				logLevel.SetLevel(newZapLevel)
			} else {
				log.Warn("config hot-reload: invalid log level, leaving current level in place",
					zap.String("requested", newCfg.Observability.LogLevel))
			}

			cfg = newCfg
			log.Info("config hot-reload applied",
				zap.Float64("confidence_floor", cfg.HSM.ConfidenceFloor),
				zap.String("log_level", cfg.Observability.LogLevel))
		}
	}()

	// ── Step 10: Wait for shutdown signal or scheduler exit ───────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	schedulerExitedFirst := false
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		sched.RequestStop()
	case err := <-schedDone:
		schedulerExitedFirst = true
		if err != nil {
			log.Error("scheduler exited with error", zap.Error(err))
		} else {
			log.Info("scheduler exited cleanly")
		}
	}

	cancel()

	if !schedulerExitedFirst {
		shutdownTimer := time.NewTimer(5 * time.Second)
		defer shutdownTimer.Stop()
		select {
		case <-shutdownTimer.C:
			log.Warn("shutdown drain timeout — forcing exit")
		case <-schedDone:
			log.Info("tick scheduler drained")
		}
	}

	if err := bg.Wait(); err != nil {
		log.Warn("a background component exited with an error", zap.Error(err))
	}

	log.Info("pokeagent shutdown complete")
}

// buildLogger constructs a zap.Logger with the given level and format. The
// returned AtomicLevel lets the SIGHUP handler change the live level
// without rebuilding the logger.
func buildLogger(level, format string) (*zap.Logger, zap.AtomicLevel, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	return logger, cfg.Level, err
}
