// Package observability — metrics.go
//
// Prometheus metrics for the pokeagent tick pipeline.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: pokeagent_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Mode/state labels use the dotted category.leaf string (bounded by
//     the fixed HSM state table, under 100 values).
//   - Tick ID is NOT used as a label (unbounded cardinality).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for pokeagent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Tick loop ────────────────────────────────────────────────────────────

	// TickDurationSeconds records wall-clock tick latency.
	TickDurationSeconds prometheus.Histogram

	// TicksOverBudgetTotal counts ticks that exceeded the latency budget.
	TicksOverBudgetTotal prometheus.Counter

	// DegradedMode is 1 while the scheduler is in degraded mode.
	DegradedMode prometheus.Gauge

	// ─── HSM ──────────────────────────────────────────────────────────────────

	// ModeTransitionsTotal counts HSM leaf state transitions.
	// Labels: from_mode, to_mode
	ModeTransitionsTotal *prometheus.CounterVec

	// AmbiguousTicksTotal counts ticks classified with low confidence.
	AmbiguousTicksTotal prometheus.Counter

	// ─── Duration / anomaly ───────────────────────────────────────────────────

	// DwellMSHistogram records observed dwell times per mode.
	// Labels: mode
	DwellMSHistogram *prometheus.HistogramVec

	// AnomalyAlarmsTotal counts anomaly detector alarms.
	// Labels: level (warn, critical)
	AnomalyAlarmsTotal *prometheus.CounterVec

	// ─── Break-out escalation ─────────────────────────────────────────────────

	// BreakoutTierInvocationsTotal counts break-out plan invocations.
	// Labels: tier
	BreakoutTierInvocationsTotal *prometheus.CounterVec

	// BreakoutBudgetRemaining is the current token bucket level.
	BreakoutBudgetRemaining prometheus.Gauge

	// ─── Memory ───────────────────────────────────────────────────────────────

	// TacticianPatternsTotal is the current number of stored patterns.
	TacticianPatternsTotal prometheus.Gauge

	// ConsolidationsDroppedTotal counts dropped consolidation signals.
	ConsolidationsDroppedTotal prometheus.Counter

	// ─── GOAP ─────────────────────────────────────────────────────────────────

	// GoalOutcomesTotal counts goal attempt outcomes.
	// Labels: goal_id, outcome (success, failure)
	GoalOutcomesTotal *prometheus.CounterVec

	// ─── Failsafe ─────────────────────────────────────────────────────────────

	// RecoveryTierTotal counts failsafe recovery ladder activations.
	// Labels: tier
	RecoveryTierTotal *prometheus.CounterVec

	// ConfidenceScore records the aggregate confidence score distribution.
	ConfidenceScore prometheus.Histogram

	// ─── Dispatcher ───────────────────────────────────────────────────────────

	// ButtonPressesTotal counts button presses sent to the emulator.
	// Labels: button
	ButtonPressesTotal *prometheus.CounterVec

	// DispatchRejectionsTotal counts rejected dispatch attempts.
	// Labels: reason (cooldown, disallowed_chord)
	DispatchRejectionsTotal *prometheus.CounterVec

	// ─── Snapshot ─────────────────────────────────────────────────────────────

	// SnapshotWritesTotal counts snapshot writes.
	// Labels: reason
	SnapshotWritesTotal *prometheus.CounterVec

	// SnapshotWriteQueueDropsTotal counts dropped async snapshot writes.
	SnapshotWriteQueueDropsTotal prometheus.Counter

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all pokeagent Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pokeagent",
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one scheduler tick.",
			Buckets:   []float64{0.002, 0.004, 0.008, 0.016, 0.024, 0.033, 0.050, 0.100, 0.250},
		}),

		TicksOverBudgetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "tick",
			Name:      "over_budget_total",
			Help:      "Total ticks whose duration exceeded the configured latency budget.",
		}),

		DegradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pokeagent",
			Subsystem: "tick",
			Name:      "degraded_mode",
			Help:      "1 while the scheduler has entered degraded mode, 0 otherwise.",
		}),

		ModeTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "hsm",
			Name:      "mode_transitions_total",
			Help:      "Total HSM leaf state transitions, by from_mode and to_mode.",
		}, []string{"from_mode", "to_mode"}),

		AmbiguousTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "hsm",
			Name:      "ambiguous_ticks_total",
			Help:      "Total ticks classified below the confidence threshold.",
		}),

		DwellMSHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pokeagent",
			Subsystem: "duration",
			Name:      "dwell_milliseconds",
			Help:      "Observed dwell time per HSM mode, in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}, []string{"mode"}),

		AnomalyAlarmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "anomaly",
			Name:      "alarms_total",
			Help:      "Total anomaly alarms raised, by level.",
		}, []string{"level"}),

		BreakoutTierInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "breakout",
			Name:      "tier_invocations_total",
			Help:      "Total break-out plan invocations, by tier.",
		}, []string{"tier"}),

		BreakoutBudgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pokeagent",
			Subsystem: "breakout",
			Name:      "budget_remaining",
			Help:      "Current break-out token bucket level.",
		}),

		TacticianPatternsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pokeagent",
			Subsystem: "memory",
			Name:      "tactician_patterns",
			Help:      "Current number of stored Tactician patterns.",
		}),

		ConsolidationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "memory",
			Name:      "consolidations_dropped_total",
			Help:      "Total consolidation signals dropped due to a full queue.",
		}),

		GoalOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "goap",
			Name:      "goal_outcomes_total",
			Help:      "Total goal attempt outcomes, by goal_id and outcome.",
		}, []string{"goal_id", "outcome"}),

		RecoveryTierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "failsafe",
			Name:      "recovery_tier_total",
			Help:      "Total failsafe recovery ladder activations, by tier.",
		}, []string{"tier"}),

		ConfidenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pokeagent",
			Subsystem: "failsafe",
			Name:      "confidence_score",
			Help:      "Distribution of the aggregate per-tick confidence score.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.35, 0.5, 0.65, 0.8, 0.9, 1.0},
		}),

		ButtonPressesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "dispatcher",
			Name:      "button_presses_total",
			Help:      "Total button presses sent to the emulator, by button.",
		}, []string{"button"}),

		DispatchRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "dispatcher",
			Name:      "rejections_total",
			Help:      "Total rejected dispatch attempts, by reason.",
		}, []string{"reason"}),

		SnapshotWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "snapshot",
			Name:      "writes_total",
			Help:      "Total snapshot writes, by reason.",
		}, []string{"reason"}),

		SnapshotWriteQueueDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pokeagent",
			Subsystem: "snapshot",
			Name:      "write_queue_drops_total",
			Help:      "Total asynchronous snapshot writes dropped due to a full queue.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pokeagent",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.TickDurationSeconds,
		m.TicksOverBudgetTotal,
		m.DegradedMode,
		m.ModeTransitionsTotal,
		m.AmbiguousTicksTotal,
		m.DwellMSHistogram,
		m.AnomalyAlarmsTotal,
		m.BreakoutTierInvocationsTotal,
		m.BreakoutBudgetRemaining,
		m.TacticianPatternsTotal,
		m.ConsolidationsDroppedTotal,
		m.GoalOutcomesTotal,
		m.RecoveryTierTotal,
		m.ConfidenceScore,
		m.ButtonPressesTotal,
		m.DispatchRejectionsTotal,
		m.SnapshotWritesTotal,
		m.SnapshotWriteQueueDropsTotal,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
