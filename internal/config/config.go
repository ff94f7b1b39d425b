// Package config provides configuration loading, validation, and hot-reload
// for the pokeagent process.
//
// Configuration file: /etc/pokeagent/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only (thresholds, weights, log level).
//   - Destructive changes (DB path, ROM path, control socket) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., alpha ∈ [0,1], weights ≥ 0).
//   - File paths must be absolute.
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for pokeagent.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// AgentID identifies this agent instance in logs and snapshot metadata.
	// Default: hostname.
	AgentID string `yaml:"agent_id"`

	Agent         AgentConfig         `yaml:"agent"`
	HSM           HSMConfig           `yaml:"hsm"`
	Duration      DurationConfig      `yaml:"duration"`
	Anomaly       AnomalyConfig       `yaml:"anomaly"`
	Breakout      BreakoutConfig      `yaml:"breakout"`
	Memory        MemoryConfig        `yaml:"memory"`
	GOAP          GOAPConfig          `yaml:"goap"`
	Failsafe      FailsafeConfig      `yaml:"failsafe"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Control       ControlConfig       `yaml:"control"`
}

// AgentConfig holds process-level operational parameters.
type AgentConfig struct {
	// ROMPath is the path to the Game Boy ROM image the emulator loads.
	ROMPath string `yaml:"rom_path"`

	// TickBudget is the soft per-tick latency budget. Default: 16ms.
	TickBudget time.Duration `yaml:"tick_budget"`

	// OverBudgetForDegrade is the number of consecutive over-budget ticks
	// before the scheduler enters degraded mode. Default: 3.
	OverBudgetForDegrade int `yaml:"over_budget_for_degrade"`

	// LightweightMode disables Prometheus metrics to reduce resource
	// consumption on constrained hosts. Default: false.
	LightweightMode bool `yaml:"lightweight_mode"`
}

// HSMConfig holds hierarchical state machine parameters.
type HSMConfig struct {
	// ConfidenceFloor (tau) is the minimum classification confidence before
	// a tick is counted toward the ambiguous-state run. Range [0,1].
	// Default: 0.5.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// MaxAmbiguousTicks is the number of consecutive low-confidence ticks
	// before the machine forces EMERGENCY.AMBIGUOUS_STATE. Default: 3.
	MaxAmbiguousTicks int `yaml:"max_ambiguous_ticks"`
}

// DurationConfig holds ModeDurationTracker learning parameters.
type DurationConfig struct {
	// EWMAAlpha is the exponential smoothing factor for mean/variance
	// updates. Range [0,1]. Default: 0.3.
	EWMAAlpha float64 `yaml:"ewma_alpha"`

	// MinSamples (N_MIN) is the number of samples before a profile is
	// considered warm enough to drive anomaly detection. Default: 30.
	MinSamples uint64 `yaml:"min_samples"`

	// ClipMS is an absolute ceiling applied to a dwell sample before it is
	// folded into the profile. Once a profile has a p95, the effective
	// ceiling is the larger of ClipMS and 5×p95. Default: 0 (only the
	// 5×p95 clip applies).
	ClipMS float64 `yaml:"clip_ms"`
}

// AnomalyConfig holds anomaly detector thresholds.
type AnomalyConfig struct {
	// Scorer selects the registered anomaly.Scorer implementation.
	// Default: "zratio".
	Scorer string `yaml:"scorer"`

	WarnZ         float64 `yaml:"warn_z"`
	CriticalZ     float64 `yaml:"critical_z"`
	WarnRatio     float64 `yaml:"warn_ratio"`
	CriticalRatio float64 `yaml:"critical_ratio"`
}

// BreakoutConfig holds BreakoutManager parameters.
type BreakoutConfig struct {
	// Cooldown is the minimum time between tier escalations for the same
	// mode. Default: 2s.
	Cooldown time.Duration `yaml:"cooldown"`

	// BudgetCapacity is the token bucket capacity shared by all tiers.
	// Default: 100.
	BudgetCapacity int `yaml:"budget_capacity"`

	// BudgetRefillPeriod is the interval between full bucket refills.
	// Default: 60s.
	BudgetRefillPeriod time.Duration `yaml:"budget_refill_period"`
}

// MemoryConfig holds TriTierMemory / Consolidator parameters.
type MemoryConfig struct {
	// ConsolidationInterval is the tick cadence of Consolidator passes.
	// Default: 1000.
	ConsolidationInterval uint64 `yaml:"consolidation_interval"`

	// StrategistCheckpointPath is where the Strategist's session-scoped
	// state is checkpointed on every consolidation pass.
	StrategistCheckpointPath string `yaml:"strategist_checkpoint_path"`
}

// GOAPConfig holds GOAPPlanner parameters.
type GOAPConfig struct {
	// Gamma is the temporal discount base. Default: 0.95.
	Gamma float64 `yaml:"gamma"`

	// MaxRepairAttempts (R) bounds local failure repair. Default: 3.
	MaxRepairAttempts int `yaml:"max_repair_attempts"`

	// StrategicInterval, TacticalInterval are the re-evaluation cadences,
	// in ticks. Defaults: 1000, 30.
	StrategicInterval uint64 `yaml:"strategic_interval"`
	TacticalInterval  uint64 `yaml:"tactical_interval"`
}

// FailsafeConfig holds FailsafeCoordinator weights and thresholds.
type FailsafeConfig struct {
	WeightAI    float64 `yaml:"weight_ai"`
	WeightVision float64 `yaml:"weight_vision"`
	WeightState float64 `yaml:"weight_state"`

	// LowConfidence is the aggregate confidence floor below which the
	// recovery ladder activates. Default: 0.35.
	LowConfidence float64 `yaml:"low_confidence"`

	// ConsistencyWindow is the number of recent ticks the
	// ConsistencyTracker evaluates. Default: 20.
	ConsistencyWindow int `yaml:"consistency_window"`
}

// SnapshotConfig holds SnapshotStore parameters.
type SnapshotConfig struct {
	// BlobDir is the directory emulator save-state blobs are written to.
	BlobDir string `yaml:"blob_dir"`

	// RingInterval is the tick cadence of periodic ring-buffer snapshots.
	// Default: 5000.
	RingInterval uint64 `yaml:"ring_interval"`
}

// StorageConfig holds BoltDB parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	DBPath string `yaml:"db_path"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// SentryDSN enables crash reporting for recovered tick panics when set.
	// Empty (the default) disables it entirely.
	SentryDSN string `yaml:"sentry_dsn"`
}

// ControlConfig holds the operator control Unix socket parameters.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		AgentID:       hostname,
		Agent: AgentConfig{
			ROMPath:              "/etc/pokeagent/rom.gb",
			TickBudget:           16 * time.Millisecond,
			OverBudgetForDegrade: 3,
		},
		HSM: HSMConfig{
			ConfidenceFloor:   0.5,
			MaxAmbiguousTicks: 3,
		},
		Duration: DurationConfig{
			EWMAAlpha:  0.3,
			MinSamples: 30,
			ClipMS:     0,
		},
		Anomaly: AnomalyConfig{
			Scorer:        "zratio",
			WarnZ:         2.0,
			CriticalZ:     3.0,
			WarnRatio:     1.5,
			CriticalRatio: 2.0,
		},
		Breakout: BreakoutConfig{
			Cooldown:           2 * time.Second,
			BudgetCapacity:     100,
			BudgetRefillPeriod: 60 * time.Second,
		},
		Memory: MemoryConfig{
			ConsolidationInterval:    1000,
			StrategistCheckpointPath: "/var/lib/pokeagent/strategist.json",
		},
		GOAP: GOAPConfig{
			Gamma:             0.95,
			MaxRepairAttempts: 3,
			StrategicInterval: 1000,
			TacticalInterval:  30,
		},
		Failsafe: FailsafeConfig{
			WeightAI:          0.4,
			WeightVision:      0.35,
			WeightState:       0.25,
			LowConfidence:     0.35,
			ConsistencyWindow: 20,
		},
		Snapshot: SnapshotConfig{
			BlobDir:      "/var/lib/pokeagent/snapshots",
			RingInterval: 5000,
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: "/run/pokeagent/control.sock",
		},
	}
}

// DefaultDBPath is the default BoltDB file location.
const DefaultDBPath = "/var/lib/pokeagent/pokeagent.db"

// Load reads and validates a config file from the given path.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.AgentID == "" {
		errs = append(errs, "agent_id must not be empty")
	}
	if cfg.Agent.ROMPath == "" {
		errs = append(errs, "agent.rom_path must not be empty")
	}
	if cfg.Agent.TickBudget < time.Millisecond {
		errs = append(errs, fmt.Sprintf("agent.tick_budget must be >= 1ms, got %s", cfg.Agent.TickBudget))
	}
	if cfg.Agent.OverBudgetForDegrade < 1 {
		errs = append(errs, "agent.over_budget_for_degrade must be >= 1")
	}
	if cfg.HSM.ConfidenceFloor < 0.0 || cfg.HSM.ConfidenceFloor > 1.0 {
		errs = append(errs, fmt.Sprintf("hsm.confidence_floor must be in [0.0, 1.0], got %f", cfg.HSM.ConfidenceFloor))
	}
	if cfg.HSM.MaxAmbiguousTicks < 1 {
		errs = append(errs, "hsm.max_ambiguous_ticks must be >= 1")
	}
	if cfg.Duration.EWMAAlpha <= 0.0 || cfg.Duration.EWMAAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("duration.ewma_alpha must be in (0.0, 1.0], got %f", cfg.Duration.EWMAAlpha))
	}
	if cfg.Duration.MinSamples < 1 {
		errs = append(errs, "duration.min_samples must be >= 1")
	}
	if cfg.Anomaly.Scorer == "" {
		errs = append(errs, "anomaly.scorer must not be empty")
	}
	if cfg.Anomaly.WarnZ <= 0 || cfg.Anomaly.CriticalZ <= cfg.Anomaly.WarnZ {
		errs = append(errs, "anomaly.critical_z must be greater than anomaly.warn_z, both > 0")
	}
	if cfg.Breakout.Cooldown < 0 {
		errs = append(errs, "breakout.cooldown must be >= 0")
	}
	if cfg.Breakout.BudgetCapacity < 1 {
		errs = append(errs, fmt.Sprintf("breakout.budget_capacity must be >= 1, got %d", cfg.Breakout.BudgetCapacity))
	}
	if cfg.Breakout.BudgetRefillPeriod < time.Second {
		errs = append(errs, fmt.Sprintf("breakout.budget_refill_period must be >= 1s, got %s", cfg.Breakout.BudgetRefillPeriod))
	}
	if cfg.Memory.ConsolidationInterval < 1 {
		errs = append(errs, "memory.consolidation_interval must be >= 1")
	}
	if cfg.GOAP.Gamma <= 0.0 || cfg.GOAP.Gamma > 1.0 {
		errs = append(errs, fmt.Sprintf("goap.gamma must be in (0.0, 1.0], got %f", cfg.GOAP.Gamma))
	}
	if cfg.GOAP.MaxRepairAttempts < 0 {
		errs = append(errs, "goap.max_repair_attempts must be >= 0")
	}
	w := cfg.Failsafe.WeightAI + cfg.Failsafe.WeightVision + cfg.Failsafe.WeightState
	if cfg.Failsafe.WeightAI < 0 || cfg.Failsafe.WeightVision < 0 || cfg.Failsafe.WeightState < 0 {
		errs = append(errs, "all failsafe weights must be >= 0")
	} else if w < 0.99 || w > 1.01 {
		errs = append(errs, fmt.Sprintf("failsafe weights must sum to ~1.0, got %f", w))
	}
	if cfg.Failsafe.LowConfidence < 0.0 || cfg.Failsafe.LowConfidence > 1.0 {
		errs = append(errs, fmt.Sprintf("failsafe.low_confidence must be in [0.0, 1.0], got %f", cfg.Failsafe.LowConfidence))
	}
	if cfg.Failsafe.ConsistencyWindow < 1 {
		errs = append(errs, "failsafe.consistency_window must be >= 1")
	}
	if cfg.Snapshot.BlobDir == "" {
		errs = append(errs, "snapshot.blob_dir must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	for _, p := range []struct{ name, path string }{
		{"agent.rom_path", cfg.Agent.ROMPath},
		{"snapshot.blob_dir", cfg.Snapshot.BlobDir},
		{"storage.db_path", cfg.Storage.DBPath},
		{"control.socket_path", cfg.Control.SocketPath},
	} {
		if p.path != "" && !filepath.IsAbs(p.path) {
			errs = append(errs, fmt.Sprintf("%s must be an absolute path, got %q", p.name, p.path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
