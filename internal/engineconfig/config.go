// Package engineconfig provides configuration types and defaults for the
// parallel cycle execution engine.
package engineconfig

import (
	"fmt"
	"time"

	"github.com/zjrosen/paracycle/internal/tracing"
)

// Config holds every tunable of the engine.
type Config struct {
	Pool        PoolConfig        `mapstructure:"pool"`
	Conflict    ConflictConfig    `mapstructure:"conflict"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Features    FeatureConfig     `mapstructure:"features"`
	Tracing     tracing.Config    `mapstructure:"tracing"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Strategy         string         `mapstructure:"agent_pool_strategy"` // static, dynamic, burst, balanced
	MinWorkers       int            `mapstructure:"min_workers"`
	MaxWorkers       int            `mapstructure:"max_workers"`
	MinPerType       map[string]int `mapstructure:"min_per_type"`   // per-agent-type floor, falling back to min_workers
	MaxPerType       map[string]int `mapstructure:"max_per_type"`   // per-agent-type ceiling, falling back to max_workers
	LoadBalancing    string         `mapstructure:"load_balancing"` // round_robin, least_loaded, capability_based, priority_weighted
	ScaleUpUtil      float64        `mapstructure:"scale_up_threshold"`
	ScaleDownUtil    float64        `mapstructure:"scale_down_threshold"`
	BurstUtil        float64        `mapstructure:"burst_threshold"`
	HealthCheck      time.Duration  `mapstructure:"health_check_interval"`
	StuckAfter       time.Duration  `mapstructure:"stuck_after"`
	FailureThreshold int            `mapstructure:"failure_threshold"`
	RecoveryDelay    time.Duration  `mapstructure:"recovery_delay"`
}

// ConflictConfig configures the conflict resolver.
type ConflictConfig struct {
	ScanInterval          time.Duration `mapstructure:"scan_interval"`
	WatchEnabled          bool          `mapstructure:"watch_enabled"`
	WatchDebounce         time.Duration `mapstructure:"watch_debounce"`
	AutoMergeLimit        int           `mapstructure:"auto_merge_limit"`
	MaxResolutionAttempts int           `mapstructure:"max_resolution_attempts"`
}

// CoordinatorConfig configures the parallel coordinator.
type CoordinatorConfig struct {
	ExecutionMode       string        `mapstructure:"execution_mode"` // conservative, balanced, aggressive
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MaxConcurrentCycles int           `mapstructure:"max_concurrent_cycles"` // 0 derives the cap from execution_mode
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	StuckProgressAfter  time.Duration `mapstructure:"stuck_progress_after"`
	MinPriority         int           `mapstructure:"min_priority"`
	MaxPriority         int           `mapstructure:"max_priority"`
}

// EngineConfig configures the engine facade's background loops.
type EngineConfig struct {
	OptimizationInterval time.Duration `mapstructure:"optimization_interval"`
	MetricsEWMAAlpha     float64       `mapstructure:"metrics_ewma_alpha"`
}

// FeatureConfig holds the engine's feature flags. Every flag defaults
// to on; turning one off degrades the corresponding behavior rather
// than failing construction.
type FeatureConfig struct {
	AutoScaling          bool `mapstructure:"enable_auto_scaling"`
	HealthMonitoring     bool `mapstructure:"enable_health_monitoring"`
	PredictiveScheduling bool `mapstructure:"enable_predictive_scheduling"`
	ConflictPrevention   bool `mapstructure:"enable_conflict_prevention"`
	AutoResolution       bool `mapstructure:"enable_auto_resolution"`
	SemanticAnalysis     bool `mapstructure:"enable_semantic_analysis"`
	ResourceLocking      bool `mapstructure:"enable_resource_locking"`
	CoordinationEvents   bool `mapstructure:"enable_coordination_events"`
	ContextIsolation     bool `mapstructure:"enable_context_isolation"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Pool: PoolConfig{
			Strategy:         "dynamic",
			MinWorkers:       1,
			MaxWorkers:       8,
			LoadBalancing:    "least_loaded",
			ScaleUpUtil:      0.8,
			ScaleDownUtil:    0.3,
			BurstUtil:        0.9,
			HealthCheck:      30 * time.Second,
			StuckAfter:       5 * time.Minute,
			FailureThreshold: 3,
			RecoveryDelay:    60 * time.Second,
		},
		Conflict: ConflictConfig{
			ScanInterval:          30 * time.Second,
			WatchEnabled:          false,
			WatchDebounce:         150 * time.Millisecond,
			AutoMergeLimit:        2,
			MaxResolutionAttempts: 3,
		},
		Coordinator: CoordinatorConfig{
			ExecutionMode:       "balanced",
			TickInterval:        5 * time.Second,
			MaxConcurrentCycles: 4,
			LockTTL:             5 * time.Minute,
			StuckProgressAfter:  10 * time.Minute,
			MinPriority:         1,
			MaxPriority:         10,
		},
		Engine: EngineConfig{
			OptimizationInterval: 1 * time.Minute,
			MetricsEWMAAlpha:     0.2,
		},
		Features: FeatureConfig{
			AutoScaling:          true,
			HealthMonitoring:     true,
			PredictiveScheduling: true,
			ConflictPrevention:   true,
			AutoResolution:       true,
			SemanticAnalysis:     true,
			ResourceLocking:      true,
			CoordinationEvents:   true,
			ContextIsolation:     true,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks the configuration for internally inconsistent values.
func Validate(cfg Config) error {
	switch cfg.Pool.Strategy {
	case "static", "dynamic", "burst", "balanced":
	default:
		return fmt.Errorf("pool.agent_pool_strategy must be one of static, dynamic, burst, balanced, got %q", cfg.Pool.Strategy)
	}
	if cfg.Pool.MinWorkers < 0 {
		return fmt.Errorf("pool.min_workers must be >= 0, got %d", cfg.Pool.MinWorkers)
	}
	if cfg.Pool.MaxWorkers < cfg.Pool.MinWorkers {
		return fmt.Errorf("pool.max_workers (%d) must be >= pool.min_workers (%d)", cfg.Pool.MaxWorkers, cfg.Pool.MinWorkers)
	}
	for agentType, minCount := range cfg.Pool.MinPerType {
		if minCount < 0 {
			return fmt.Errorf("pool.min_per_type[%s] must be >= 0, got %d", agentType, minCount)
		}
		if maxCount, ok := cfg.Pool.MaxPerType[agentType]; ok && maxCount < minCount {
			return fmt.Errorf("pool.max_per_type[%s] (%d) must be >= pool.min_per_type[%s] (%d)", agentType, maxCount, agentType, minCount)
		}
	}
	switch cfg.Pool.LoadBalancing {
	case "round_robin", "least_loaded", "capability_based", "priority_weighted":
	default:
		return fmt.Errorf("pool.load_balancing must be one of round_robin, least_loaded, capability_based, priority_weighted, got %q", cfg.Pool.LoadBalancing)
	}
	if cfg.Pool.ScaleUpUtil <= cfg.Pool.ScaleDownUtil {
		return fmt.Errorf("pool.scale_up_threshold (%v) must be > pool.scale_down_threshold (%v)", cfg.Pool.ScaleUpUtil, cfg.Pool.ScaleDownUtil)
	}
	if cfg.Pool.BurstUtil < cfg.Pool.ScaleUpUtil {
		return fmt.Errorf("pool.burst_threshold (%v) must be >= pool.scale_up_threshold (%v)", cfg.Pool.BurstUtil, cfg.Pool.ScaleUpUtil)
	}
	if cfg.Pool.FailureThreshold < 1 {
		return fmt.Errorf("pool.failure_threshold must be >= 1, got %d", cfg.Pool.FailureThreshold)
	}
	if cfg.Conflict.AutoMergeLimit < 1 {
		return fmt.Errorf("conflict.auto_merge_limit must be >= 1, got %d", cfg.Conflict.AutoMergeLimit)
	}
	if cfg.Conflict.MaxResolutionAttempts < 1 {
		return fmt.Errorf("conflict.max_resolution_attempts must be >= 1, got %d", cfg.Conflict.MaxResolutionAttempts)
	}
	switch cfg.Coordinator.ExecutionMode {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("coordinator.execution_mode must be one of conservative, balanced, aggressive, got %q", cfg.Coordinator.ExecutionMode)
	}
	if cfg.Coordinator.MaxConcurrentCycles < 0 {
		return fmt.Errorf("coordinator.max_concurrent_cycles must be >= 0 (0 derives it from execution_mode), got %d", cfg.Coordinator.MaxConcurrentCycles)
	}
	if cfg.Coordinator.MinPriority > cfg.Coordinator.MaxPriority {
		return fmt.Errorf("coordinator.min_priority (%d) must be <= coordinator.max_priority (%d)", cfg.Coordinator.MinPriority, cfg.Coordinator.MaxPriority)
	}
	return nil
}
