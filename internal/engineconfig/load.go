package engineconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	viperlib "github.com/spf13/viper"
)

// Load reads configuration from configPath (if non-empty), falling back
// to ./paracycle.yaml and ~/.config/paracycle/paracycle.yaml, layering
// values over Defaults(). A missing config file is not an error - the
// defaults apply as-is.
func Load(configPath string) (Config, error) {
	v := viperlib.NewWithOptions(viperlib.KeyDelimiter("::"))

	defaults := Defaults()
	setDefaults(v, defaults)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("paracycle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "paracycle"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viperlib.Viper, d Config) {
	v.SetDefault("pool::agent_pool_strategy", d.Pool.Strategy)
	v.SetDefault("pool::min_workers", d.Pool.MinWorkers)
	v.SetDefault("pool::max_workers", d.Pool.MaxWorkers)
	v.SetDefault("pool::min_per_type", d.Pool.MinPerType)
	v.SetDefault("pool::max_per_type", d.Pool.MaxPerType)
	v.SetDefault("pool::load_balancing", d.Pool.LoadBalancing)
	v.SetDefault("pool::scale_up_threshold", d.Pool.ScaleUpUtil)
	v.SetDefault("pool::scale_down_threshold", d.Pool.ScaleDownUtil)
	v.SetDefault("pool::burst_threshold", d.Pool.BurstUtil)
	v.SetDefault("pool::health_check_interval", d.Pool.HealthCheck)
	v.SetDefault("pool::stuck_after", d.Pool.StuckAfter)
	v.SetDefault("pool::failure_threshold", d.Pool.FailureThreshold)
	v.SetDefault("pool::recovery_delay", d.Pool.RecoveryDelay)

	v.SetDefault("conflict::scan_interval", d.Conflict.ScanInterval)
	v.SetDefault("conflict::watch_enabled", d.Conflict.WatchEnabled)
	v.SetDefault("conflict::watch_debounce", d.Conflict.WatchDebounce)
	v.SetDefault("conflict::auto_merge_limit", d.Conflict.AutoMergeLimit)
	v.SetDefault("conflict::max_resolution_attempts", d.Conflict.MaxResolutionAttempts)

	v.SetDefault("coordinator::execution_mode", d.Coordinator.ExecutionMode)
	v.SetDefault("coordinator::tick_interval", d.Coordinator.TickInterval)
	v.SetDefault("coordinator::max_concurrent_cycles", d.Coordinator.MaxConcurrentCycles)
	v.SetDefault("coordinator::lock_ttl", d.Coordinator.LockTTL)
	v.SetDefault("coordinator::stuck_progress_after", d.Coordinator.StuckProgressAfter)
	v.SetDefault("coordinator::min_priority", d.Coordinator.MinPriority)
	v.SetDefault("coordinator::max_priority", d.Coordinator.MaxPriority)

	v.SetDefault("engine::optimization_interval", d.Engine.OptimizationInterval)
	v.SetDefault("engine::metrics_ewma_alpha", d.Engine.MetricsEWMAAlpha)

	v.SetDefault("features::enable_auto_scaling", d.Features.AutoScaling)
	v.SetDefault("features::enable_health_monitoring", d.Features.HealthMonitoring)
	v.SetDefault("features::enable_predictive_scheduling", d.Features.PredictiveScheduling)
	v.SetDefault("features::enable_conflict_prevention", d.Features.ConflictPrevention)
	v.SetDefault("features::enable_auto_resolution", d.Features.AutoResolution)
	v.SetDefault("features::enable_semantic_analysis", d.Features.SemanticAnalysis)
	v.SetDefault("features::enable_resource_locking", d.Features.ResourceLocking)
	v.SetDefault("features::enable_coordination_events", d.Features.CoordinationEvents)
	v.SetDefault("features::enable_context_isolation", d.Features.ContextIsolation)

	v.SetDefault("tracing::enabled", d.Tracing.Enabled)
	v.SetDefault("tracing::exporter", d.Tracing.Exporter)
	v.SetDefault("tracing::otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing::sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing::service_name", d.Tracing.ServiceName)
}
