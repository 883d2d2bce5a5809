package engine

import (
	"fmt"
	"time"

	"github.com/zjrosen/paracycle/internal/engineconfig"
	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/conflict"
	"github.com/zjrosen/paracycle/internal/orchestration/coordinator"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/pool"
	"github.com/zjrosen/paracycle/internal/orchestration/psm"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/runtime"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// loadBalancingStrategies maps the config's string enum to the worker
// pool's typed Strategy.
var loadBalancingStrategies = map[string]pool.Strategy{
	"round_robin":       pool.RoundRobin,
	"least_loaded":      pool.LeastLoaded,
	"capability_based":  pool.CapabilityBased,
	"priority_weighted": pool.PriorityWeighted,
}

// executionModes maps the config's string enum to the coordinator's
// typed ExecutionMode.
var executionModes = map[string]coordinator.ExecutionMode{
	"conservative": coordinator.Conservative,
	"balanced":     coordinator.Balanced,
	"aggressive":   coordinator.Aggressive,
}

// typeLimits merges the per-agent-type min/max maps into the pool's
// Limits table, falling back to the global min/max for a type present
// in only one of the two maps.
func typeLimits(cfg engineconfig.PoolConfig) map[string]pool.Limits {
	if len(cfg.MinPerType) == 0 && len(cfg.MaxPerType) == 0 {
		return nil
	}
	limits := make(map[string]pool.Limits)
	for agentType, minCount := range cfg.MinPerType {
		limits[agentType] = pool.Limits{Min: minCount, Max: cfg.MaxWorkers}
	}
	for agentType, maxCount := range cfg.MaxPerType {
		l, ok := limits[agentType]
		if !ok {
			l = pool.Limits{Min: cfg.MinWorkers}
		}
		l.Max = maxCount
		limits[agentType] = l
	}
	return limits
}

// NewFromConfig wires PSM, Worker Pool, Conflict Resolver, Parallel
// Coordinator, and the Engine Facade itself from an engineconfig.Config,
// the way cmd/paracycle and any other embedder construct a runnable
// engine without hand-assembling every collaborator. Feature flags flow
// through here: each one switches its component's behavior rather than
// being resolved at a call site.
func NewFromConfig(cfg engineconfig.Config) (*Engine, *tracing.Provider, error) {
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing tracer: %w", err)
	}
	tracer := provider.Tracer()

	var locker reslock.Locker
	if cfg.Features.ResourceLocking {
		cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("paracycle_locks", cfg.Coordinator.LockTTL, time.Minute)
		locker = reslock.NewCacheLocker(cache)
	} else {
		locker = reslock.NopLocker{}
	}

	var sink events.Sink = events.NoopSink{}
	if cfg.Features.CoordinationEvents {
		sink = events.NewBrokerSink()
	}

	m := psm.New(psm.Config{
		Locker:  locker,
		Sink:    sink,
		Tracer:  tracer,
		LockTTL: cfg.Coordinator.LockTTL,
	})

	strategy, ok := loadBalancingStrategies[cfg.Pool.LoadBalancing]
	if !ok {
		strategy = pool.LeastLoaded
	}
	// A static pool keeps its worker counts fixed regardless of the
	// auto-scaling flag; every other strategy scales when the flag is on.
	autoScaling := cfg.Features.AutoScaling && cfg.Pool.Strategy != "static"
	wp := pool.New(pool.Config{
		Runtime:             runtime.NewRegistry(),
		Sink:                sink,
		Tracer:              tracer,
		DefaultMinWorkers:   cfg.Pool.MinWorkers,
		DefaultMaxWorkers:   cfg.Pool.MaxWorkers,
		TypeLimits:          typeLimits(cfg.Pool),
		LoadBalancing:       strategy,
		ScaleUpThreshold:    cfg.Pool.ScaleUpUtil,
		ScaleDownThreshold:  cfg.Pool.ScaleDownUtil,
		BurstThreshold:      cfg.Pool.BurstUtil,
		HealthCheckInterval: cfg.Pool.HealthCheck,
		AgentTimeout:        cfg.Pool.StuckAfter,
		FailureThreshold:    cfg.Pool.FailureThreshold,
		RecoveryDelay:       cfg.Pool.RecoveryDelay,
		AutoScaling:         autoScaling,
		HealthMonitoring:    cfg.Features.HealthMonitoring,
	})

	cr := conflict.New(conflict.Config{
		Sink:                  sink,
		Tracer:                tracer,
		SemanticAnalysis:      cfg.Features.SemanticAnalysis,
		MaxResolutionAttempts: cfg.Conflict.MaxResolutionAttempts,
		ScanInterval:          cfg.Conflict.ScanInterval,
		AutoMergeLimit:        cfg.Conflict.AutoMergeLimit,
	})

	co := coordinator.New(coordinator.Config{
		PSM:                  m,
		Pool:                 wp,
		Conflicts:            cr,
		Locker:               locker,
		Sink:                 sink,
		Tracer:               tracer,
		MaxParallelCycles:    cfg.Coordinator.MaxConcurrentCycles,
		ExecutionMode:        executionModes[cfg.Coordinator.ExecutionMode],
		TickInterval:         cfg.Coordinator.TickInterval,
		StuckAfter:           cfg.Coordinator.StuckProgressAfter,
		ResourceTimeout:      cfg.Coordinator.LockTTL,
		ConflictPreventionOn: cfg.Features.ConflictPrevention,
		MinPriority:          cfg.Coordinator.MinPriority,
		MaxPriority:          cfg.Coordinator.MaxPriority,
	})

	e := New(Config{
		PSM:                        m,
		Pool:                       wp,
		Conflicts:                  cr,
		Coordinator:                co,
		Locker:                     locker,
		Sink:                       sink,
		Tracer:                     tracer,
		OptimizationInterval:       cfg.Engine.OptimizationInterval,
		MetricsEWMAAlpha:           cfg.Engine.MetricsEWMAAlpha,
		EnableAutoResolution:       cfg.Features.AutoResolution,
		EnableMonitoring:           cfg.Features.HealthMonitoring,
		EnablePredictiveScheduling: cfg.Features.PredictiveScheduling,
		EnableContextIsolation:     cfg.Features.ContextIsolation,
	})
	return e, provider, nil
}
