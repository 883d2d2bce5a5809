package engineconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults_ValidatesClean(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate_MaxWorkersBelowMin(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.MinWorkers = 4
	cfg.Pool.MaxWorkers = 2
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_workers")
}

func TestValidate_UnknownLoadBalancing(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.LoadBalancing = "round_trip"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "load_balancing")
}

func TestValidate_ScaleThresholdsInverted(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.ScaleUpUtil = 0.1
	cfg.Pool.ScaleDownUtil = 0.9
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_PriorityRangeInverted(t *testing.T) {
	cfg := Defaults()
	cfg.Coordinator.MinPriority = 10
	cfg.Coordinator.MaxPriority = 1
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "min_priority")
}

func TestValidate_AutoMergeLimitTooLow(t *testing.T) {
	cfg := Defaults()
	cfg.Conflict.AutoMergeLimit = 0
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_UnknownPoolStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.Strategy = "elastic"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent_pool_strategy")
}

func TestValidate_UnknownExecutionMode(t *testing.T) {
	cfg := Defaults()
	cfg.Coordinator.ExecutionMode = "reckless"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution_mode")
}

func TestValidate_BurstBelowScaleUp(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.BurstUtil = 0.5
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "burst_threshold")
}

func TestValidate_PerTypeLimitsInverted(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.MinPerType = map[string]int{"coder": 4}
	cfg.Pool.MaxPerType = map[string]int{"coder": 2}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_per_type")
}

func TestValidate_MaxResolutionAttemptsTooLow(t *testing.T) {
	cfg := Defaults()
	cfg.Conflict.MaxResolutionAttempts = 0
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_ZeroMaxConcurrentCyclesDerivedFromMode(t *testing.T) {
	cfg := Defaults()
	cfg.Coordinator.MaxConcurrentCycles = 0
	require.NoError(t, Validate(cfg))
}
