package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults().Pool.MaxWorkers, cfg.Pool.MaxWorkers)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracycle.yaml")
	contents := "pool:\n  max_workers: 16\ncoordinator:\n  max_concurrent_cycles: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Pool.MaxWorkers)
	require.Equal(t, 2, cfg.Coordinator.MaxConcurrentCycles)
}

func TestLoad_InvalidOverrideFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracycle.yaml")
	contents := "coordinator:\n  max_concurrent_cycles: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_FeatureFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracycle.yaml")
	contents := "features:\n  enable_semantic_analysis: false\n  enable_conflict_prevention: false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Features.SemanticAnalysis)
	require.False(t, cfg.Features.ConflictPrevention)
	require.True(t, cfg.Features.AutoScaling, "untouched flags keep their defaults")
}

func TestLoad_PerTypeLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracycle.yaml")
	contents := "pool:\n  min_per_type:\n    coder: 2\n  max_per_type:\n    coder: 6\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Pool.MinPerType["coder"])
	require.Equal(t, 6, cfg.Pool.MaxPerType["coder"])
}
