package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEngineConfig_MissingFileUsesDefaults(t *testing.T) {
	old := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	defer func() { cfgFile = old }()

	cfg, err := loadEngineConfig()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Pool.MaxWorkers)
}

func TestLoadEngineConfig_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  max_concurrent_cycles: 2\n"), 0644))

	old := cfgFile
	cfgFile = path
	defer func() { cfgFile = old }()

	cfg, err := loadEngineConfig()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Coordinator.MaxConcurrentCycles)
}

func TestInitLogging_DisabledByDefault(t *testing.T) {
	old := debugFlag
	debugFlag = false
	defer func() { debugFlag = old }()

	cleanup := initLogging()
	defer cleanup()
	require.NotNil(t, cleanup)
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3")
	require.Equal(t, "1.2.3", rootCmd.Version)
}
