package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved engine configuration",
	Long: `config prints the engine configuration paracycle would run with:
flag and config-file overrides layered on top of engineconfig.Defaults().

Examples:
  paracycle config
  paracycle config --config ./paracycle.yaml`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
