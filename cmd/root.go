package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/paracycle/internal/engineconfig"
	"github.com/zjrosen/paracycle/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:     "paracycle",
	Short:   "Drive TDD cycles through the parallel cycle execution engine",
	Long:    `paracycle is a demo harness for the parallel TDD cycle execution engine: it submits a batch of cycles described in a YAML cycle-spec file and reports how they progressed.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./paracycle.yaml or ~/.config/paracycle/paracycle.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging (also: PARACYCLE_DEBUG=1)")
}

func loadEngineConfig() (engineconfig.Config, error) {
	return engineconfig.Load(cfgFile)
}

func initLogging() func() {
	debug := os.Getenv("PARACYCLE_DEBUG") != "" || debugFlag
	if !debug {
		log.InitDiscard()
		return func() {}
	}

	logPath := os.Getenv("PARACYCLE_LOG")
	if logPath == "" {
		logPath = "paracycle-debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not initialize logging: %v\n", err)
		return func() {}
	}
	log.Info(log.CatConfig, "paracycle starting", "version", version, "debug", true)
	return cleanup
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
