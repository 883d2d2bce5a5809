package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/paracycle/internal/cyclespec"
	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/engine"
	"github.com/zjrosen/paracycle/internal/watch"
)

var (
	runTimeout time.Duration
	runJSONOut bool
)

var runCmd = &cobra.Command{
	Use:   "run <cycle-spec.yaml>",
	Short: "Submit a cycle-spec file's cycles and drive them to completion",
	Long: `run loads a YAML cycle-spec file describing one or more cycles
(story_id, priority, dependencies, resources, agent_type), submits them
all to the engine, and blocks until every cycle reaches a terminal
status or the timeout elapses.

Example cycle-spec file:

  cycles:
    - story_id: S-101
      priority: 1
      resources: ["internal/widget/widget.go"]
    - story_id: S-102
      priority: 2
      dependencies: ["S-101"]
      resources: ["internal/widget/widget_test.go"]
`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "maximum time to wait for all cycles to complete")
	runCmd.Flags().BoolVar(&runJSONOut, "json", false, "print the execution report as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, args []string) error {
	cleanup := initLogging()
	defer cleanup()

	cfg, err := loadEngineConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	spec, err := cyclespec.Load(args[0])
	if err != nil {
		return err
	}
	specs, err := spec.ToCycleSpecs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("cycle spec %q contains no cycles", args[0])
	}

	e, tracerProvider, err := engine.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	e.Start()
	defer e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if cfg.Conflict.WatchEnabled {
		if root, werr := os.Getwd(); werr == nil {
			watcher, werr := watch.New(watch.Config{Root: root, DebounceDur: cfg.Conflict.WatchDebounce})
			if werr != nil {
				log.ErrorErr(log.CatWatch, "filesystem watcher disabled", werr, "root", root)
			} else if changes, werr := watcher.Start(); werr == nil {
				defer watcher.Stop()
				e.WireFileWatcher(ctx, changes)
			}
		}
	}

	report, err := e.ExecuteParallelCycles(ctx, specs)
	if err != nil {
		log.ErrorErr(log.CatEngine, "execution did not finish cleanly", err)
	}

	if runJSONOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("submitted %d cycle(s), success=%t\n", len(report.Results), report.Success)
	for _, r := range report.Results {
		fmt.Printf("  %-20s %-10s success=%t time=%s\n", r.CycleID, r.Status, r.Success, r.ExecutionTime.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
	fmt.Printf("peak parallel: %d  conflicts detected: %d  auto-resolved: %d  escalated: %d\n",
		report.Metrics.PeakParallelCycles, report.Metrics.ConflictsDetected, report.Metrics.AutoResolutions, report.Metrics.HumanEscalations)

	if !report.Success {
		os.Exit(1)
	}
	return nil
}
