package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// CycleSpec is the caller-supplied description of one cycle to admit.
// Resources is the set of file paths the cycle's tasks will touch;
// AgentType selects which worker-pool type drives its tasks (default
// "general" if empty).
type CycleSpec struct {
	StoryID           string
	Priority          int
	Dependencies      []string
	EstimatedDuration time.Duration
	Resources         []string
	AgentType         string
}

// CycleResult is one cycle's outcome from ExecuteParallelCycles.
type CycleResult struct {
	CycleID       string
	Success       bool
	Status        types.CycleStatus
	ExecutionTime time.Duration
	Error         string
}

// ExecutionReport is ExecuteParallelCycles' aggregate return value.
type ExecutionReport struct {
	Success bool
	Results []CycleResult
	Metrics Metrics
}

const defaultAgentType = "general"

// Submit registers spec as a new cycle with the PSM and coordinator,
// tracks it for driving, and returns its cycle_id. The cycle is not
// driven through its phases until the coordinator admits it to ACTIVE;
// ExecuteParallelCycles' polling loop then starts a driver for each
// admitted cycle of its own batch. A cycle submitted only through
// Submit is never driven, and GetCycleStatus only reports status.
func (e *Engine) Submit(spec CycleSpec) (string, error) {
	agentType := spec.AgentType
	if agentType == "" {
		agentType = defaultAgentType
	}

	cycleID := fmt.Sprintf("cycle-%s", uuid.NewString()[:8])
	cycle := types.NewCycle(cycleID, spec.StoryID, spec.Priority, spec.Dependencies, spec.EstimatedDuration, e.cfg.Clock())

	if _, err := e.cfg.Coordinator.Submit(cycle, spec.Dependencies, spec.Resources); err != nil {
		return "", err
	}
	for _, dep := range spec.Dependencies {
		e.cfg.Conflicts.RegisterCycleDependency(cycleID, dep)
	}

	tc := &trackedCycle{cycle: cycle, resources: spec.Resources, agentType: agentType, done: make(chan struct{})}
	e.mu.Lock()
	e.cycles[cycleID] = tc
	e.mu.Unlock()

	log.Info(log.CatEngine, "cycle submitted", "cycle_id", cycleID, "story_id", spec.StoryID)
	return cycleID, nil
}

// ExecuteParallelCycles submits every spec, then polls each cycle's
// tracked state until it reaches a terminal status (or ctx is done),
// spawning a driver for each cycle as soon as the coordinator admits
// it to ACTIVE. It returns once every cycle has finished.
func (e *Engine) ExecuteParallelCycles(ctx context.Context, specs []CycleSpec) (ExecutionReport, error) {
	spanCtx, span := e.cfg.Tracer.Start(ctx, tracing.SpanPrefixEngine+"execute_parallel_cycles")
	defer span.End()
	span.SetAttributes(attribute.Int("cycle.count", len(specs)))

	start := e.cfg.Clock()

	// Dependencies may name either a cycle id returned by an earlier
	// Submit or the story id of an earlier spec in this batch; story ids
	// are resolved to the generated cycle id of the first cycle
	// submitted for that story.
	byStory := make(map[string]string, len(specs))
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		deps := make([]string, 0, len(spec.Dependencies))
		for _, dep := range spec.Dependencies {
			if id, ok := byStory[dep]; ok {
				dep = id
			}
			deps = append(deps, dep)
		}
		spec.Dependencies = deps

		id, err := e.Submit(spec)
		if err != nil {
			return ExecutionReport{}, err
		}
		if _, ok := byStory[spec.StoryID]; !ok {
			byStory[spec.StoryID] = id
		}
		ids = append(ids, id)
	}

	var driverWG sync.WaitGroup
	pollTicker := time.NewTicker(50 * time.Millisecond)
	defer pollTicker.Stop()

	for {
		e.mu.Lock()
		var peak int
		for _, tc := range e.cycles {
			if tc.cycle.Status() == types.StatusActive {
				peak++
			}
		}
		if peak > e.metrics.PeakParallelCycles {
			e.metrics.PeakParallelCycles = peak
		}
		pending := 0
		for _, id := range ids {
			tc := e.cycles[id]
			if tc.cycle.Status() == types.StatusActive && !tc.driving {
				tc.driving = true
				driverWG.Add(1)
				go func(tc *trackedCycle) {
					defer driverWG.Done()
					e.runCyclePipeline(spanCtx, tc)
					close(tc.done)
				}(tc)
			}
			if !tc.cycle.Status().Terminal() {
				pending++
			}
		}
		e.mu.Unlock()

		if pending == 0 {
			break
		}

		select {
		case <-ctx.Done():
			driverWG.Wait()
			return e.buildReport(ids, start), ctx.Err()
		case <-pollTicker.C:
		}
	}

	driverWG.Wait()
	return e.buildReport(ids, start), nil
}

func (e *Engine) buildReport(ids []string, start time.Time) ExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Clock()
	report := ExecutionReport{Success: true}
	for _, id := range ids {
		tc := e.cycles[id]
		status := tc.cycle.Status()
		errMsg := ""
		if tc.err != nil {
			errMsg = tc.err.Error()
		}
		success := status == types.StatusCompleted
		if !success {
			report.Success = false
		}

		execTime := now.Sub(tc.cycle.SubmittedAt)
		if !tc.cycle.EndedAt.IsZero() {
			execTime = tc.cycle.EndedAt.Sub(tc.cycle.SubmittedAt)
		}

		report.Results = append(report.Results, CycleResult{
			CycleID:       id,
			Success:       success,
			Status:        status,
			ExecutionTime: execTime,
			Error:         errMsg,
		})

		e.metrics.TotalCyclesExecuted++
		sample := execTime.Seconds()
		if e.metrics.TotalCyclesExecuted == 1 {
			e.metrics.AverageCycleTimeS = sample
		} else {
			e.metrics.AverageCycleTimeS = (1-e.cfg.MetricsEWMAAlpha)*e.metrics.AverageCycleTimeS + e.cfg.MetricsEWMAAlpha*sample
		}
	}

	totalElapsed := now.Sub(start)
	if totalElapsed > 0 {
		rate := float64(len(ids)) / totalElapsed.Hours()
		if e.metrics.ThroughputCyclesPerHour == 0 {
			e.metrics.ThroughputCyclesPerHour = rate
		} else {
			e.metrics.ThroughputCyclesPerHour = (1-e.cfg.MetricsEWMAAlpha)*e.metrics.ThroughputCyclesPerHour + e.cfg.MetricsEWMAAlpha*rate
		}
	}

	report.Metrics = e.metrics
	return report
}
