package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// step is one entry of the fixed command sequence the facade drives a
// cycle through: test, commit-tests, commit-code, commit-refactor. This
// is the one concrete path through the PSM's transition table that
// carries a cycle from DESIGN all the way to COMMIT without a human
// issuing intermediate design/code/refactor commands by hand - the
// facade's job is to play agent for that hand.
type step struct {
	cmd     types.Command
	command string
	commits bool // true for every commit-* command: sets HasCommittedTests once it lands
}

var pipeline = []step{
	{cmd: types.CmdTest, command: "test"},
	{cmd: types.CmdCommitTests, command: "commit-tests", commits: true},
	{cmd: types.CmdCommitCode, command: "commit-code", commits: true},
	{cmd: types.CmdCommitRefactor, command: "commit-refactor", commits: true},
}

const resultTimeout = 2 * time.Minute

// runCyclePipeline drives tc's cycle through the pipeline one command
// at a time: dispatch the command's work to the pool, merge the
// result's artifacts into the cycle's task state, register any file
// modifications the step implies, then attempt the matching PSM
// transition. It stops at the first failure, recording it on tc.
func (e *Engine) runCyclePipeline(ctx context.Context, tc *trackedCycle) {
	cycle := tc.cycle

	for _, st := range pipeline {
		if status := cycle.Status(); status == types.StatusPaused || status.Terminal() {
			return
		}

		result, err := e.dispatchAndAwait(ctx, tc, st.command)
		if err != nil {
			e.failCycle(tc, fmt.Errorf("dispatching %q: %w", st.command, err))
			return
		}
		if !result.Success {
			e.failCycle(tc, fmt.Errorf("%s failed: %s", st.command, result.Error))
			return
		}

		ts := cycle.TaskState()
		mergeArtifacts(&ts, result.Artifacts)
		cycle.SetTaskState(ts)

		e.registerStepModifications(ctx, tc, st)

		res, err := e.cfg.PSM.Transition(ctx, st.cmd, cycle)
		if err != nil {
			e.failCycle(tc, fmt.Errorf("transitioning on %q: %w", st.command, err))
			return
		}
		if !res.OK {
			e.failCycle(tc, fmt.Errorf("transition %q rejected: %s (%s)", st.command, res.Reason, res.Hint))
			return
		}

		if st.commits {
			ts = cycle.TaskState()
			ts.HasCommittedTests = true
			cycle.SetTaskState(ts)
		}

		log.Debug(log.CatEngine, "cycle advanced", "cycle_id", cycle.CycleID, "command", st.command, "phase", res.NewPhase.String())
	}
}

// mergeArtifacts ORs task-state facts a task result reports into ts:
// once a fact becomes true it is never reset to false by a later
// step's result, since these represent cumulative progress (tests were
// written, tests now pass) rather than momentary flags.
func mergeArtifacts(ts *types.TaskState, artifacts map[string]any) {
	if v, ok := artifacts["has_failing_tests"].(bool); ok && v {
		ts.HasFailingTests = true
		ts.HasTestFiles = true
	}
	if v, ok := artifacts["has_passing_tests"].(bool); ok && v {
		ts.HasPassingTests = true
	}
	if v, ok := artifacts["has_test_files"].(bool); ok && v {
		ts.HasTestFiles = true
	}
}

// dispatchAndAwait submits one task for the cycle's agent type and
// command to the worker pool and blocks for its result.
func (e *Engine) dispatchAndAwait(ctx context.Context, tc *trackedCycle, command string) (types.Result, error) {
	taskCtx := map[string]any{
		"story_id":           tc.cycle.StoryID,
		"cycle_id":           tc.cycle.CycleID,
		"parallel_isolation": e.cfg.EnableContextIsolation,
	}
	taskID, err := e.cfg.Pool.Submit(tc.agentType, command, taskCtx, tc.cycle.Priority, tc.cycle.CycleID, 0)
	if err != nil {
		return types.Result{}, err
	}
	return e.cfg.Pool.Result(ctx, taskID, resultTimeout)
}

// registerStepModifications tells the conflict resolver about the
// files a step touches: the test step creates each resource (writing
// the failing test); the commit-code step modifies each resource
// (landing the implementation that makes it pass). Any conflicts the
// resolver detects are recorded in the facade's metrics and, when
// auto-resolution is enabled, resolved immediately.
func (e *Engine) registerStepModifications(ctx context.Context, tc *trackedCycle, st step) {
	var kind types.ModificationKind
	switch st.cmd {
	case types.CmdTest:
		kind = types.ModCreate
	case types.CmdCommitCode:
		kind = types.ModModify
	default:
		return
	}

	for _, path := range tc.resources {
		conflicts, err := e.cfg.Conflicts.RegisterFileModification(ctx, path, tc.cycle.CycleID, tc.cycle.StoryID, kind)
		if err != nil {
			log.Warn(log.CatEngine, "registering file modification failed", "path", path, "error", err)
			continue
		}
		e.recordConflicts(ctx, conflicts)
	}
}

func (e *Engine) recordConflicts(ctx context.Context, conflicts []*types.Conflict) {
	if len(conflicts) == 0 {
		return
	}
	e.mu.Lock()
	e.metrics.ConflictsDetected += len(conflicts)
	e.mu.Unlock()

	if !e.cfg.EnableAutoResolution {
		return
	}
	for _, c := range conflicts {
		res, err := e.cfg.Conflicts.Resolve(ctx, c.ConflictID)
		if err != nil {
			continue
		}
		e.mu.Lock()
		e.metrics.ConflictsResolved++
		switch res.Outcome {
		case types.OutcomeAutoResolved:
			e.metrics.AutoResolutions++
		case types.OutcomeEscalated:
			e.metrics.HumanEscalations++
		}
		e.mu.Unlock()
	}
}

func (e *Engine) failCycle(tc *trackedCycle, err error) {
	tc.mu.Lock()
	tc.err = err
	tc.mu.Unlock()
	tc.cycle.SetStatus(types.StatusFailed)
	log.Warn(log.CatEngine, "cycle failed", "cycle_id", tc.cycle.CycleID, "error", err)
}
