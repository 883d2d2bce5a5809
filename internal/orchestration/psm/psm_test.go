package psm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

func newTestPSM(t *testing.T) *PSM {
	t.Helper()
	cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("psm_test", time.Hour, time.Minute)
	locker := reslock.NewCacheLocker(cache)
	return New(Config{Locker: locker, LockTTL: time.Hour})
}

func newCycle(id, story string, deps []string) *types.Cycle {
	return types.NewCycle(id, story, 5, deps, 0, time.Now())
}

// Single cycle happy path: test -> commit-tests -> commit-code ->
// commit-refactor drives DESIGN through to COMMIT.
func TestSingleCycleHappyPath(t *testing.T) {
	ctx := context.Background()
	m := newTestPSM(t)

	c := newCycle("C1", "S1", nil)
	require.NoError(t, m.Register(c))

	res, err := m.Transition(ctx, types.CmdTest, c)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, types.PhaseTestRed, c.Phase())

	c.SetTaskState(types.TaskState{HasFailingTests: true, HasTestFiles: true})
	res, err = m.Transition(ctx, types.CmdCommitTests, c)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, types.PhaseCodeGreen, c.Phase())

	c.SetTaskState(types.TaskState{HasPassingTests: true, HasCommittedTests: true})
	res, err = m.Transition(ctx, types.CmdCommitCode, c)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, types.PhaseRefactor, c.Phase())

	res, err = m.Transition(ctx, types.CmdCommitRefactor, c)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, types.PhaseCommit, c.Phase())
	assert.True(t, c.Phase().Terminal())
	assert.Equal(t, 3, c.Commits())

	m.Unregister(ctx, c.CycleID)
	assert.Zero(t, c.LockCount())
}

func TestValidateRejectsIllegalTransition(t *testing.T) {
	m := newTestPSM(t)
	c := newCycle("C1", "S1", nil)
	require.NoError(t, m.Register(c))

	res := m.Validate(types.CmdRefactor, c)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Hint)
}

// Circular dependency rejection: C1->C2 succeeds, C2->C1 is rejected
// and the graph is left unchanged.
func TestCircularDependencyRejected(t *testing.T) {
	m := newTestPSM(t)
	c1 := newCycle("C1", "S1", nil)
	c2 := newCycle("C2", "S1", nil)
	require.NoError(t, m.Register(c1))
	require.NoError(t, m.Register(c2))

	require.NoError(t, m.AddDependency("C1", "C2"))
	err := m.AddDependency("C2", "C1")
	assert.ErrorIs(t, err, types.ErrCyclicDependency)

	blocking := m.CheckCycleDependencies("C2")
	assert.Empty(t, blocking, "C2's dependency set must be unchanged by the rejected edge")
}

func TestCheckCycleDependenciesUnblocksOnCommit(t *testing.T) {
	ctx := context.Background()
	m := newTestPSM(t)

	c1 := newCycle("C1", "S1", nil)
	c2 := newCycle("C2", "S1", []string{"C1"})
	require.NoError(t, m.Register(c1))
	require.NoError(t, m.Register(c2))

	assert.Equal(t, []string{"C1"}, m.CheckCycleDependencies("C2"))

	// Drive C1 all the way to COMMIT.
	_, err := m.Transition(ctx, types.CmdTest, c1)
	require.NoError(t, err)
	c1.SetTaskState(types.TaskState{HasFailingTests: true, HasTestFiles: true})
	_, err = m.Transition(ctx, types.CmdCommitTests, c1)
	require.NoError(t, err)
	c1.SetTaskState(types.TaskState{HasPassingTests: true, HasCommittedTests: true})
	_, err = m.Transition(ctx, types.CmdCommitCode, c1)
	require.NoError(t, err)
	_, err = m.Transition(ctx, types.CmdCommitRefactor, c1)
	require.NoError(t, err)

	assert.Empty(t, m.CheckCycleDependencies("C2"))
}

// Validate returning OK implies Transition succeeds absent concurrent
// interference.
func TestValidateTransitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestPSM(t)
	c := newCycle("C1", "S1", nil)
	require.NoError(t, m.Register(c))

	res := m.Validate(types.CmdTest, c)
	require.True(t, res.OK)

	transitionRes, err := m.Transition(ctx, types.CmdTest, c)
	require.NoError(t, err)
	assert.True(t, transitionRes.OK)
	assert.Equal(t, res.NewPhase, transitionRes.NewPhase)
}

func TestAbortAlwaysLegal(t *testing.T) {
	ctx := context.Background()
	m := newTestPSM(t)
	c := newCycle("C1", "S1", nil)
	require.NoError(t, m.Register(c))

	res, err := m.Transition(ctx, types.CmdAbort, c)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, types.PhaseCommit, c.Phase())
}
