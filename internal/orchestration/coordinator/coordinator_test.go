package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/psm"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

func newTestCoordinator(t *testing.T, maxParallel int) *Coordinator {
	t.Helper()
	cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("coord_test", time.Hour, time.Minute)
	locker := reslock.NewCacheLocker(cache)
	m := psm.New(psm.Config{Locker: locker, LockTTL: time.Hour})
	co := New(Config{
		PSM:               m,
		Locker:            locker,
		MaxParallelCycles: maxParallel,
		TickInterval:      time.Hour, // tests drive Tick() manually
	})
	t.Cleanup(co.Stop)
	return co
}

func newCycle(id string, priority int) *types.Cycle {
	return types.NewCycle(id, "S-"+id, priority, nil, 0, time.Now())
}

func TestSubmitOrdersQueueByPriority(t *testing.T) {
	co := newTestCoordinator(t, 1)

	_, err := co.Submit(newCycle("C1", 5), nil, nil)
	require.NoError(t, err)
	_, err = co.Submit(newCycle("C2", 1), nil, nil)
	require.NoError(t, err)
	_, err = co.Submit(newCycle("C3", 3), nil, nil)
	require.NoError(t, err)

	co.mu.Lock()
	ids := make([]string, len(co.queue))
	for i, e := range co.queue {
		ids[i] = e.cycle.CycleID
	}
	co.mu.Unlock()
	assert.Equal(t, []string{"C2", "C3", "C1"}, ids)
}

func TestTickAdmitsUpToParallelCap(t *testing.T) {
	co := newTestCoordinator(t, 2)
	for _, id := range []string{"C1", "C2", "C3"} {
		_, err := co.Submit(newCycle(id, 5), nil, nil)
		require.NoError(t, err)
	}

	co.Tick()
	assert.Equal(t, 2, co.ActiveCount())
	assert.Equal(t, 1, co.QueueDepth()-co.ActiveCount())
}

func TestAdmissionBlockedByUnresolvedDependency(t *testing.T) {
	co := newTestCoordinator(t, 5)

	blocker := newCycle("C1", 5)
	_, err := co.Submit(blocker, nil, nil)
	require.NoError(t, err)

	dependent := newCycle("C2", 1)
	_, err = co.Submit(dependent, []string{"C1"}, nil)
	require.NoError(t, err)

	co.Tick()
	co.mu.Lock()
	_, active := co.active["C2"]
	co.mu.Unlock()
	assert.False(t, active, "C2 depends on C1 which hasn't committed yet")
	assert.Equal(t, types.StatusBlocked, dependent.Status(), "C2 should be moved to BLOCKED while its dependency is unmet")
}

func TestBlockedCycleReturnsToPendingOnceDependencyClears(t *testing.T) {
	co := newTestCoordinator(t, 5)

	blocker := newCycle("C1", 5)
	_, err := co.Submit(blocker, nil, nil)
	require.NoError(t, err)

	dependent := newCycle("C2", 1)
	_, err = co.Submit(dependent, []string{"C1"}, nil)
	require.NoError(t, err)

	co.Tick()
	require.Equal(t, types.StatusBlocked, dependent.Status())

	blocker.SetStatus(types.StatusCompleted)
	blocker.SetPhase(types.PhaseCommit)

	co.Tick()
	assert.NotEqual(t, types.StatusBlocked, dependent.Status(), "C2 should leave BLOCKED once C1 commits")
}

func TestResourceOverlapBlocksSecondAdmission(t *testing.T) {
	co := newTestCoordinator(t, 5)

	_, err := co.Submit(newCycle("C1", 1), nil, []string{"shared.py"})
	require.NoError(t, err)
	_, err = co.Submit(newCycle("C2", 2), nil, []string{"shared.py"})
	require.NoError(t, err)

	co.Tick()
	assert.Equal(t, 1, co.ActiveCount(), "second cycle can't lock a file the first already holds")
}

func TestPauseResumeCancel(t *testing.T) {
	co := newTestCoordinator(t, 5)
	c := newCycle("C1", 5)
	_, err := co.Submit(c, nil, nil)
	require.NoError(t, err)
	co.Tick()
	require.Equal(t, 1, co.ActiveCount())

	require.NoError(t, co.Pause("C1"))
	assert.Equal(t, types.StatusPaused, c.Status())

	require.NoError(t, co.Resume("C1"))
	assert.Equal(t, types.StatusActive, c.Status())

	require.NoError(t, co.Cancel("C1"))
	assert.Equal(t, types.StatusCancelled, c.Status())
	assert.Equal(t, 0, co.ActiveCount())

	assert.ErrorIs(t, co.Pause("C1"), ErrUnknownCycle)
}

func TestTickReleasesExpiredLocks(t *testing.T) {
	co := newTestCoordinator(t, 5)
	c := newCycle("C1", 5)
	base := time.Now()
	co.cfg.Clock = func() time.Time { return base }
	_, err := co.Submit(c, nil, []string{"a.py"})
	require.NoError(t, err)

	co.Tick()
	require.Equal(t, 1, co.ActiveCount())
	require.NotEmpty(t, c.HeldLocks())

	co.cfg.Clock = func() time.Time { return base.Add(time.Hour) }
	co.releaseExpiredLocks(base.Add(time.Hour))
	assert.Empty(t, c.HeldLocks())
}

func TestOptimizeQueueSortsByDependencyCountThenPriority(t *testing.T) {
	co := newTestCoordinator(t, 5)
	_, err := co.Submit(newCycle("A", 1), nil, nil)
	require.NoError(t, err)
	_, err = co.Submit(newCycle("B", 1), []string{"A"}, nil)
	require.NoError(t, err)

	co.OptimizeQueue()
	co.mu.Lock()
	first := co.queue[0].cycle.CycleID
	co.mu.Unlock()
	assert.Equal(t, "A", first, "fewer outstanding dependencies sorts first")
}
