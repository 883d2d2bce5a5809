package reslock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

func newTestLocker(t *testing.T) *CacheLocker {
	t.Helper()
	cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("reslock_test", time.Hour, time.Minute)
	return NewCacheLocker(cache)
}

func TestAcquireAllExclusiveRejectsSecondHolderOnFile(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	ok := l.AcquireAll(ctx, "C1", "S1", []string{"a.py"}, time.Hour)
	require.True(t, ok)

	ok = l.AcquireAll(ctx, "C2", "S1", []string{"a.py"}, time.Hour)
	assert.False(t, ok, "a.py is EXCLUSIVE, a second cycle must not acquire it")
}

func TestAcquireAllSharedAllowsMultipleHoldersOnTestRunner(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	ok := l.AcquireAll(ctx, "C1", "S1", []string{types.TestRunnerResourceID}, time.Hour)
	require.True(t, ok)

	ok = l.AcquireAll(ctx, "C2", "S2", []string{types.TestRunnerResourceID}, time.Hour)
	assert.True(t, ok, "test_runner is SHARED, a second cycle must be able to acquire it concurrently")

	snap := l.Snapshot(ctx)
	assert.Len(t, snap, 2, "both holders should appear live in the snapshot")
}

func TestAcquireAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	require.True(t, l.AcquireAll(ctx, "C1", "S1", []string{"a.py"}, time.Hour))

	ok := l.AcquireAll(ctx, "C2", "S2", []string{"b.py", "a.py"}, time.Hour)
	assert.False(t, ok, "C2 must not hold b.py either, since a.py couldn't be acquired")

	_, held := l.HeldBy(ctx, "b.py")
	assert.False(t, held)
}

func TestAcquireAllIsIdempotentForSameCycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	require.True(t, l.AcquireAll(ctx, "C1", "S1", []string{"a.py"}, time.Hour))
	ok := l.AcquireAll(ctx, "C1", "S1", []string{"a.py"}, 2*time.Hour)
	assert.True(t, ok, "a cycle re-acquiring its own resource must succeed")

	holder, found := l.HeldBy(ctx, "a.py")
	require.True(t, found)
	assert.Equal(t, "C1", holder)
}

func TestReleaseDropsOnlyThatCyclesHold(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	require.True(t, l.AcquireAll(ctx, "C1", "S1", []string{types.TestRunnerResourceID}, time.Hour))
	require.True(t, l.AcquireAll(ctx, "C2", "S2", []string{types.TestRunnerResourceID}, time.Hour))

	l.Release(ctx, "C1", types.TestRunnerResourceID)

	holder, found := l.HeldBy(ctx, types.TestRunnerResourceID)
	require.True(t, found, "C2 should still hold test_runner")
	assert.Equal(t, "C2", holder)

	l.Release(ctx, "C2", types.TestRunnerResourceID)
	_, found = l.HeldBy(ctx, types.TestRunnerResourceID)
	assert.False(t, found, "no holders should remain")
}

func TestReleaseExpiredOnlyClearsExpiredHolders(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	base := time.Now()
	require.True(t, l.AcquireAll(ctx, "C1", "S1", []string{types.TestRunnerResourceID}, time.Minute))
	require.True(t, l.AcquireAll(ctx, "C2", "S2", []string{types.TestRunnerResourceID}, time.Hour))

	released := l.ReleaseExpired(ctx, base.Add(2*time.Minute))
	assert.Contains(t, released, types.TestRunnerResourceID)

	holder, found := l.HeldBy(ctx, types.TestRunnerResourceID)
	require.True(t, found, "C2's lock hasn't expired yet")
	assert.Equal(t, "C2", holder)
}

func TestAcquireAllRepositoryStaysExclusiveBesideSharedTestRunner(t *testing.T) {
	ctx := context.Background()
	l := newTestLocker(t)

	require.True(t, l.AcquireAll(ctx, "C1", "S1", []string{types.TestRunnerResourceID}, time.Hour))

	ok := l.AcquireAll(ctx, "C2", "S2", []string{"repository"}, time.Hour)
	assert.True(t, ok, "repository is a distinct resource id from test_runner")

	ok = l.AcquireAll(ctx, "C3", "S3", []string{"repository"}, time.Hour)
	assert.False(t, ok, "repository is EXCLUSIVE even though test_runner is SHARED")
}
