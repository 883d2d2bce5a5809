package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/psm"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// ============================================================================
// Property-Based Tests for Coordinator Invariants
// ============================================================================

// TestProperty_ParallelismCapNeverExceeded verifies that no matter how
// many cycles are submitted, with whatever priorities and resource
// overlaps, the ACTIVE set never exceeds MaxParallelCycles on any tick.
func TestProperty_ParallelismCapNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("cap_prop", time.Hour, time.Minute)
		locker := reslock.NewCacheLocker(cache)
		m := psm.New(psm.Config{Locker: locker, LockTTL: time.Hour})
		maxParallel := rapid.IntRange(2, 5).Draw(t, "maxParallel")
		co := New(Config{
			PSM:               m,
			Locker:            locker,
			MaxParallelCycles: maxParallel,
			TickInterval:      time.Hour,
		})
		defer co.Stop()

		numCycles := rapid.IntRange(1, 12).Draw(t, "numCycles")
		paths := []string{"a.py", "b.py", "c.py", "d.py"}
		for i := 0; i < numCycles; i++ {
			priority := rapid.IntRange(1, 10).Draw(t, fmt.Sprintf("priority-%d", i))
			var resources []string
			for _, p := range paths {
				if rapid.Bool().Draw(t, fmt.Sprintf("touch-%d-%s", i, p)) {
					resources = append(resources, p)
				}
			}
			cycle := types.NewCycle(fmt.Sprintf("C%02d", i), fmt.Sprintf("S%02d", i), priority, nil, 0, time.Now())
			_, err := co.Submit(cycle, nil, resources)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		}

		ticks := rapid.IntRange(1, 4).Draw(t, "ticks")
		for i := 0; i < ticks; i++ {
			co.Tick()
			if got := co.ActiveCount(); got > maxParallel {
				t.Fatalf("active count %d exceeds cap %d after tick %d", got, maxParallel, i+1)
			}
		}
	})
}

// TestProperty_ExclusiveFileLocksHaveSingleHolder verifies that after
// any admission sequence, every file resource has at most one live
// holder in the lock table; only the shared test-runner resource may
// accumulate more.
func TestProperty_ExclusiveFileLocksHaveSingleHolder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cache := lockcache.NewInMemoryManager[string, []types.ResourceLock]("excl_prop", time.Hour, time.Minute)
		locker := reslock.NewCacheLocker(cache)
		m := psm.New(psm.Config{Locker: locker, LockTTL: time.Hour})
		co := New(Config{
			PSM:               m,
			Locker:            locker,
			MaxParallelCycles: 5,
			TickInterval:      time.Hour,
		})
		defer co.Stop()

		numCycles := rapid.IntRange(2, 10).Draw(t, "numCycles")
		paths := []string{"x.py", "y.py", "z.py"}
		for i := 0; i < numCycles; i++ {
			path := rapid.SampledFrom(paths).Draw(t, fmt.Sprintf("path-%d", i))
			cycle := types.NewCycle(fmt.Sprintf("C%02d", i), "S1", 5, nil, 0, time.Now())
			_, err := co.Submit(cycle, nil, []string{path})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		}

		co.Tick()
		co.Tick()

		holders := make(map[string]map[string]struct{})
		for _, lock := range locker.Snapshot(context.Background()) {
			if holders[lock.ResourceID] == nil {
				holders[lock.ResourceID] = make(map[string]struct{})
			}
			holders[lock.ResourceID][lock.CycleID] = struct{}{}
		}
		for resourceID, cycleIDs := range holders {
			if resourceID == types.TestRunnerResourceID {
				continue
			}
			if len(cycleIDs) > 1 {
				t.Fatalf("resource %q held by %d cycles", resourceID, len(cycleIDs))
			}
		}
	})
}
