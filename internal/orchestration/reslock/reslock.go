// Package reslock is the small typed client surface PSM and the
// Parallel Coordinator share for resource-lock acquisition, backed by
// lockcache. Keeping it as its own narrow interface - rather than PSM
// importing the coordinator or vice versa - is what keeps PSM, PC, CR,
// and WP wired together only through method sets.
package reslock

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/paracycle/internal/lockcache"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// Locker is the resource-lock contract: acquire is all-or-nothing
// across a batch, release is per-resource, and expired locks are
// transparently treated as absent.
type Locker interface {
	// AcquireAll attempts to acquire every resourceID exclusively for
	// cycleID. Either all succeed or none are held afterward.
	AcquireAll(ctx context.Context, cycleID, storyID string, resourceIDs []string, ttl time.Duration) bool
	Release(ctx context.Context, cycleID string, resourceIDs ...string)
	// ReleaseExpired sweeps the lock table for expired entries and
	// releases them, returning the resource ids it released.
	ReleaseExpired(ctx context.Context, now time.Time) []string
	// HeldBy reports the cycle currently holding resourceID, if any.
	HeldBy(ctx context.Context, resourceID string) (string, bool)
	// Snapshot returns every live lock, for metrics and conflict checks.
	Snapshot(ctx context.Context) []types.ResourceLock
}

// CacheLocker implements Locker atop a lockcache.Manager keyed by
// resource id. Each entry holds every live holder of that resource id,
// since a SHARED-mode resource (the test runner) can have
// more than one concurrent holder; EXCLUSIVE-mode resources (file
// paths, the repository lock) only ever have one.
type CacheLocker struct {
	// mu totally orders acquisition and release across callers, so
	// AcquireAll's check-then-write over a batch is atomic even when
	// the PSM and the coordinator contend from separate goroutines.
	mu    sync.Mutex
	cache lockcache.Manager[string, []types.ResourceLock]
}

// NewCacheLocker constructs a Locker backed by cache.
func NewCacheLocker(cache lockcache.Manager[string, []types.ResourceLock]) *CacheLocker {
	return &CacheLocker{cache: cache}
}

func (l *CacheLocker) AcquireAll(ctx context.Context, cycleID, storyID string, resourceIDs []string, ttl time.Duration) bool {
	if len(resourceIDs) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, id := range resourceIDs {
		mode := modeFor(id)
		for _, holder := range l.liveHolders(ctx, id, now) {
			if holder.CycleID == cycleID {
				continue
			}
			if mode == types.LockExclusive || holder.Mode == types.LockExclusive {
				return false
			}
		}
	}

	for _, id := range resourceIDs {
		holders := l.liveHolders(ctx, id, now)
		updated := make([]types.ResourceLock, 0, len(holders)+1)
		for _, holder := range holders {
			if holder.CycleID != cycleID {
				updated = append(updated, holder)
			}
		}
		updated = append(updated, types.ResourceLock{
			ResourceID:   id,
			ResourceType: resourceTypeFor(id),
			CycleID:      cycleID,
			StoryID:      storyID,
			AcquiredAt:   now,
			ExpiresAt:    now.Add(ttl),
			Mode:         modeFor(id),
		})
		l.cache.Set(ctx, id, updated, ttl)
	}
	return true
}

// liveHolders returns resourceID's unexpired holders, if any.
func (l *CacheLocker) liveHolders(ctx context.Context, resourceID string, now time.Time) []types.ResourceLock {
	holders, ok := l.cache.Get(ctx, resourceID)
	if !ok {
		return nil
	}
	live := make([]types.ResourceLock, 0, len(holders))
	for _, holder := range holders {
		if !holder.Expired(now) {
			live = append(live, holder)
		}
	}
	return live
}

func resourceTypeFor(resourceID string) types.ResourceType {
	if resourceID == types.TestRunnerResourceID {
		return types.ResourceTestRunner
	}
	if resourceID == "repository" {
		return types.ResourceRepository
	}
	return types.ResourceFile
}

// modeFor is the sharing discipline for resourceID: the test runner is
// SHARED so multiple cycles can hold it at once; file paths and the
// repository lock stay EXCLUSIVE. ResourceAgent would also be SHARED,
// but resourceTypeFor maps no resource id to it.
func modeFor(resourceID string) types.LockMode {
	switch resourceTypeFor(resourceID) {
	case types.ResourceTestRunner, types.ResourceAgent:
		return types.LockShared
	default:
		return types.LockExclusive
	}
}

func (l *CacheLocker) Release(ctx context.Context, cycleID string, resourceIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, id := range resourceIDs {
		remaining := make([]types.ResourceLock, 0)
		for _, holder := range l.liveHolders(ctx, id, now) {
			if holder.CycleID != cycleID {
				remaining = append(remaining, holder)
			}
		}
		l.storeOrDelete(ctx, id, remaining, now)
	}
}

func (l *CacheLocker) ReleaseExpired(ctx context.Context, now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var released []string
	for id, holders := range l.cache.Items(ctx) {
		live := make([]types.ResourceLock, 0, len(holders))
		anyExpired := false
		for _, holder := range holders {
			if holder.Expired(now) {
				anyExpired = true
				continue
			}
			live = append(live, holder)
		}
		if !anyExpired {
			continue
		}
		released = append(released, id)
		l.storeOrDelete(ctx, id, live, now)
	}
	return released
}

// storeOrDelete writes remaining back under resourceID, sized to the
// longest-lived remaining holder's expiry, or deletes the entry if no
// holders remain.
func (l *CacheLocker) storeOrDelete(ctx context.Context, resourceID string, remaining []types.ResourceLock, now time.Time) {
	if len(remaining) == 0 {
		_ = l.cache.Delete(ctx, resourceID)
		return
	}
	var ttl time.Duration
	for _, holder := range remaining {
		if d := holder.ExpiresAt.Sub(now); d > ttl {
			ttl = d
		}
	}
	l.cache.Set(ctx, resourceID, remaining, ttl)
}

func (l *CacheLocker) HeldBy(ctx context.Context, resourceID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	holders := l.liveHolders(ctx, resourceID, time.Now())
	if len(holders) == 0 {
		return "", false
	}
	return holders[0].CycleID, true
}

func (l *CacheLocker) Snapshot(ctx context.Context) []types.ResourceLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.cache.Items(ctx)
	out := make([]types.ResourceLock, 0, len(items))
	for _, holders := range items {
		out = append(out, holders...)
	}
	return out
}

// NopLocker is the Locker used when resource locking is disabled: every
// acquisition succeeds and nothing is tracked, so cycles coordinate
// through conflict detection alone.
type NopLocker struct{}

func (NopLocker) AcquireAll(context.Context, string, string, []string, time.Duration) bool {
	return true
}

func (NopLocker) Release(context.Context, string, ...string) {}

func (NopLocker) ReleaseExpired(context.Context, time.Time) []string { return nil }

func (NopLocker) HeldBy(context.Context, string) (string, bool) { return "", false }

func (NopLocker) Snapshot(context.Context) []types.ResourceLock { return nil }
