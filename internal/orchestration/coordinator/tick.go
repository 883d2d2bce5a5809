package coordinator

import (
	"time"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// tickLoop runs the coordination tick on cfg.TickInterval until Stop
// is called.
func (co *Coordinator) tickLoop() {
	defer co.wg.Done()
	ticker := time.NewTicker(co.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-co.ctx.Done():
			return
		case <-ticker.C:
			co.Tick()
		}
	}
}

// Tick runs one coordination pass: release expired locks, detect
// progress/stuck/completed cycles, pause on conflict prevention, admit
// queued cycles up to capacity, and emit a status summary. Exported so
// tests and HandleContextRequest-adjacent callers can force a pass
// deterministically instead of waiting on the ticker.
func (co *Coordinator) Tick() {
	_, span := co.cfg.Tracer.Start(co.ctx, tracing.SpanPrefixCoord+"pass")
	defer span.End()
	now := co.cfg.Clock()

	co.releaseExpiredLocks(now)
	co.detectProgress(now)
	if co.cfg.ConflictPreventionOn {
		co.preventConflicts()
	}
	co.updateBlockedStatuses()
	co.admitQueued(now)
	co.cfg.Sink.Emit(events.NewParallelStatusEvent(co.Summary()))
}

// releaseExpiredLocks sweeps the lock table and drops held-lock
// bookkeeping on any cycle that lost a lock to TTL expiry.
func (co *Coordinator) releaseExpiredLocks(now time.Time) {
	released := co.cfg.Locker.ReleaseExpired(co.ctx, now)
	if len(released) == 0 {
		return
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, resourceID := range released {
		for _, cycle := range co.cycles {
			cycle.RemoveHeldLock(resourceID)
		}
	}
	log.Debug(log.CatCoord, "released expired locks", "count", len(released))
}

// detectProgress walks ACTIVE cycles: completed ones (phase COMMIT with
// at least one commit recorded) are retired, and ones whose last activity predates StuckAfter are
// paused so a human or a later resubmission can intervene.
func (co *Coordinator) detectProgress(now time.Time) {
	co.mu.Lock()
	var activeIDs []string
	for id := range co.active {
		activeIDs = append(activeIDs, id)
	}
	co.mu.Unlock()

	for _, id := range activeIDs {
		co.mu.Lock()
		cycle, ok := co.cycles[id]
		co.mu.Unlock()
		if !ok {
			continue
		}

		if cycle.Phase().Terminal() && cycle.Commits() > 0 {
			co.completeLocked(cycle, now)
			continue
		}

		if now.Sub(cycle.LastActivity()) > co.cfg.StuckAfter {
			cycle.SetStatus(types.StatusPaused)
			co.mu.Lock()
			delete(co.active, id)
			co.mu.Unlock()
			log.Info(log.CatCoord, "cycle stuck, pausing", "cycle_id", id, "idle_for", now.Sub(cycle.LastActivity()))
		}
	}
}

func (co *Coordinator) completeLocked(cycle *types.Cycle, now time.Time) {
	cycle.EndedAt = now
	cycle.SetStatus(types.StatusCompleted)
	co.cfg.Locker.Release(co.ctx, cycle.CycleID, cycle.HeldLocks()...)
	cycle.ClearHeldLocks()
	co.mu.Lock()
	delete(co.active, cycle.CycleID)
	delete(co.cycles, cycle.CycleID)
	for i, e := range co.queue {
		if e.cycle.CycleID == cycle.CycleID {
			co.queue = append(co.queue[:i], co.queue[i+1:]...)
			break
		}
	}
	co.mu.Unlock()
	log.Info(log.CatCoord, "cycle completed", "cycle_id", cycle.CycleID)
}

// preventConflicts pauses the higher-numbered-priority (i.e. lower
// priority) cycle of any ACTIVE pair whose resource sets overlap, so
// the pair never races on a shared file inside a single tick window.
func (co *Coordinator) preventConflicts() {
	co.mu.Lock()
	type pair struct {
		cycle     *types.Cycle
		resources []string
	}
	var active []pair
	for id := range co.active {
		for _, e := range co.queue {
			if e.cycle.CycleID == id {
				active = append(active, pair{e.cycle, e.fileResources})
			}
		}
	}
	co.mu.Unlock()

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if !resourceSetsOverlap(active[i].resources, active[j].resources) {
				continue
			}
			loser := active[i].cycle
			if active[j].cycle.Priority > loser.Priority {
				loser = active[j].cycle
			}
			loser.SetStatus(types.StatusPaused)
			co.mu.Lock()
			delete(co.active, loser.CycleID)
			co.mu.Unlock()
			log.Info(log.CatCoord, "pausing cycle for resource conflict prevention", "cycle_id", loser.CycleID)
		}
	}
}

// updateBlockedStatuses walks every non-active, non-terminal queue
// entry and re-derives BLOCKED vs. PENDING from its current
// dependency and resource-overlap state, so blocked status is
// re-checked on every tick rather than fixed at submission time.
// PAUSED cycles are left alone - resuming them is an explicit
// operator action, not something a tick should undo.
func (co *Coordinator) updateBlockedStatuses() {
	co.mu.Lock()
	defer co.mu.Unlock()
	for _, e := range co.queue {
		if _, active := co.active[e.cycle.CycleID]; active {
			continue
		}
		status := e.cycle.Status()
		if status.Terminal() || status == types.StatusPaused {
			continue
		}
		blocked := len(co.cfg.PSM.CheckCycleDependencies(e.cycle.CycleID)) > 0 ||
			co.hasActiveOverlapLocked(e.cycle.CycleID, e.fileResources)
		switch {
		case blocked && status != types.StatusBlocked:
			e.cycle.SetStatus(types.StatusBlocked)
		case !blocked && status == types.StatusBlocked:
			e.cycle.SetStatus(types.StatusPending)
		}
	}
}

// admitQueued pops entries off the front of the priority queue while
// there's spare parallelism capacity, admitting any entry whose
// dependencies are satisfied, whose resources aren't locked elsewhere,
// and whose locks it can acquire atomically. Entries that can't yet
// admit are requeued in place rather than dropped.
func (co *Coordinator) admitQueued(now time.Time) {
	for {
		co.mu.Lock()
		if len(co.active) >= co.cfg.MaxParallelCycles {
			co.mu.Unlock()
			return
		}
		idx := co.nextAdmissibleLocked()
		if idx < 0 {
			co.mu.Unlock()
			return
		}
		entry := co.queue[idx]
		co.mu.Unlock()

		if !co.tryAdmit(entry, now) {
			return
		}
	}
}

// nextAdmissibleLocked returns the queue index of the highest-priority
// PENDING entry that isn't already active, or -1 if none qualify this
// tick. updateBlockedStatuses has already moved anything with unmet
// dependencies or an active resource overlap to BLOCKED, so a plain
// status check is sufficient here; residual same-tick overlaps (a
// second entry admitted right after one touching the same file) are
// still caught by the exclusive file lock in tryAdmit's AcquireAll.
func (co *Coordinator) nextAdmissibleLocked() int {
	for i, e := range co.queue {
		if _, active := co.active[e.cycle.CycleID]; active {
			continue
		}
		if e.cycle.Status() != types.StatusPending {
			continue
		}
		return i
	}
	return -1
}

// tryAdmit attempts to lock entry's resources and, on success, marks
// its cycle ACTIVE. On lock failure the entry stays queued and is
// retried on the next tick; worker availability is the pool's own
// concern at dispatch time, not a gate on admission.
func (co *Coordinator) tryAdmit(entry *queueEntry, now time.Time) bool {
	if !co.cfg.Locker.AcquireAll(co.ctx, entry.cycle.CycleID, entry.cycle.StoryID, entry.resources, co.cfg.ResourceTimeout) {
		return false
	}
	for _, r := range entry.resources {
		entry.cycle.AddHeldLock(r)
	}

	entry.cycle.StartedAt = now
	entry.cycle.Touch(now)
	entry.cycle.SetStatus(types.StatusActive)

	co.mu.Lock()
	co.active[entry.cycle.CycleID] = struct{}{}
	co.mu.Unlock()

	log.Info(log.CatCoord, "cycle admitted", "cycle_id", entry.cycle.CycleID, "priority", entry.cycle.Priority)
	return true
}
