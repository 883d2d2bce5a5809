package engine

import (
	"github.com/zjrosen/paracycle/internal/orchestration/conflict"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/pool"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// CycleStatus is the point-in-time composite view GetCycleStatus
// returns for one tracked cycle.
type CycleStatus struct {
	CycleID      string
	StoryID      string
	Phase        types.Phase
	Status       types.CycleStatus
	Priority     int
	Commits      int
	HeldLocks    []string
	LastActivity string
	Error        string
}

// GetCycleStatus returns the current composite status of a tracked
// cycle, or false if the facade has no record of cycleID.
func (e *Engine) GetCycleStatus(cycleID string) (CycleStatus, bool) {
	e.mu.Lock()
	tc, ok := e.cycles[cycleID]
	e.mu.Unlock()
	if !ok {
		return CycleStatus{}, false
	}

	tc.mu.Lock()
	errMsg := ""
	if tc.err != nil {
		errMsg = tc.err.Error()
	}
	tc.mu.Unlock()

	return CycleStatus{
		CycleID:      cycleID,
		StoryID:      tc.cycle.StoryID,
		Phase:        tc.cycle.Phase(),
		Status:       tc.cycle.Status(),
		Priority:     tc.cycle.Priority,
		Commits:      tc.cycle.Commits(),
		HeldLocks:    tc.cycle.HeldLocks(),
		LastActivity: tc.cycle.LastActivity().Format("2006-01-02T15:04:05Z07:00"),
		Error:        errMsg,
	}, true
}

// EngineStatus is the composite status GetEngineStatus returns: the
// coordinator's summary, the worker pool's status, the conflict
// resolver's resolution stats, and the facade's own running metrics.
type EngineStatus struct {
	Running     bool
	Coordinator events.Summary
	Pool        pool.Status
	Conflicts   conflict.Stats
	Metrics     Metrics
}

// GetEngineStatus returns a composite snapshot of every component's
// status plus the facade's accumulated metrics.
func (e *Engine) GetEngineStatus() EngineStatus {
	e.mu.Lock()
	running := e.running
	metrics := e.metrics
	e.mu.Unlock()

	return EngineStatus{
		Running:     running,
		Coordinator: e.cfg.Coordinator.Summary(),
		Pool:        e.cfg.Pool.Status(),
		Conflicts:   e.cfg.Conflicts.Stats(),
		Metrics:     metrics,
	}
}
