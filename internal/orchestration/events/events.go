// Package events defines the engine's outbound event stream: phase
// transitions, parallel-status summaries, and coordination events
// fanned out over a pubsub.Broker so that delivery is the caller's
// problem, not the core's.
package events

import "github.com/zjrosen/paracycle/internal/orchestration/types"

// CoordinationKind is the closed set of coordination_event types the
// coordinator and PSM may emit.
type CoordinationKind string

const (
	CoordStateChange      CoordinationKind = "state_change"
	CoordCycleUnblocked   CoordinationKind = "cycle_unblocked"
	CoordResourceRequest  CoordinationKind = "resource_request"
	CoordConflictDetected CoordinationKind = "conflict_detected"
)

// PhaseTransition is emitted whenever a cycle's PSM transition commits.
type PhaseTransition struct {
	StoryID  string
	CycleID  string
	OldPhase types.Phase
	NewPhase types.Phase
}

// ParallelStatus is a periodic summary of the coordinator's state.
type ParallelStatus struct {
	Summary Summary
}

// Summary is the composite snapshot ParallelStatus carries.
type Summary struct {
	ActiveCycles  int
	PendingCycles int
	BlockedCycles int
	PausedCycles  int
	MaxParallel   int
	QueueDepth    int
	Utilization   float64
}

// CoordinationEvent is the generic coordination-channel message: state
// changes visible to sibling/dependent cycles, unblock notifications,
// resource requests, and conflict alerts.
type CoordinationEvent struct {
	EventID      string
	Type         CoordinationKind
	SourceCycle  string
	TargetCycles []string
	Data         map[string]any
}

// Event is the envelope published on the engine's broker; exactly one
// of the payload fields is populated per event, discriminated by Kind.
type Event struct {
	Kind         Kind
	Transition   *PhaseTransition
	Status       *ParallelStatus
	Coordination *CoordinationEvent
}

// Kind discriminates which payload an Event carries.
type Kind string

const (
	KindPhaseTransition   Kind = "phase_transition"
	KindParallelStatus    Kind = "parallel_status"
	KindCoordinationEvent Kind = "coordination_event"
)

func NewPhaseTransitionEvent(storyID, cycleID string, oldPhase, newPhase types.Phase) Event {
	return Event{
		Kind: KindPhaseTransition,
		Transition: &PhaseTransition{
			StoryID:  storyID,
			CycleID:  cycleID,
			OldPhase: oldPhase,
			NewPhase: newPhase,
		},
	}
}

func NewParallelStatusEvent(s Summary) Event {
	return Event{Kind: KindParallelStatus, Status: &ParallelStatus{Summary: s}}
}

func NewCoordinationEvent(eventID string, kind CoordinationKind, source string, targets []string, data map[string]any) Event {
	return Event{
		Kind: KindCoordinationEvent,
		Coordination: &CoordinationEvent{
			EventID:      eventID,
			Type:         kind,
			SourceCycle:  source,
			TargetCycles: targets,
			Data:         data,
		},
	}
}
