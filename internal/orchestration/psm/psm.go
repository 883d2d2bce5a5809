// Package psm implements the Phase State Machine: per-cycle phase
// transitions, precondition gating against a cycle's task state, and
// resource-lock acquisition at transition time. A single transition
// mutex guards Validate->MutateState->EmitEvents so concurrent commands
// against different cycles are still totally ordered with respect to
// each other's coordination-event side effects.
package psm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// Result is what Validate and Transition return: either {OK, NewPhase}
// or {!OK, Reason, Hint, Conflicts}.
type Result struct {
	OK             bool
	NewPhase       types.Phase
	Reason         string
	Hint           string
	Conflicts      []string
	RepositoryLock bool
}

// entry is the PSM's registry row for one cycle: the cycle itself plus
// its last transition time. Dependency edges are kept in PSM.deps.
type entry struct {
	cycle          *types.Cycle
	lastTransition time.Time
}

// Config configures a PSM instance.
type Config struct {
	Locker  reslock.Locker
	Sink    events.Sink
	Tracer  trace.Tracer
	LockTTL time.Duration
	Clock   func() time.Time
}

// PSM is the phase state machine. All mutable registry state is behind
// mu; the one mutex guards the full validate-mutate-emit sequence of a
// transition, so transitions are totally ordered across cycles.
type PSM struct {
	mu sync.Mutex

	entries map[string]*entry
	deps    map[string]map[string]struct{} // cycleID -> set of dependency cycleIDs

	locker  reslock.Locker
	sink    events.Sink
	tracer  trace.Tracer
	lockTTL time.Duration
	clock   func() time.Time
}

// New constructs a PSM. Locker is required; Sink defaults to a no-op,
// Tracer to an OpenTelemetry no-op tracer, Clock to time.Now.
func New(cfg Config) *PSM {
	sink := cfg.Sink
	if sink == nil {
		sink = events.NoopSink{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("psm")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &PSM{
		entries: make(map[string]*entry),
		deps:    make(map[string]map[string]struct{}),
		locker:  cfg.Locker,
		sink:    sink,
		tracer:  tracer,
		lockTTL: lockTTL,
		clock:   clock,
	}
}

// Register adds cycle to the PSM's tracking table. A cycle already
// registered is re-registered against its (possibly updated) pointer;
// its dependency set is taken from cycle.Dependencies.
func (m *PSM) Register(cycle *types.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[cycle.CycleID] = &entry{cycle: cycle, lastTransition: cycle.SubmittedAt}
	if _, ok := m.deps[cycle.CycleID]; !ok {
		m.deps[cycle.CycleID] = make(map[string]struct{})
	}

	for _, dep := range cycle.Dependencies {
		if err := m.addDependencyLocked(cycle.CycleID, dep); err != nil {
			return err
		}
	}
	return nil
}

// Unregister releases every lock held in cycleID's name. The registry
// entry itself is retained so dependents can keep querying this
// cycle's terminal phase/status (CheckCycleDependencies) after it
// finishes.
func (m *PSM) Unregister(ctx context.Context, cycleID string) {
	m.mu.Lock()
	e, ok := m.entries[cycleID]
	m.mu.Unlock()
	if !ok {
		return
	}

	held := e.cycle.HeldLocks()
	if len(held) > 0 {
		m.locker.Release(ctx, cycleID, held...)
		e.cycle.ClearHeldLocks()
	}
}

// AddDependency records that cycleID depends on dependsOn. Rejects the
// edge - leaving the graph unchanged - if it would close a cycle,
// using a standard three-color DFS over the hypothetical graph: the
// edge is tentatively added, checked, and rolled back on rejection, so
// the check is atomic.
func (m *PSM) AddDependency(cycleID, dependsOn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addDependencyLocked(cycleID, dependsOn)
}

func (m *PSM) addDependencyLocked(cycleID, dependsOn string) error {
	if cycleID == dependsOn {
		return types.ErrCyclicDependency
	}
	if _, ok := m.deps[cycleID]; !ok {
		m.deps[cycleID] = make(map[string]struct{})
	}
	if _, ok := m.deps[cycleID][dependsOn]; ok {
		return nil // already recorded
	}

	m.deps[cycleID][dependsOn] = struct{}{}
	if m.hasCycleLocked() {
		delete(m.deps[cycleID], dependsOn)
		return types.ErrCyclicDependency
	}
	return nil
}

// hasCycleLocked runs a three-color DFS over the full dependency graph.
// white=unvisited, gray=on the current recursion stack, black=fully
// explored. A back-edge into a gray node means a cycle exists.
func (m *PSM) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		for dep := range m.deps[node] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	nodes := make([]string, 0, len(m.deps))
	for node := range m.deps {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		if color[node] == white {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

// CheckCycleDependencies returns the subset of cycleID's dependencies
// that have not reached phase COMMIT or status COMPLETED - i.e. the
// dependencies still blocking cycleID's admission to ACTIVE.
func (m *PSM) CheckCycleDependencies(cycleID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkCycleDependenciesLocked(cycleID)
}

func (m *PSM) checkCycleDependenciesLocked(cycleID string) []string {
	var blocking []string
	for dep := range m.deps[cycleID] {
		e, ok := m.entries[dep]
		if !ok {
			blocking = append(blocking, dep)
			continue
		}
		if e.cycle.Phase() == types.PhaseCommit || e.cycle.Status() == types.StatusCompleted {
			continue
		}
		blocking = append(blocking, dep)
	}
	sort.Strings(blocking)
	return blocking
}

// Phase returns the current phase of a registered cycle.
func (m *PSM) Phase(cycleID string) (types.Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cycleID]
	if !ok {
		return types.PhaseDesign, false
	}
	return e.cycle.Phase(), true
}

// Validate decides whether cmd is legal right now against cycle,
// without mutating any state.
func (m *PSM) Validate(cmd types.Command, cycle *types.Cycle) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked(cmd, cycle)
}

func (m *PSM) validateLocked(cmd types.Command, cycle *types.Cycle) Result {
	phase := cycle.Phase()

	switch cmd {
	case types.CmdStart:
		return Result{OK: true, NewPhase: types.PhaseDesign}
	case types.CmdStatus:
		return Result{OK: true, NewPhase: phase}
	case types.CmdAbort:
		return Result{OK: true, NewPhase: types.PhaseCommit}
	}

	r, ok := table[cell{cmd, phase}]
	if !ok {
		return Result{
			OK:     false,
			Reason: fmt.Sprintf("command %q is not legal from phase %s", cmd, phase),
			Hint:   fmt.Sprintf("no transition is defined for (%s, %s)", cmd, phase),
		}
	}
	if !r.precondition(cycle.TaskState()) {
		return Result{OK: false, Reason: "precondition unmet", Hint: r.hint}
	}

	if r.repositoryLock {
		resourceID := repositoryResourceID(cycle.StoryID)
		if holder, held := m.locker.HeldBy(context.Background(), resourceID); held && holder != cycle.CycleID {
			return Result{
				OK:        false,
				Reason:    "repository lock held by another cycle",
				Hint:      fmt.Sprintf("repository lock for story %q is held by cycle %s", cycle.StoryID, holder),
				Conflicts: []string{resourceID},
			}
		}
	}

	return Result{OK: true, NewPhase: r.dest, RepositoryLock: r.repositoryLock}
}

// Transition validates cmd against cycle and, if legal, atomically
// acquires any required resource locks, bumps the phase, and enqueues
// coordination events. On any failure no state changes are made.
func (m *PSM) Transition(ctx context.Context, cmd types.Command, cycle *types.Cycle) (Result, error) {
	spanCtx, span := m.tracer.Start(ctx, tracing.SpanPrefixPSM+cmd.String())
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrCycleID, cycle.CycleID),
		attribute.String(tracing.AttrCommand, cmd.String()),
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.validateLocked(cmd, cycle)
	if !res.OK {
		log.Debug(log.CatPSM, "transition rejected", "cycle_id", cycle.CycleID, "command", cmd.String(), "reason", res.Reason)
		return res, nil
	}

	if res.RepositoryLock {
		resourceID := repositoryResourceID(cycle.StoryID)
		if !m.locker.AcquireAll(spanCtx, cycle.CycleID, cycle.StoryID, []string{resourceID}, m.lockTTL) {
			return Result{
				OK:        false,
				Reason:    "failed to acquire repository lock",
				Hint:      "retry once the repository lock is released",
				Conflicts: []string{resourceID},
			}, nil
		}
		cycle.AddHeldLock(resourceID)
		cycle.IncrementCommits()
		span.AddEvent(tracing.EventLockAcquired, trace.WithAttributes(attribute.String(tracing.AttrLockResource, resourceID)))
	}

	oldPhase := cycle.Phase()
	now := m.clock()
	cycle.SetPhase(res.NewPhase)
	cycle.Touch(now)
	if e, ok := m.entries[cycle.CycleID]; ok {
		e.lastTransition = now
	}

	span.SetAttributes(attribute.String(tracing.AttrCyclePhase, res.NewPhase.String()))
	span.AddEvent(tracing.EventTransitionValidated)
	log.Debug(log.CatPSM, "phase transition", "cycle_id", cycle.CycleID, "story_id", cycle.StoryID,
		"command", cmd.String(), "old_phase", oldPhase.String(), "new_phase", res.NewPhase.String())

	m.broadcastTransitionLocked(cycle, oldPhase, res.NewPhase)

	return res, nil
}

// broadcastTransitionLocked emits the phase_transition event plus any
// coordination events a transition triggers: a state_change to every
// sibling (same story) or dependent cycle, and a cycle_unblocked to
// every cycle whose last blocking dependency just committed.
func (m *PSM) broadcastTransitionLocked(cycle *types.Cycle, oldPhase, newPhase types.Phase) {
	m.sink.Emit(events.NewPhaseTransitionEvent(cycle.StoryID, cycle.CycleID, oldPhase, newPhase))

	var siblings []string
	for id, e := range m.entries {
		if id == cycle.CycleID {
			continue
		}
		if e.cycle.StoryID == cycle.StoryID {
			siblings = append(siblings, id)
			continue
		}
		if _, dependsOnCycle := m.deps[id][cycle.CycleID]; dependsOnCycle {
			siblings = append(siblings, id)
		}
	}
	if len(siblings) > 0 {
		sort.Strings(siblings)
		m.sink.Emit(events.NewCoordinationEvent(
			uuid.NewString(), events.CoordStateChange, cycle.CycleID, siblings,
			map[string]any{"new_phase": newPhase.String()},
		))
	}

	if newPhase != types.PhaseCommit {
		return
	}
	var unblocked []string
	for id, deps := range m.deps {
		if _, ok := deps[cycle.CycleID]; !ok {
			continue
		}
		if len(m.checkCycleDependenciesLocked(id)) == 0 {
			unblocked = append(unblocked, id)
		}
	}
	sort.Strings(unblocked)
	for _, id := range unblocked {
		m.sink.Emit(events.NewCoordinationEvent(
			uuid.NewString(), events.CoordCycleUnblocked, cycle.CycleID, []string{id}, nil,
		))
	}
}

func repositoryResourceID(storyID string) string {
	return "repository:" + storyID
}
