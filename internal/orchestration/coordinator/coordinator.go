// Package coordinator implements the parallel coordinator: it admits
// cycles into ACTIVE under the parallelism cap, orders the queue by
// priority, waits for dependencies, acquires resource locks, and
// tracks execution via a periodic coordination tick.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/conflict"
	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/pool"
	"github.com/zjrosen/paracycle/internal/orchestration/psm"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// ExecutionMode tunes the default parallelism cap.
type ExecutionMode string

const (
	Conservative ExecutionMode = "conservative" // 2-3
	Balanced     ExecutionMode = "balanced"     // 3-4
	Aggressive   ExecutionMode = "aggressive"   // 4-5
)

// Config configures a Coordinator.
type Config struct {
	PSM            *psm.PSM
	Pool           *pool.WorkerPool
	Conflicts      *conflict.Resolver
	Locker         reslock.Locker
	ContextManager contextmgr.Manager
	Sink           events.Sink
	Tracer         trace.Tracer
	Clock          func() time.Time

	MaxParallelCycles int // [2,5]; ExecutionMode tunes the default
	ExecutionMode     ExecutionMode

	TickInterval         time.Duration // default 5s
	StuckAfter           time.Duration // default 30m
	ResourceTimeout      time.Duration // default 30m
	ConflictPreventionOn bool

	MinPriority int // default 1
	MaxPriority int // default 10
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sink == nil {
		c.Sink = events.NoopSink{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("coordinator")
	}
	if c.MaxParallelCycles <= 0 {
		switch c.ExecutionMode {
		case Conservative:
			c.MaxParallelCycles = 2
		case Aggressive:
			c.MaxParallelCycles = 5
		default:
			c.MaxParallelCycles = 4
		}
	}
	if c.MaxParallelCycles < 2 {
		c.MaxParallelCycles = 2
	}
	if c.MaxParallelCycles > 5 {
		c.MaxParallelCycles = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	if c.ResourceTimeout <= 0 {
		c.ResourceTimeout = 30 * time.Minute
	}
	if c.MinPriority == 0 && c.MaxPriority == 0 {
		c.MinPriority, c.MaxPriority = 1, 10
	}
}

// queueEntry is a pending cycle plus the resources its admission will
// need to lock. resources is the full lock-acquisition set (file paths
// plus the shared test_runner resource); fileResources is just the
// caller-supplied file paths, used for overlap checks - test_runner is
// SHARED and deliberately excluded from overlap detection since every
// cycle holds it.
type queueEntry struct {
	cycle         *types.Cycle
	resources     []string
	fileResources []string
}

// Coordinator schedules cycles under the parallelism cap, dependency
// ordering, and resource-lock constraints.
type Coordinator struct {
	cfg Config

	mu     sync.Mutex
	cycles map[string]*types.Cycle
	queue  []*queueEntry
	active map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator. Start must be called to run the
// coordination tick loop.
func New(cfg Config) *Coordinator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:    cfg,
		cycles: make(map[string]*types.Cycle),
		active: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the coordination tick loop.
func (co *Coordinator) Start() {
	co.wg.Add(1)
	go co.tickLoop()
}

// Stop halts the coordination tick loop.
func (co *Coordinator) Stop() {
	co.cancel()
	co.wg.Wait()
}

func clampPriority(min, max, p int) int {
	if p < min {
		return min
	}
	if p > max {
		return max
	}
	return p
}

// Submit registers cycle with the PSM, inserts it into the priority-
// ordered queue, and marks it BLOCKED if it has an unmet dependency or
// a file-overlap conflict against an already-ACTIVE cycle. Every later
// coordination tick re-derives BLOCKED vs. PENDING from scratch, so
// this is only the cycle's initial status, not a one-time decision.
func (co *Coordinator) Submit(cycle *types.Cycle, dependencies []string, resources []string) (string, error) {
	cycle.Priority = clampPriority(co.cfg.MinPriority, co.cfg.MaxPriority, cycle.Priority)

	if err := co.cfg.PSM.Register(cycle); err != nil {
		return "", err
	}
	for _, dep := range dependencies {
		if err := co.cfg.PSM.AddDependency(cycle.CycleID, dep); err != nil {
			return "", err
		}
	}

	allResources := append(append([]string(nil), resources...), types.TestRunnerResourceID)
	entry := &queueEntry{cycle: cycle, resources: allResources, fileResources: resources}

	co.mu.Lock()
	co.cycles[cycle.CycleID] = cycle
	co.insertQueueLocked(entry)
	blocked := len(co.cfg.PSM.CheckCycleDependencies(cycle.CycleID)) > 0 || co.hasActiveOverlapLocked(cycle.CycleID, resources)
	co.mu.Unlock()

	if blocked {
		cycle.SetStatus(types.StatusBlocked)
	}

	log.Debug(log.CatCoord, "cycle submitted", "cycle_id", cycle.CycleID, "priority", cycle.Priority, "blocked", blocked)
	return cycle.CycleID, nil
}

// insertQueueLocked inserts entry at the first position whose incumbent
// has a strictly larger priority number (i.e. lower priority).
func (co *Coordinator) insertQueueLocked(entry *queueEntry) {
	idx := sort.Search(len(co.queue), func(i int) bool {
		return co.queue[i].cycle.Priority > entry.cycle.Priority
	})
	co.queue = append(co.queue, nil)
	copy(co.queue[idx+1:], co.queue[idx:])
	co.queue[idx] = entry
}

func (co *Coordinator) hasActiveOverlapLocked(cycleID string, resources []string) bool {
	if len(resources) == 0 {
		return false
	}
	for activeID := range co.active {
		if activeID == cycleID {
			continue
		}
		for _, e := range co.queue {
			if e.cycle.CycleID != activeID {
				continue
			}
			if resourceSetsOverlap(resources, e.fileResources) {
				return true
			}
		}
	}
	return false
}

func resourceSetsOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, y := range b {
		if _, ok := set[y]; ok {
			return true
		}
	}
	return false
}

// Pause transitions an ACTIVE cycle to PAUSED, leaving locks held.
func (co *Coordinator) Pause(cycleID string) error {
	co.mu.Lock()
	cycle, ok := co.cycles[cycleID]
	co.mu.Unlock()
	if !ok {
		return ErrUnknownCycle
	}
	if cycle.Status() != types.StatusActive {
		return ErrNotActive
	}
	cycle.SetStatus(types.StatusPaused)
	co.mu.Lock()
	delete(co.active, cycleID)
	co.mu.Unlock()
	log.Info(log.CatCoord, "cycle paused", "cycle_id", cycleID)
	return nil
}

// Resume transitions a PAUSED cycle back to ACTIVE.
func (co *Coordinator) Resume(cycleID string) error {
	co.mu.Lock()
	cycle, ok := co.cycles[cycleID]
	co.mu.Unlock()
	if !ok {
		return ErrUnknownCycle
	}
	if cycle.Status() != types.StatusPaused {
		return ErrNotPaused
	}
	cycle.SetStatus(types.StatusActive)
	co.mu.Lock()
	co.active[cycleID] = struct{}{}
	co.mu.Unlock()
	log.Info(log.CatCoord, "cycle resumed", "cycle_id", cycleID)
	return nil
}

// Cancel releases locks, unregisters cycle from the PSM, and removes it
// from the queue and the coordinator's cycle table; its terminal status
// is CANCELLED.
func (co *Coordinator) Cancel(cycleID string) error {
	co.mu.Lock()
	cycle, ok := co.cycles[cycleID]
	if ok {
		delete(co.active, cycleID)
		delete(co.cycles, cycleID)
		for i, e := range co.queue {
			if e.cycle.CycleID == cycleID {
				co.queue = append(co.queue[:i], co.queue[i+1:]...)
				break
			}
		}
	}
	co.mu.Unlock()
	if !ok {
		return ErrUnknownCycle
	}

	co.cfg.Locker.Release(co.ctx, cycleID, cycle.HeldLocks()...)
	cycle.ClearHeldLocks()
	co.cfg.PSM.Unregister(co.ctx, cycleID)
	cycle.SetStatus(types.StatusCancelled)
	log.Info(log.CatCoord, "cycle cancelled", "cycle_id", cycleID)
	return nil
}

// ActiveCount returns the number of currently ACTIVE cycles.
func (co *Coordinator) ActiveCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.active)
}

// QueueDepth returns the number of cycles still waiting in the queue.
func (co *Coordinator) QueueDepth() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.queue)
}

// Summary returns a point-in-time composite view of the coordinator's
// state, used for status reporting.
func (co *Coordinator) Summary() events.Summary {
	co.mu.Lock()
	defer co.mu.Unlock()

	var pending, blocked, paused int
	for _, e := range co.queue {
		if _, active := co.active[e.cycle.CycleID]; active {
			continue
		}
		switch e.cycle.Status() {
		case types.StatusBlocked:
			blocked++
		case types.StatusPaused:
			paused++
		case types.StatusPending:
			pending++
		}
	}

	var utilization float64
	if co.cfg.MaxParallelCycles > 0 {
		utilization = float64(len(co.active)) / float64(co.cfg.MaxParallelCycles)
	}

	return events.Summary{
		ActiveCycles:  len(co.active),
		PendingCycles: pending,
		BlockedCycles: blocked,
		PausedCycles:  paused,
		MaxParallel:   co.cfg.MaxParallelCycles,
		QueueDepth:    len(co.queue),
		Utilization:   utilization,
	}
}
