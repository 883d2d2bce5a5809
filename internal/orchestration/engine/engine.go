// Package engine implements the Engine Facade: it composes the Phase
// State Machine, Worker Pool, Conflict Resolver, and Parallel
// Coordinator into the single entry point callers submit cycles
// through. It owns the lifecycle of the four components and drives
// each admitted cycle's phase transitions by dispatching tasks to the
// pool and feeding results back into the PSM - the piece the other
// four components don't do for themselves.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/conflict"
	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/orchestration/coordinator"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/pool"
	"github.com/zjrosen/paracycle/internal/orchestration/psm"
	"github.com/zjrosen/paracycle/internal/orchestration/reslock"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// Config wires the four components plus the facade's own background
// loops. PSM, Pool, Conflicts, Coordinator and Locker are required;
// everything else defaults the way the component it belongs to does.
type Config struct {
	PSM            *psm.PSM
	Pool           *pool.WorkerPool
	Conflicts      *conflict.Resolver
	Coordinator    *coordinator.Coordinator
	Locker         reslock.Locker
	ContextManager contextmgr.Manager
	Sink           events.Sink
	Tracer         trace.Tracer
	Clock          func() time.Time

	HealthCheckInterval  time.Duration // default 30s
	OptimizationInterval time.Duration // default 5m
	MetricsEWMAAlpha     float64       // default 0.2

	// EnableAutoResolution resolves conflicts as they are detected
	// instead of leaving them for the resolver's proactive sweep.
	EnableAutoResolution bool
	// EnableMonitoring runs the facade's own health-check and
	// optimization loops; the component loops run regardless.
	EnableMonitoring bool
	// EnablePredictiveScheduling lets OptimizePerformance reorder the
	// coordinator's pending queue.
	EnablePredictiveScheduling bool
	// EnableContextIsolation asks the context manager for isolated
	// per-cycle context bundles on every dispatched task.
	EnableContextIsolation bool
}

func (c *Config) applyDefaults() {
	if c.ContextManager == nil {
		c.ContextManager = contextmgr.NewInMemory()
	}
	if c.Sink == nil {
		c.Sink = events.NoopSink{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("engine")
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.OptimizationInterval <= 0 {
		c.OptimizationInterval = 5 * time.Minute
	}
	if c.MetricsEWMAAlpha <= 0 {
		c.MetricsEWMAAlpha = 0.2
	}
}

// Metrics tracks the facade-level counters ExecuteParallelCycles and
// HandleContextRequest update across the engine's lifetime.
type Metrics struct {
	TotalCyclesExecuted     int
	PeakParallelCycles      int
	ThroughputCyclesPerHour float64 // EWMA
	AverageCycleTimeS       float64 // EWMA
	ConflictsDetected       int
	ConflictsResolved       int
	AutoResolutions         int
	HumanEscalations        int
	ContextCacheHitRate     float64 // EWMA of the cache_hit boolean
}

// trackedCycle is the facade's own bookkeeping for a cycle it has
// submitted to the coordinator: the same *types.Cycle pointer plus the
// resources its pipeline will touch, and whether a driver goroutine is
// already advancing it.
type trackedCycle struct {
	cycle     *types.Cycle
	resources []string
	agentType string

	mu      sync.Mutex
	driving bool
	done    chan struct{}
	err     error
}

// Engine composes the state machine, worker pool, conflict resolver,
// and coordinator behind a single API.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	cycles  map[string]*trackedCycle
	metrics Metrics
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine from its four components. Call Start to
// begin coordination, conflict detection, and the facade's own
// health-check and optimization loops.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		cycles: make(map[string]*trackedCycle),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches every component's background loops plus the facade's
// own health-check and optimization loops. Calling Start while already
// running is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.cfg.Coordinator.Start()
	e.cfg.Conflicts.Start()

	if e.cfg.EnableMonitoring {
		e.wg.Add(2)
		go e.healthCheckLoop()
		go e.optimizationLoop()
	}

	log.Info(log.CatEngine, "engine started")
}

// Stop cancels every background loop, waits up to the pool's shutdown
// grace period for in-flight tasks, and closes the worker pool.
// Calling Stop while not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	e.cfg.Coordinator.Stop()
	e.cfg.Conflicts.Stop()
	e.cfg.Pool.Close()

	log.Info(log.CatEngine, "engine stopped")
}

// Pause pauses every currently ACTIVE cycle tracked by the engine.
func (e *Engine) Pause() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cycles))
	for id, tc := range e.cycles {
		if tc.cycle.Status() == types.StatusActive {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.cfg.Coordinator.Pause(id)
	}
}

// Resume resumes every currently PAUSED cycle tracked by the engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cycles))
	for id, tc := range e.cycles {
		if tc.cycle.Status() == types.StatusPaused {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.cfg.Coordinator.Resume(id)
	}
}

// Cancel cancels a single tracked cycle.
func (e *Engine) Cancel(cycleID string) error {
	return e.cfg.Coordinator.Cancel(cycleID)
}

// PauseCycle pauses a single tracked cycle.
func (e *Engine) PauseCycle(cycleID string) error {
	return e.cfg.Coordinator.Pause(cycleID)
}

// ResumeCycle resumes a single tracked cycle.
func (e *Engine) ResumeCycle(cycleID string) error {
	return e.cfg.Coordinator.Resume(cycleID)
}

func (e *Engine) healthCheckLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.cfg.Coordinator.Tick()
		}
	}
}

func (e *Engine) optimizationLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.OptimizationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.OptimizePerformance()
		}
	}
}
