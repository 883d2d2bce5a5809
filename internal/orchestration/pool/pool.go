// Package pool implements the worker pool: a typed pool of agent
// workers that accepts tasks, load-balances them onto workers, scales
// worker counts to load, and monitors worker health. Each dispatched
// task runs in its own goroutine driving the runtime.Runtime
// collaborator's Execute call.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/runtime"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// Strategy is the closed set of load-balancing algorithms a pool may
// be configured with.
type Strategy string

const (
	RoundRobin       Strategy = "round_robin"
	LeastLoaded      Strategy = "least_loaded"
	CapabilityBased  Strategy = "capability_based"
	PriorityWeighted Strategy = "priority_weighted"
)

// Limits bounds the worker count for a single agent type.
type Limits struct {
	Min int
	Max int
}

// Config configures a WorkerPool.
type Config struct {
	Runtime        runtime.Runtime
	ContextManager contextmgr.Manager
	Sink           events.Sink
	Tracer         trace.Tracer
	Clock          func() time.Time

	DefaultMinWorkers int
	DefaultMaxWorkers int
	TypeLimits        map[string]Limits

	LoadBalancing Strategy

	ScaleUpThreshold   float64 // default 0.8
	ScaleDownThreshold float64 // default 0.3
	BurstThreshold     float64 // default 0.9

	HealthCheckInterval time.Duration // default 30s
	AgentTimeout        time.Duration // default 30m
	FailureThreshold    int           // default 3
	RecoveryDelay       time.Duration // default 60s

	AutoScaling      bool
	HealthMonitoring bool

	// ShutdownGrace bounds how long Close waits for in-flight tasks.
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultMinWorkers <= 0 {
		c.DefaultMinWorkers = 1
	}
	if c.DefaultMaxWorkers <= 0 {
		c.DefaultMaxWorkers = 8
	}
	if c.LoadBalancing == "" {
		c.LoadBalancing = LeastLoaded
	}
	if c.ScaleUpThreshold <= 0 {
		c.ScaleUpThreshold = 0.8
	}
	if c.ScaleDownThreshold <= 0 {
		c.ScaleDownThreshold = 0.3
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = 0.9
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 30 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sink == nil {
		c.Sink = events.NoopSink{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("pool")
	}
}

// taskRecord is the pool-internal bookkeeping for one submitted task.
type taskRecord struct {
	mu       sync.Mutex
	task     types.Task
	status   types.TaskStatus
	result   types.Result
	workerID string
	cancel   context.CancelFunc
	done     chan struct{}
}

func (r *taskRecord) Status() types.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *taskRecord) finish(status types.TaskStatus, result types.Result) {
	r.mu.Lock()
	if r.status == types.TaskCompleted || r.status == types.TaskFailed || r.status == types.TaskCancelled {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.result = result
	done := r.done
	r.mu.Unlock()
	close(done)
}

// workerMeta tracks pool-side bookkeeping per worker that doesn't
// belong on the shared types.Worker: when it last made progress, used
// by the health monitor's stuck-worker sweep.
type workerMeta struct {
	mu             sync.Mutex
	lastProgressAt time.Time
}

// WorkerPool owns the worker roster and the pending-task queue.
type WorkerPool struct {
	cfg Config

	mu      sync.RWMutex
	workers map[string]*types.Worker
	meta    map[string]*workerMeta
	tasks   map[string]*taskRecord
	queue   []*taskRecord // pending tasks, kept sorted by priority (ascending = more important)

	rrCounters map[string]int

	workerCounter atomic.Int64
	taskCounter   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs a WorkerPool. The background health-monitor loop (if
// HealthMonitoring is set) and auto-scaling loop (if AutoScaling is
// set) are started immediately.
func New(cfg Config) *WorkerPool {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &WorkerPool{
		cfg:        cfg,
		workers:    make(map[string]*types.Worker),
		meta:       make(map[string]*workerMeta),
		tasks:      make(map[string]*taskRecord),
		rrCounters: make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.HealthMonitoring {
		p.wg.Add(1)
		go p.healthLoop()
	}
	if cfg.AutoScaling {
		p.wg.Add(1)
		go p.autoScaleLoop()
	}

	return p
}

func (p *WorkerPool) limitsFor(agentType string) Limits {
	if l, ok := p.cfg.TypeLimits[agentType]; ok {
		return l
	}
	return Limits{Min: p.cfg.DefaultMinWorkers, Max: p.cfg.DefaultMaxWorkers}
}

// Submit enqueues a task for agentType. If a suitable worker is
// immediately available it is dispatched synchronously (the execution
// itself runs in a background goroutine); otherwise the task is queued.
func (p *WorkerPool) Submit(agentType, command string, taskCtx map[string]any, priority int, cycleID string, maxRetries int) (string, error) {
	if p.closed.Load() {
		return "", ErrPoolClosed
	}

	cmd := commandFromString(command)
	taskNum := p.taskCounter.Add(1)
	taskID := fmt.Sprintf("task-%d-%s", taskNum, uuid.NewString()[:8])
	task := types.NewTask(taskID, agentType, cmd, taskCtx, clampPriority(priority), maxRetries, cycleID, p.cfg.Clock())

	rec := &taskRecord{task: task, status: types.TaskPending, done: make(chan struct{})}

	p.mu.Lock()
	p.tasks[taskID] = rec
	p.mu.Unlock()

	p.ensureMinWorkers(agentType)

	if worker := p.selectWorker(agentType, task.Priority); worker != nil {
		p.dispatch(worker, rec)
		return taskID, nil
	}

	if p.cfg.AutoScaling {
		if w, err := p.spawnWorker(agentType); err == nil {
			p.dispatch(w, rec)
			return taskID, nil
		}
	}

	p.enqueue(rec)
	log.Debug(log.CatPool, "task queued, no available worker", "task_id", taskID, "agent_type", agentType)
	return taskID, nil
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func commandFromString(s string) types.Command {
	for c := types.CmdDesign; c <= types.CmdAbort; c++ {
		if c.String() == s {
			return c
		}
	}
	return types.CmdDesign
}

// enqueue inserts rec into the pending queue, keeping it sorted by
// priority ascending (1 = most important) then submission order.
func (p *WorkerPool) enqueue(rec *taskRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := sort.Search(len(p.queue), func(i int) bool {
		return p.queue[i].task.Priority > rec.task.Priority
	})
	p.queue = append(p.queue, nil)
	copy(p.queue[idx+1:], p.queue[idx:])
	p.queue[idx] = rec
}

func (p *WorkerPool) removeFromQueue(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, rec := range p.queue {
		if rec.task.TaskID == taskID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// tryDispatchQueued pops the highest-priority queued task matching
// agentType, if any worker has become available for it.
func (p *WorkerPool) tryDispatchQueued(agentType string) {
	for {
		p.mu.Lock()
		idx := -1
		for i, rec := range p.queue {
			if rec.task.AgentType == agentType {
				idx = i
				break
			}
		}
		if idx == -1 {
			p.mu.Unlock()
			return
		}
		rec := p.queue[idx]
		p.mu.Unlock()

		worker := p.selectWorker(agentType, rec.task.Priority)
		if worker == nil {
			return
		}

		p.mu.Lock()
		// Re-find in case the queue mutated concurrently.
		found := -1
		for i, r := range p.queue {
			if r.task.TaskID == rec.task.TaskID {
				found = i
				break
			}
		}
		if found == -1 {
			p.mu.Unlock()
			continue
		}
		p.queue = append(p.queue[:found], p.queue[found+1:]...)
		p.mu.Unlock()

		p.dispatch(worker, rec)
	}
}

// dispatch assigns rec to worker and runs the agent-runtime call in a
// background goroutine.
func (p *WorkerPool) dispatch(worker *types.Worker, rec *taskRecord) {
	if !worker.AssignTask(rec.task.TaskID) {
		p.enqueue(rec)
		return
	}

	rec.mu.Lock()
	rec.status = types.TaskInProgress
	rec.workerID = worker.WorkerID
	rec.mu.Unlock()

	p.touchProgress(worker.WorkerID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error(log.CatPool, "task execution panic recovered",
					"task_id", rec.task.TaskID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		p.execute(worker, rec)
	}()
}

func (p *WorkerPool) execute(worker *types.Worker, rec *taskRecord) {
	ctx, cancel := context.WithCancel(p.ctx)
	rec.mu.Lock()
	rec.cancel = cancel
	task := rec.task
	rec.mu.Unlock()
	defer cancel()

	spanCtx, span := p.cfg.Tracer.Start(ctx, tracing.SpanPrefixPool+task.AgentType)
	span.SetAttributes(
		attribute.String(tracing.AttrTaskID, task.TaskID),
		attribute.String(tracing.AttrWorkerID, worker.WorkerID),
	)
	defer span.End()

	start := p.cfg.Clock()

	agent, err := p.cfg.Runtime.CreateAgent(task.AgentType, p.cfg.ContextManager)
	var result types.Result
	if err != nil {
		result = types.Result{Success: false, Error: err.Error()}
	} else {
		span.AddEvent(tracing.EventTaskAssigned)
		result, err = agent.Execute(spanCtx, task)
		if err != nil && result.Error == "" {
			result.Error = err.Error()
		}
	}

	if task.Context != nil {
		if failing, ok := result.Artifacts["has_failing_tests"].(bool); ok {
			task.Context["has_failing_tests"] = failing
		}
	}

	now := p.cfg.Clock()
	dur := now.Sub(start)
	worker.CompleteTask(task.TaskID, result.Success, dur, now)
	p.touchProgress(worker.WorkerID)

	if !result.Success {
		span.SetAttributes(attribute.String(tracing.AttrErrorMessage, result.Error))
		if worker.FailureCount() >= p.cfg.FailureThreshold {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.recoverWorker(worker.WorkerID)
			}()
		}
	}

	finalStatus := types.TaskCompleted
	if !result.Success {
		finalStatus = types.TaskFailed
	}
	rec.finish(finalStatus, result)

	p.tryDispatchQueued(task.AgentType)
}

func (p *WorkerPool) touchProgress(workerID string) {
	p.mu.RLock()
	m, ok := p.meta[workerID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	m.mu.Lock()
	m.lastProgressAt = p.cfg.Clock()
	m.mu.Unlock()
}

// Result blocks until taskID reaches a terminal status or timeout
// elapses.
func (p *WorkerPool) Result(ctx context.Context, taskID string, timeout time.Duration) (types.Result, error) {
	p.mu.RLock()
	rec, ok := p.tasks[taskID]
	p.mu.RUnlock()
	if !ok {
		return types.Result{}, ErrTaskNotFound
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-rec.done:
		return rec.result, nil
	case <-timeoutCh:
		return types.Result{}, ErrResultTimeout
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	}
}

// Cancel removes a pending task from the queue, or detaches and marks
// cancelled an in-progress one.
func (p *WorkerPool) Cancel(taskID string) bool {
	p.mu.RLock()
	rec, ok := p.tasks[taskID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	rec.mu.Lock()
	status := rec.status
	cancel := rec.cancel
	rec.mu.Unlock()

	switch status {
	case types.TaskPending:
		p.removeFromQueue(taskID)
		rec.finish(types.TaskCancelled, types.Result{Success: false, Error: "cancelled"})
		return true
	case types.TaskInProgress:
		if cancel != nil {
			cancel()
		}
		rec.finish(types.TaskCancelled, types.Result{Success: false, Error: "cancelled"})
		return true
	default:
		return false
	}
}

// spawnWorker creates a new IDLE worker for agentType, bounded by the
// type's configured maximum.
func (p *WorkerPool) spawnWorker(agentType string) (*types.Worker, error) {
	limits := p.limitsFor(agentType)

	p.mu.Lock()
	count := p.countByType(agentType)
	if count >= limits.Max {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: agent type %q at max workers (%d)", agentType, limits.Max)
	}

	num := p.workerCounter.Add(1)
	id := fmt.Sprintf("worker-%s-%d", agentType, num)
	w := types.NewWorker(id, agentType, 1, []string{agentType}, p.cfg.Clock())
	p.workers[id] = w
	p.meta[id] = &workerMeta{lastProgressAt: p.cfg.Clock()}
	p.mu.Unlock()

	log.Debug(log.CatPool, "spawned worker", "worker_id", id, "agent_type", agentType)
	return w, nil
}

func (p *WorkerPool) countByType(agentType string) int {
	n := 0
	for _, w := range p.workers {
		if w.AgentType == agentType && w.Status() != types.WorkerRetired {
			n++
		}
	}
	return n
}

func (p *WorkerPool) ensureMinWorkers(agentType string) {
	limits := p.limitsFor(agentType)
	p.mu.RLock()
	count := p.countByType(agentType)
	p.mu.RUnlock()
	for count < limits.Min {
		if _, err := p.spawnWorker(agentType); err != nil {
			return
		}
		count++
	}
}

// Close shuts down the pool: every worker is marked STOPPING, in-flight
// tasks are granted the configured shutdown grace period, then
// everything is dropped.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}

	log.Debug(log.CatPool, "closing worker pool")

	p.mu.Lock()
	for _, w := range p.workers {
		if w.Status() != types.WorkerRetired {
			w.SetStatus(types.WorkerStopping)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		log.Warn(log.CatPool, "shutdown grace period elapsed with tasks still in flight")
	}

	p.cancel()

	p.mu.Lock()
	for _, w := range p.workers {
		w.SetStatus(types.WorkerRetired)
	}
	p.mu.Unlock()
}

// GetWorker returns the worker with the given id, or nil.
func (p *WorkerPool) GetWorker(workerID string) *types.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers[workerID]
}

// QueueDepth returns the number of pending tasks.
func (p *WorkerPool) QueueDepth() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.queue)
}
