package types

import (
	"sync"
	"time"
)

// WorkerStatus is a pooled agent's lifecycle status.
type WorkerStatus int

const (
	WorkerIdle WorkerStatus = iota
	WorkerBusy
	WorkerFailed
	WorkerStarting
	WorkerStopping
	WorkerRetired
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "IDLE"
	case WorkerBusy:
		return "BUSY"
	case WorkerFailed:
		return "FAILED"
	case WorkerStarting:
		return "STARTING"
	case WorkerStopping:
		return "STOPPING"
	case WorkerRetired:
		return "RETIRED"
	default:
		return "UNKNOWN"
	}
}

// WorkerMetrics tracks a worker's running performance counters.
type WorkerMetrics struct {
	TotalTasks          int
	Successes           int
	Failures            int
	LastTaskAt          time.Time
	MovingAvgExecutionS float64
}

// ErrorRate returns Failures/TotalTasks, or 0 if no tasks have run.
func (m WorkerMetrics) ErrorRate() float64 {
	if m.TotalTasks == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.TotalTasks)
}

// SuccessRate returns Successes/TotalTasks, or 1 if no tasks have run.
func (m WorkerMetrics) SuccessRate() float64 {
	if m.TotalTasks == 0 {
		return 1
	}
	return float64(m.Successes) / float64(m.TotalTasks)
}

// Worker (a "PooledAgent") is a single pool-owned executor. Fields
// mutated by the dispatch loop and by pool-management calls are behind
// mu; callers use the accessor methods.
type Worker struct {
	mu sync.RWMutex

	WorkerID           string
	AgentType          string
	MaxConcurrentTasks int
	Capabilities       []string
	CreatedAt          time.Time

	status           WorkerStatus
	currentTasks     map[string]struct{}
	metrics          WorkerMetrics
	failureCount     int
	recoveryAttempts int
}

// NewWorker constructs an idle worker ready to accept tasks.
func NewWorker(workerID, agentType string, maxConcurrent int, capabilities []string, now time.Time) *Worker {
	return &Worker{
		WorkerID:           workerID,
		AgentType:          agentType,
		MaxConcurrentTasks: maxConcurrent,
		Capabilities:       capabilities,
		CreatedAt:          now,
		status:             WorkerIdle,
		currentTasks:       make(map[string]struct{}),
	}
}

func (w *Worker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) SetStatus(s WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

// CurrentTaskCount returns len(current_tasks).
func (w *Worker) CurrentTaskCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.currentTasks)
}

// AssignTask records a task as in-flight on this worker and marks it
// BUSY. Returns false if the worker is already at MaxConcurrentTasks.
func (w *Worker) AssignTask(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.currentTasks) >= w.MaxConcurrentTasks {
		return false
	}
	w.currentTasks[taskID] = struct{}{}
	w.status = WorkerBusy
	return true
}

// CompleteTask removes taskID from the in-flight set, records the
// outcome in metrics, and returns the worker to IDLE if no tasks
// remain, so a worker with an empty task set is never left BUSY.
func (w *Worker) CompleteTask(taskID string, success bool, execDuration time.Duration, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.currentTasks, taskID)

	w.metrics.TotalTasks++
	if success {
		w.metrics.Successes++
	} else {
		w.metrics.Failures++
		w.failureCount++
	}
	w.metrics.LastTaskAt = now
	if w.metrics.TotalTasks == 1 {
		w.metrics.MovingAvgExecutionS = execDuration.Seconds()
	} else {
		w.metrics.MovingAvgExecutionS = 0.9*w.metrics.MovingAvgExecutionS + 0.1*execDuration.Seconds()
	}

	if len(w.currentTasks) == 0 && w.status == WorkerBusy {
		w.status = WorkerIdle
	}
}

func (w *Worker) Metrics() WorkerMetrics {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.metrics
}

func (w *Worker) FailureCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.failureCount
}

// ResetFailures clears the failure count, as recovery does.
func (w *Worker) ResetFailures() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failureCount = 0
}

// ClearTasks drops every in-flight task, as recovery of a stuck worker
// does: the worker is declared free regardless of what it was doing.
func (w *Worker) ClearTasks() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTasks = make(map[string]struct{})
}

func (w *Worker) IncrementRecoveryAttempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recoveryAttempts++
	return w.recoveryAttempts
}

// LastActivity returns the last task completion time, or CreatedAt if
// the worker has never completed a task.
func (w *Worker) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.metrics.LastTaskAt.IsZero() {
		return w.CreatedAt
	}
	return w.metrics.LastTaskAt
}
