package types

import "time"

// TaskStatus is the lifecycle status of a Task inside the worker pool.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskInProgress:
		return "IN_PROGRESS"
	case TaskCompleted:
		return "COMPLETED"
	case TaskFailed:
		return "FAILED"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Task is a single unit of work submitted to the worker pool. CycleID
// is empty for tasks not associated with a TDD cycle (e.g. ad-hoc
// maintenance work).
type Task struct {
	TaskID     string
	AgentType  string
	Command    Command
	Context    map[string]any
	Priority   int
	CycleID    string
	MaxRetries int

	Status      TaskStatus
	SubmittedAt time.Time
	Retries     int
}

// NewTask constructs a pending task.
func NewTask(taskID, agentType string, cmd Command, ctx map[string]any, priority, maxRetries int, cycleID string, now time.Time) Task {
	return Task{
		TaskID:      taskID,
		AgentType:   agentType,
		Command:     cmd,
		Context:     ctx,
		Priority:    priority,
		CycleID:     cycleID,
		MaxRetries:  maxRetries,
		Status:      TaskPending,
		SubmittedAt: now,
	}
}

// Result is what an agent runtime returns for an executed task.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Artifacts map[string]any
}
