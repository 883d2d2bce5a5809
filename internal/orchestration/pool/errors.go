package pool

import "errors"

var (
	// ErrTaskNotFound is returned by Result for an unknown task id.
	ErrTaskNotFound = errors.New("pool: unknown task id")
	// ErrResultTimeout is returned by Result when timeout elapses before
	// the task reaches a terminal status.
	ErrResultTimeout = errors.New("pool: timed out waiting for task result")
	// ErrPoolClosed is returned by Submit once the pool has been closed.
	ErrPoolClosed = errors.New("pool: worker pool is closed")
	// ErrUnknownAgentType describes a request for an agent type with no
	// worker or runtime factory. No pool operation returns it.
	ErrUnknownAgentType = errors.New("pool: no worker or factory available for agent type")
)
