package coordinator

import "errors"

var (
	// ErrUnknownCycle is returned by Pause/Resume/Cancel for a cycle id
	// the coordinator has no record of.
	ErrUnknownCycle = errors.New("coordinator: unknown cycle id")
	// ErrNotActive is returned by Pause when the cycle isn't ACTIVE.
	ErrNotActive = errors.New("coordinator: cycle is not active")
	// ErrNotPaused is returned by Resume when the cycle isn't PAUSED.
	ErrNotPaused = errors.New("coordinator: cycle is not paused")
	// ErrAtCapacity names the parallelism-cap condition. No coordinator
	// operation returns it: Submit always queues rather than rejecting,
	// and admission at the cap leaves cycles queued for a later tick.
	ErrAtCapacity = errors.New("coordinator: at max parallel cycles")
)
