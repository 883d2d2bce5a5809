package conflict

import "errors"

var (
	// ErrUnknownConflict is returned when an operation names a conflict
	// id the resolver has no record of.
	ErrUnknownConflict = errors.New("conflict: unknown conflict id")
	// ErrNoApplicableStrategy is returned when every strategy in a
	// kind's preference order rejects the conflict.
	ErrNoApplicableStrategy = errors.New("conflict: no resolution strategy could be applied")
	// ErrAbortRequiresMultiple is returned by ABORT_CYCLE when fewer
	// than two cycles are affected.
	ErrAbortRequiresMultiple = errors.New("conflict: abort strategy requires at least two affected cycles")
)
