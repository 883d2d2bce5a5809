package tracing

// Span attribute keys for engine tracing.
const (
	AttrCycleID      = "cycle.id"
	AttrCyclePhase   = "cycle.phase"
	AttrCommand      = "cycle.command"
	AttrTaskID       = "task.id"
	AttrTaskPriority = "task.priority"
	AttrWorkerID     = "worker.id"
	AttrWorkerStatus = "worker.status"
	AttrLockResource = "lock.resource"
	AttrConflictID   = "conflict.id"
	AttrConflictKind = "conflict.kind"
	AttrSeverity     = "conflict.severity"
	AttrStrategy     = "conflict.strategy"
	AttrFilePath     = "file.path"
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// SpanKind constants for categorizing span types.
const (
	SpanKindTransition = "transition"
	SpanKindDispatch   = "dispatch"
	SpanKindConflict   = "conflict"
	SpanKindTick       = "tick"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixPSM      = "psm.transition."
	SpanPrefixPool     = "pool.dispatch."
	SpanPrefixConflict = "conflict.resolve."
	SpanPrefixCoord    = "coordinator.tick."
	SpanPrefixEngine   = "engine."
)

// Event names for span events.
const (
	EventTransitionValidated = "transition.validated"
	EventTaskAssigned        = "task.assigned"
	EventLockAcquired        = "lock.acquired"
	EventLockReleased        = "lock.released"
	EventConflictDetected    = "conflict.detected"
	EventConflictResolved    = "conflict.resolved"
	EventErrorOccurred       = "error.occurred"
)
