package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// Result is what a resolution attempt reports.
type Result struct {
	ConflictID string
	Strategy   types.ResolutionStrategy
	Outcome    types.ResolutionOutcome
	Message    string
}

// Resolve walks the conflict kind's preference order and commits to the
// first strategy whose preconditions hold, unless the conflict has
// already exhausted MaxResolutionAttempts, in which case HUMAN_ESCALATION
// is forced regardless of kind.
func (r *Resolver) Resolve(ctx context.Context, conflictID string) (Result, error) {
	spanCtx, span := r.cfg.Tracer.Start(ctx, tracing.SpanPrefixConflict+"apply")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrConflictID, conflictID))

	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		r.mu.Unlock()
		return Result{}, ErrUnknownConflict
	}
	c.Attempts++
	c.Status = types.ConflictResolving
	attempts := c.Attempts
	kind := c.Kind
	r.mu.Unlock()

	start := r.cfg.Clock()

	var res Result
	var err error
	if attempts > r.cfg.MaxResolutionAttempts {
		res, err = r.applyStrategy(spanCtx, c, types.StrategyHumanEscalation)
	} else {
		res, err = r.resolveByPreference(spanCtx, c, kind)
	}

	r.recordOutcome(res.Outcome, r.cfg.Clock().Sub(start))
	if err == nil {
		log.Info(log.CatConflict, "conflict resolved",
			"conflict_id", conflictID, "strategy", res.Strategy.String(), "outcome", fmt.Sprint(res.Outcome))
	}
	return res, err
}

func (r *Resolver) resolveByPreference(ctx context.Context, c *types.Conflict, kind types.ConflictKind) (Result, error) {
	order := preferenceOrder[kind]
	for _, strategy := range order {
		res, err := r.applyStrategy(ctx, c, strategy)
		if err == nil {
			return res, nil
		}
	}
	r.mu.Lock()
	c.Status = types.ConflictFailed
	r.mu.Unlock()
	return Result{ConflictID: c.ConflictID, Outcome: types.OutcomeFailed}, ErrNoApplicableStrategy
}

// applyStrategy executes one strategy's semantics against c. Only
// AUTO_RESOLVE and ABORT_CYCLE carry preconditions that can fail;
// COORDINATION, SERIALIZATION and HUMAN_ESCALATION always succeed.
func (r *Resolver) applyStrategy(_ context.Context, c *types.Conflict, strategy types.ResolutionStrategy) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch strategy {
	case types.StrategyAutoResolve:
		return r.applyAutoResolveLocked(c)
	case types.StrategyCoordination:
		return r.applyCoordinationLocked(c)
	case types.StrategySerialization:
		return r.applySerializationLocked(c)
	case types.StrategyHumanEscalation:
		return r.applyHumanEscalationLocked(c)
	case types.StrategyAbortCycle:
		return r.applyAbortCycleLocked(c)
	default:
		return Result{}, ErrNoApplicableStrategy
	}
}

func (r *Resolver) applyAutoResolveLocked(c *types.Conflict) (Result, error) {
	if c.Kind == types.ConflictFileModification && len(c.AffectedCycles) > r.cfg.AutoMergeLimit {
		return Result{}, ErrNoApplicableStrategy
	}
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = types.StrategyAutoResolve
	c.ResolvedAt = r.cfg.Clock()
	return Result{
		ConflictID: c.ConflictID,
		Strategy:   types.StrategyAutoResolve,
		Outcome:    types.OutcomeAutoResolved,
		Message:    "merge signaled to agent runtime",
	}, nil
}

func (r *Resolver) applyCoordinationLocked(c *types.Conflict) (Result, error) {
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = types.StrategyCoordination
	c.ResolvedAt = r.cfg.Clock()
	r.emitCoordinationAdvisory(c)
	return Result{
		ConflictID: c.ConflictID,
		Strategy:   types.StrategyCoordination,
		Outcome:    types.OutcomeAutoResolved,
		Message:    "advisory sent, verification required",
	}, nil
}

func (r *Resolver) applySerializationLocked(c *types.Conflict) (Result, error) {
	ordered := append([]string(nil), c.AffectedCycles...)
	sort.Strings(ordered)
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = types.StrategySerialization
	c.ResolvedAt = r.cfg.Clock()
	c.Metadata = mergeMeta(c.Metadata, "deferred_cycles", ordered[1:])
	return Result{
		ConflictID: c.ConflictID,
		Strategy:   types.StrategySerialization,
		Outcome:    types.OutcomeAutoResolved,
		Message:    fmt.Sprintf("%s proceeds, remaining deferred", ordered[0]),
	}, nil
}

func (r *Resolver) applyHumanEscalationLocked(c *types.Conflict) (Result, error) {
	c.HumanInterventionNeeded = true
	c.Status = types.ConflictEscalated
	c.ResolutionStrategy = types.StrategyHumanEscalation
	c.ResolvedAt = r.cfg.Clock()
	return Result{
		ConflictID: c.ConflictID,
		Strategy:   types.StrategyHumanEscalation,
		Outcome:    types.OutcomeEscalated,
		Message:    "human intervention required",
	}, nil
}

func (r *Resolver) applyAbortCycleLocked(c *types.Conflict) (Result, error) {
	if len(c.AffectedCycles) < 2 {
		return Result{}, ErrAbortRequiresMultiple
	}
	ordered := append([]string(nil), c.AffectedCycles...)
	sort.Strings(ordered)
	aborted := ordered[len(ordered)-1]
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = types.StrategyAbortCycle
	c.ResolvedAt = r.cfg.Clock()
	c.Metadata = mergeMeta(c.Metadata, "aborted_cycle", aborted)
	return Result{
		ConflictID: c.ConflictID,
		Strategy:   types.StrategyAbortCycle,
		Outcome:    types.OutcomeAutoResolved,
		Message:    aborted + " aborted",
	}, nil
}

func mergeMeta(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[key] = value
	return m
}

func (r *Resolver) emitCoordinationAdvisory(c *types.Conflict) {
	r.cfg.Sink.Emit(events.NewCoordinationEvent(
		c.ConflictID, events.CoordConflictDetected, "", c.AffectedCycles,
		map[string]any{"conflict_id": c.ConflictID, "advisory": true},
	))
}

func (r *Resolver) recordOutcome(outcome types.ResolutionOutcome, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case types.OutcomeAutoResolved:
		r.stats.AutoResolved++
	case types.OutcomeEscalated:
		r.stats.Escalated++
	case types.OutcomeFailed:
		r.stats.Failed++
	}
	sample := dur.Seconds()
	if r.stats.AutoResolved+r.stats.Escalated+r.stats.Failed == 1 {
		r.stats.AvgResolutionS = sample
	} else {
		r.stats.AvgResolutionS = 0.9*r.stats.AvgResolutionS + 0.1*sample
	}
}
