package engine

import (
	"context"

	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/watch"
)

// HandleContextRequest forwards a context-preparation request to the
// configured context manager and folds its cache-hit outcome into the
// facade's ContextCacheHitRate EWMA.
func (e *Engine) HandleContextRequest(ctx context.Context, agentType, storyID, task string, maxTokens int, isolated bool) (contextmgr.Context, error) {
	result, err := e.cfg.ContextManager.PrepareContext(ctx, agentType, storyID, task, maxTokens, isolated)
	if err != nil {
		return contextmgr.Context{}, err
	}

	sample := 0.0
	if result.CacheHit {
		sample = 1.0
	}

	e.mu.Lock()
	if e.metrics.TotalCyclesExecuted == 0 && e.metrics.ContextCacheHitRate == 0 {
		e.metrics.ContextCacheHitRate = sample
	} else {
		e.metrics.ContextCacheHitRate = (1-e.cfg.MetricsEWMAAlpha)*e.metrics.ContextCacheHitRate + e.cfg.MetricsEWMAAlpha*sample
	}
	e.mu.Unlock()

	return result, nil
}

// WireFileWatcher subscribes the conflict resolver to a filesystem
// watcher's change stream. A changed path is attributed to whichever
// tracked cycle is currently driving; with more than one cycle in
// flight (or none) the attribution is ambiguous and the change is not
// registered.
func (e *Engine) WireFileWatcher(ctx context.Context, changes <-chan watch.Change) {
	e.cfg.Conflicts.WireWatcher(ctx, changes, func(path string) (cycleID, storyID string, ok bool) {
		e.mu.Lock()
		defer e.mu.Unlock()

		var driving *trackedCycle
		for _, tc := range e.cycles {
			tc.mu.Lock()
			isDriving := tc.driving
			tc.mu.Unlock()
			if !isDriving {
				continue
			}
			if driving != nil {
				return "", "", false
			}
			driving = tc
		}
		if driving == nil {
			return "", "", false
		}
		return driving.cycle.CycleID, driving.cycle.StoryID, true
	})
}
