package conflict

import (
	"context"
	"time"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/watch"
)

// proactiveLoop scans recently touched paths for newly formed conflicts
// every ScanInterval and auto-resolves any newly detected LOW/MEDIUM
// severity ones.
func (r *Resolver) proactiveLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.scanTick()
		}
	}
}

func (r *Resolver) scanTick() {
	now := r.cfg.Clock()

	r.mu.Lock()
	paths := map[string]struct{}{}
	for _, m := range r.mods {
		if now.Sub(m.Timestamp) <= r.cfg.RecentWindow {
			paths[m.FilePath] = struct{}{}
		}
	}
	var detected []*types.Conflict
	for p := range paths {
		detected = append(detected, r.detectConflictsOnPathLocked(p)...)
	}
	// Conflicts detected at registration time but not yet resolved are
	// swept here too, so a caller that never calls Resolve itself still
	// gets LOW/MEDIUM conflicts cleared by the proactive loop.
	var pending []*types.Conflict
	for _, c := range r.conflicts {
		if c.Status != types.ConflictDetected {
			continue
		}
		if c.Severity == types.SeverityLow || c.Severity == types.SeverityMedium {
			pending = append(pending, c)
		}
	}
	r.mu.Unlock()

	for _, c := range detected {
		r.emitDetected(c)
	}
	for _, c := range pending {
		if _, err := r.Resolve(r.ctx, c.ConflictID); err != nil {
			log.Warn(log.CatConflict, "proactive auto-resolve failed",
				"conflict_id", c.ConflictID, "error", err.Error())
		}
	}
}

// WireWatcher subscribes to a started watch.Watcher's change channel,
// translating each observed write into a RegisterFileModification call.
// The periodic scan does not read the filesystem itself: it re-examines
// only modifications already registered, so a write seen here and not
// registered any other way is invisible to it.
func (r *Resolver) WireWatcher(ctx context.Context, changes <-chan watch.Change, cycleIDFor func(path string) (cycleID, storyID string, ok bool)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				cycleID, storyID, ok := cycleIDFor(change.Path)
				if !ok {
					continue
				}
				if _, err := r.RegisterFileModification(ctx, change.Path, cycleID, storyID, types.ModModify); err != nil {
					log.Warn(log.CatConflict, "watcher-driven registration failed", "path", change.Path, "error", err.Error())
				}
			}
		}
	}()
}
