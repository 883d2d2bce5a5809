package coordinator

import "sort"

// OptimizeQueue re-sorts the pending queue by (fewer dependencies,
// higher priority, older last activity), stably, so ties keep their
// relative submission order. This is a scheduling hint run
// periodically rather than on every Submit, since recomputing
// dependency counts against the PSM on every insert would be wasted
// work for a queue that rarely changes shape between ticks.
func (co *Coordinator) OptimizeQueue() {
	co.mu.Lock()
	defer co.mu.Unlock()

	depCount := make(map[string]int, len(co.queue))
	for _, e := range co.queue {
		depCount[e.cycle.CycleID] = len(co.cfg.PSM.CheckCycleDependencies(e.cycle.CycleID))
	}

	sort.SliceStable(co.queue, func(i, j int) bool {
		a, b := co.queue[i].cycle, co.queue[j].cycle
		da, db := depCount[a.CycleID], depCount[b.CycleID]
		if da != db {
			return da < db
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.LastActivity().Before(b.LastActivity())
	})
}
