package pool

import "github.com/zjrosen/paracycle/internal/orchestration/types"

// TypeStatus summarizes one agent type's worker roster.
type TypeStatus struct {
	Total       int
	Idle        int
	Busy        int
	Failed      int
	AvgLoad     float64
	SuccessRate float64
}

// Status is the Worker Pool's full status snapshot (4.2 Status output).
type Status struct {
	ByType      map[string]TypeStatus
	QueueDepth  int
	Utilization float64
}

// Status reports per-type worker counts, overall utilization, and
// queue depth.
func (p *WorkerPool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byType := make(map[string]TypeStatus)
	counts := make(map[string]*TypeStatus)

	var totalUsed, totalCap int
	for _, w := range p.workers {
		if w.Status() == types.WorkerRetired {
			continue
		}
		ts, ok := counts[w.AgentType]
		if !ok {
			ts = &TypeStatus{}
			counts[w.AgentType] = ts
		}
		ts.Total++
		switch w.Status() {
		case types.WorkerIdle:
			ts.Idle++
		case types.WorkerBusy:
			ts.Busy++
		case types.WorkerFailed:
			ts.Failed++
		}

		m := w.Metrics()
		ts.AvgLoad += float64(w.CurrentTaskCount())
		ts.SuccessRate += m.SuccessRate()

		totalUsed += w.CurrentTaskCount()
		totalCap += w.MaxConcurrentTasks
	}

	for agentType, ts := range counts {
		if ts.Total > 0 {
			ts.AvgLoad /= float64(ts.Total)
			ts.SuccessRate /= float64(ts.Total)
		}
		byType[agentType] = *ts
	}

	var utilization float64
	if totalCap > 0 {
		utilization = float64(totalUsed) / float64(totalCap)
	}

	return Status{
		ByType:      byType,
		QueueDepth:  len(p.queue),
		Utilization: utilization,
	}
}
