package pool

import (
	"math"
	"time"

	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// candidates returns every worker of agentType that can currently
// accept another task: not FAILED/STARTING/STOPPING/RETIRED, and below
// its MaxConcurrentTasks.
func (p *WorkerPool) candidates(agentType string) []*types.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*types.Worker
	for _, w := range p.workers {
		if w.AgentType != agentType {
			continue
		}
		switch w.Status() {
		case types.WorkerFailed, types.WorkerStarting, types.WorkerStopping, types.WorkerRetired:
			continue
		}
		if w.CurrentTaskCount() >= w.MaxConcurrentTasks {
			continue
		}
		out = append(out, w)
	}
	return out
}

// selectWorker picks one candidate worker for agentType using the
// pool's configured load-balancing algorithm, or nil if none can take
// the task.
func (p *WorkerPool) selectWorker(agentType string, priority int) *types.Worker {
	candidates := p.candidates(agentType)
	if len(candidates) == 0 {
		return nil
	}

	switch p.cfg.LoadBalancing {
	case RoundRobin:
		return p.selectRoundRobin(agentType, candidates)
	case CapabilityBased:
		return selectByScore(candidates, p.cfg.Clock(), capabilityScore)
	case PriorityWeighted:
		if priority <= 3 {
			return selectByScore(candidates, p.cfg.Clock(), negLoadFactor)
		}
		return selectByScore(candidates, p.cfg.Clock(), negPriorityLoadScore)
	case LeastLoaded:
		fallthrough
	default:
		return selectByScore(candidates, p.cfg.Clock(), negLoadFactor)
	}
}

func (p *WorkerPool) selectRoundRobin(agentType string, candidates []*types.Worker) *types.Worker {
	p.mu.Lock()
	idx := p.rrCounters[agentType] % len(candidates)
	p.rrCounters[agentType] = idx + 1
	p.mu.Unlock()
	return candidates[idx]
}

// scoreFn returns a score for w as of now; selectByScore picks the
// worker with the maximum score.
type scoreFn func(w *types.Worker, now time.Time) float64

func selectByScore(candidates []*types.Worker, now time.Time, fn scoreFn) *types.Worker {
	var best *types.Worker
	bestScore := math.Inf(-1)
	for _, w := range candidates {
		s := fn(w, now)
		if s > bestScore {
			bestScore = s
			best = w
		}
	}
	return best
}

func loadFactor(w *types.Worker) float64 {
	if w.MaxConcurrentTasks == 0 {
		return 0
	}
	return float64(w.CurrentTaskCount()) / float64(w.MaxConcurrentTasks)
}

// negLoadFactor implements LEAST_LOADED: minimize
// len(current_tasks)/max_concurrent_tasks, expressed as a score to
// maximize.
func negLoadFactor(w *types.Worker, _ time.Time) float64 {
	return -loadFactor(w)
}

// capabilityScore implements CAPABILITY_BASED:
// success_rate/10 + recent_activity_bonus - 10*load_factor - error_rate.
func capabilityScore(w *types.Worker, now time.Time) float64 {
	m := w.Metrics()
	minutesSince := now.Sub(w.LastActivity()).Minutes()
	recentActivityBonus := math.Max(0, 10-minutesSince)
	return m.SuccessRate()/10 + recentActivityBonus - 10*loadFactor(w) - m.ErrorRate()
}

// negPriorityLoadScore implements PRIORITY_WEIGHTED's fallback branch
// (priority > 3): minimize
// load_score = 0.3*total_tasks - minutes_since_last_task + 10*error_rate,
// expressed as a score to maximize.
func negPriorityLoadScore(w *types.Worker, now time.Time) float64 {
	m := w.Metrics()
	minutesSince := now.Sub(w.LastActivity()).Minutes()
	loadScore := 0.3*float64(m.TotalTasks) - minutesSince + 10*m.ErrorRate()
	return -loadScore
}
