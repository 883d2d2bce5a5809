package pool

import (
	"sort"
	"time"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// ScaleResult is what Scale/autoscaling report.
type ScaleResult struct {
	Added    int
	Removed  int
	Duration time.Duration
}

// Scale adjusts the worker count for agentType to target, clamped to
// the type's configured [min, max]. Scale-down removes idle workers
// with the oldest LastActivity first; a busy worker is never removed.
func (p *WorkerPool) Scale(agentType string, target int) ScaleResult {
	start := p.cfg.Clock()
	limits := p.limitsFor(agentType)
	if target < limits.Min {
		target = limits.Min
	}
	if target > limits.Max {
		target = limits.Max
	}

	p.mu.RLock()
	current := p.countByType(agentType)
	p.mu.RUnlock()

	var res ScaleResult
	switch {
	case target > current:
		for i := 0; i < target-current; i++ {
			if _, err := p.spawnWorker(agentType); err != nil {
				break
			}
			res.Added++
		}
	case target < current:
		res.Removed = p.removeIdleWorkers(agentType, current-target)
	}

	res.Duration = p.cfg.Clock().Sub(start)
	log.Debug(log.CatPool, "scaled pool", "agent_type", agentType, "added", res.Added, "removed", res.Removed)
	return res
}

// removeIdleWorkers retires up to n idle workers of agentType, oldest
// last-activity first, never touching a busy worker. Returns the
// number actually removed.
func (p *WorkerPool) removeIdleWorkers(agentType string, n int) int {
	p.mu.RLock()
	var idle []*types.Worker
	for _, w := range p.workers {
		if w.AgentType == agentType && w.Status() == types.WorkerIdle {
			idle = append(idle, w)
		}
	}
	p.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastActivity().Before(idle[j].LastActivity())
	})

	removed := 0
	for _, w := range idle {
		if removed >= n {
			break
		}
		w.SetStatus(types.WorkerRetired)
		removed++
	}
	return removed
}

// autoScaleLoop periodically evaluates utilization per agent type and
// scales up/down per the thresholds in Config.
func (p *WorkerPool) autoScaleLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.autoScaleTick()
		}
	}
}

func (p *WorkerPool) autoScaleTick() {
	for _, agentType := range p.agentTypes() {
		p.autoScaleType(agentType)
	}
}

func (p *WorkerPool) agentTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, w := range p.workers {
		if _, ok := seen[w.AgentType]; !ok {
			seen[w.AgentType] = struct{}{}
			out = append(out, w.AgentType)
		}
	}
	return out
}

func (p *WorkerPool) autoScaleType(agentType string) {
	limits := p.limitsFor(agentType)

	p.mu.RLock()
	var total, used int
	for _, w := range p.workers {
		if w.AgentType != agentType || w.Status() == types.WorkerRetired {
			continue
		}
		total++
		used += w.CurrentTaskCount()
	}
	queued := 0
	for _, rec := range p.queue {
		if rec.task.AgentType == agentType {
			queued++
		}
	}
	p.mu.RUnlock()

	if total == 0 {
		return
	}
	utilization := float64(used) / float64(total)

	if utilization > p.cfg.ScaleUpThreshold || queued >= 2 {
		// Above BurstThreshold the type is saturated: jump by two
		// workers instead of one. The per-type Max still bounds the
		// worker count either way.
		step := 1
		if utilization > p.cfg.BurstThreshold {
			step = 2
		}
		if total < limits.Max {
			target := total + step
			if target > limits.Max {
				target = limits.Max
			}
			p.Scale(agentType, target)
		}
		return
	}

	if utilization < p.cfg.ScaleDownThreshold && queued == 0 {
		if total > limits.Min {
			p.Scale(agentType, total-1)
		}
	}
}
