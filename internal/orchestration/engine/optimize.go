package engine

import "github.com/zjrosen/paracycle/internal/log"

// OptimizationReport summarizes one OptimizePerformance pass.
type OptimizationReport struct {
	ActionsApplied []string
	EstimatedGain  float64 // fraction, e.g. 0.1 = 10% estimated throughput gain
}

// OptimizePerformance re-sorts the coordinator's pending queue and
// reports what it did. It is the facade's own periodic housekeeping,
// run on OptimizationInterval by optimizationLoop, and is also exposed
// for callers that want to trigger it on demand.
func (e *Engine) OptimizePerformance() OptimizationReport {
	report := OptimizationReport{}

	depth := e.cfg.Coordinator.QueueDepth()
	if e.cfg.EnablePredictiveScheduling && depth > 0 {
		e.cfg.Coordinator.OptimizeQueue()
		report.ActionsApplied = append(report.ActionsApplied, "reordered pending queue by dependency count, priority, and age")
		report.EstimatedGain = 0.05
	}

	status := e.cfg.Pool.Status()
	if status.Utilization > 0.85 {
		report.ActionsApplied = append(report.ActionsApplied, "worker pool utilization high; consider raising pool capacity")
	}

	log.Debug(log.CatEngine, "optimization pass complete", "actions", len(report.ActionsApplied), "queue_depth", depth)
	return report
}
