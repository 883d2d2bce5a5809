package pool

import (
	"time"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// healthLoop periodically scans for stuck workers (BUSY with no
// progress within AgentTimeout) and for workers whose error rate
// exceeds 50% (warned, not removed).
func (p *WorkerPool) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *WorkerPool) checkHealth() {
	now := p.cfg.Clock()

	p.mu.RLock()
	workers := make([]*types.Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.RUnlock()

	for _, w := range workers {
		if w.Status() != types.WorkerBusy {
			continue
		}

		p.mu.RLock()
		m, ok := p.meta[w.WorkerID]
		p.mu.RUnlock()
		if !ok {
			continue
		}

		m.mu.Lock()
		last := m.lastProgressAt
		m.mu.Unlock()

		if now.Sub(last) > p.cfg.AgentTimeout {
			log.Warn(log.CatPool, "worker stuck, triggering recovery",
				"worker_id", w.WorkerID, "idle_for", now.Sub(last).String())
			p.wg.Add(1)
			go func(id string) {
				defer p.wg.Done()
				p.recoverWorker(id)
			}(w.WorkerID)
			continue
		}

		metrics := w.Metrics()
		if metrics.ErrorRate() > 0.5 {
			log.Warn(log.CatPool, "worker error rate above 50%, not removed",
				"worker_id", w.WorkerID, "error_rate", metrics.ErrorRate())
		}
	}
}

// recoverWorker implements the recovery sequence: FAILED, wait
// RecoveryDelay, clear failure_count, IDLE.
func (p *WorkerPool) recoverWorker(workerID string) {
	w := p.GetWorker(workerID)
	if w == nil {
		return
	}

	w.SetStatus(types.WorkerFailed)
	attempts := w.IncrementRecoveryAttempts()
	log.Warn(log.CatPool, "recovering worker", "worker_id", workerID, "attempt", attempts)

	select {
	case <-time.After(p.cfg.RecoveryDelay):
	case <-p.ctx.Done():
		return
	}

	w.ResetFailures()
	w.ClearTasks()
	w.SetStatus(types.WorkerIdle)
	p.touchProgress(workerID)
	log.Info(log.CatPool, "worker recovered", "worker_id", workerID)

	p.tryDispatchQueued(w.AgentType)
}
