package pool

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// ============================================================================
// Property-Based Tests for Worker State Invariants
// ============================================================================

// TestProperty_NoBusyWorkerWithoutTasks verifies that a worker whose
// current-task set is empty is never left in BUSY, under any interleave
// of assignments and completions.
func TestProperty_NoBusyWorkerWithoutTasks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxConcurrent := rapid.IntRange(1, 4).Draw(t, "maxConcurrent")
		w := types.NewWorker("w1", "coder", maxConcurrent, []string{"coder"}, time.Now())

		inFlight := make([]string, 0, maxConcurrent)
		numOps := rapid.IntRange(1, 30).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			assign := rapid.Bool().Draw(t, fmt.Sprintf("assign-%d", i))
			if assign {
				taskID := fmt.Sprintf("task-%d", i)
				if w.AssignTask(taskID) {
					inFlight = append(inFlight, taskID)
				} else if len(inFlight) < maxConcurrent {
					t.Fatalf("assignment rejected below max concurrency (%d in flight, max %d)", len(inFlight), maxConcurrent)
				}
			} else if len(inFlight) > 0 {
				idx := rapid.IntRange(0, len(inFlight)-1).Draw(t, fmt.Sprintf("complete-%d", i))
				taskID := inFlight[idx]
				inFlight = append(inFlight[:idx], inFlight[idx+1:]...)
				success := rapid.Bool().Draw(t, fmt.Sprintf("success-%d", i))
				w.CompleteTask(taskID, success, time.Millisecond, time.Now())
			}

			if w.CurrentTaskCount() == 0 && w.Status() == types.WorkerBusy {
				t.Fatalf("worker is BUSY with zero in-flight tasks after op %d", i)
			}
			if w.CurrentTaskCount() != len(inFlight) {
				t.Fatalf("task count mismatch: worker reports %d, model has %d", w.CurrentTaskCount(), len(inFlight))
			}
		}

		m := w.Metrics()
		if m.Successes+m.Failures != m.TotalTasks {
			t.Fatalf("metrics mismatch: %d + %d != %d", m.Successes, m.Failures, m.TotalTasks)
		}
	})
}
