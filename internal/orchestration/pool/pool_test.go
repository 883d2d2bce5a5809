package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/orchestration/runtime"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

func newTestPool(t *testing.T, cfg Config) *WorkerPool {
	t.Helper()
	cfg.Runtime = runtime.NewRegistry()
	cfg.ContextManager = contextmgr.NewInMemory()
	p := New(cfg)
	t.Cleanup(p.Close)
	return p
}

func TestSubmitDispatchesWhenWorkerAvailable(t *testing.T) {
	p := newTestPool(t, Config{DefaultMinWorkers: 1, DefaultMaxWorkers: 2})

	taskID, err := p.Submit("coder", "test", nil, 5, "C1", 0)
	require.NoError(t, err)

	res, err := p.Result(context.Background(), taskID, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSubmitWithoutAutoScalingCompletesBothTasks(t *testing.T) {
	p := newTestPool(t, Config{
		DefaultMinWorkers: 1,
		DefaultMaxWorkers: 1,
		AutoScaling:       false,
	})

	// Saturate the single worker with a slow in-flight task by
	// submitting before it can finish, then immediately submitting a
	// second task of the same type: with max=1 and no autoscaling the
	// second either dispatches to the same worker once free, or queues.
	id1, err := p.Submit("coder", "test", nil, 5, "C1", 0)
	require.NoError(t, err)
	id2, err := p.Submit("coder", "test", nil, 5, "C2", 0)
	require.NoError(t, err)

	res1, err := p.Result(context.Background(), id1, time.Second)
	require.NoError(t, err)
	assert.True(t, res1.Success)

	res2, err := p.Result(context.Background(), id2, time.Second)
	require.NoError(t, err)
	assert.True(t, res2.Success)
}

func TestCancelPendingTask(t *testing.T) {
	// A zero-max type limit means no worker can ever spawn for "coder",
	// so the task stays queued and the cancel path is deterministic.
	p := newTestPool(t, Config{
		TypeLimits:  map[string]Limits{"coder": {Min: 0, Max: 0}},
		AutoScaling: false,
	})

	taskID, err := p.Submit("coder", "test", nil, 5, "C1", 0)
	require.NoError(t, err)
	assert.True(t, p.Cancel(taskID))

	res, err := p.Result(context.Background(), taskID, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestResultUnknownTask(t *testing.T) {
	p := newTestPool(t, Config{})
	_, err := p.Result(context.Background(), "nope", time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestScaleClampsToLimits(t *testing.T) {
	p := newTestPool(t, Config{
		TypeLimits: map[string]Limits{"coder": {Min: 1, Max: 3}},
	})
	p.ensureMinWorkers("coder")

	res := p.Scale("coder", 10)
	assert.LessOrEqual(t, p.countByType("coder"), 3)
	assert.Equal(t, 2, res.Added)

	res = p.Scale("coder", 0)
	assert.GreaterOrEqual(t, p.countByType("coder"), 1)
}

func TestSelectWorkerLeastLoaded(t *testing.T) {
	p := newTestPool(t, Config{LoadBalancing: LeastLoaded})
	w1, err := p.spawnWorker("coder")
	require.NoError(t, err)
	w2, err := p.spawnWorker("coder")
	require.NoError(t, err)
	w1.AssignTask("busy-task")

	chosen := p.selectWorker("coder", 5)
	require.NotNil(t, chosen)
	assert.Equal(t, w2.WorkerID, chosen.WorkerID)
}

func TestSelectWorkerRoundRobin(t *testing.T) {
	p := newTestPool(t, Config{LoadBalancing: RoundRobin})
	w1, err := p.spawnWorker("coder")
	require.NoError(t, err)
	w2, err := p.spawnWorker("coder")
	require.NoError(t, err)

	first := p.selectWorker("coder", 5)
	second := p.selectWorker("coder", 5)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.WorkerID, second.WorkerID)
	ids := map[string]bool{w1.WorkerID: true, w2.WorkerID: true}
	assert.True(t, ids[first.WorkerID])
	assert.True(t, ids[second.WorkerID])
}

func TestStatusReportsUtilization(t *testing.T) {
	p := newTestPool(t, Config{})
	w, err := p.spawnWorker("coder")
	require.NoError(t, err)
	w.AssignTask("t1")

	status := p.Status()
	ts, ok := status.ByType["coder"]
	require.True(t, ok)
	assert.Equal(t, 1, ts.Total)
	assert.Equal(t, 1, ts.Busy)
	assert.Greater(t, status.Utilization, 0.0)
}

func TestHealthLoopRecoversStuckWorker(t *testing.T) {
	p := newTestPool(t, Config{
		HealthMonitoring:    true,
		HealthCheckInterval: 5 * time.Millisecond,
		AgentTimeout:        time.Millisecond,
		RecoveryDelay:       time.Millisecond,
	})
	w, err := p.spawnWorker("coder")
	require.NoError(t, err)
	w.AssignTask("stuck-task")
	p.touchProgress(w.WorkerID)

	require.Eventually(t, func() bool {
		return w.Status() == types.WorkerIdle
	}, time.Second, 5*time.Millisecond)
}
