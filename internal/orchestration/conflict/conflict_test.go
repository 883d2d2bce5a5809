package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return New(Config{SemanticAnalysis: true})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegisterFileModificationDetectsOverlap(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	dir := t.TempDir()

	path := writeFile(t, dir, "module.py", "def helper():\n    return 1\n")
	_, err := r.RegisterFileModification(ctx, path, "C1", "S1", types.ModModify)
	require.NoError(t, err)

	// Second write touches the same function name via semantic scan.
	writeFile(t, dir, "module.py", "def helper():\n    return 2\n")
	conflicts, err := r.RegisterFileModification(ctx, path, "C2", "S1", types.ModModify)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ConflictFileModification, conflicts[0].Kind)
	assert.ElementsMatch(t, []string{"C1", "C2"}, conflicts[0].AffectedCycles)
}

func TestSeverityAssignment(t *testing.T) {
	assert.Equal(t, types.SeverityHigh, severityFor("pkg/__init__.py", 1))
	assert.Equal(t, types.SeverityMedium, severityFor("pkg/module.py", 1))
	assert.Equal(t, types.SeverityLow, severityFor("pkg/readme.txt", 1))
	assert.Equal(t, types.SeverityMedium, severityFor("pkg/readme.txt", 6))
}

func TestRegisterCycleDependencyDetectsCycle(t *testing.T) {
	r := newTestResolver(t)

	assert.Nil(t, r.RegisterCycleDependency("C1", "C2"))
	c := r.RegisterCycleDependency("C2", "C1")
	require.NotNil(t, c)
	assert.Equal(t, types.ConflictDependencyViolation, c.Kind)

	// The rejected edge must not be retained.
	r.mu.Lock()
	_, ok := r.depGraph["C2"]["C1"]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestResolveFileModificationPrefersCoordination(t *testing.T) {
	r := newTestResolver(t)
	c := &types.Conflict{
		ConflictID:     "k1",
		Kind:           types.ConflictFileModification,
		AffectedCycles: []string{"C1", "C2", "C3"},
		Status:         types.ConflictDetected,
	}
	r.mu.Lock()
	r.conflicts[c.ConflictID] = c
	r.mu.Unlock()

	res, err := r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	// COORDINATION precedes AUTO_RESOLVE for FILE_MODIFICATION and
	// always succeeds, so it wins before AUTO_RESOLVE is even tried.
	assert.Equal(t, types.StrategyCoordination, res.Strategy)
}

func TestResolveForcesHumanEscalationAfterMaxAttempts(t *testing.T) {
	r := New(Config{MaxResolutionAttempts: 1})
	c := &types.Conflict{
		ConflictID:     "k1",
		Kind:           types.ConflictSemantic,
		AffectedCycles: []string{"C1", "C2"},
		Status:         types.ConflictDetected,
	}
	r.mu.Lock()
	r.conflicts[c.ConflictID] = c
	r.mu.Unlock()

	_, err := r.Resolve(context.Background(), "k1")
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyHumanEscalation, res.Strategy)
	assert.Equal(t, types.OutcomeEscalated, res.Outcome)
}

func TestApplyAbortCycleSelectsMaxCycleID(t *testing.T) {
	r := newTestResolver(t)
	c := &types.Conflict{
		ConflictID:     "k1",
		Kind:           types.ConflictResourceContention,
		AffectedCycles: []string{"C1", "C9", "C5"},
		Status:         types.ConflictDetected,
	}
	res, err := r.applyStrategy(context.Background(), c, types.StrategyAbortCycle)
	require.NoError(t, err)
	assert.Equal(t, "C9 aborted", res.Message)
}

func TestAnalyzePotentialConflictBounds(t *testing.T) {
	r := newTestResolver(t)
	a := r.AnalyzePotentialConflict(context.Background(), "C1", "C2", []string{"a.py", "b.py", "c.go"})
	assert.GreaterOrEqual(t, a.Probability, 0.0)
	assert.LessOrEqual(t, a.Probability, 1.0)
	assert.Contains(t, []string{"simple", "moderate", "complex"}, a.Complexity)
}

func TestStatsCountsAutoResolutions(t *testing.T) {
	r := newTestResolver(t)
	c1 := &types.Conflict{ConflictID: "k1", Kind: types.ConflictTest, AffectedCycles: []string{"C1", "C2"}, Status: types.ConflictDetected}
	c2 := &types.Conflict{ConflictID: "k2", Kind: types.ConflictTest, AffectedCycles: []string{"C3", "C4"}, Status: types.ConflictDetected}
	r.mu.Lock()
	r.conflicts[c1.ConflictID] = c1
	r.conflicts[c2.ConflictID] = c2
	r.mu.Unlock()

	_, err := r.Resolve(context.Background(), "k1")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "k2")
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 2, stats.AutoResolved)
}

func TestScanTickAutoResolvesLowMediumConflicts(t *testing.T) {
	ctx := context.Background()
	r := New(Config{RecentWindow: time.Hour})
	dir := t.TempDir()

	path := writeFile(t, dir, "shared.txt", "line one\n")
	_, err := r.RegisterFileModification(ctx, path, "C1", "S1", types.ModModify)
	require.NoError(t, err)
	writeFile(t, dir, "shared.txt", "line one changed\n")
	_, err = r.RegisterFileModification(ctx, path, "C2", "S1", types.ModModify)
	require.NoError(t, err)

	r.scanTick()

	r.mu.Lock()
	defer r.mu.Unlock()
	resolvedAny := false
	for _, c := range r.conflicts {
		if c.Status == types.ConflictResolved {
			resolvedAny = true
		}
	}
	assert.True(t, resolvedAny)
}
