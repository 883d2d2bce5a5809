package conflict

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// AnalyzePotentialConflict assesses how likely cycleA and cycleB are to
// collide over paths before either has actually modified them, for
// planning purposes ahead of admission.
func (r *Resolver) AnalyzePotentialConflict(_ context.Context, cycleA, cycleB string, paths []string) types.PotentialConflictAnalysis {
	sharedFileFactor := minFloat(0.8, 0.2*float64(len(paths)))
	temporalFactor := 0.5

	pyCount := 0
	for _, p := range paths {
		if isPythonLike(p) {
			pyCount++
		}
	}
	var fileTypeFactor float64
	if len(paths) > 0 {
		fileTypeFactor = minFloat(0.7, 0.7*float64(pyCount)/float64(len(paths)))
	}

	probability := (sharedFileFactor + temporalFactor + fileTypeFactor) / 3

	var complexity string
	switch {
	case probability < 0.3:
		complexity = "simple"
	case probability < 0.6:
		complexity = "moderate"
	default:
		complexity = "complex"
	}

	strategy := types.StrategyCoordination
	if order, ok := preferenceOrder[types.ConflictFileModification]; ok && len(order) > 0 {
		strategy = order[0]
	}

	return types.PotentialConflictAnalysis{
		Probability:         probability,
		Impact:              impactFor(paths),
		Components:          append([]string(nil), paths...),
		Complexity:          complexity,
		RecommendedStrategy: strategy,
		PreventionTips:      preventionTips(cycleA, cycleB, paths),
	}
}

func impactFor(paths []string) string {
	for _, p := range paths {
		base := filepath.Base(p)
		if strings.Contains(base, "__init__") || strings.Contains(base, "main") || strings.Contains(base, "setup") {
			return "high"
		}
	}
	if len(paths) > 5 {
		return "high"
	}
	return "moderate"
}

func preventionTips(cycleA, cycleB string, paths []string) []string {
	tips := []string{
		"coordinate edit order on shared files before both cycles start writing",
		"serialize access by cycle_id ascending if overlap is detected",
	}
	if len(paths) > 0 {
		tips = append(tips, "consider splitting "+paths[0]+" so "+cycleA+" and "+cycleB+" touch disjoint regions")
	}
	return tips
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
