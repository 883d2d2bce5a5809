// Package conflict implements the conflict resolver: it maintains the
// file-modification log, synthesizes conflicts between cycles touching
// the same resources, and carries out resolution strategies. Register
// and resolve operations return a Result describing what happened;
// coordination events raised along the way go out through the sink.
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/paracycle/internal/log"
	"github.com/zjrosen/paracycle/internal/orchestration/events"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
	"github.com/zjrosen/paracycle/internal/tracing"
)

// preferenceOrder is the ordered list of strategies tried for each
// conflict kind; the resolver walks the list and commits to the first
// strategy whose preconditions are satisfied.
var preferenceOrder = map[types.ConflictKind][]types.ResolutionStrategy{
	types.ConflictFileModification:    {types.StrategyCoordination, types.StrategySerialization, types.StrategyAutoResolve},
	types.ConflictDependencyViolation: {types.StrategySerialization, types.StrategyCoordination},
	types.ConflictMerge:               {types.StrategyAutoResolve, types.StrategyHumanEscalation},
	types.ConflictTest:                {types.StrategyCoordination, types.StrategyAutoResolve},
	types.ConflictResourceContention:  {types.StrategySerialization, types.StrategyCoordination},
	types.ConflictSemantic:            {types.StrategyHumanEscalation, types.StrategyCoordination},
}

// Config configures a Resolver.
type Config struct {
	Sink   events.Sink
	Tracer trace.Tracer
	Clock  func() time.Time

	SemanticAnalysis      bool
	MaxResolutionAttempts int           // default 3
	ScanInterval          time.Duration // default 30s
	RecentWindow          time.Duration // default 5m
	AutoMergeLimit        int           // default 2; AUTO_RESOLVE rejects FILE_MODIFICATION conflicts touching more cycles than this
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sink == nil {
		c.Sink = events.NoopSink{}
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("conflict")
	}
	if c.AutoMergeLimit <= 0 {
		c.AutoMergeLimit = 2
	}
	if c.MaxResolutionAttempts <= 0 {
		c.MaxResolutionAttempts = 3
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 5 * time.Minute
	}
}

// Stats exposes resolution-outcome counts and the exponentially
// weighted average resolution time.
type Stats struct {
	AutoResolved   int
	Escalated      int
	Failed         int
	AvgResolutionS float64
}

// Resolver tracks file modifications across cycles, detects conflicts
// between them, and applies resolution strategies.
type Resolver struct {
	cfg Config

	mu            sync.Mutex
	mods          []types.FileModification
	contentByPath map[string]string
	conflicts     map[string]*types.Conflict
	stats         Stats

	depGraph map[string]map[string]struct{} // cycle_id -> depends_on set

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Resolver. Call Start to run the proactive detection
// loop; a Resolver is fully usable for register/resolve calls without it.
func New(cfg Config) *Resolver {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		cfg:           cfg,
		contentByPath: make(map[string]string),
		conflicts:     make(map[string]*types.Conflict),
		depGraph:      make(map[string]map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the proactive detection loop.
func (r *Resolver) Start() {
	r.wg.Add(1)
	go r.proactiveLoop()
}

// Stop halts the proactive detection loop.
func (r *Resolver) Stop() {
	r.cancel()
	r.wg.Wait()
}

func isPythonLike(path string) bool {
	return strings.HasSuffix(path, ".py")
}

// RegisterFileModification records a cycle's touch of path, computing
// a content hash (reading the file if it currently exists), deriving
// line ranges from the previous recorded content via go-diff, and
// extracting def/class/import names by prefix scan when semantic
// analysis is enabled and the file is Python-like. It then scans for
// conflicts against every other cycle with a modification on the same
// path, returning any newly detected conflicts.
func (r *Resolver) RegisterFileModification(ctx context.Context, path, cycleID, storyID string, kind types.ModificationKind) ([]*types.Conflict, error) {
	_, span := r.cfg.Tracer.Start(ctx, tracing.SpanPrefixConflict+"register")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrFilePath, path), attribute.String(tracing.AttrCycleID, cycleID))

	content, hash := r.readAndHash(path)

	r.mu.Lock()
	prev, hadPrev := r.contentByPath[path]
	var lineRanges []types.LineRange
	switch {
	case hadPrev:
		lineRanges = deriveLineRanges(prev, content)
	case content != "":
		// No prior recorded version to diff against: the whole file is
		// the touched region, so later overlapping writes are still
		// detected against this baseline.
		lineRanges = []types.LineRange{{Start: 1, End: countLines(content)}}
	}
	r.contentByPath[path] = content

	var functions, classes, imports []string
	if r.cfg.SemanticAnalysis && isPythonLike(path) {
		functions, classes, imports = scanPrefixes(content)
	}

	mod := types.FileModification{
		FilePath:         path,
		CycleID:          cycleID,
		StoryID:          storyID,
		Kind:             kind,
		ContentHash:      hash,
		Timestamp:        r.cfg.Clock(),
		LineRanges:       lineRanges,
		FunctionsTouched: functions,
		ClassesTouched:   classes,
		ImportsTouched:   imports,
	}
	r.mods = append(r.mods, mod)

	detected := r.detectConflictsOnPathLocked(path)
	r.mu.Unlock()

	for _, c := range detected {
		r.emitDetected(c)
	}
	return detected, nil
}

func (r *Resolver) readAndHash(path string) (content, hash string) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", ""
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:])
}

// detectConflictsOnPathLocked must be called with r.mu held. It
// compares every pair of distinct cycles that have touched path and
// synthesizes (or returns the existing) conflict for any overlap.
func (r *Resolver) detectConflictsOnPathLocked(path string) []*types.Conflict {
	touched := map[string]types.FileModification{} // cycle_id -> merged view
	for _, m := range r.mods {
		if m.FilePath != path {
			continue
		}
		existing, ok := touched[m.CycleID]
		if !ok {
			touched[m.CycleID] = m
			continue
		}
		existing.LineRanges = append(existing.LineRanges, m.LineRanges...)
		existing.FunctionsTouched = append(existing.FunctionsTouched, m.FunctionsTouched...)
		existing.ClassesTouched = append(existing.ClassesTouched, m.ClassesTouched...)
		existing.ImportsTouched = append(existing.ImportsTouched, m.ImportsTouched...)
		touched[m.CycleID] = existing
	}

	var cycleIDs []string
	for id := range touched {
		cycleIDs = append(cycleIDs, id)
	}

	var detected []*types.Conflict
	for i := 0; i < len(cycleIDs); i++ {
		for j := i + 1; j < len(cycleIDs); j++ {
			a, b := touched[cycleIDs[i]], touched[cycleIDs[j]]
			if !modificationsOverlap(a, b) {
				continue
			}
			if r.hasOpenConflictLocked(types.ConflictFileModification, path, a.CycleID, b.CycleID) {
				continue
			}
			count := modificationCountOnPath(r.mods, path)
			c := &types.Conflict{
				ConflictID:         uuid.NewString(),
				Kind:               types.ConflictFileModification,
				Severity:           severityFor(path, count),
				AffectedCycles:     []string{a.CycleID, b.CycleID},
				AffectedFiles:      []string{path},
				Status:             types.ConflictDetected,
				ResolutionStrategy: types.StrategyNone,
				DetectedAt:         r.cfg.Clock(),
				Metadata:           map[string]any{"modification_count": count},
			}
			r.conflicts[c.ConflictID] = c
			detected = append(detected, c)
		}
	}
	return detected
}

func modificationCountOnPath(mods []types.FileModification, path string) int {
	n := 0
	for _, m := range mods {
		if m.FilePath == path {
			n++
		}
	}
	return n
}

func modificationsOverlap(a, b types.FileModification) bool {
	for _, ra := range a.LineRanges {
		for _, rb := range b.LineRanges {
			if ra.Overlaps(rb) {
				return true
			}
		}
	}
	if sharesElement(a.FunctionsTouched, b.FunctionsTouched) {
		return true
	}
	if sharesElement(a.ClassesTouched, b.ClassesTouched) {
		return true
	}
	if sharesElement(a.ImportsTouched, b.ImportsTouched) {
		return true
	}
	return false
}

func sharesElement(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, y := range b {
		if _, ok := set[y]; ok {
			return true
		}
	}
	return false
}

func (r *Resolver) hasOpenConflictLocked(kind types.ConflictKind, path, cycleA, cycleB string) bool {
	for _, c := range r.conflicts {
		if c.Kind != kind || c.Status == types.ConflictResolved || c.Status == types.ConflictFailed {
			continue
		}
		if !containsAll(c.AffectedFiles, path) {
			continue
		}
		if containsAll(c.AffectedCycles, cycleA) && containsAll(c.AffectedCycles, cycleB) {
			return true
		}
	}
	return false
}

func containsAll(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// severityFor assigns HIGH for __init__/main/setup paths, MEDIUM for
// .py files or a modification count above 5, LOW otherwise.
func severityFor(path string, modCount int) types.Severity {
	base := filepath.Base(path)
	switch {
	case strings.Contains(base, "__init__") || strings.Contains(base, "main") || strings.Contains(base, "setup"):
		return types.SeverityHigh
	case strings.HasSuffix(path, ".py") || modCount > 5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func (r *Resolver) emitDetected(c *types.Conflict) {
	log.Warn(log.CatConflict, "conflict detected",
		"conflict_id", c.ConflictID, "kind", c.Kind.String(), "severity", c.Severity.String())
	r.cfg.Sink.Emit(events.NewCoordinationEvent(
		uuid.NewString(), events.CoordConflictDetected, "", c.AffectedCycles,
		map[string]any{"conflict_id": c.ConflictID, "kind": c.Kind.String(), "severity": c.Severity.String()},
	))
}

// RegisterCycleDependency records a dependency edge in the resolver's
// own lightweight graph (independent of the PSM's dependency table) and
// synthesizes a DEPENDENCY_VIOLATION conflict if the edge would close a
// cycle, using the atomic hypothetical-DFS approach: the edge is added
// tentatively, checked, and rolled back if it would close a cycle.
func (r *Resolver) RegisterCycleDependency(cycleID, dependsOn string) *types.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.depGraph[cycleID] == nil {
		r.depGraph[cycleID] = make(map[string]struct{})
	}
	r.depGraph[cycleID][dependsOn] = struct{}{}

	if !r.hasCycleLocked() {
		return nil
	}

	delete(r.depGraph[cycleID], dependsOn)

	c := &types.Conflict{
		ConflictID:         uuid.NewString(),
		Kind:               types.ConflictDependencyViolation,
		Severity:           types.SeverityHigh,
		AffectedCycles:     []string{cycleID, dependsOn},
		Status:             types.ConflictDetected,
		ResolutionStrategy: types.StrategyNone,
		DetectedAt:         r.cfg.Clock(),
	}
	r.conflicts[c.ConflictID] = c
	r.emitDetected(c)
	return c
}

// hasCycleLocked runs three-color DFS over the full graph; must be
// called with r.mu held.
func (r *Resolver) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		for dep := range r.depGraph[node] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for node := range r.depGraph {
		if color[node] == white {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

// Conflict returns the conflict with the given id, if known.
func (r *Resolver) Conflict(conflictID string) (types.Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return types.Conflict{}, false
	}
	return *c, true
}

// Stats returns a snapshot of resolution statistics.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
