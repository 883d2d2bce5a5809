// Package contextmgr defines the context-manager collaborator
// interface the engine consumes. The real context manager is an
// external, opaque service; this package supplies the client-facing
// contract plus an in-memory default so the engine is runnable
// standalone.
package contextmgr

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Context is the bundle a context manager hands back for one agent
// invocation.
type Context struct {
	AgentType         string
	StoryID           string
	Task              string
	MaxTokens         int
	ParallelIsolation bool
	Payload           map[string]any
	PreparationTimeS  float64
	CacheHit          bool
}

// Manager is the consumed collaborator interface: PrepareContext(agent_type,
// story_id, task, max_tokens, parallel_isolation) -> Context.
type Manager interface {
	PrepareContext(ctx context.Context, agentType, storyID, task string, maxTokens int, parallelIsolation bool) (Context, error)
}

// InMemory is a self-contained default Manager that simulates context
// preparation with a tiny cache keyed on (agent_type, story_id, task,
// max_tokens, parallel_isolation),
// so repeated requests for the same work register a cache hit the way
// a real context manager's memoization would. It has no external
// dependencies and exists purely so the engine can run end to end
// without a production context manager wired in.
type InMemory struct {
	mu    sync.Mutex
	cache map[string]Context
	clock func() time.Time
}

// NewInMemory constructs a default context manager.
func NewInMemory() *InMemory {
	return &InMemory{
		cache: make(map[string]Context),
		clock: time.Now,
	}
}

func (m *InMemory) PrepareContext(_ context.Context, agentType, storyID, task string, maxTokens int, parallelIsolation bool) (Context, error) {
	key := fmt.Sprintf("%s::%s::%s::%d::%t", agentType, storyID, task, maxTokens, parallelIsolation)

	start := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[key]; ok {
		cached.CacheHit = true
		cached.PreparationTimeS = m.clock().Sub(start).Seconds()
		return cached, nil
	}

	built := Context{
		AgentType:         agentType,
		StoryID:           storyID,
		Task:              task,
		MaxTokens:         maxTokens,
		ParallelIsolation: parallelIsolation,
		Payload:           map[string]any{"story_id": storyID, "task": task},
		CacheHit:          false,
	}
	built.PreparationTimeS = m.clock().Sub(start).Seconds()
	m.cache[key] = built
	return built, nil
}
