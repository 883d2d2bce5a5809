// Package runtime defines the agent-runtime collaborator interface the
// worker pool dispatches tasks through, plus a type-keyed registry
// mirroring the provider-registration pattern used to wire concrete
// agent backends (Claude, Codex, Gemini, ...) in a full deployment.
// The runtime itself is out of scope for the core; this package is the
// seam plus a self-contained default so the engine runs standalone.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/paracycle/internal/orchestration/contextmgr"
	"github.com/zjrosen/paracycle/internal/orchestration/types"
)

// Agent is a single created executor: it advertises capabilities and
// executes tasks handed to it by the worker pool.
type Agent interface {
	Capabilities() []string
	Execute(ctx context.Context, task types.Task) (types.Result, error)
}

// Factory creates an Agent of a given agent_type, given the context
// manager it should pull context bundles from.
type Factory func(agentType string, ctxMgr contextmgr.Manager) (Agent, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register associates an agent_type with a Factory. Mirrors the
// provider init()-time registration pattern: call from an init() in a
// concrete backend package.
func Register(agentType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[agentType] = f
}

// Runtime is the consumed collaborator interface: CreateAgent(agent_type,
// context_manager) -> Agent.
type Runtime interface {
	CreateAgent(agentType string, ctxMgr contextmgr.Manager) (Agent, error)
}

// Registry dispatches CreateAgent to whichever Factory was registered
// for the requested agent_type, falling back to a simulated agent so
// the engine remains runnable for any agent_type with no concrete
// backend wired in.
type Registry struct {
	fallback Factory
}

// NewRegistry constructs a Runtime backed by the package-level Factory
// registry, falling back to a simulated agent for unregistered types.
func NewRegistry() *Registry {
	return &Registry{fallback: NewSimulatedAgentFactory()}
}

func (r *Registry) CreateAgent(agentType string, ctxMgr contextmgr.Manager) (Agent, error) {
	registryMu.RLock()
	f, ok := registry[agentType]
	registryMu.RUnlock()
	if !ok {
		f = r.fallback
	}
	agent, err := f(agentType, ctxMgr)
	if err != nil {
		return nil, fmt.Errorf("runtime: create agent %q: %w", agentType, types.ErrAgentRuntimeUnavailable)
	}
	return agent, nil
}

// simulatedAgent executes a task by preparing context then returning a
// synthetic success result; it stands in for a real backend so
// ExecuteParallelCycles can drive cycles end to end without one.
type simulatedAgent struct {
	agentType string
	ctxMgr    contextmgr.Manager
}

// NewSimulatedAgentFactory returns a Factory producing simulatedAgent
// instances, used both as the Registry fallback and directly in tests.
func NewSimulatedAgentFactory() Factory {
	return func(agentType string, ctxMgr contextmgr.Manager) (Agent, error) {
		return &simulatedAgent{agentType: agentType, ctxMgr: ctxMgr}, nil
	}
}

func (a *simulatedAgent) Capabilities() []string {
	return []string{a.agentType}
}

func (a *simulatedAgent) Execute(ctx context.Context, task types.Task) (types.Result, error) {
	if a.ctxMgr != nil {
		isolated := true
		if v, ok := task.Context["parallel_isolation"].(bool); ok {
			isolated = v
		}
		if _, err := a.ctxMgr.PrepareContext(ctx, a.agentType, task.CycleID, task.Command.String(), 8000, isolated); err != nil {
			return types.Result{Success: false, Error: err.Error()}, nil
		}
	}

	select {
	case <-ctx.Done():
		return types.Result{Success: false, Error: ctx.Err().Error()}, ctx.Err()
	case <-time.After(time.Millisecond):
	}

	return types.Result{
		Success: true,
		Output:  fmt.Sprintf("simulated %s completed for task %s", task.Command, task.TaskID),
		Artifacts: map[string]any{
			"has_failing_tests": task.Command == types.CmdTest,
			"has_passing_tests": task.Command == types.CmdCode || task.Command == types.CmdCommitTests,
		},
	}, nil
}
