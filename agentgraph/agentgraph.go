// Package agentgraph wires the six agentstate nodes into a compiled
// graph.Engine: a store, an emitter, one engine.Add per node, a single
// StartAt, and no registered edges — every node returns its own explicit
// Goto/Stop via nodes.Wrap, so the edge-predicate table stays empty.
package agentgraph

import (
	"fmt"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/constraints"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/emit"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/graph/store"
	"github.com/corvusagent/agentrt/memory"
	"github.com/corvusagent/agentrt/nodes"
	"github.com/corvusagent/agentrt/tool"
)

// Deps collects the collaborators Build wires into the node closures. Chat
// is shared across PLANNING_ORCHESTRATOR, AGENT_EXECUTOR and TASK_VERIFIER,
// matching how config.AgentConfig.Graph.ModelRefs names one model per role
// without requiring three separate client instances; pass distinct
// model.ChatModel values through a role-dispatching wrapper if per-role
// models are needed.
type Deps struct {
	Chat     model.ChatModel
	Registry *tool.Registry
	Embedder memory.Embedder
	LTM      memory.LTMStore
	IDGen    nodes.IDGen

	// Store and Emitter default to store.NewMemStore and
	// emit.NewNullEmitter when left nil.
	Store   store.Store[agentstate.GraphState]
	Emitter emit.Emitter

	// Metrics, when non-nil, is wired both into the engine (step latency)
	// and the executor node (constraint rejections).
	Metrics *graph.PrometheusMetrics

	// EngineOptions are passed through to graph.New verbatim (e.g.
	// graph.WithMaxSteps, graph.WithMetrics); Build always adds
	// graph.WithMaxSteps bound to a generous multiple of
	// cfg.Graph.MaxGraphSteps so the engine's own loop guard never fires
	// before the router's step-limit check does.
	EngineOptions []interface{}
}

// Build constructs the fixed six-node topology. The entry point is the
// router's mode-based entry dispatch evaluated against a zero state:
// PLANNING_ORCHESTRATOR for autonomous and plain interactive agents,
// AGENT_EXECUTOR for interactive agents with executionMode=reactive, and
// END_GRAPH for hybrid agents (whose entry the caller handles before
// invoking the engine). Callers that need to resume mid-run (e.g. after
// waiting_validation) pass a non-zero CurrentGraphStep/LastNode in the
// initial state to engine.Run.
func Build(cfg *config.AgentConfig, deps Deps) (*graph.Engine[agentstate.GraphState], error) {
	if cfg == nil {
		return nil, fmt.Errorf("agentgraph: cfg must not be nil")
	}

	st := deps.Store
	if st == nil {
		st = store.NewMemStore[agentstate.GraphState]()
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	engineOpts := []interface{}{graph.WithMaxSteps(engineStepCeiling(cfg))}
	if deps.Metrics != nil {
		engineOpts = append(engineOpts, graph.WithMetrics(deps.Metrics))
	}
	engineOpts = append(engineOpts, deps.EngineOptions...)
	engine := graph.New(agentstate.Reduce, st, emitter, engineOpts...)

	rules := rulesFromConfig(cfg)

	if err := engine.Add(string(agentstate.NodePlanner), nodes.Planner(cfg, deps.Chat, deps.Registry, deps.IDGen)); err != nil {
		return nil, fmt.Errorf("agentgraph: add planner: %w", err)
	}
	if err := engine.Add(string(agentstate.NodeMemory), nodes.MemoryOrchestrator(cfg, deps.Embedder, deps.LTM)); err != nil {
		return nil, fmt.Errorf("agentgraph: add memory orchestrator: %w", err)
	}
	if err := engine.Add(string(agentstate.NodeExecutor), nodes.Executor(cfg, executorDeps(cfg, deps, rules))); err != nil {
		return nil, fmt.Errorf("agentgraph: add executor: %w", err)
	}
	if err := engine.Add(string(agentstate.NodeVerifier), nodes.Verifier(cfg, deps.Chat)); err != nil {
		return nil, fmt.Errorf("agentgraph: add verifier: %w", err)
	}
	if err := engine.Add(string(agentstate.NodeTaskUpdater), nodes.TaskUpdater(cfg)); err != nil {
		return nil, fmt.Errorf("agentgraph: add task updater: %w", err)
	}
	if err := engine.Add(string(agentstate.NodeEndGraph), nodes.EndGraph()); err != nil {
		return nil, fmt.Errorf("agentgraph: add end graph: %w", err)
	}

	entry := nodes.Route(agentstate.GraphState{}, cfg)
	if err := engine.StartAt(string(entry)); err != nil {
		return nil, fmt.Errorf("agentgraph: start at %s: %w", entry, err)
	}

	return engine, nil
}

// engineStepCeiling gives the engine's own MaxSteps loop guard headroom
// over cfg.Graph.MaxGraphSteps: the router's step-limit check (nodes.Wrap)
// is the one meant to fire and produce a clean ErrStepLimitExceeded, so the
// engine's blunter guard is padded rather than set equal to it.
func engineStepCeiling(cfg *config.AgentConfig) int {
	return cfg.Graph.MaxGraphSteps*2 + 10
}

func rulesFromConfig(cfg *config.AgentConfig) []constraints.Rule {
	tcs := cfg.ToolConstraints
	if len(tcs) == 0 {
		tcs = config.DefaultToolConstraints()
	}
	rules := make([]constraints.Rule, len(tcs))
	for i, tc := range tcs {
		rules[i] = constraints.Rule{
			Tool:                         tc.Tool,
			PreventConsecutiveDuplicates: tc.PreventConsecutiveDuplicates,
			MaxRetries:                   tc.MaxRetries,
			RequiredPrecedents:           tc.RequiredPrecedents,
			BlockedAfter:                 tc.BlockedAfter,
		}
	}
	return rules
}

func executorDeps(cfg *config.AgentConfig, deps Deps, rules []constraints.Rule) nodes.ExecutorDeps {
	ed := nodes.ExecutorDeps{
		Chat:          deps.Chat,
		Registry:      deps.Registry,
		Rules:         rules,
		TokenBudget:   constraints.NewTokenBudget(cfg.Graph.ContextWindow),
		ContextWindow: cfg.Graph.ContextWindow,
		IDGen:         deps.IDGen,
	}
	if deps.Metrics != nil {
		ed.Metrics = deps.Metrics
	}
	return ed
}
