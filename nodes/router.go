// Package nodes implements the five sub-graph nodes (PLANNING_ORCHESTRATOR,
// AGENT_EXECUTOR, TASK_VERIFIER, MEMORY_ORCHESTRATOR, TASK_UPDATER) and the
// pure router function that decides the edge between them.
//
// Each node is modeled as a pure state
// transformer: it consumes an agentstate.GraphState and either returns an
// updated state with an explicit next node (bypassing the engine's
// edge-predicate mechanism) or a terminal error. No node holds a reference
// back to the runtime or to another node.
package nodes

import (
	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
)

// Route is the pure router function: given the current state and the
// agent's configuration, it returns the next node to run, applying five
// precedence rules in order. It never mutates state and
// never itself clears GraphState.SkipValidation — Wrap (below) is
// responsible for consuming that one-shot flag once Route has used it.
func Route(state agentstate.GraphState, cfg *config.AgentConfig) agentstate.NodeID {
	next, _ := route(state, cfg)
	return next
}

// route is Route's implementation, additionally reporting whether rule 3
// (the one-shot SkipValidation override) was the rule that fired, so Wrap
// knows when to clear the flag.
func route(state agentstate.GraphState, cfg *config.AgentConfig) (next agentstate.NodeID, consumedSkip bool) {
	// Rule 1: a non-recoverable error present terminates the run.
	if state.Error != nil && state.Error.Kind != agentstate.ErrBlockedTask {
		return agentstate.NodeEndGraph, false
	}

	// Rule 2: step ceiling reached.
	if cfg != nil && state.CurrentGraphStep >= cfg.Graph.MaxGraphSteps {
		return agentstate.NodeEndGraph, false
	}

	// Rule 3: one-shot router bypass.
	if state.SkipValidation.Skip {
		if validNode(state.SkipValidation.Goto) {
			return state.SkipValidation.Goto, true
		}
		return agentstate.NodeEndGraph, true
	}

	// Rule 4: dispatch on last_node family.
	switch family(state.LastNode) {
	case familyVerifier:
		// The verifier always hands off to TASK_UPDATER to record the
		// decided status before the run continues.
		return agentstate.NodeTaskUpdater, false

	case familyTaskUpdater:
		if state.Error != nil && state.Error.Kind == agentstate.ErrBlockedTask {
			return agentstate.NodePlanner, false
		}
		if task, ok := state.CurrentTask(); ok && task.Status.Terminal() {
			return agentstate.NodeMemory, false
		}
		return agentstate.NodeExecutor, false

	case familyMemory:
		task, ok := state.CurrentTask()
		if !ok || task.Status.Terminal() {
			return agentstate.NodePlanner, false
		}
		return agentstate.NodeExecutor, false

	case familyExecutor:
		if task, ok := state.CurrentTask(); ok && task.Status == agentstate.TaskWaitingValidation {
			return agentstate.NodeVerifier, false
		}
		if state.Error != nil && state.Error.Kind == agentstate.ErrBlockedTask {
			return agentstate.NodePlanner, false
		}
		return agentstate.NodeMemory, false

	case familyPlanner:
		return agentstate.NodeMemory, false
	}

	// Rule 5: entry dispatch by agent mode (LastNode == START or unrecognized).
	return entryDispatch(cfg), false
}

type nodeFamily int

const (
	familyUnknown nodeFamily = iota
	familyPlanner
	familyExecutor
	familyMemory
	familyVerifier
	familyTaskUpdater
)

func family(id agentstate.NodeID) nodeFamily {
	switch id {
	case agentstate.NodePlanner:
		return familyPlanner
	case agentstate.NodeExecutor:
		return familyExecutor
	case agentstate.NodeMemory:
		return familyMemory
	case agentstate.NodeVerifier:
		return familyVerifier
	case agentstate.NodeTaskUpdater:
		return familyTaskUpdater
	default:
		return familyUnknown
	}
}

func validNode(id agentstate.NodeID) bool {
	switch id {
	case agentstate.NodePlanner, agentstate.NodeExecutor, agentstate.NodeMemory,
		agentstate.NodeVerifier, agentstate.NodeTaskUpdater, agentstate.NodeEndGraph:
		return true
	default:
		return false
	}
}

// entryDispatch implements rule 5's mode-based entry routing. executionMode
// is read from cfg.Prompts["executionMode"] — a free-form per-agent knob
// with no first-class config field, carried the same way the rest of the
// free-form prompt/profile configuration is.
func entryDispatch(cfg *config.AgentConfig) agentstate.NodeID {
	if cfg == nil {
		return agentstate.NodePlanner
	}
	switch cfg.Mode {
	case config.ModeInteractive:
		if cfg.Prompts["executionMode"] == "reactive" {
			return agentstate.NodeExecutor
		}
		return agentstate.NodePlanner
	case config.ModeAutonomous:
		return agentstate.NodePlanner
	case config.ModeHybrid:
		// Hybrid entry is the caller's concern: it is expected to handle
		// hybrid mode before invoking the engine, so entry routes straight
		// to END_GRAPH.
		return agentstate.NodeEndGraph
	default:
		return agentstate.NodePlanner
	}
}
