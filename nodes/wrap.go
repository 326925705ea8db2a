package nodes

import (
	"context"
	"time"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
)

// CoreFunc is the signature every sub-graph node's actual logic implements:
// consume the incoming state, return the full next state (not a partial
// delta — Wrap hands it straight to the engine's reducer, which merges it
// against the same state it was derived from and is therefore idempotent
// for fields the core function didn't touch).
//
// A non-nil error is treated as an unclassified (agentstate.ErrInternal)
// failure: core functions that want to report one of the other taxonomy
// kinds set state.Error themselves and return a nil error.
type CoreFunc func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error)

// Wrap adapts a CoreFunc into a graph.Node[agentstate.GraphState], handling
// the three pieces of bookkeeping every non-terminal node shares:
//   - incrementing CurrentGraphStep on entry (a router decision is not a
//     node, so the router itself never increments it);
//   - stamping LastNode with this node's id once it completes, so the next
//     Route call dispatches on the node that just ran;
//   - consulting Route for the next hop and returning it as an explicit
//     Goto, bypassing the engine's edge-predicate mechanism entirely —
//     nodes are pure transformers the runtime drives, with no edges of
//     their own. Every hop, including the one that ends the
//     run, goes through Goto — END_GRAPH is a registered node like any
//     other (see EndGraph), not a Wrap-level special case, so it gets one
//     real node_start/node_end pair in the event stream for every run.
func Wrap(id agentstate.NodeID, cfg *config.AgentConfig, core CoreFunc) graph.Node[agentstate.GraphState] {
	return graph.NodeFunc[agentstate.GraphState](func(ctx context.Context, state agentstate.GraphState) graph.NodeResult[agentstate.GraphState] {
		state.CurrentGraphStep++

		next, err := core(ctx, state)
		if err != nil {
			next = state
			next.Error = &agentstate.StateError{
				Kind:    agentstate.ErrInternal,
				Source:  string(id),
				Message: err.Error(),
				Ts:      time.Now(),
			}
			return graph.NodeResult[agentstate.GraphState]{Delta: next, Route: graph.Goto(string(agentstate.NodeEndGraph))}
		}

		next.LastNode = id

		decided, consumedSkip := route(next, cfg)
		if consumedSkip {
			next.SkipValidation = agentstate.SkipValidation{}
		}

		if decided == agentstate.NodeEndGraph && next.Error == nil && cfg != nil && next.CurrentGraphStep >= cfg.Graph.MaxGraphSteps {
			next.Error = &agentstate.StateError{
				Kind:    agentstate.ErrStepLimitExceeded,
				Source:  string(id),
				Message: "max_graph_steps exceeded",
				Ts:      time.Now(),
			}
		}

		return graph.NodeResult[agentstate.GraphState]{Delta: next, Route: graph.Goto(string(decided))}
	})
}
