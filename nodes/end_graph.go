package nodes

import (
	"context"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/graph"
)

// EndGraph builds the terminal END_GRAPH node. Unlike the other five it is
// not run through Wrap: there is no next hop to decide, so the bookkeeping
// Wrap exists for (step increment, LastNode stamp, router consult) would be
// either redundant or wrong here. It only stamps LastNode for the benefit
// of a dispatcher inspecting the final checkpoint and always stops the run,
// independent of whether it was reached cleanly or because some earlier
// node recorded a fatal state.Error.
func EndGraph() graph.Node[agentstate.GraphState] {
	return graph.NodeFunc[agentstate.GraphState](func(ctx context.Context, state agentstate.GraphState) graph.NodeResult[agentstate.GraphState] {
		next := state
		next.LastNode = agentstate.NodeEndGraph
		return graph.NodeResult[agentstate.GraphState]{Delta: next, Route: graph.Stop()}
	})
}
