package nodes

import (
	"context"
	"testing"

	"github.com/corvusagent/agentrt/agentstate"
)

func TestEndGraphStampsLastNodeAndStops(t *testing.T) {
	node := EndGraph()
	state := agentstate.GraphState{LastNode: agentstate.NodeVerifier}
	result := node.Run(context.Background(), state)

	if result.Delta.LastNode != agentstate.NodeEndGraph {
		t.Errorf("LastNode = %q, want END_GRAPH", result.Delta.LastNode)
	}
	if !result.Route.Terminal {
		t.Errorf("Route.Terminal = false, want true")
	}
}

func TestEndGraphPreservesError(t *testing.T) {
	node := EndGraph()
	state := agentstate.GraphState{
		Error: &agentstate.StateError{Kind: agentstate.ErrInternal, Message: "boom"},
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Error == nil || result.Delta.Error.Kind != agentstate.ErrInternal {
		t.Errorf("Error = %+v, want preserved ErrInternal", result.Delta.Error)
	}
}
