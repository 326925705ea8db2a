package nodes

import (
	"context"
	"fmt"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
)

// TaskUpdater builds the TASK_UPDATER node: the bookkeeping hop the router
// always sends the verifier's output through before deciding whether to
// loop back to the executor or move on to memory ingestion. It records the
// task's just-decided status as an ai message carrying the
// taskCompleted/taskSuccess additional keys, a record a dispatcher or UI
// layer can surface without re-deriving it from task state.
func TaskUpdater(cfg *config.AgentConfig) graph.Node[agentstate.GraphState] {
	return Wrap(agentstate.NodeTaskUpdater, cfg, func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error) {
		task, ok := state.CurrentTask()
		if !ok {
			return state, nil
		}

		next := state
		next.Messages = appendMessage(state, agentstate.Message{
			Role:    agentstate.RoleAI,
			Content: fmt.Sprintf("Task %q is now %s.", task.Text, task.Status),
			Additional: map[string]interface{}{
				agentstate.AdditionalFrom:          string(agentstate.NodeTaskUpdater),
				agentstate.AdditionalTaskCompleted: task.Status.Terminal(),
				agentstate.AdditionalTaskSuccess:   task.Status == agentstate.TaskCompleted,
			},
		})
		return next, nil
	})
}
