package nodes

import (
	"strings"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/graph/model"
)

// latestHumanMessage returns the most recent human-authored message's
// content, or "" if none exists.
func latestHumanMessage(state agentstate.GraphState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == agentstate.RoleHuman {
			return state.Messages[i].Content
		}
	}
	return ""
}

// normalizeWhitespace collapses runs of whitespace to single spaces and
// trims the ends — the exact-string-match-after-normalization comparison
// planner deduplication uses.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendMessage returns state.Messages with msg appended — the full new
// list the reducer expects nodes to return rather than a single-item
// delta.
func appendMessage(state agentstate.GraphState, msg agentstate.Message) []agentstate.Message {
	out := make([]agentstate.Message, len(state.Messages), len(state.Messages)+1)
	copy(out, state.Messages)
	return append(out, msg)
}

// toModelMessages translates the subset of agentstate.Message fields a
// model.ChatModel call needs into model.Message.
func toModelMessages(msgs []agentstate.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		role := model.RoleUser
		switch m.Role {
		case agentstate.RoleAI:
			role = model.RoleAssistant
		case agentstate.RoleSystem:
			role = model.RoleSystem
		case agentstate.RoleHuman:
			role = model.RoleUser
		case agentstate.RoleTool:
			role = model.RoleUser
		}
		out = append(out, model.Message{Role: role, Content: m.Content})
	}
	return out
}
