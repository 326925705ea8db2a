package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/tool"
)

// maxPlanSteps caps a plan at 7 steps; excess steps are dropped with a
// warning note on the plan message.
const maxPlanSteps = 7

// IDGen mints identifiers for newly created tasks. Tests supply a
// deterministic stub; production wiring supplies uuid.NewString.
type IDGen func() string

// Planner builds the PLANNING_ORCHESTRATOR node: given the latest request
// (a human turn in interactive mode, or cfg.Prompts["objectives"] in
// autonomous mode), it either continues the still-open task whose text
// matches the request verbatim or asks chat for a
// fresh step-by-step plan and appends a new Task.
func Planner(cfg *config.AgentConfig, chat model.ChatModel, registry *tool.Registry, idGen IDGen) graph.Node[agentstate.GraphState] {
	return Wrap(agentstate.NodePlanner, cfg, func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error) {
		goal := normalizeWhitespace(latestHumanMessage(state))
		if goal == "" && cfg != nil {
			goal = normalizeWhitespace(cfg.Prompts["objectives"])
		}

		if idx, ok := openDuplicateTask(state, goal); ok {
			next := state
			next.CurrentTaskIndex = idx
			return next, nil
		}

		// An empty goal (autonomous entry with no objectives configured and
		// no human turn yet) has nothing to plan; end the run rather than
		// asking chat to turn "" into a task. A goal that matches a
		// terminal task's text is deliberately NOT treated as a no-op
		// (TestPlannerDoesNotDedupeTerminalTask): the dedup rule
		// only ever suppresses creation for an OPEN task, so a
		// repeated request after completion is a legitimate new task, not
		// a loop — the dispatcher is what decides a run is finished and
		// stops re-entering the graph, via cooperative cancellation.
		if goal == "" {
			next := state
			next.SkipValidation = agentstate.SkipValidation{Skip: true, Goto: agentstate.NodeEndGraph}
			return next, nil
		}

		steps, dropped, err := planSteps(ctx, cfg, chat, registry, goal)
		if err != nil {
			return agentstate.GraphState{}, fmt.Errorf("planner: %w", err)
		}

		task := agentstate.Task{
			ID:     idGen(),
			Text:   goal,
			Status: agentstate.TaskPending,
			Steps:  steps,
			Tools:  toolRefs(cfg),
		}

		next := state
		next.CurrentTaskIndex = len(state.Tasks)
		next.Tasks = []agentstate.Task{task}
		// A blocked_task error got the run here for re-planning; the fresh
		// plan resolves it. Any other error kind would have terminated the
		// run before reaching this node.
		next.Error = nil

		msg := agentstate.Message{
			Role:    agentstate.RoleAI,
			Content: renderPlan(task),
			Additional: map[string]interface{}{
				agentstate.AdditionalFrom: string(agentstate.NodePlanner),
			},
		}
		if dropped > 0 {
			msg.Additional["steps_dropped"] = strconv.Itoa(dropped)
		}
		next.Messages = appendMessage(state, msg)

		return next, nil
	})
}

// openDuplicateTask reports the index of the most recent task whose
// normalized text equals goal and whose status is still pending or
// in_progress, so the planner can resume it instead of spawning a
// redundant duplicate. Blocked tasks deliberately don't match: a blocked
// task is exactly the case where the planner must produce a fresh plan
// rather than resume the one that got stuck.
func openDuplicateTask(state agentstate.GraphState, goal string) (int, bool) {
	if goal == "" {
		return 0, false
	}
	for i := len(state.Tasks) - 1; i >= 0; i-- {
		t := state.Tasks[i]
		open := t.Status == agentstate.TaskPending || t.Status == agentstate.TaskInProgress
		if open && normalizeWhitespace(t.Text) == goal {
			return i, true
		}
	}
	return 0, false
}

func toolRefs(cfg *config.AgentConfig) []agentstate.ToolSpecRef {
	if cfg == nil {
		return nil
	}
	refs := make([]agentstate.ToolSpecRef, 0, len(cfg.Tools))
	for _, name := range cfg.Tools {
		refs = append(refs, agentstate.ToolSpecRef{Name: name})
	}
	return refs
}

// planSteps asks chat for a plan and parses its response into a bounded
// step list. Returns the (possibly truncated) steps and how many were
// dropped by the maxPlanSteps cap.
func planSteps(ctx context.Context, cfg *config.AgentConfig, chat model.ChatModel, registry *tool.Registry, goal string) ([]agentstate.Step, int, error) {
	var specs []model.ToolSpec
	if registry != nil && cfg != nil {
		specs = registry.Specs(cfg.Tools)
	}

	prompt := plannerPrompt(cfg, goal)
	out, err := chat.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: prompt},
		{Role: model.RoleUser, Content: goal},
	}, specs)
	if err != nil {
		return nil, 0, err
	}

	lines := parseSteps(out.Text)
	if len(lines) == 0 {
		lines = []string{goal}
	}

	dropped := 0
	if len(lines) > maxPlanSteps {
		dropped = len(lines) - maxPlanSteps
		lines = lines[:maxPlanSteps]
	}

	steps := make([]agentstate.Step, len(lines))
	for i, l := range lines {
		steps[i] = agentstate.Step{Description: l}
	}
	return steps, dropped, nil
}

func plannerPrompt(cfg *config.AgentConfig, goal string) string {
	if cfg != nil {
		if tpl, ok := cfg.Prompts["planner"]; ok && tpl != "" {
			return tpl
		}
	}
	return "Break the following goal into a short, ordered list of concrete steps, one per line:"
}

// parseSteps splits an LLM's plan response into individual step strings,
// stripping common list markers ("1.", "-", "*") and blank lines.
func parseSteps(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimLeft(l, "-*")
		l = strings.TrimSpace(l)
		if dot := strings.IndexByte(l, '.'); dot > 0 && dot <= 3 {
			if _, err := strconv.Atoi(strings.TrimSpace(l[:dot])); err == nil {
				l = strings.TrimSpace(l[dot+1:])
			}
		}
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func renderPlan(task agentstate.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan for %q:\n", task.Text)
	for i, s := range task.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
