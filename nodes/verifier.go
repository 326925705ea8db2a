package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/model"
)

// verdict is the Verifier's classification of a task's step trajectory.
type verdict int

const (
	verdictNeedsRetry verdict = iota
	verdictCompleted
	verdictFailed
	verdictBlocked
)

// Verifier builds the TASK_VERIFIER node: it judges the current task's
// trajectory since entering waiting_validation and classifies it
// completed/failed/blocked/needs_retry. needs_retry resets the task to
// in_progress and bumps state.Retry unless the retry ceiling
// (cfg.Retries.Max) has been reached, in which case the task is marked
// failed rather than looping forever. blocked marks the task unrecoverable
// as attempted and sets a blocked_task error, which the router turns into
// a trip back to the planner for re-planning.
func Verifier(cfg *config.AgentConfig, chat model.ChatModel) graph.Node[agentstate.GraphState] {
	return Wrap(agentstate.NodeVerifier, cfg, func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error) {
		task, ok := state.CurrentTask()
		if !ok {
			next := state
			next.Error = &agentstate.StateError{
				Kind:    agentstate.ErrInternal,
				Source:  string(agentstate.NodeVerifier),
				Message: "verifier invoked with no current task",
				Ts:      time.Now(),
			}
			return next, nil
		}

		v, err := judge(ctx, chat, cfg, task)
		if err != nil {
			return agentstate.GraphState{}, err
		}

		next := state
		maxRetries := 3
		if cfg != nil && cfg.Retries.Max > 0 {
			maxRetries = cfg.Retries.Max
		}

		switch v {
		case verdictCompleted:
			task.Status = agentstate.TaskCompleted
			next.Retry = 0
		case verdictFailed:
			task.Status = agentstate.TaskFailed
			next.Retry = 0
		case verdictBlocked:
			task.Status = agentstate.TaskBlocked
			next.Retry = 0
			next.Error = &agentstate.StateError{
				Kind:    agentstate.ErrBlockedTask,
				Source:  string(agentstate.NodeVerifier),
				Message: "task is blocked as attempted; re-planning",
				Ts:      time.Now(),
			}
		default: // verdictNeedsRetry
			if state.Retry < maxRetries {
				task.Status = agentstate.TaskInProgress
				next.Retry = state.Retry + 1
			} else {
				task.Status = agentstate.TaskFailed
				next.Retry = 0
			}
		}

		next.Tasks = []agentstate.Task{task}
		return next, nil
	})
}

// judge asks chat to classify task's outcome. Falls back to needs_retry if
// the response names none of the verdicts, the conservative choice since it
// lets the retry ceiling (not a silent guess) decide the task's fate.
func judge(ctx context.Context, chat model.ChatModel, cfg *config.AgentConfig, task agentstate.Task) (verdict, error) {
	prompt := "Judge whether the task below is fully completed, has failed, is blocked (cannot succeed as stated and needs re-planning), or needs another attempt. Respond with exactly one word: completed, failed, blocked, or needs_retry.\n\nTask: " + task.Text
	if cfg != nil && cfg.Prompts["verifier"] != "" {
		prompt = cfg.Prompts["verifier"] + "\n\nTask: " + task.Text
	}

	out, err := chat.Chat(ctx, []model.Message{{Role: model.RoleSystem, Content: prompt}}, nil)
	if err != nil {
		return verdictNeedsRetry, err
	}

	text := strings.ToLower(out.Text)
	switch {
	case strings.Contains(text, "needs_retry"), strings.Contains(text, "needs retry"):
		return verdictNeedsRetry, nil
	case strings.Contains(text, "blocked"):
		return verdictBlocked, nil
	case strings.Contains(text, "completed"):
		return verdictCompleted, nil
	case strings.Contains(text, "failed"):
		return verdictFailed, nil
	default:
		return verdictNeedsRetry, nil
	}
}
