package nodes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/constraints"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/memory"
	"github.com/corvusagent/agentrt/tool"
)

// reactMaxIterations bounds how many LLM-call/tool-call rounds a single
// AGENT_EXECUTOR invocation runs before yielding back to the router, so a
// model that never calls end_task can't spin the node forever; control
// returns through MEMORY_ORCHESTRATOR and back per the router's executor
// family rule.
const reactMaxIterations = 6

// executorEncoding is the tiktoken encoding constraints.TokenBudget.Count
// uses to estimate prompt size.
const executorEncoding = "cl100k_base"

// ConstraintMetrics receives the executor's tool-rejection counts.
// graph.PrometheusMetrics satisfies it.
type ConstraintMetrics interface {
	RecordToolRejection(tool, rule string)
}

// RetryMetrics is optionally satisfied by a ConstraintMetrics sink that
// also counts LLM retry attempts (graph.PrometheusMetrics does).
type RetryMetrics interface {
	IncrementRetries(runID, nodeID, reason string)
}

// ExecutorDeps collects AGENT_EXECUTOR's collaborators.
type ExecutorDeps struct {
	Chat          model.ChatModel
	Registry      *tool.Registry
	Rules         []constraints.Rule
	TokenBudget   *constraints.TokenBudget
	ContextWindow int // token budget per prompt; 0 disables the check

	// Metrics, when non-nil, counts constraint rejections.
	Metrics ConstraintMetrics

	// IDGen mints ids for the implicit task the executor creates when it is
	// the entry node (interactive reactive mode) and no planner has run.
	IDGen IDGen
}

func (d ExecutorDeps) newTaskID() string {
	if d.IDGen != nil {
		return d.IDGen()
	}
	return fmt.Sprintf("task-%d", time.Now().UnixNano())
}

// executionStates tracks one constraints.ExecutionState per task id, the
// rolling tool-call history the constraint rules evaluate against. Held for the
// lifetime of the compiled node (one per live runtime-cache entry), not
// persisted across restarts: replaying a checkpoint rebuilds it empty,
// which only relaxes blocked_after/max_retries for the remainder of a
// resumed run rather than corrupting anything.
type executionStates struct {
	mu   sync.Mutex
	byID map[string]*constraints.ExecutionState
}

func (e *executionStates) get(taskID string) *constraints.ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.byID == nil {
		e.byID = map[string]*constraints.ExecutionState{}
	}
	st, ok := e.byID[taskID]
	if !ok {
		st = constraints.NewExecutionState()
		e.byID[taskID] = st
	}
	return st
}

// Executor builds the AGENT_EXECUTOR node: a bounded ReAct loop that calls
// deps.Chat, validates and executes any requested tool through deps.Registry
// subject to deps.Rules, and stops on plain content or an accepted end_task
// (-> waiting_validation) or on reactMaxIterations. A call rejected by the
// rules is non-fatal: the denial comes back as a tool message and the loop
// re-enters.
func Executor(cfg *config.AgentConfig, deps ExecutorDeps) graph.Node[agentstate.GraphState] {
	states := &executionStates{}

	return Wrap(agentstate.NodeExecutor, cfg, func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error) {
		task, ok := state.CurrentTask()
		if !ok || task.Status.Terminal() {
			// Reactive entry: the executor is the first node to run, either
			// on a fresh thread (no planner has produced a task yet) or on a
			// resumed one whose last task already finished. The user's turn
			// becomes an implicit single-step task; a missing human turn too
			// means the state really is malformed.
			goal := normalizeWhitespace(latestHumanMessage(state))
			if goal == "" {
				next := state
				next.Error = &agentstate.StateError{
					Kind:    agentstate.ErrInternal,
					Source:  string(agentstate.NodeExecutor),
					Message: "executor invoked with no current task",
					Ts:      time.Now(),
				}
				return next, nil
			}
			task = agentstate.Task{
				ID:     deps.newTaskID(),
				Text:   goal,
				Status: agentstate.TaskInProgress,
				Steps:  []agentstate.Step{{Description: goal}},
				Tools:  toolRefs(cfg),
			}
			state.CurrentTaskIndex = len(state.Tasks)
		}
		if task.Status == agentstate.TaskPending {
			task.Status = agentstate.TaskInProgress
		}

		execState := states.get(task.ID)
		msgs := state.Messages
		stmWindow := memory.Count(state.Memories)

		for i := 0; i < reactMaxIterations; i++ {
			if err := ctx.Err(); err != nil {
				next := state
				next.Error = &agentstate.StateError{Kind: agentstate.ErrCancelled, Source: string(agentstate.NodeExecutor), Message: err.Error(), Ts: time.Now()}
				return next, nil
			}

			prompt := buildExecutorPrompt(cfg, task, state.Memories, stmWindow)
			convo := append([]model.Message{{Role: model.RoleSystem, Content: prompt}}, toModelMessages(msgs)...)

			if deps.ContextWindow > 0 && deps.TokenBudget != nil {
				if !promptFits(deps.TokenBudget, convo, deps.ContextWindow) {
					if stmWindow > 1 {
						stmWindow /= 2
						prompt = buildExecutorPrompt(cfg, task, state.Memories, stmWindow)
						convo = append([]model.Message{{Role: model.RoleSystem, Content: prompt}}, toModelMessages(msgs)...)
					}
					if !promptFits(deps.TokenBudget, convo, deps.ContextWindow) {
						next := state
						next.Tasks = []agentstate.Task{task}
						next.Error = &agentstate.StateError{
							Kind:    agentstate.ErrTokenLimit,
							Source:  string(agentstate.NodeExecutor),
							Message: "prompt exceeds context window after STM trim",
							Ts:      time.Now(),
						}
						return next, nil
					}
				}
			}

			specs := deps.Registry.Specs(taskToolNames(task))
			var onRetry func()
			if rm, ok := deps.Metrics.(RetryMetrics); ok {
				runID, _ := ctx.Value(graph.RunIDKey).(string)
				onRetry = func() { rm.IncrementRetries(runID, string(agentstate.NodeExecutor), "transient") }
			}
			out, err := chatWithRetry(ctx, deps.Chat, convo, specs, cfg.Retries.Max, cfg.Retries.BaseDelay, onRetry)
			if err != nil {
				return agentstate.GraphState{}, err
			}

			if out.Text != "" {
				msgs = appendMsgs(msgs, agentstate.Message{
					Role:    agentstate.RoleAI,
					Content: out.Text,
					Additional: map[string]interface{}{agentstate.AdditionalFrom: string(agentstate.NodeExecutor)},
				})
			}

			if len(out.ToolCalls) == 0 {
				// Plain content terminates the step: the task moves to
				// waiting_validation for the verifier to judge.
				task.Status = agentstate.TaskWaitingValidation
				next := state
				next.Messages = msgs
				next.Tasks = []agentstate.Task{task}
				return next, nil
			}

			call := out.ToolCalls[0]

			// Every call, end_task included, is checked against the
			// constraint rules first; a disallowed call is replaced with a
			// synthetic tool message carrying the denial reason and the loop
			// re-enters, so the model can see why and pick another move.
			if violation := constraints.Check(deps.Rules, call.Name, execState); violation != nil {
				if deps.Metrics != nil {
					rule := "unknown"
					var v *constraints.Violation
					if errors.As(violation, &v) {
						rule = v.Rule
					}
					deps.Metrics.RecordToolRejection(call.Name, rule)
				}
				msgs = appendMsgs(msgs, agentstate.Message{
					Role:    agentstate.RoleTool,
					Content: violation.Error(),
					Name:    call.Name,
					Additional: map[string]interface{}{
						agentstate.AdditionalFrom:  string(agentstate.NodeExecutor),
						agentstate.AdditionalError: string(agentstate.ErrToolBlocked),
					},
				})
				continue
			}

			execState.RecordCall(call.Name)

			if call.Name == tool.EndTaskName {
				task.Status = agentstate.TaskWaitingValidation
				next := state
				next.Messages = msgs
				next.Tasks = []agentstate.Task{task}
				return next, nil
			}

			t, ok := deps.Registry.Get(call.Name)
			var resultMsg agentstate.Message
			if !ok {
				resultMsg = agentstate.Message{Role: agentstate.RoleTool, Name: call.Name, Content: "error: tool not registered"}
			} else {
				out, callErr := t.Call(ctx, call.Input)
				if callErr != nil {
					resultMsg = agentstate.Message{Role: agentstate.RoleTool, Name: call.Name, Content: "error: " + callErr.Error()}
				} else {
					resultMsg = agentstate.Message{Role: agentstate.RoleTool, Name: call.Name, Content: formatToolResult(out)}
				}
			}
			msgs = appendMsgs(msgs, resultMsg)
		}

		next := state
		next.Messages = msgs
		next.Tasks = []agentstate.Task{task}
		return next, nil
	})
}

func taskToolNames(task agentstate.Task) []string {
	names := make([]string, 0, len(task.Tools)+1)
	for _, t := range task.Tools {
		names = append(names, t.Name)
	}
	names = append(names, tool.EndTaskName)
	return names
}

func buildExecutorPrompt(cfg *config.AgentConfig, task agentstate.Task, mem agentstate.MemoryState, window int) string {
	var b strings.Builder
	if cfg != nil && cfg.Prompts["executor"] != "" {
		b.WriteString(cfg.Prompts["executor"])
	} else {
		b.WriteString("You are executing a task step by step. Call end_task when the task is complete.")
	}
	b.WriteString("\n\nTask: ")
	b.WriteString(task.Text)
	for _, s := range task.Steps {
		b.WriteString("\n- ")
		b.WriteString(s.Description)
	}

	items := memory.Window(mem, window)
	if len(items) > 0 {
		b.WriteString("\n\nRecent context:")
		for _, it := range items {
			b.WriteString("\n[" + string(it.Role) + "] " + it.Content)
		}
	}
	return b.String()
}

func promptFits(tb *constraints.TokenBudget, msgs []model.Message, limit int) bool {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return tb.Count(executorEncoding, b.String()) <= limit
}

func appendMsgs(msgs []agentstate.Message, add agentstate.Message) []agentstate.Message {
	out := make([]agentstate.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, add)
}

func formatToolResult(out map[string]interface{}) string {
	var b strings.Builder
	first := true
	for k, v := range out {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(toText(v))
	}
	return b.String()
}

func toText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// chatWithRetry calls chat.Chat, retrying failures up to max additional
// attempts with exponential-backoff-plus-jitter delay (backoffDelay) between
// them. Errors are not classified: every error from chat.Chat is retried,
// not only transient ones. onRetry, if non-nil, is invoked once per retry
// attempt.
func chatWithRetry(ctx context.Context, chat model.ChatModel, msgs []model.Message, specs []model.ToolSpec, maxRetries int, base time.Duration, onRetry func()) (model.ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		out, err := chat.Chat(ctx, msgs, specs)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		if onRetry != nil {
			onRetry()
		}
		delay := backoffDelay(attempt, base)
		select {
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return model.ChatOut{}, lastErr
}

func backoffDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * time.Duration(int64(1)<<uint(attempt))
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return delay + jitter
}
