// Package constraints enforces the per-tool execution rules the executor
// node consults before letting the LLM's chosen tool call through: blocking
// immediate repeats, capping retries of a specific tool, requiring one tool
// to have run before another, and blocking a tool entirely once some other
// tool has fired.
package constraints

import "fmt"

// Rule is one per-tool constraint row, mirroring config.ToolConstraint but
// owned by this package so constraints has no import-time dependency on
// config's broader surface.
type Rule struct {
	Tool                         string
	PreventConsecutiveDuplicates bool
	MaxRetries                   int
	RequiredPrecedents           []string
	BlockedAfter                 []string
}

const historyCap = 10

// ExecutionState tracks the rolling tool-call history for a single task,
// the data every Rule is evaluated against.
type ExecutionState struct {
	LastTool           string
	ToolHistory        []string // bounded to historyCap, oldest evicted first
	StepInProgress     bool
	CompletionAttempts map[string]int
}

// NewExecutionState returns a zero-valued state ready for use.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{CompletionAttempts: map[string]int{}}
}

// endTaskTool is the one built-in tool name tracked by the
// CompletionAttempts counter.
const endTaskTool = "end_task"

// RecordCall appends tool to the history, evicting the oldest entry once
// historyCap is exceeded, and updates LastTool/CompletionAttempts.
func (s *ExecutionState) RecordCall(tool string) {
	s.LastTool = tool
	s.ToolHistory = append(s.ToolHistory, tool)
	if len(s.ToolHistory) > historyCap {
		s.ToolHistory = s.ToolHistory[len(s.ToolHistory)-historyCap:]
	}
	if tool == endTaskTool {
		if s.CompletionAttempts == nil {
			s.CompletionAttempts = map[string]int{}
		}
		s.CompletionAttempts[tool]++
	}
}

// lastN returns the last n entries of history (fewer if history is shorter).
func lastN(history []string, n int) []string {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

const retryWindow = 3

// Violation describes why a tool call was rejected.
type Violation struct {
	Tool   string
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("tool %q blocked by %s: %s", v.Tool, v.Rule, v.Detail)
}

// Check evaluates every applicable rule for a proposed call to tool against
// state, returning the first violated rule or nil if the call is permitted.
// Rules are evaluated in the fixed order: blocked-after, required
// precedents, max retries, then consecutive-duplicate prevention — matching
// the precedence a human reviewing a rejected call would expect to check
// first (is this tool off-limits at all, before asking whether this
// particular invocation of it is).
func Check(rules []Rule, tool string, state *ExecutionState) error {
	rule, ok := find(rules, tool)
	if !ok {
		return nil
	}

	if blockedAfterAny(state.ToolHistory, rule.BlockedAfter) {
		return &Violation{Tool: tool, Rule: "blocked_after", Detail: "a blocking predecessor has already run"}
	}

	if missing := missingPrecedent(state.ToolHistory, rule.RequiredPrecedents); missing != "" {
		return &Violation{Tool: tool, Rule: "required_precedents", Detail: "requires " + missing + " first"}
	}

	if rule.MaxRetries > 0 && countIn(lastN(state.ToolHistory, retryWindow), tool) >= rule.MaxRetries-1 {
		return &Violation{Tool: tool, Rule: "max_retries", Detail: "attempt limit reached within the last 3 calls"}
	}

	if rule.PreventConsecutiveDuplicates && state.LastTool == tool {
		return &Violation{Tool: tool, Rule: "consecutive_duplicate", Detail: "same tool called twice in a row"}
	}

	return nil
}

func find(rules []Rule, tool string) (Rule, bool) {
	for _, r := range rules {
		if r.Tool == tool {
			return r, true
		}
	}
	return Rule{}, false
}

func blockedAfterAny(history, blockers []string) bool {
	if len(blockers) == 0 {
		return false
	}
	blocked := make(map[string]bool, len(blockers))
	for _, b := range blockers {
		blocked[b] = true
	}
	for _, h := range history {
		if blocked[h] {
			return true
		}
	}
	return false
}

func countIn(history []string, tool string) int {
	n := 0
	for _, h := range history {
		if h == tool {
			n++
		}
	}
	return n
}

// missingPrecedent returns the first required tool not found anywhere in
// history, or "" if all are satisfied.
func missingPrecedent(history, required []string) string {
	if len(required) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(history))
	for _, h := range history {
		seen[h] = true
	}
	for _, r := range required {
		if !seen[r] {
			return r
		}
	}
	return ""
}
