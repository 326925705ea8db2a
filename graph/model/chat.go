// Package model defines the LLM provider abstraction consumed by agent nodes.
//
// agentrt treats LLM providers as opaque collaborators: a ChatModel accepts
// a conversation and optional tool specs and returns generated text and/or
// tool-call requests plus token usage. Concrete providers live in
// sub-packages (anthropic, openai) so that callers only depend on this
// interface, not on any specific vendor SDK.
package model

import "context"

// ChatModel is the interface every LLM provider adapter implements.
//
// Example usage:
//
//	out, err := model.Chat(ctx, messages, tools)
//	if err != nil {
//	    return err
//	}
//	for _, call := range out.ToolCalls {
//	    fmt.Printf("tool: %s input: %v\n", call.Name, call.Input)
//	}
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	//
	// tools may be nil. The model may respond with text only, tool calls
	// only, or both. Implementations must respect ctx cancellation.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content is the message text. May be empty for tool-result-only turns.
	Content string
}

// Standard role constants, aligned with the conventions used by major
// LLM providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may call.
//
// Schema follows JSON Schema and describes the expected input parameters.
// Use jsonschema.Reflect (see tool.SchemaFor) to generate Schema from a Go
// struct instead of hand-writing the map.
type ToolSpec struct {
	// Name uniquely identifies the tool. Must match a registered tool.
	Name string

	// Description explains what the tool does; the LLM uses it to decide
	// when to call the tool.
	Description string

	// Schema defines the tool's input parameters. Optional.
	Schema map[string]interface{}
}

// ChatOut is the result of a chat completion.
type ChatOut struct {
	// Text is the LLM's generated response. May be empty if the LLM only
	// wants to call tools.
	Text string

	// ToolCalls are tools the LLM wants to invoke.
	ToolCalls []ToolCall

	// Usage reports token consumption for cost attribution and the
	// token_limit execution constraint. Providers that cannot report
	// usage leave this zero-valued.
	Usage Usage
}

// Usage reports token counts for a single Chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns InputTokens + OutputTokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ToolCall is a request from the LLM to invoke a specific tool.
//
// Callers execute the tool with Input and feed the result back as a new
// Message on the next Chat call.
type ToolCall struct {
	// Name identifies which tool to call. Must match a ToolSpec.Name.
	Name string

	// Input holds the call arguments, matching the tool's schema.
	Input map[string]interface{}
}
