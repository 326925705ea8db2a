package tool

import (
	"context"
	"fmt"

	"github.com/corvusagent/agentrt/graph/model"
	gtool "github.com/corvusagent/agentrt/graph/tool"
)

// EndTaskName is the built-in tool the executor recognizes unconditionally:
// an accepted call transitions the current task to waiting_validation and
// returns control to the router, regardless of whether it appears in
// config.AgentConfig.Tools.
const EndTaskName = "end_task"

// EndTaskInput is EndTaskTool's schema source.
type EndTaskInput struct {
	Summary string `json:"summary,omitempty" jsonschema:"description=a short summary of the completed step"`
}

// EndTaskTool is a no-op sentinel: the executor node intercepts calls to
// EndTaskName before dispatching to the registry, so Call is never expected
// to run in a wired graph. It is still registered so tool listing and
// schema generation have a real entry to describe to the LLM.
type EndTaskTool struct{}

func (EndTaskTool) Name() string { return EndTaskName }

func (EndTaskTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"acknowledged": true}, nil
}

func (EndTaskTool) Describe() model.ToolSpec {
	return model.ToolSpec{
		Name:        EndTaskName,
		Description: "Signal that the current task's step is complete and ready for verification.",
		Schema:      SchemaFor[EndTaskInput](),
	}
}

// CalculatorInput is CalculatorTool's schema source.
type CalculatorInput struct {
	A  float64 `json:"a" jsonschema:"required,description=left operand"`
	B  float64 `json:"b" jsonschema:"required,description=right operand"`
	Op string  `json:"op" jsonschema:"required,description=one of add,sub,mul,div"`
}

// CalculatorTool is a small built-in arithmetic tool, giving autonomous
// example agents something concrete to call.
type CalculatorTool struct{}

func (CalculatorTool) Name() string { return "calculator" }

func (CalculatorTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	a, _ := input["a"].(float64)
	b, _ := input["b"].(float64)
	op, _ := input["op"].(string)

	var result float64
	switch op {
	case "add", "":
		result = a + b
	case "sub":
		result = a - b
	case "mul":
		result = a * b
	case "div":
		if b == 0 {
			return nil, fmt.Errorf("calculator: division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("calculator: unknown op %q", op)
	}
	return map[string]interface{}{"result": result}, nil
}

func (CalculatorTool) Describe() model.ToolSpec {
	return model.ToolSpec{
		Name:        "calculator",
		Description: "Perform a basic arithmetic operation (add, sub, mul, div) on two numbers.",
		Schema:      SchemaFor[CalculatorInput](),
	}
}

// HTTPRequestInput is HTTPRequestTool's schema source.
type HTTPRequestInput struct {
	URL    string `json:"url" jsonschema:"required,description=target URL"`
	Method string `json:"method,omitempty" jsonschema:"description=GET or POST; defaults to GET"`
	Body   string `json:"body,omitempty" jsonschema:"description=request body for POST"`
}

// HTTPRequestTool exposes gtool.HTTPTool through the registry with a
// described schema, so configured agents can fetch external HTTP resources
// and post to webhooks.
type HTTPRequestTool struct {
	inner *gtool.HTTPTool
}

// NewHTTPRequestTool wraps a fresh gtool.HTTPTool for registration.
func NewHTTPRequestTool() HTTPRequestTool {
	return HTTPRequestTool{inner: gtool.NewHTTPTool()}
}

func (h HTTPRequestTool) Name() string { return h.inner.Name() }

func (h HTTPRequestTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return h.inner.Call(ctx, input)
}

func (h HTTPRequestTool) Describe() model.ToolSpec {
	return model.ToolSpec{
		Name:        h.inner.Name(),
		Description: "Make an HTTP GET or POST request and return the status code, headers, and body.",
		Schema:      SchemaFor[HTTPRequestInput](),
	}
}
