// Package openai provides a model.ChatModel adapter for OpenAI's chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/corvusagent/agentrt/graph/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ChatModel implements model.ChatModel for OpenAI's chat completions API.
//
// Transient failures (timeouts, 5xx, rate limits) are retried with
// exponential backoff via backoff.ExponentialBackOff; non-transient errors
// return immediately.
type ChatModel struct {
	apiKey     string
	modelName  string
	client     openaiClient
	maxRetries uint64
	retryDelay time.Duration
}

// openaiClient defines the interface for OpenAI API operations, allowing
// easy mocking in tests.
type openaiClient interface {
	createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error)
}

// NewChatModel creates a new OpenAI ChatModel.
//
// modelName defaults to "gpt-4o" when empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}

	return &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryDelay
	bo.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(bo, m.maxRetries)

	var out model.ChatOut
	var lastErr error
	op := func() error {
		var err error
		out, err = m.client.createChatCompletion(ctx, messages, tools)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(retrier, ctx)); err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			return model.ChatOut{}, permErr.Unwrap()
		}
		return model.ChatOut{}, fmt.Errorf("openai chat completion failed after retries: %w", lastErr)
	}

	return out, nil
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *rateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	msgLower := strings.ToLower(err.Error())
	transientPatterns := []string{"timeout", "network", "connection", "temporary", "503", "502", "500"}
	for _, pattern := range transientPatterns {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}

	return false
}

// rateLimitError represents an OpenAI rate limit error.
type rateLimitError struct {
	message string
}

func (e *rateLimitError) Error() string {
	return e.message
}

// defaultClient wraps the official OpenAI SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if c.apiKey == "" {
		return model.ChatOut{}, errors.New("openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	}

	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai API error: %w", err)
	}

	return convertResponse(resp), nil
}

func convertMessages(messages []model.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case model.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}

	return result
}

func convertTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))

	for i, tool := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openaisdk.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Schema),
			},
		}
	}

	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) model.ChatOut {
	out := model.ChatOut{
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	if len(resp.Choices) == 0 {
		return out
	}

	msg := resp.Choices[0].Message
	out.Text = msg.Content

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]model.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = model.ToolCall{
				Name:  tc.Function.Name,
				Input: parseToolInput(tc.Function.Arguments),
			}
		}
	}

	return out
}

// parseToolInput decodes the JSON-encoded function-call arguments OpenAI
// returns into a map. Malformed JSON is preserved under "_raw" rather than
// dropped, so callers can still see what the model produced.
func parseToolInput(jsonStr string) map[string]interface{} {
	if jsonStr == "" {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]interface{}{"_raw": jsonStr}
	}

	return result
}
