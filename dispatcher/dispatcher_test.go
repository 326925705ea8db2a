package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph/emit"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/storage"
	"github.com/corvusagent/agentrt/tool"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func newTestDispatcher(t *testing.T, chat model.ChatModel) (*Dispatcher, *storage.InMemoryStorage) {
	t.Helper()
	store := storage.NewInMemoryStorage(nil)
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.EndTaskTool{}))

	d, err := New(Deps{
		Storage:  store,
		Embedder: fakeEmbedder{},
		Registry: registry,
		ChatModelFor: func(cfg *config.AgentConfig) (model.ChatModel, error) {
			return chat, nil
		},
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)
	return d, store
}

func drain(t *testing.T, ch <-chan emit.Event, timeout time.Duration) []emit.Event {
	t.Helper()
	var events []emit.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(events))
		}
	}
}

func TestExecuteUnknownAgentReturnsError(t *testing.T) {
	d, _ := newTestDispatcher(t, &model.MockChatModel{})
	_, err := d.Execute(context.Background(), "agent-1", "user-1", Request{Content: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecuteAccessDeniedReturnsError(t *testing.T) {
	d, store := newTestDispatcher(t, &model.MockChatModel{})
	cfg := config.New("agent-1", "user-1", config.ModeAutonomous)
	store.RegisterAgent("agent-1", "user-1", cfg)

	_, err := d.Execute(context.Background(), "agent-1", "someone-else", Request{Content: "hi"})
	assert.ErrorIs(t, err, storage.ErrAccessDenied)
}

func TestExecuteStreamsEventsAndWritesCheckpoint(t *testing.T) {
	chat := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "1. say hello"},
		{ToolCalls: []model.ToolCall{{Name: tool.EndTaskName, Input: map[string]interface{}{}}}},
		{Text: "completed"},
	}}
	d, store := newTestDispatcher(t, chat)
	cfg := config.New("agent-1", "user-1", config.ModeAutonomous, config.WithMaxGraphSteps(6))
	store.RegisterAgent("agent-1", "user-1", cfg)

	ch, err := d.Execute(context.Background(), "agent-1", "user-1", Request{Content: "say hello", ThreadID: "thread-1"})
	require.NoError(t, err)

	events := drain(t, ch, 5*time.Second)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, "thread-1", e.RunID)
	}

	msgs, err := store.GetMessages(context.Background(), "agent-1", "thread-1", "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, len(events))

	summary, err := d.GetState("agent-1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", summary.ThreadID)
	assert.Equal(t, 1, summary.CheckpointID)
}

func TestExecuteResumesFromExistingCheckpoint(t *testing.T) {
	chat := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{Name: tool.EndTaskName, Input: map[string]interface{}{}}}},
		{Text: "done"},
	}}
	d, store := newTestDispatcher(t, chat)
	cfg := config.New("agent-1", "user-1", config.ModeAutonomous, config.WithMaxGraphSteps(6))
	store.RegisterAgent("agent-1", "user-1", cfg)

	_, err := store.WriteCheckpoint(context.Background(), storage.Checkpoint{
		ThreadID: "thread-1",
	})
	require.NoError(t, err)

	ch, err := d.Execute(context.Background(), "agent-1", "user-1", Request{Content: "continue", ThreadID: "thread-1"})
	require.NoError(t, err)
	drain(t, ch, 5*time.Second)

	summary, err := d.GetState("agent-1", "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CheckpointID)
}

func TestGetStateUnknownThreadReturnsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t, &model.MockChatModel{})
	_, err := d.GetState("agent-1", "missing-thread")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCancelUnknownThreadIsHarmless(t *testing.T) {
	d, _ := newTestDispatcher(t, &model.MockChatModel{})
	d.Cancel("agent-1", "no-such-thread")
}
