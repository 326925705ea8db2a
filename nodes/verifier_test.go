package nodes

import (
	"context"
	"testing"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph/model"
)

func TestVerifierCompletedClearsRetry(t *testing.T) {
	cfg := baseConfig(config.ModeAutonomous)
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: "completed"}}}
	node := Verifier(cfg, chat)

	state := agentstate.GraphState{
		Tasks: []agentstate.Task{{ID: "t1", Status: agentstate.TaskWaitingValidation}},
		Retry: 2,
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Tasks[0].Status != agentstate.TaskCompleted {
		t.Errorf("status = %v, want completed", result.Delta.Tasks[0].Status)
	}
	if result.Delta.Retry != 0 {
		t.Errorf("Retry = %d, want 0", result.Delta.Retry)
	}
	if result.Route.To != string(agentstate.NodeTaskUpdater) {
		t.Errorf("Route.To = %q, want TASK_UPDATER", result.Route.To)
	}
}

func TestVerifierNeedsRetryResetsToInProgress(t *testing.T) {
	cfg := config.New("a", "u", config.ModeAutonomous, config.WithRetries(3, 0))
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: "needs_retry"}}}
	node := Verifier(cfg, chat)

	state := agentstate.GraphState{
		Tasks: []agentstate.Task{{ID: "t1", Status: agentstate.TaskWaitingValidation}},
		Retry: 1,
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Tasks[0].Status != agentstate.TaskInProgress {
		t.Errorf("status = %v, want in_progress", result.Delta.Tasks[0].Status)
	}
	if result.Delta.Retry != 2 {
		t.Errorf("Retry = %d, want 2", result.Delta.Retry)
	}
}

func TestVerifierNeedsRetryAtCeilingMarksFailed(t *testing.T) {
	cfg := config.New("a", "u", config.ModeAutonomous, config.WithRetries(3, 0))
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: "needs_retry"}}}
	node := Verifier(cfg, chat)

	state := agentstate.GraphState{
		Tasks: []agentstate.Task{{ID: "t1", Status: agentstate.TaskWaitingValidation}},
		Retry: 3,
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Tasks[0].Status != agentstate.TaskFailed {
		t.Errorf("status = %v, want failed at retry ceiling", result.Delta.Tasks[0].Status)
	}
	if result.Delta.Retry != 0 {
		t.Errorf("Retry = %d, want reset to 0", result.Delta.Retry)
	}
}

func TestVerifierFailedClearsRetry(t *testing.T) {
	cfg := baseConfig(config.ModeAutonomous)
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: "failed"}}}
	node := Verifier(cfg, chat)

	state := agentstate.GraphState{
		Tasks: []agentstate.Task{{ID: "t1", Status: agentstate.TaskWaitingValidation}},
		Retry: 1,
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Tasks[0].Status != agentstate.TaskFailed {
		t.Errorf("status = %v, want failed", result.Delta.Tasks[0].Status)
	}
	if result.Delta.Retry != 0 {
		t.Errorf("Retry = %d, want 0", result.Delta.Retry)
	}
}

func TestVerifierBlockedSetsBlockedTaskError(t *testing.T) {
	cfg := baseConfig(config.ModeAutonomous)
	chat := &model.MockChatModel{Responses: []model.ChatOut{{Text: "blocked"}}}
	node := Verifier(cfg, chat)

	state := agentstate.GraphState{
		Tasks: []agentstate.Task{{ID: "t1", Status: agentstate.TaskWaitingValidation}},
		Retry: 1,
	}
	result := node.Run(context.Background(), state)

	if result.Delta.Tasks[0].Status != agentstate.TaskBlocked {
		t.Errorf("status = %v, want blocked", result.Delta.Tasks[0].Status)
	}
	if result.Delta.Error == nil || result.Delta.Error.Kind != agentstate.ErrBlockedTask {
		t.Fatalf("Error = %+v, want blocked_task", result.Delta.Error)
	}
	if result.Route.To != string(agentstate.NodeTaskUpdater) {
		t.Errorf("Route.To = %q, want TASK_UPDATER", result.Route.To)
	}
}

func TestVerifierNoCurrentTaskIsInternalError(t *testing.T) {
	cfg := baseConfig(config.ModeAutonomous)
	node := Verifier(cfg, &model.MockChatModel{})

	result := node.Run(context.Background(), agentstate.GraphState{})

	if result.Delta.Error == nil || result.Delta.Error.Kind != agentstate.ErrInternal {
		t.Fatalf("Error = %+v, want internal", result.Delta.Error)
	}
}
