package constraints

import "testing"

func TestCheckBlockedAfter(t *testing.T) {
	rules := []Rule{{Tool: "end_task", MaxRetries: 1, BlockedAfter: []string{"end_task"}}}
	state := NewExecutionState()
	state.RecordCall("end_task")

	if err := Check(rules, "end_task", state); err == nil {
		t.Fatal("expected blocked_after violation, got nil")
	}
}

func TestCheckRequiredPrecedents(t *testing.T) {
	rules := []Rule{{Tool: "mobile_use_device", RequiredPrecedents: []string{"mobile_list_available_devices"}}}
	state := NewExecutionState()

	if err := Check(rules, "mobile_use_device", state); err == nil {
		t.Fatal("expected required_precedents violation, got nil")
	}

	state.RecordCall("mobile_list_available_devices")
	if err := Check(rules, "mobile_use_device", state); err != nil {
		t.Fatalf("expected no violation after precedent satisfied, got %v", err)
	}
}

// maxRetries=N permits exactly N-1 consecutive accepts within the last-3
// window: the Nth attempt is the one that gets rejected.
func TestCheckMaxRetries(t *testing.T) {
	rules := []Rule{{Tool: "flaky_tool", MaxRetries: 2}}
	state := NewExecutionState()

	if err := Check(rules, "flaky_tool", state); err != nil {
		t.Fatalf("expected first call permitted, got %v", err)
	}
	state.RecordCall("flaky_tool")

	if err := Check(rules, "flaky_tool", state); err == nil {
		t.Fatal("expected max_retries violation on the Nth call (N-1 accepts already used)")
	}
}

// TestCheckMaxRetriesBoundary pins the exact N-1 boundary for MaxRetries=3:
// two prior accepted calls are permitted, the third attempt is rejected.
func TestCheckMaxRetriesBoundary(t *testing.T) {
	rules := []Rule{{Tool: "flaky_tool", MaxRetries: 3}}
	state := NewExecutionState()

	if err := Check(rules, "flaky_tool", state); err != nil {
		t.Fatalf("call 1 of 2 permitted accepts: expected nil, got %v", err)
	}
	state.RecordCall("flaky_tool")

	if err := Check(rules, "flaky_tool", state); err != nil {
		t.Fatalf("call 2 of 2 permitted accepts: expected nil, got %v", err)
	}
	state.RecordCall("flaky_tool")

	if err := Check(rules, "flaky_tool", state); err == nil {
		t.Fatal("call 3 (the Nth) should be rejected: MaxRetries=3 permits only 2 accepts")
	}
}

func TestCheckPreventConsecutiveDuplicates(t *testing.T) {
	rules := []Rule{{Tool: "search", PreventConsecutiveDuplicates: true}}
	state := NewExecutionState()
	state.RecordCall("search")

	if err := Check(rules, "search", state); err == nil {
		t.Fatal("expected consecutive_duplicate violation")
	}

	state.RecordCall("other_tool")
	if err := Check(rules, "search", state); err != nil {
		t.Fatalf("expected no violation once a different tool intervened, got %v", err)
	}
}

func TestRecordCallBoundsHistory(t *testing.T) {
	state := NewExecutionState()
	for i := 0; i < historyCap+5; i++ {
		state.RecordCall("tool")
	}
	if len(state.ToolHistory) != historyCap {
		t.Errorf("len(ToolHistory) = %d, want %d", len(state.ToolHistory), historyCap)
	}
}
