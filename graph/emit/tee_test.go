package emit

import (
	"context"
	"errors"
	"testing"
)

func TestTeeEmitter_InterfaceContract(t *testing.T) {
	var _ Emitter = (*TeeEmitter)(nil)
}

func TestTeeEmitter_Emit(t *testing.T) {
	t.Run("fans out to every sink in order", func(t *testing.T) {
		a := &mockEmitter{}
		b := &mockEmitter{}
		tee := NewTeeEmitter(a, b)

		tee.Emit(Event{RunID: "run-001", Step: 1, Msg: "node_start"})
		tee.Emit(Event{RunID: "run-001", Step: 1, Msg: "node_end"})

		for name, sink := range map[string]*mockEmitter{"a": a, "b": b} {
			if len(sink.events) != 2 {
				t.Fatalf("sink %s: expected 2 events, got %d", name, len(sink.events))
			}
			if sink.events[0].Msg != "node_start" || sink.events[1].Msg != "node_end" {
				t.Errorf("sink %s: events out of order: %q, %q", name, sink.events[0].Msg, sink.events[1].Msg)
			}
		}
	})

	t.Run("nil sinks are skipped", func(t *testing.T) {
		a := &mockEmitter{}
		tee := NewTeeEmitter(nil, a, nil)

		tee.Emit(Event{RunID: "run-001", Msg: "only"})

		if len(a.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(a.events))
		}
	})
}

// failingEmitter returns a fixed error from EmitBatch and Flush while still
// recording events, to verify tee attempts every sink.
type failingEmitter struct {
	mockEmitter
	err error
}

func (f *failingEmitter) EmitBatch(ctx context.Context, events []Event) error {
	_ = f.mockEmitter.EmitBatch(ctx, events)
	return f.err
}

func (f *failingEmitter) Flush(_ context.Context) error {
	return f.err
}

func TestTeeEmitter_BatchAndFlush(t *testing.T) {
	sentinel := errors.New("backend down")
	bad := &failingEmitter{err: sentinel}
	good := &mockEmitter{}
	tee := NewTeeEmitter(bad, good)

	events := []Event{
		{RunID: "run-001", Step: 1, Msg: "one"},
		{RunID: "run-001", Step: 2, Msg: "two"},
	}

	if err := tee.EmitBatch(context.Background(), events); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error from EmitBatch, got %v", err)
	}
	if len(good.events) != 2 {
		t.Errorf("healthy sink should still receive the batch, got %d events", len(good.events))
	}

	if err := tee.Flush(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel error from Flush, got %v", err)
	}
}
