package dispatcher

import (
	"context"
	"sync"

	"github.com/corvusagent/agentrt/graph/emit"
)

// streamEmitter demultiplexes the single emit.Emitter an *graph.Engine holds
// (one per cached compiled_graph_handle, shared across every concurrent
// Execute call for that agent_id) back out into one private channel per
// thread_id, keyed by emit.Event.RunID. This is what reconciles "one shared
// handle" with "each caller gets its own stream<Event>": every Execute
// subscribes before starting its run and unsubscribes once
// it has drained the final event, so no two threads ever see each other's
// events. Grounded on graph/emit.BufferedEmitter's per-RunID keying, but
// fans out to live channel subscribers instead of buffering in a map.
type streamEmitter struct {
	mu   sync.Mutex
	subs map[string]chan emit.Event
}

func newStreamEmitter() *streamEmitter {
	return &streamEmitter{subs: make(map[string]chan emit.Event)}
}

// subscribe registers a buffered channel for runID and returns it along with
// an unsubscribe func the caller must invoke exactly once, once it is done
// reading (normally after Run returns and the drain loop empties the
// channel).
func (s *streamEmitter) subscribe(runID string, buffer int) (<-chan emit.Event, func()) {
	ch := make(chan emit.Event, buffer)
	s.mu.Lock()
	s.subs[runID] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, runID)
		s.mu.Unlock()
		close(ch)
	}
}

// Emit delivers event to the subscriber for its RunID, if any. Events for a
// RunID with no live subscriber (e.g. emitted after the dispatcher has
// already unsubscribed) are silently dropped rather than blocking the
// engine's execution loop forever.
func (s *streamEmitter) Emit(event emit.Event) {
	s.mu.Lock()
	ch, ok := s.subs[event.RunID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ch <- event
}

func (s *streamEmitter) EmitBatch(ctx context.Context, events []emit.Event) error {
	for _, e := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.Emit(e)
	}
	return nil
}

// Flush is a no-op: events are delivered synchronously as they're emitted,
// there is nothing buffered to force out.
func (s *streamEmitter) Flush(ctx context.Context) error {
	return nil
}
