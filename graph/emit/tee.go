package emit

import "context"

// TeeEmitter fans every event out to multiple backends, in the order they
// were passed to NewTeeEmitter. It is the "multi-emit" pattern from the
// Emitter contract made concrete: one engine, several sinks (e.g. a live
// event stream plus an OTelEmitter for tracing).
//
// EmitBatch and Flush return the first error encountered after attempting
// every sink, so a failing backend never starves the others. Sinks are
// expected to honor the Emitter contract and not panic.
type TeeEmitter struct {
	sinks []Emitter
}

// NewTeeEmitter builds a TeeEmitter over sinks. Nil sinks are skipped, so
// callers can pass optional backends without guarding each one.
func NewTeeEmitter(sinks ...Emitter) *TeeEmitter {
	t := &TeeEmitter{}
	for _, s := range sinks {
		if s != nil {
			t.sinks = append(t.sinks, s)
		}
	}
	return t
}

// Emit delivers event to every sink in order.
func (t *TeeEmitter) Emit(event Event) {
	for _, s := range t.sinks {
		s.Emit(event)
	}
}

// EmitBatch delivers events to every sink, returning the first error after
// all sinks have been attempted.
func (t *TeeEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var first error
	for _, s := range t.sinks {
		if err := s.EmitBatch(ctx, events); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Flush flushes every sink, returning the first error after all sinks have
// been attempted.
func (t *TeeEmitter) Flush(ctx context.Context) error {
	var first error
	for _, s := range t.sinks {
		if err := s.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
