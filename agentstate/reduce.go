package agentstate

// Reduce merges a partial state update (delta) into the accumulated state
// (prev), matching graph.Reducer[GraphState]'s signature.
//
// Field semantics:
//   - Messages is replaced wholesale when delta carries a non-nil slice —
//     nodes return the full new message list, the reducer never appends.
//   - Tasks keeps its order: a delta task with an unseen ID is appended; one
//     with a known ID replaces the existing entry wholesale at the same
//     position. Nothing is reordered or removed; the replacement's Status
//     is taken as given, not checked against the old one.
//   - LastNode, RAG, CurrentTaskIndex, and CurrentGraphStep follow
//     last-write-wins-if-nonzero: delta's zero value means "unchanged".
//   - Retry, SkipValidation, and Error are always applied, zero value and
//     all: a node resetting a retry counter, a router consuming a
//     one-shot bypass, or a planner clearing a resolved error are all
//     legitimate transitions to the zero value that "nonzero wins" could
//     never express. Node authors who don't intend to touch one of these
//     fields simply leave it unset on the delta they return (its
//     unchanged zero value IS a no-op here only because nothing upstream
//     had set it to something else worth preserving across the step —
//     see nodes.Wrap, which owns carrying SkipValidation/Error forward
//     on steps that don't consume or resolve them).
func Reduce(prev, delta GraphState) GraphState {
	next := prev

	if delta.Messages != nil {
		next.Messages = delta.Messages
	}
	if delta.LastNode != "" {
		next.LastNode = delta.LastNode
	}
	if delta.RAG != "" {
		next.RAG = delta.RAG
	}
	if delta.Tasks != nil {
		next.Tasks = mergeTasks(prev.Tasks, delta.Tasks)
	}
	if delta.CurrentTaskIndex != 0 {
		next.CurrentTaskIndex = delta.CurrentTaskIndex
	}
	next.Retry = delta.Retry // explicit: reducer carries 0 too (reset-to-zero is a legal transition)
	if delta.CurrentGraphStep != 0 {
		next.CurrentGraphStep = delta.CurrentGraphStep
	}
	if delta.MemoryIngestedCount != 0 {
		next.MemoryIngestedCount = delta.MemoryIngestedCount
	}
	// SkipValidation and Error are always applied, not merged on a
	// zero-value check: the router must be able to clear a consumed
	// SkipValidation flag, and nodes must be able to clear a recovered
	// Error, neither of which is expressible as "non-zero wins".
	next.SkipValidation = delta.SkipValidation
	next.Error = delta.Error
	if delta.Memories.STM != nil || delta.Memories.LTM != nil {
		if delta.Memories.STM != nil {
			next.Memories.STM = delta.Memories.STM
			next.Memories.Head = delta.Memories.Head
		}
		if delta.Memories.LTM != nil {
			next.Memories.LTM = delta.Memories.LTM
		}
	}

	return next
}

// mergeTasks appends unseen tasks and advances known ones in place,
// preserving append order.
func mergeTasks(prev, delta []Task) []Task {
	byID := make(map[string]int, len(prev))
	next := make([]Task, len(prev))
	copy(next, prev)
	for i, t := range next {
		byID[t.ID] = i
	}

	for _, dt := range delta {
		if idx, ok := byID[dt.ID]; ok {
			next[idx] = dt
		} else {
			byID[dt.ID] = len(next)
			next = append(next, dt)
		}
	}
	return next
}
