package memory

import "github.com/corvusagent/agentrt/agentstate"

// NewSTM returns a zero-valued MemoryState whose ring buffer has the given
// capacity. capacity is clamped to at
// least 1.
func NewSTM(capacity int) agentstate.MemoryState {
	if capacity < 1 {
		capacity = 1
	}
	return agentstate.MemoryState{STM: make([]agentstate.Item, capacity)}
}

// Insert writes item into the ring at Head and advances Head modulo the
// buffer's capacity, overwriting the oldest entry once the buffer is full.
// Returns the updated MemoryState; ms is not mutated in place.
func Insert(ms agentstate.MemoryState, item agentstate.Item) agentstate.MemoryState {
	cap := len(ms.STM)
	if cap == 0 {
		return ms
	}
	next := make([]agentstate.Item, cap)
	copy(next, ms.STM)
	next[ms.Head] = item
	ms.STM = next
	ms.Head = (ms.Head + 1) % cap
	return ms
}

// isEmpty reports whether slot is an unwritten ring slot; null slots are
// skipped on format.
func isEmpty(item agentstate.Item) bool {
	return item.Content == "" && item.Role == ""
}

// Ordered returns up to len(ms.STM) non-null items, newest first: walking
// backward from Head-1 modulo capacity, newest first.
func Ordered(ms agentstate.MemoryState) []agentstate.Item {
	cap := len(ms.STM)
	if cap == 0 {
		return nil
	}
	out := make([]agentstate.Item, 0, cap)
	idx := (ms.Head - 1 + cap) % cap
	for i := 0; i < cap; i++ {
		item := ms.STM[idx]
		if !isEmpty(item) {
			out = append(out, item)
		}
		idx = (idx - 1 + cap) % cap
	}
	return out
}

// Chronological returns the same items as Ordered but oldest-first, the
// order an LLM prompt wants its conversation history rendered in.
func Chronological(ms agentstate.MemoryState) []agentstate.Item {
	newest := Ordered(ms)
	out := make([]agentstate.Item, len(newest))
	for i, item := range newest {
		out[len(newest)-1-i] = item
	}
	return out
}

// Window returns the n most recent items, oldest-first, for feeding a
// bounded slice of STM to an LLM call (e.g. after a token-limit trim halves
// the window). n is clamped to [0, len(Ordered(ms))].
func Window(ms agentstate.MemoryState, n int) []agentstate.Item {
	chron := Chronological(ms)
	if n >= len(chron) {
		return chron
	}
	if n <= 0 {
		return nil
	}
	return chron[len(chron)-n:]
}

// Count reports the number of non-null items currently held ("min(N, C)
// non-null items).
func Count(ms agentstate.MemoryState) int {
	n := 0
	for _, item := range ms.STM {
		if !isEmpty(item) {
			n++
		}
	}
	return n
}
