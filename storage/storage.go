// Package storage defines the relational collaborator the dispatcher
// persists agent configs, messages, memories, and checkpoints through,
// exposed to the engine purely as a read/write interface. The production store
// (Postgres, MySQL, whatever) lives outside this module; InMemoryStorage is
// the reference implementation used by tests and examples/interactive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph/emit"
	"github.com/corvusagent/agentrt/memory"
)

// ErrNotFound is returned by LoadAgent when no agent exists with the given
// agent_id, and by checkpoint/message lookups for a never-written key.
var ErrNotFound = errors.New("storage: not found")

// ErrAccessDenied is returned by LoadAgent when agent_id exists but is
// owned by a different user_id.
var ErrAccessDenied = errors.New("storage: access denied")

// Checkpoint is a durable snapshot of one thread_id's graph state at a
// given step. Specialized to agentstate.GraphState rather than generic
// over store.CheckpointV2[S] — this module only ever checkpoints one state
// shape, so the extra type parameter would buy nothing.
type Checkpoint struct {
	ThreadID     string
	CheckpointID int
	State        agentstate.GraphState
	Timestamp    time.Time
}

// Interface is the storage collaborator consumed by the dispatcher.
// Implementations must support concurrent reads and serializable writes
// per (user_id, run_id)/thread_id.
type Interface interface {
	// LoadAgent returns the stored config for agentID, verifying it is
	// owned by userID. Returns ErrNotFound if agentID is unknown, or
	// ErrAccessDenied if it belongs to a different user.
	LoadAgent(ctx context.Context, agentID, userID string) (*config.AgentConfig, error)

	// InsertMessage persists one event as a message record, returning its
	// assigned message_id.
	InsertMessage(ctx context.Context, agentID, userID string, event emit.Event) (string, error)

	// GetMessages returns up to limit events for (agentID, threadID,
	// userID) starting at offset, in insertion order. threadID == "" means
	// all threads for that agent/user. limit <= 0 means unbounded.
	GetMessages(ctx context.Context, agentID, threadID, userID string, limit, offset int) ([]emit.Event, error)

	// UpsertMemories durably stores embedded episodic/semantic entries.
	UpsertMemories(ctx context.Context, episodic []memory.EpisodicEntry, semantic []memory.SemanticEntry, embeddings map[string][]float64) error

	// RetrieveMemory returns the top-k stored entries for (userID, runID)
	// whose similarity to embedding clears threshold.
	RetrieveMemory(ctx context.Context, userID, runID string, embedding []float64, k int, threshold float64) ([]memory.Hit, error)

	// ReadCheckpoint returns the checkpoint for threadID. A nil
	// checkpointID means "latest". The second return is false (with a nil
	// error) when none exists, matching spec's "Checkpoint | None".
	ReadCheckpoint(ctx context.Context, threadID string, checkpointID *int) (Checkpoint, bool, error)

	// WriteCheckpoint persists cp, assigning the next checkpoint_id for
	// its ThreadID (strictly monotonically increasing) and returning it.
	WriteCheckpoint(ctx context.Context, cp Checkpoint) (int, error)
}

type agentRecord struct {
	userID string
	cfg    *config.AgentConfig
}

type storedMessage struct {
	id     string
	userID string
	event  emit.Event
}

// InMemoryStorage is a guarded-map Interface implementation, grounded on
// graph/store.MemStore's locking idiom: a single mutex over plain Go maps,
// sized for tests and examples/interactive rather than production scale.
// Memory operations delegate to an embedded memory.LTMStore rather than
// reimplementing cosine similarity a second time.
type InMemoryStorage struct {
	mu          sync.RWMutex
	agents      map[string]agentRecord
	messages    map[string][]storedMessage // agentID -> messages
	checkpoints map[string][]Checkpoint    // threadID -> checkpoints, CheckpointID ascending
	ltm         memory.LTMStore
}

// NewInMemoryStorage returns an empty InMemoryStorage. ltm, if nil,
// defaults to memory.NewInMemoryLTM().
func NewInMemoryStorage(ltm memory.LTMStore) *InMemoryStorage {
	if ltm == nil {
		ltm = memory.NewInMemoryLTM()
	}
	return &InMemoryStorage{
		agents:      make(map[string]agentRecord),
		messages:    make(map[string][]storedMessage),
		checkpoints: make(map[string][]Checkpoint),
		ltm:         ltm,
	}
}

// RegisterAgent seeds an agent config under (agentID, userID). Not part of
// Interface — it's how tests and examples/interactive populate the store,
// standing in for the out-of-scope agent-config management surface.
func (s *InMemoryStorage) RegisterAgent(agentID, userID string, cfg *config.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = agentRecord{userID: userID, cfg: cfg}
}

func (s *InMemoryStorage) LoadAgent(ctx context.Context, agentID, userID string) (*config.AgentConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("storage: load agent %q: %w", agentID, ErrNotFound)
	}
	if rec.userID != userID {
		return nil, fmt.Errorf("storage: load agent %q: %w", agentID, ErrAccessDenied)
	}
	return rec.cfg, nil
}

func (s *InMemoryStorage) InsertMessage(ctx context.Context, agentID, userID string, event emit.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.messages[agentID] = append(s.messages[agentID], storedMessage{id: id, userID: userID, event: event})
	return id, nil
}

// GetMessages filters by event.RunID as the thread_id: emit.Event carries
// RunID, not a separate ThreadID field, and within this module a run
// corresponds 1:1 with a thread.
func (s *InMemoryStorage) GetMessages(ctx context.Context, agentID, threadID, userID string, limit, offset int) ([]emit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []emit.Event
	for _, m := range s.messages[agentID] {
		if m.userID != userID {
			continue
		}
		if threadID != "" && m.event.RunID != threadID {
			continue
		}
		matched = append(matched, m.event)
	}

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStorage) UpsertMemories(ctx context.Context, episodic []memory.EpisodicEntry, semantic []memory.SemanticEntry, embeddings map[string][]float64) error {
	return s.ltm.Upsert(ctx, episodic, semantic, embeddings)
}

func (s *InMemoryStorage) RetrieveMemory(ctx context.Context, userID, runID string, embedding []float64, k int, threshold float64) ([]memory.Hit, error) {
	return s.ltm.Retrieve(ctx, userID, runID, embedding, k, threshold)
}

func (s *InMemoryStorage) ReadCheckpoint(ctx context.Context, threadID string, checkpointID *int) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.checkpoints[threadID]
	if len(cps) == 0 {
		return Checkpoint{}, false, nil
	}
	if checkpointID == nil {
		return cps[len(cps)-1], true, nil
	}
	for _, cp := range cps {
		if cp.CheckpointID == *checkpointID {
			return cp, true, nil
		}
	}
	return Checkpoint{}, false, nil
}

func (s *InMemoryStorage) WriteCheckpoint(ctx context.Context, cp Checkpoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.checkpoints[cp.ThreadID]
	next := 1
	if len(existing) > 0 {
		next = existing[len(existing)-1].CheckpointID + 1
	}
	cp.CheckpointID = next
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.checkpoints[cp.ThreadID] = append(s.checkpoints[cp.ThreadID], cp)
	return next, nil
}
