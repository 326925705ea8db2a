// Package memory implements the short-term ring buffer and long-term
// semantic/episodic store consumed by nodes.MemoryOrchestrator.
//
// The real vector store and embedding model are out-of-scope external
// collaborators: this package only defines the opaque Embedder
// seam and an LTMStore interface, plus two concrete LTMStore
// implementations (InMemoryLTM, RedisLTM) useful for tests, examples, and a
// warm process-local cache in front of the real (absent) vector store.
package memory

import (
	"context"
	"fmt"
	"time"
)

// MaxContentChars is the validation ceiling on a single memory entry's
// content.
const MaxContentChars = 10_000

// Embedder turns text into an embedding vector. Opaque
// ("embed(text) -> vector"); the real implementation lives outside this
// module.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EpisodicEntry is a single ingested episodic memory:
// "derive episodic entry {content, sources=[message_ids]}".
type EpisodicEntry struct {
	UserID  string
	RunID   string
	Content string
	Sources []string // message ids the entry was derived from
}

// SemanticEntry is a single ingested semantic memory: "{fact, category}".
type SemanticEntry struct {
	UserID   string
	RunID    string
	Fact     string
	Category string
}

// Validate checks EpisodicEntry against the ingestion validation
// rules: non-empty content, content within MaxContentChars, non-empty
// user_id/run_id, and non-empty sources.
func (e EpisodicEntry) Validate() error {
	if e.Content == "" {
		return fmt.Errorf("memory: episodic entry has empty content")
	}
	if len(e.Content) > MaxContentChars {
		return fmt.Errorf("memory: episodic entry content exceeds %d chars", MaxContentChars)
	}
	if e.UserID == "" || e.RunID == "" {
		return fmt.Errorf("memory: episodic entry missing user_id or run_id")
	}
	if len(e.Sources) == 0 {
		return fmt.Errorf("memory: episodic entry has no sources")
	}
	return nil
}

// Validate checks SemanticEntry against the ingestion validation
// rules: non-empty fact (content), content within MaxContentChars,
// non-empty user_id/run_id, and non-empty category.
func (e SemanticEntry) Validate() error {
	if e.Fact == "" {
		return fmt.Errorf("memory: semantic entry has empty fact")
	}
	if len(e.Fact) > MaxContentChars {
		return fmt.Errorf("memory: semantic entry content exceeds %d chars", MaxContentChars)
	}
	if e.UserID == "" || e.RunID == "" {
		return fmt.Errorf("memory: semantic entry missing user_id or run_id")
	}
	if e.Category == "" {
		return fmt.Errorf("memory: semantic entry has empty category")
	}
	return nil
}

// Hit is one retrieval result, independent of agentstate so this package
// has no import-time dependency on the graph state shape; nodes.
// MemoryOrchestrator translates Hit into agentstate.SimilarityHit.
type Hit struct {
	Content    string
	Category   string
	Similarity float64
}

// LTMStore is the long-term memory collaborator: durable upsert of
// embedded episodic/semantic entries, and similarity search scoped to a
// (user_id, run_id) pair.
type LTMStore interface {
	Upsert(ctx context.Context, episodic []EpisodicEntry, semantic []SemanticEntry, embeddings map[string][]float64) error
	Retrieve(ctx context.Context, userID, runID string, embedding []float64, k int, threshold float64) ([]Hit, error)
}

// IngestTimeout and RetrieveTimeout mirror config.MemoryConfig's
// IngestTimeout/RetrieveTimeout field names; this package doesn't import
// config to avoid a cycle (nodes wires the two together), but documents the
// default here for standalone callers of this package.
const (
	DefaultIngestTimeout   = 5 * time.Second
	DefaultRetrieveTimeout = 5 * time.Second
)
