package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// record is one embedded entry held by InMemoryLTM.
type record struct {
	userID    string
	runID     string
	content   string
	category  string // empty for episodic entries
	embedding []float64
}

// InMemoryLTM is an in-process LTMStore backed by a guarded map, grounded on
// graph/store.MemStore's locking idiom: a single mutex protecting plain Go
// maps/slices, sized for tests and the bundled example rather than
// production scale.
//
// Similarity is exact cosine similarity over the stored embeddings — no
// approximate index — since the real vector store is an out-of-scope
// external collaborator; this type exists to exercise the
// LTMStore contract end to end without one.
type InMemoryLTM struct {
	mu      sync.RWMutex
	records []record
}

// NewInMemoryLTM returns an empty InMemoryLTM.
func NewInMemoryLTM() *InMemoryLTM {
	return &InMemoryLTM{}
}

// Upsert stores each valid episodic/semantic entry along with its
// embedding (keyed by content, per the embeddings map contract). Entries
// failing Validate are skipped, not erroring the whole call, matching the
// ingest node's per-entry validation.
func (s *InMemoryLTM) Upsert(ctx context.Context, episodic []EpisodicEntry, semantic []SemanticEntry, embeddings map[string][]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range episodic {
		if err := e.Validate(); err != nil {
			continue
		}
		s.records = append(s.records, record{
			userID:    e.UserID,
			runID:     e.RunID,
			content:   e.Content,
			embedding: embeddings[e.Content],
		})
	}
	for _, e := range semantic {
		if err := e.Validate(); err != nil {
			continue
		}
		s.records = append(s.records, record{
			userID:    e.UserID,
			runID:     e.RunID,
			content:   e.Fact,
			category:  e.Category,
			embedding: embeddings[e.Fact],
		})
	}
	return nil
}

// Retrieve returns the top-k records scoped to (userID, runID) whose cosine
// similarity to embedding clears threshold, sorted by descending
// similarity.
func (s *InMemoryLTM) Retrieve(ctx context.Context, userID, runID string, embedding []float64, k int, threshold float64) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, r := range s.records {
		if r.userID != userID || r.runID != runID {
			continue
		}
		sim := cosineSimilarity(r.embedding, embedding)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{Content: r.content, Category: r.category, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// cosineSimilarity returns 1.0 for identical non-empty vectors (including
// the degenerate case of two empty/nil embeddings, which the identity
// embedding treats as a perfect match),
// and 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	if len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
