package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRecord is the JSON shape persisted per entry in RedisLTM.
type redisRecord struct {
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	Embedding []float64 `json:"embedding"`
}

// RedisLTM is an LTMStore backed by a real github.com/redis/go-redis/v9
// client, keyed by (user_id, run_id) with a TTL — a warm durable cache in
// front of the real (out-of-scope) vector store that survives a process
// restart without needing to re-embed everything.
//
// Entries for one (user_id, run_id) pair are stored as a Redis list of JSON
// blobs; similarity search still runs client-side over the (small, per-run)
// candidate set, since indexed vector search belongs to the external vector
// store this package stands in for.
type RedisLTM struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLTM wraps an existing *redis.Client. ttl <= 0 disables expiry on
// written keys.
func NewRedisLTM(client *redis.Client, ttl time.Duration) *RedisLTM {
	return &RedisLTM{client: client, ttl: ttl}
}

func (s *RedisLTM) key(userID, runID string) string {
	return fmt.Sprintf("agentrt:ltm:%s:%s", userID, runID)
}

// Upsert appends each valid entry to its (user_id, run_id) list and
// refreshes the key's TTL.
func (s *RedisLTM) Upsert(ctx context.Context, episodic []EpisodicEntry, semantic []SemanticEntry, embeddings map[string][]float64) error {
	type keyed struct {
		key string
		rec redisRecord
	}
	var toWrite []keyed

	for _, e := range episodic {
		if err := e.Validate(); err != nil {
			continue
		}
		toWrite = append(toWrite, keyed{
			key: s.key(e.UserID, e.RunID),
			rec: redisRecord{Content: e.Content, Embedding: embeddings[e.Content]},
		})
	}
	for _, e := range semantic {
		if err := e.Validate(); err != nil {
			continue
		}
		toWrite = append(toWrite, keyed{
			key: s.key(e.UserID, e.RunID),
			rec: redisRecord{Content: e.Fact, Category: e.Category, Embedding: embeddings[e.Fact]},
		})
	}

	touched := map[string]bool{}
	for _, kv := range toWrite {
		data, err := json.Marshal(kv.rec)
		if err != nil {
			return fmt.Errorf("memory: marshal redis record: %w", err)
		}
		if err := s.client.RPush(ctx, kv.key, data).Err(); err != nil {
			return fmt.Errorf("memory: redis rpush: %w", err)
		}
		touched[kv.key] = true
	}

	if s.ttl > 0 {
		for k := range touched {
			if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
				return fmt.Errorf("memory: redis expire: %w", err)
			}
		}
	}
	return nil
}

// Retrieve reads the (user_id, run_id) list and returns the top-k hits
// clearing threshold, sorted by descending similarity.
func (s *RedisLTM) Retrieve(ctx context.Context, userID, runID string, embedding []float64, k int, threshold float64) ([]Hit, error) {
	raw, err := s.client.LRange(ctx, s.key(userID, runID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("memory: redis lrange: %w", err)
	}

	var hits []Hit
	for _, data := range raw {
		var rec redisRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		sim := cosineSimilarity(rec.Embedding, embedding)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{Content: rec.Content, Category: rec.Category, Similarity: sim})
	}

	sortHitsDesc(hits)
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortHitsDesc(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Similarity > hits[j-1].Similarity; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
