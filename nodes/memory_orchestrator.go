package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/memory"
)

// MemoryOrchestrator builds the MEMORY_ORCHESTRATOR node: an ingest phase
// that derives episodic entries from assistant/tool messages produced since
// the last pass and upserts them into store, followed by a retrieve phase
// that embeds the current task's focus text and surfaces similarity hits
// into state.Memories.LTM/state.RAG. Both phases also insert
// every new message into the short-term ring buffer.
//
// Ingestion failures are recorded as agentstate.ErrMemoryIngestFailed but do
// not themselves terminate the run (the router only terminates on an
// unrecovered error whose kind isn't blocked_task; memory_ingest_failed
// still routes onward normally since nothing here sets SkipValidation or
// otherwise special-cases it — the error is carried for observability and
// overwritten by a clean Error on the node's next successful pass).
func MemoryOrchestrator(cfg *config.AgentConfig, embedder memory.Embedder, store memory.LTMStore) graph.Node[agentstate.GraphState] {
	return Wrap(agentstate.NodeMemory, cfg, func(ctx context.Context, state agentstate.GraphState) (agentstate.GraphState, error) {
		next := state
		next.Error = nil

		userID, runID := memoryScope(ctx, cfg)

		newMsgs := state.Messages
		if state.MemoryIngestedCount <= len(state.Messages) {
			newMsgs = state.Messages[state.MemoryIngestedCount:]
		}

		episodic, embeds := deriveEpisodic(ctx, embedder, newMsgs, state.MemoryIngestedCount, userID, runID)
		if len(episodic) > 0 && store != nil {
			ictx, cancel := context.WithTimeout(ctx, ingestTimeout(cfg))
			err := store.Upsert(ictx, episodic, nil, embeds)
			cancel()
			if err != nil {
				next.Error = &agentstate.StateError{
					Kind:    agentstate.ErrMemoryIngestFailed,
					Source:  string(agentstate.NodeMemory),
					Message: err.Error(),
					Ts:      time.Now(),
				}
			}
		}
		next.MemoryIngestedCount = len(state.Messages)

		ms := state.Memories
		for _, m := range newMsgs {
			if m.Content == "" {
				continue
			}
			ms = memory.Insert(ms, agentstate.Item{Content: m.Content, Role: m.Role})
		}
		next.Memories.STM = ms.STM
		next.Memories.Head = ms.Head

		if focus, ok := retrievalFocus(state); ok && embedder != nil && store != nil {
			rctx, cancel := context.WithTimeout(ctx, retrieveTimeout(cfg))
			vec, embErr := embedder.Embed(rctx, focus)
			var hits []memory.Hit
			var retrieveErr error
			if embErr == nil {
				hits, retrieveErr = store.Retrieve(rctx, userID, runID, vec, ltmK(cfg), ltmThreshold(cfg))
			}
			cancel()

			if embErr != nil || retrieveErr != nil {
				next.Memories.LTM = []agentstate.SimilarityHit{}
				if next.Error == nil {
					msg := ""
					if embErr != nil {
						msg = embErr.Error()
					} else {
						msg = retrieveErr.Error()
					}
					next.Error = &agentstate.StateError{
						Kind:    agentstate.ErrMemoryRetrieveFailed,
						Source:  string(agentstate.NodeMemory),
						Message: msg,
						Ts:      time.Now(),
					}
				}
			} else {
				next.Memories.LTM = toSimilarityHits(hits)
				next.RAG = formatRAG(hits)
			}
		} else {
			next.Memories.LTM = state.Memories.LTM
		}

		return next, nil
	})
}

func memoryScope(ctx context.Context, cfg *config.AgentConfig) (userID, runID string) {
	if cfg != nil {
		userID = cfg.UserID
		runID = cfg.ID
	}
	if v, ok := ctx.Value(graph.RunIDKey).(string); ok && v != "" {
		runID = v
	}
	return userID, runID
}

func deriveEpisodic(ctx context.Context, embedder memory.Embedder, msgs []agentstate.Message, offset int, userID, runID string) ([]memory.EpisodicEntry, map[string][]float64) {
	var episodic []memory.EpisodicEntry
	embeds := map[string][]float64{}
	for i, m := range msgs {
		if m.Role != agentstate.RoleAI && m.Role != agentstate.RoleTool {
			continue
		}
		if m.Content == "" {
			continue
		}
		entry := memory.EpisodicEntry{
			UserID:  userID,
			RunID:   runID,
			Content: m.Content,
			Sources: []string{fmt.Sprintf("msg-%d", offset+i)},
		}
		if err := entry.Validate(); err != nil {
			continue
		}
		episodic = append(episodic, entry)
		if embedder != nil {
			if v, err := embedder.Embed(ctx, m.Content); err == nil {
				embeds[m.Content] = v
			}
		}
	}
	return episodic, embeds
}

func retrievalFocus(state agentstate.GraphState) (string, bool) {
	task, ok := state.CurrentTask()
	if !ok || task.Text == "" {
		return "", false
	}
	return task.Text, true
}

func toSimilarityHits(hits []memory.Hit) []agentstate.SimilarityHit {
	out := make([]agentstate.SimilarityHit, len(hits))
	for i, h := range hits {
		out[i] = agentstate.SimilarityHit{Content: h.Content, Category: h.Category, Similarity: h.Similarity}
	}
	return out
}

func formatRAG(hits []memory.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(h.Content)
	}
	return b.String()
}

func ingestTimeout(cfg *config.AgentConfig) time.Duration {
	if cfg != nil && cfg.Memory.IngestTimeout > 0 {
		return cfg.Memory.IngestTimeout
	}
	return memory.DefaultIngestTimeout
}

func retrieveTimeout(cfg *config.AgentConfig) time.Duration {
	if cfg != nil && cfg.Memory.RetrieveTimeout > 0 {
		return cfg.Memory.RetrieveTimeout
	}
	return memory.DefaultRetrieveTimeout
}

func ltmK(cfg *config.AgentConfig) int {
	if cfg == nil {
		return config.DefaultLTMK
	}
	return cfg.Memory.LTMK
}

func ltmThreshold(cfg *config.AgentConfig) float64 {
	if cfg == nil {
		return config.DefaultLTMThreshold
	}
	return cfg.Memory.LTMThreshold
}
