// Package dispatcher implements the request dispatcher: the
// single entry point that loads an agent's config, leases (or builds) its
// compiled graph from runtimecache, starts or resumes a run, streams its
// events back to the caller, and persists messages and checkpoints as the
// run progresses.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvusagent/agentrt/agentgraph"
	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/cancel"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/emit"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/graph/store"
	"github.com/corvusagent/agentrt/memory"
	"github.com/corvusagent/agentrt/runtimecache"
	"github.com/corvusagent/agentrt/storage"
	"github.com/corvusagent/agentrt/tool"
)

// eventStreamBuffer bounds how many events Execute's drain goroutine can
// fall behind the engine by before Emit starts blocking the run.
const eventStreamBuffer = 64

// Request is one user turn submitted to Execute. Execute's
// (agent_id, user_id, request) signature alone cannot decide start vs
// resume(checkpoint_id) — that depends on whether prior thread state
// exists for a specific thread. ThreadID is that key; an empty value
// starts a brand new thread.
type Request struct {
	Content       string
	HITLThreshold float64
	ThreadID      string
}

// StateSummary answers GetState(agent_id, thread_id).
type StateSummary struct {
	ThreadID     string
	CheckpointID int
	LastNode     agentstate.NodeID
	TaskCount    int
	Error        *agentstate.StateError
}

// Deps collects Dispatcher's collaborators.
type Deps struct {
	Storage  storage.Interface
	Embedder memory.Embedder
	LTM      memory.LTMStore
	Registry *tool.Registry

	// ChatModelFor resolves the chat model for an agent's config, e.g.
	// selecting an Anthropic or OpenAI client keyed by cfg.Graph.ModelRefs.
	ChatModelFor func(cfg *config.AgentConfig) (model.ChatModel, error)

	// MaxCacheEntries and CacheTTL size the shared runtimecache.Cache.
	// Default to config.DefaultRuntimeCacheEntries/DefaultRuntimeCacheTTL.
	MaxCacheEntries int
	CacheTTL        time.Duration

	// Store is the per-step checkpoint backend shared by every compiled
	// graph the dispatcher builds. Defaults to an in-memory store; pass
	// store.NewSQLiteStore[agentstate.GraphState] (or NewMySQLStore) for
	// checkpoints that survive a process restart.
	Store store.Store[agentstate.GraphState]

	// Metrics, when non-nil, is wired into the runtime cache, the engine
	// and the executor's constraint checks.
	Metrics *graph.PrometheusMetrics

	// Emitter, when non-nil, receives every engine event alongside the
	// Dispatcher's own stream (via emit.NewTeeEmitter) — e.g. an
	// emit.OTelEmitter for tracing or emit.LogEmitter for local debugging.
	Emitter emit.Emitter
}

// Dispatcher drives one user request through the graph. The zero value is not
// usable; construct with New.
type Dispatcher struct {
	storage      storage.Interface
	embedder     memory.Embedder
	ltm          memory.LTMStore
	registry     *tool.Registry
	chatModelFor func(cfg *config.AgentConfig) (model.ChatModel, error)

	cache       *runtimecache.Cache[*graph.Engine[agentstate.GraphState]]
	cancels     *cancel.Registry
	stream      *streamEmitter
	cacheTTL    time.Duration
	metrics     *graph.PrometheusMetrics
	emitter     emit.Emitter
	engineStore store.Store[agentstate.GraphState]
}

// New validates deps and constructs a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("dispatcher: Storage is required")
	}
	if deps.ChatModelFor == nil {
		return nil, fmt.Errorf("dispatcher: ChatModelFor is required")
	}

	ltm := deps.LTM
	if ltm == nil {
		ltm = memory.NewInMemoryLTM()
	}
	maxEntries := deps.MaxCacheEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultRuntimeCacheEntries
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = config.DefaultRuntimeCacheTTL
	}

	d := &Dispatcher{
		storage:      deps.Storage,
		embedder:     deps.Embedder,
		ltm:          ltm,
		registry:     deps.Registry,
		chatModelFor: deps.ChatModelFor,
		cancels:      cancel.NewRegistry(),
		stream:       newStreamEmitter(),
		cacheTTL:     ttl,
		metrics:      deps.Metrics,
		emitter:      deps.Emitter,
		engineStore:  deps.Store,
	}
	d.cache = runtimecache.NewCache[*graph.Engine[agentstate.GraphState]](maxEntries, nil)
	if deps.Metrics != nil {
		d.cache.SetMetrics(deps.Metrics)
	}
	return d, nil
}

// buildEngine is the runtimecache.RebuildFunc for agentID: it loads the
// latest config and compiles a fresh graph against it, always wired to the
// Dispatcher's single demultiplexing streamEmitter (never a per-call
// emitter), since the cached handle is shared across every thread_id's
// concurrent Execute call.
func (d *Dispatcher) buildEngine(agentID, userID string) runtimecache.RebuildFunc[*graph.Engine[agentstate.GraphState]] {
	return func(ctx context.Context) (*graph.Engine[agentstate.GraphState], error) {
		cfg, err := d.storage.LoadAgent(ctx, agentID, userID)
		if err != nil {
			return nil, err
		}
		chat, err := d.chatModelFor(cfg)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: resolve chat model for %q: %w", agentID, err)
		}
		emitter := emit.Emitter(d.stream)
		if d.emitter != nil {
			emitter = emit.NewTeeEmitter(d.stream, d.emitter)
		}
		return agentgraph.Build(cfg, agentgraph.Deps{
			Chat:     chat,
			Registry: d.registry,
			Embedder: d.embedder,
			LTM:      d.ltm,
			IDGen:    func() string { return uuid.NewString() },
			Store:    d.engineStore,
			Emitter:  emitter,
			Metrics:  d.metrics,
		})
	}
}

// Execute starts or resumes one turn of agent_id's graph for user_id.
// The returned channel carries every emit.Event produced by the run
// and is closed once the run (and persistence of its final checkpoint) has
// finished; a non-nil error is returned only for failures that precede
// starting the run (unknown agent, access denied, model resolution failure).
func (d *Dispatcher) Execute(ctx context.Context, agentID, userID string, req Request) (<-chan emit.Event, error) {
	cfg, err := d.storage.LoadAgent(ctx, agentID, userID)
	if err != nil {
		return nil, err
	}

	lease, err := d.cache.GetOrBuild(ctx, agentID, cfg.CfgVersion, d.cacheTTL, d.buildEngine(agentID, userID))
	if err != nil {
		return nil, err
	}
	engine := lease.Handle()

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	// Resume from the last checkpoint if prior thread state exists,
	// otherwise start fresh.
	initial := agentstate.GraphState{
		Memories: memory.NewSTM(cfg.Memory.STMSize),
	}
	if cp, ok, cErr := d.storage.ReadCheckpoint(ctx, threadID, nil); cErr == nil && ok {
		initial = cp.State
	}
	initial.Messages = append(initial.Messages, agentstate.Message{
		Role:    agentstate.RoleHuman,
		Content: req.Content,
	})

	subEvents, unsubscribe := d.stream.subscribe(threadID, eventStreamBuffer)
	runCtx := d.cancels.Track(ctx, threadID)
	runCtx = context.WithValue(runCtx, graph.RunIDKey, threadID)

	out := make(chan emit.Event, eventStreamBuffer)

	type runOutcome struct {
		state agentstate.GraphState
		err   error
	}
	resultCh := make(chan runOutcome, 1)
	go func() {
		state, runErr := engine.Run(runCtx, threadID, initial)
		resultCh <- runOutcome{state: state, err: runErr}
	}()

	go func() {
		defer lease.Release()
		defer unsubscribe()
		defer d.cancels.Forget(threadID)
		defer close(out)

		var finished bool
		var outcome runOutcome
		for !finished {
			select {
			case e, ok := <-subEvents:
				if !ok {
					finished = true
					continue
				}
				d.persist(context.Background(), agentID, userID, e)
				out <- e
			case outcome = <-resultCh:
				finished = true
			}
		}

		// Drain any events still buffered from before Run returned.
	drain:
		for {
			select {
			case e, ok := <-subEvents:
				if !ok {
					break drain
				}
				d.persist(context.Background(), agentID, userID, e)
				out <- e
			default:
				break drain
			}
		}

		// Any error from Run — including context.Canceled/DeadlineExceeded,
		// the expected shape of a caller-initiated cancel
		// — means there is no fresh GraphState worth checkpointing
		// (graph/engine.go's Run checks ctx.Done() before every node
		// transition and returns early rather than a partially-applied
		// state). The last durable checkpoint, if any, stands as-is.
		if outcome.err != nil {
			return
		}

		if _, err := d.storage.WriteCheckpoint(context.Background(), storage.Checkpoint{
			ThreadID: threadID,
			State:    outcome.state,
		}); err != nil {
			d.persist(context.Background(), agentID, userID, emit.Event{
				RunID: threadID,
				Msg:   "checkpoint_write_failed",
				Meta:  map[string]interface{}{"error": err.Error()},
			})
		}
	}()

	return out, nil
}

// persist records e as a message as it is produced. Failures are
// swallowed rather than aborting the run:
// a dropped message record is recoverable from the checkpoint, an aborted
// run is not.
func (d *Dispatcher) persist(ctx context.Context, agentID, userID string, e emit.Event) {
	_, _ = d.storage.InsertMessage(ctx, agentID, userID, e)
}

// Cancel requests that agent_id's run on thread_id stop at its next
// node-transition boundary.
func (d *Dispatcher) Cancel(agentID, threadID string) {
	d.cancels.Cancel(threadID)
}

// GetState returns a summary of thread_id's latest checkpoint.
func (d *Dispatcher) GetState(agentID, threadID string) (StateSummary, error) {
	cp, ok, err := d.storage.ReadCheckpoint(context.Background(), threadID, nil)
	if err != nil {
		return StateSummary{}, err
	}
	if !ok {
		return StateSummary{}, fmt.Errorf("dispatcher: get state %q: %w", threadID, storage.ErrNotFound)
	}
	return StateSummary{
		ThreadID:     threadID,
		CheckpointID: cp.CheckpointID,
		LastNode:     cp.State.LastNode,
		TaskCount:    len(cp.State.Tasks),
		Error:        cp.State.Error,
	}, nil
}
