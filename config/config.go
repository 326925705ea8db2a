// Package config defines the immutable per-agent configuration snapshot
// consumed by the agent graph, its nodes, and its supporting services.
//
// AgentConfig is built once via New and a set of functional Options, mirroring
// the graph.Option idiom: each recognized key gets its own With* constructor,
// out-of-range values are clamped to a documented bound and logged rather
// than rejected outright, matching how the rest of the runtime treats
// misconfiguration as a recoverable, observable event rather than a hard
// failure.
package config

import "time"

// Mode selects how a run is driven: a human turn-taking with the agent, the
// agent running a task list to completion unattended, or a mix of both.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutonomous  Mode = "autonomous"
	ModeHybrid      Mode = "hybrid"
)

// Compile-time guards. Values outside these bounds are clamped by the
// corresponding Option rather than rejected, with the clamp reported through
// the Warnings slice so callers can surface it through their own logging.
const (
	MinMaxGraphSteps = 1
	MaxMaxGraphSteps = 10_000

	MinSTMSize = 1
	MaxSTMSize = 100

	MinLTMK = 0
	MaxLTMK = 200

	MinRetries = 0
	MaxRetries = 10

	MinRetryBaseDelay = 10 * time.Millisecond
	MaxRetryBaseDelay = 2 * time.Second

	MinRuntimeCacheTTL = time.Second
	MaxRuntimeCacheTTL = 24 * time.Hour
)

// Defaults, per the recognized-option table.
const (
	DefaultMaxGraphSteps       = 500
	DefaultSTMSize             = 5
	DefaultLTMK                = 20
	DefaultLTMThreshold        = 0.75
	DefaultRuntimeCacheEntries = 256
	DefaultRuntimeCacheTTL     = 10 * time.Minute
	DefaultRetriesMax          = 3
	DefaultRetryBaseDelay      = 500 * time.Millisecond
)

// GraphConfig bounds the execution of the compiled node graph.
type GraphConfig struct {
	MaxGraphSteps int
	ModelRefs     map[string]string // role ("planner", "executor", ...) -> model identifier

	// ContextWindow is the model context window, in tokens, the executor's
	// constraints.TokenBudget checks prompts against before calling the
	// chat model. 0 disables the proactive check and falls back to the
	// reactive token_limit recovery path (the LLM reporting overflow).
	ContextWindow int
}

// MemoryConfig bounds the short-term and long-term memory subsystems.
type MemoryConfig struct {
	STMSize      int
	LTMK         int
	LTMThreshold float64
	IngestTimeout   time.Duration
	RetrieveTimeout time.Duration
}

// RAGConfig configures retrieval augmentation, consumed by the memory
// orchestrator node.
type RAGConfig struct {
	Enabled        bool
	TopK           int
	EmbeddingModel string
}

// RuntimeCacheConfig bounds the runtimecache package's per-key leased entries.
type RuntimeCacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// RetryConfig is the default retry policy applied by the executor node's
// chat-model calls.
type RetryConfig struct {
	Max       int
	BaseDelay time.Duration
}

// ToolConstraint is one row of the per-tool constraints table.
type ToolConstraint struct {
	Tool                     string
	PreventConsecutiveDuplicates bool
	MaxRetries               int
	RequiredPrecedents       []string
	BlockedAfter             []string
}

// AgentConfig is the immutable configuration snapshot for one agent run.
// Build it with New and zero or more Options; do not mutate fields after
// construction, copy the struct if a variant is needed.
type AgentConfig struct {
	ID         string
	UserID     string
	Profile    string
	Mode       Mode
	CfgVersion int

	Graph       GraphConfig
	Memory      MemoryConfig
	RAG         RAGConfig
	RuntimeCache RuntimeCacheConfig
	Retries     RetryConfig
	Tools       []string
	ToolConstraints []ToolConstraint
	Prompts     map[string]string

	// Warnings accumulates clamp/default messages produced while applying
	// Options, in application order. Empty on a clean configuration.
	Warnings []string
}

// Option configures an AgentConfig under construction.
type Option func(*AgentConfig)

// New builds an AgentConfig for the given identity and mode, applying opts
// in order and filling every unset field with its documented default.
func New(id, userID string, mode Mode, opts ...Option) *AgentConfig {
	cfg := &AgentConfig{
		ID:         id,
		UserID:     userID,
		Mode:       mode,
		CfgVersion: 1,
		Graph: GraphConfig{
			MaxGraphSteps: DefaultMaxGraphSteps,
			ModelRefs:     map[string]string{},
		},
		Memory: MemoryConfig{
			STMSize:         DefaultSTMSize,
			LTMK:            DefaultLTMK,
			LTMThreshold:    DefaultLTMThreshold,
			IngestTimeout:   5 * time.Second,
			RetrieveTimeout: 5 * time.Second,
		},
		RuntimeCache: RuntimeCacheConfig{
			MaxEntries: DefaultRuntimeCacheEntries,
			TTL:        DefaultRuntimeCacheTTL,
		},
		Retries: RetryConfig{
			Max:       DefaultRetriesMax,
			BaseDelay: DefaultRetryBaseDelay,
		},
		Prompts: map[string]string{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func (c *AgentConfig) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

func clampInt(v, lo, hi int) (int, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

func clampDuration(v, lo, hi time.Duration) (time.Duration, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

// WithMaxGraphSteps bounds the number of node transitions a single run may
// take before the router is forced to END_GRAPH with ErrStepLimitExceeded.
//
// Default: 500. Clamped to [1, 10000].
func WithMaxGraphSteps(n int) Option {
	return func(c *AgentConfig) {
		clamped, did := clampInt(n, MinMaxGraphSteps, MaxMaxGraphSteps)
		c.Graph.MaxGraphSteps = clamped
		if did {
			c.warn("max_graph_steps clamped to valid range")
		}
	}
}

// WithContextWindow sets the model context window, in tokens, the executor
// checks prompts against before calling the chat model. 0 (the default)
// disables the proactive check.
func WithContextWindow(tokens int) Option {
	return func(c *AgentConfig) {
		if tokens < 0 {
			tokens = 0
			c.warn("context_window clamped to 0")
		}
		c.Graph.ContextWindow = tokens
	}
}

// WithModelRef assigns the model identifier a given node role should use
// (e.g. WithModelRef("planner", "claude-sonnet-4-5")).
func WithModelRef(role, modelID string) Option {
	return func(c *AgentConfig) {
		if c.Graph.ModelRefs == nil {
			c.Graph.ModelRefs = map[string]string{}
		}
		c.Graph.ModelRefs[role] = modelID
	}
}

// WithSTMSize bounds the short-term memory ring buffer capacity.
//
// Default: 5. Clamped to [1, 100].
func WithSTMSize(n int) Option {
	return func(c *AgentConfig) {
		clamped, did := clampInt(n, MinSTMSize, MaxSTMSize)
		c.Memory.STMSize = clamped
		if did {
			c.warn("stm_size clamped to valid range")
		}
	}
}

// WithLTMTopK bounds the number of long-term memory hits retrieved per query.
//
// Default: 20. Clamped to [0, 200].
func WithLTMTopK(k int) Option {
	return func(c *AgentConfig) {
		clamped, did := clampInt(k, MinLTMK, MaxLTMK)
		c.Memory.LTMK = clamped
		if did {
			c.warn("ltm.k clamped to valid range")
		}
	}
}

// WithLTMThreshold sets the minimum similarity score (0.0-1.0) a long-term
// memory hit must clear to be surfaced.
//
// Default: 0.75. Out-of-range values are clamped to [0, 1].
func WithLTMThreshold(t float64) Option {
	return func(c *AgentConfig) {
		if t < 0 {
			t = 0
			c.warn("ltm.threshold clamped to 0")
		}
		if t > 1 {
			t = 1
			c.warn("ltm.threshold clamped to 1")
		}
		c.Memory.LTMThreshold = t
	}
}

// WithRAG enables retrieval augmentation with the given top-K and embedding
// model identifier.
func WithRAG(enabled bool, topK int, embeddingModel string) Option {
	return func(c *AgentConfig) {
		c.RAG.Enabled = enabled
		c.RAG.TopK = topK
		c.RAG.EmbeddingModel = embeddingModel
	}
}

// WithRuntimeCacheLimits bounds the runtime cache's max resident entries and
// per-entry TTL.
//
// Defaults: 256 entries, 10m TTL. TTL clamped to [1s, 24h].
func WithRuntimeCacheLimits(maxEntries int, ttl time.Duration) Option {
	return func(c *AgentConfig) {
		if maxEntries < 1 {
			maxEntries = 1
			c.warn("runtime_cache.max_entries clamped to 1")
		}
		c.RuntimeCache.MaxEntries = maxEntries

		clamped, did := clampDuration(ttl, MinRuntimeCacheTTL, MaxRuntimeCacheTTL)
		c.RuntimeCache.TTL = clamped
		if did {
			c.warn("runtime_cache.ttl_ms clamped to valid range")
		}
	}
}

// WithRetries bounds the executor's default retry policy.
//
// Defaults: max=3, base_delay=500ms. base_delay ceiling is 2s.
func WithRetries(max int, baseDelay time.Duration) Option {
	return func(c *AgentConfig) {
		clampedMax, did := clampInt(max, MinRetries, MaxRetries)
		c.Retries.Max = clampedMax
		if did {
			c.warn("retries.max clamped to valid range")
		}

		clampedDelay, did := clampDuration(baseDelay, MinRetryBaseDelay, MaxRetryBaseDelay)
		c.Retries.BaseDelay = clampedDelay
		if did {
			c.warn("retries.base_delay_ms clamped to valid range")
		}
	}
}

// WithTools sets the ordered set of tool names this agent's tasks may be
// assigned.
func WithTools(tools ...string) Option {
	return func(c *AgentConfig) {
		c.Tools = tools
	}
}

// WithToolConstraint appends a row to the tool constraints table consumed by
// the constraints package.
func WithToolConstraint(tc ToolConstraint) Option {
	return func(c *AgentConfig) {
		c.ToolConstraints = append(c.ToolConstraints, tc)
	}
}

// WithPrompt sets the prompt template for a given role (e.g. "planner").
func WithPrompt(role, template string) Option {
	return func(c *AgentConfig) {
		if c.Prompts == nil {
			c.Prompts = map[string]string{}
		}
		c.Prompts[role] = template
	}
}

// WithProfile sets the free-form behavior profile label threaded into
// prompts.
func WithProfile(profile string) Option {
	return func(c *AgentConfig) {
		c.Profile = profile
	}
}

// DefaultToolConstraints returns the two built-in constraint rows: a first
// end_task is always accepted but any repeat is rejected (MaxRetries: 2
// under constraints.Check's reject-at-MaxRetries-1 reading permits exactly
// one accepted call; BlockedAfter makes the repeat rejection independent of
// the 3-call retry window), and mobile_use_device requires a prior
// mobile_list_available_devices call in the same task.
func DefaultToolConstraints() []ToolConstraint {
	return []ToolConstraint{
		{
			Tool:         "end_task",
			MaxRetries:   2,
			BlockedAfter: []string{"end_task"},
		},
		{
			Tool:               "mobile_use_device",
			RequiredPrecedents: []string{"mobile_list_available_devices"},
		},
	}
}
