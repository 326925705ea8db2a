// Package tool provides the process-wide catalog of named, schema'd
// capabilities the LLM may call, discovered at runtime by name.
//
// tool.Registry wraps the generic graph/tool.Tool interface with a
// name-keyed catalog plus a Describe() method contributing the
// description/schema half of a model.ToolSpec, so executor nodes can build
// the tool list an LLM call needs without hand-maintaining it alongside the
// registry.
package tool

import (
	"fmt"
	"sort"
	"sync"

	gtool "github.com/corvusagent/agentrt/graph/tool"
	"github.com/corvusagent/agentrt/graph/model"
)

// Describer is implemented by tools that can report their own LLM-facing
// description and input schema. Tools that don't implement it are still
// registrable; Registry.Specs falls back to a bare name/empty-schema spec.
type Describer interface {
	Describe() model.ToolSpec
}

// Entry pairs a registered tool with the model.ToolSpec derived from it.
type Entry struct {
	Tool gtool.Tool
	Spec model.ToolSpec
}

// Registry is the process-wide, name-keyed tool catalog. The zero value is
// not usable; construct with NewRegistry.
//
// Registration is serialized per name, the same per-key idiom runtimecache
// uses for its cache entries — two goroutines racing to register the same
// plugin name resolve to a single winner rather than a torn read.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty Registry. Call Register to seed it at process
// start (and optionally again per agent config).
func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds t under its own Name(), overwriting any existing
// registration for that name. Returns an error if t is nil or its name is
// empty.
func (r *Registry) Register(t gtool.Tool) error {
	if t == nil {
		return fmt.Errorf("tool: cannot register nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: cannot register tool with empty name")
	}

	spec := model.ToolSpec{Name: name}
	if d, ok := t.(Describer); ok {
		spec = d.Describe()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Tool: t, Spec: spec}
	return nil
}

// Get returns the registered tool for name, or ok=false if none is
// registered.
func (r *Registry) Get(name string) (gtool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.Tool, true
}

// Names returns every registered tool name, sorted for deterministic
// iteration (a prompt built from this list must be stable across runs with
// the same tool set).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns the model.ToolSpec for each name in names, skipping any name
// that isn't registered. Order follows names, not registration order, so
// callers can scope the tool list to config.AgentConfig.Tools directly.
func (r *Registry) Specs(names []string) []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]model.ToolSpec, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			specs = append(specs, e.Spec)
		}
	}
	return specs
}
