// Command agentrtd is a runnable example dispatcher: it registers one demo
// agent in an in-memory store and drives it from stdin, printing every
// emit.Event as it streams back. It exercises dispatcher.Dispatcher end to
// end; see examples/interactive for a scripted single-turn walkthrough.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/corvusagent/agentrt/agentstate"
	"github.com/corvusagent/agentrt/config"
	"github.com/corvusagent/agentrt/dispatcher"
	"github.com/corvusagent/agentrt/graph"
	"github.com/corvusagent/agentrt/graph/emit"
	gstore "github.com/corvusagent/agentrt/graph/store"
	gtool "github.com/corvusagent/agentrt/graph/tool"
	"github.com/corvusagent/agentrt/graph/model"
	"github.com/corvusagent/agentrt/graph/model/anthropic"
	"github.com/corvusagent/agentrt/graph/model/openai"
	"github.com/corvusagent/agentrt/storage"
	"github.com/corvusagent/agentrt/tool"
)

const (
	demoAgentID = "agentrtd-demo"
	demoUserID  = "local-operator"
)

// chatModelFor resolves a model.ChatModel for an agent's config. A real
// deployment would branch on cfg.Graph.ModelRefs per node role; this demo
// shares one model across every role, selected by which provider API key is
// present, falling back to a scripted MockChatModel so the binary runs with
// no credentials configured at all.
func chatModelFor(cfg *config.AgentConfig) (model.ChatModel, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return anthropic.NewChatModel(key, cfg.Graph.ModelRefs["executor"]), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return openai.NewChatModel(key, cfg.Graph.ModelRefs["executor"]), nil
	}
	// Scripted turns: the planner's one-step plan, the executor ending its
	// step, then the verifier's verdict (repeated for any further calls).
	return &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "1. look into the request"},
		{ToolCalls: []model.ToolCall{{Name: tool.EndTaskName, Input: map[string]interface{}{}}}},
		{Text: "completed"},
	}}, nil
}

// checkpointStore resolves the engine's per-step checkpoint backend from
// the environment: AGENTRT_SQLITE names a SQLite database file,
// AGENTRT_MYSQL_DSN a MySQL DSN. With neither set it returns nil and the
// dispatcher falls back to its in-memory default.
func checkpointStore() (gstore.Store[agentstate.GraphState], func(), error) {
	if path := os.Getenv("AGENTRT_SQLITE"); path != "" {
		s, err := gstore.NewSQLiteStore[agentstate.GraphState](path)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Checkpointing to SQLite at %s\n", path)
		return s, func() { _ = s.Close() }, nil
	}
	if dsn := os.Getenv("AGENTRT_MYSQL_DSN"); dsn != "" {
		s, err := gstore.NewMySQLStore[agentstate.GraphState](dsn)
		if err != nil {
			return nil, nil, err
		}
		fmt.Println("Checkpointing to MySQL")
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, nil
}

func main() {
	fmt.Println("=== agentrtd: agent graph execution engine demo ===")
	fmt.Println()
	if os.Getenv("ANTHROPIC_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
		fmt.Println("No ANTHROPIC_API_KEY or OPENAI_API_KEY set: falling back to a scripted mock model.")
	}
	fmt.Println("Type a message and press Enter. Ctrl-D to exit.")
	fmt.Println()

	store := storage.NewInMemoryStorage(nil)
	registry := tool.NewRegistry()
	for _, t := range []gtool.Tool{tool.EndTaskTool{}, tool.CalculatorTool{}, tool.NewHTTPRequestTool()} {
		if err := registry.Register(t); err != nil {
			fmt.Fprintf(os.Stderr, "register %s: %v\n", t.Name(), err)
			os.Exit(1)
		}
	}

	cfg := config.New(demoAgentID, demoUserID, config.ModeAutonomous,
		config.WithMaxGraphSteps(12),
	)
	store.RegisterAgent(demoAgentID, demoUserID, cfg)

	// AGENTRT_METRICS_ADDR exposes the Prometheus registry over HTTP (e.g.
	// ":9090"); AGENTRT_TRACE=1 tees every engine event into an
	// OTelEmitter against the globally configured tracer provider.
	promRegistry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(promRegistry)
	if addr := os.Getenv("AGENTRT_METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics listener: %v\n", err)
			}
		}()
		fmt.Printf("Serving Prometheus metrics on %s/metrics\n", addr)
	}

	var extraEmitter emit.Emitter
	if os.Getenv("AGENTRT_TRACE") == "1" {
		extraEmitter = emit.NewOTelEmitter(otel.Tracer("agentrt"))
	}

	// AGENTRT_SQLITE (a file path) or AGENTRT_MYSQL_DSN selects a durable
	// checkpoint backend; without either, checkpoints live in memory and
	// die with the process.
	engineStore, closeStore, err := checkpointStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	if closeStore != nil {
		defer closeStore()
	}

	d, err := dispatcher.New(dispatcher.Deps{
		Storage:      store,
		Registry:     registry,
		ChatModelFor: chatModelFor,
		Store:        engineStore,
		Metrics:      metrics,
		Emitter:      extraEmitter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "construct dispatcher: %v\n", err)
		os.Exit(1)
	}

	threadID := demoAgentID + "-thread-1"
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		content := strings.TrimSpace(scanner.Text())
		if content == "" {
			continue
		}

		events, err := d.Execute(ctx, demoAgentID, demoUserID, dispatcher.Request{
			Content:  content,
			ThreadID: threadID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "execute: %v\n", err)
			continue
		}
		for e := range events {
			fmt.Printf("  [%s] %s\n", e.NodeID, e.Msg)
		}

		summary, err := d.GetState(demoAgentID, threadID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get_state: %v\n", err)
			continue
		}
		fmt.Printf("state: last_node=%s tasks=%d error=%v\n\n", summary.LastNode, summary.TaskCount, summary.Error)
	}
}
