package agent

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/registrar-ai/registrar/internal/college"
	"github.com/registrar-ai/registrar/internal/conversation"
	"github.com/registrar-ai/registrar/internal/llm"
	"github.com/registrar-ai/registrar/internal/roles"
	"github.com/registrar-ai/registrar/internal/tools"

	_ "modernc.org/sqlite"
)

type mockCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
}

// mockLLM replays scripted responses and records every call. When
// script is set it is consulted instead of responses.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	script    func(n int) (*llm.ChatResponse, error)
	calls     []mockCall
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, defs []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Model: model, Messages: slices.Clone(msgs), Tools: defs})
	n := len(m.calls) - 1
	if m.script != nil {
		return m.script(n)
	}
	if n < len(m.errs) && m.errs[n] != nil {
		return nil, m.errs[n]
	}
	if n >= len(m.responses) {
		return nil, fmt.Errorf("mock: unexpected call %d", n)
	}
	return m.responses[n], nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockLLM) call(t *testing.T, i int) mockCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.calls) {
		t.Fatalf("call %d not made (%d calls)", i, len(m.calls))
	}
	return m.calls[i]
}

// blockingLLM never answers; it returns when the call context ends.
type blockingLLM struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingLLM) Chat(ctx context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingLLM) Ping(context.Context) error { return nil }

func textResponse(s string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: "assistant", Content: s},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: "assistant", ToolCalls: calls},
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return llm.ToolCall{ID: id, Function: llm.ToolFunction{Name: name, Arguments: args}}
}

func testConfig() Config {
	return Config{
		Model:           "test-model",
		MaxRounds:       5,
		LLMTimeout:      5 * time.Second,
		LLMRetries:      2,
		RetryBackoff:    time.Millisecond,
		ToolTimeout:     5 * time.Second,
		ToolRetries:     2,
		ToolConcurrency: 4,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	loop    *Loop
	store   *college.Store
	demo    *college.Demo
	threads *conversation.Manager
	runs    *RunStore
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, client llm.Client, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := college.NewStore(db)
	if err != nil {
		t.Fatalf("college store: %v", err)
	}
	demo, err := store.SeedDemo(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg := tools.NewRegistry(logger)
	if err := reg.RegisterCollegeTools(store); err != nil {
		t.Fatalf("RegisterCollegeTools: %v", err)
	}
	reg.Freeze()
	resolver, err := roles.NewResolver(reg, logger)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	convStore, err := conversation.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("conversation store: %v", err)
	}
	threads := conversation.NewManager(convStore, logger)

	runs, err := NewRunStore(db)
	if err != nil {
		t.Fatalf("run store: %v", err)
	}

	loop := NewLoop(logger, client, resolver, threads, cfg)
	loop.SetRunStore(runs)
	return &testEnv{loop: loop, store: store, demo: demo, threads: threads, runs: runs, logs: &logs}
}

// toolMessages returns the tool-result messages of a call, in order.
func toolMessages(msgs []llm.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		if m.Role == "tool" {
			out = append(out, m)
		}
	}
	return out
}

type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func decodeEnvelope(t *testing.T, content string) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		t.Fatalf("decode tool content %q: %v", content, err)
	}
	return env
}

func toolNames(defs []map[string]any) []string {
	var names []string
	for _, d := range defs {
		fn, _ := d["function"].(map[string]any)
		name, _ := fn["name"].(string)
		names = append(names, name)
	}
	return names
}
