package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a college registrar assistant."},
		{Role: "user", Content: "Hello!"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "What is my schedule?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a college registrar assistant." {
		t.Errorf("system = %q, want extracted system prompt", system)
	}
	if len(result) != 3 {
		t.Fatalf("got %d messages, want 3 (no system)", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("first role = %s, want user", result[0].Role)
	}
}

func TestConvertToAnthropic_FoldsToolResults(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "Show CS101 and my attendance."},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: ToolFunction{Name: "get_course_by_id", Arguments: map[string]any{"course_id": "CS101"}}},
				{ID: "toolu_2", Function: ToolFunction{Name: "get_my_attendance"}},
			},
		},
		{Role: "tool", Content: `{"status":"ok"}`, ToolCallID: "toolu_1"},
		{Role: "tool", Content: `{"status":"ok"}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("got %d messages, want 3 (user, assistant, folded tool results)", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 {
		t.Fatalf("assistant content = %#v, want 2 tool_use blocks", result[1].Content)
	}
	if blocks[1].Input == nil {
		t.Error("nil arguments should be sent as an empty object")
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool result content = %#v, want 2 tool_result blocks", result[2].Content)
	}
	if results[0].ToolUseID != "toolu_1" || results[1].ToolUseID != "toolu_2" {
		t.Errorf("tool_use_ids = %s, %s, want toolu_1, toolu_2", results[0].ToolUseID, results[1].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "get_course_by_id",
				"description": "Look up a course",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{"course_id": map[string]any{"type": "string"}},
				},
			},
		},
		{"broken": true},
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("got %d tools, want 1", len(result))
	}
	if result[0].Name != "get_course_by_id" {
		t.Errorf("name = %s, want get_course_by_id", result[0].Name)
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	tests := []struct {
		name        string
		content     []anthropicContent
		wantContent string
		wantParts   int
		wantCalls   int
	}{
		{
			name:        "single text block",
			content:     []anthropicContent{{Type: "text", Text: "Your next class is at 09:00."}},
			wantContent: "Your next class is at 09:00.",
		},
		{
			name: "text with tool use",
			content: []anthropicContent{
				{Type: "text", Text: "Let me check."},
				{Type: "tool_use", ID: "toolu_x", Name: "get_my_schedule", Input: map[string]any{}},
			},
			wantContent: "Let me check.",
			wantCalls:   1,
		},
		{
			name: "thinking then text keeps parts",
			content: []anthropicContent{
				{Type: "thinking", Thinking: "the user wants..."},
				{Type: "text", Text: "Done."},
			},
			wantParts: 2,
		},
		{
			name:      "empty content",
			content:   nil,
			wantParts: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertFromAnthropic(&anthropicResponse{Model: "claude", Role: "assistant", Content: tt.content})
			if got.Message.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", got.Message.Content, tt.wantContent)
			}
			if len(got.Message.Parts) != tt.wantParts {
				t.Errorf("len(Parts) = %d, want %d", len(got.Message.Parts), tt.wantParts)
			}
			if len(got.Message.ToolCalls) != tt.wantCalls {
				t.Errorf("len(ToolCalls) = %d, want %d", len(got.Message.ToolCalls), tt.wantCalls)
			}
		})
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", r.Header.Get("x-api-key"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.System != "sys" {
			t.Errorf("system = %q, want sys", req.System)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Model:   req.Model,
			Role:    "assistant",
			Content: []anthropicContent{{Type: "text", Text: "hello"}},
			Usage:   anthropicUsage{InputTokens: 12, OutputTokens: 3},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", nil)
	c.apiURL = srv.URL

	resp, err := c.Chat(context.Background(), "claude-sonnet-4-20250514", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Message.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 12/3", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_APIErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", nil)
	c.apiURL = srv.URL

	_, err := c.Chat(context.Background(), "claude", []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for 529")
	}
	if !IsTransient(err) {
		t.Errorf("IsTransient(%v) = false, want true", err)
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OllamaClient)(nil)
	var _ Client = (*MultiClient)(nil)
}
