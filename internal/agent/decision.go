package agent

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/registrar-ai/registrar/internal/llm"
)

// ErrNoTextContent is returned when the model ends its turn with
// neither text nor tool calls, for example only thinking blocks.
var ErrNoTextContent = errors.New("model returned no text content")

// Decision is what the model decided in one round: exactly one of
// Answer or ToolRequests.
type Decision interface {
	decision()
}

// Answer ends the turn with text for the user.
type Answer struct {
	Text string
}

// ToolRequests asks for tool executions before the model continues.
// Message is the assistant message to record, with every call carrying
// a unique id.
type ToolRequests struct {
	Message llm.Message
	Calls   []llm.ToolCall
}

func (Answer) decision()       {}
func (ToolRequests) decision() {}

// Decide classifies a model response. A message with tool calls is
// always a ToolRequests, even if it also carries text.
func Decide(msg llm.Message) (Decision, error) {
	if len(msg.ToolCalls) > 0 {
		calls := ensureCallIDs(msg.ToolCalls)
		msg.ToolCalls = calls
		return ToolRequests{Message: msg, Calls: calls}, nil
	}
	text, err := extractText(msg)
	if err != nil {
		return nil, err
	}
	return Answer{Text: text}, nil
}

// extractText returns the plain content if present, otherwise the first
// non-empty text part.
func extractText(msg llm.Message) (string, error) {
	if s := strings.TrimSpace(msg.Content); s != "" {
		return s, nil
	}
	for _, p := range msg.Parts {
		if p.Type != "text" {
			continue
		}
		if s := strings.TrimSpace(p.Text); s != "" {
			return s, nil
		}
	}
	return "", ErrNoTextContent
}

// ensureCallIDs returns a copy of calls in which every call has an id
// unique within the batch. Results are keyed by id, so a missing or
// repeated one would make two results indistinguishable.
func ensureCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = newCallID()
		}
		seen[tc.ID] = true
		out[i] = tc
	}
	return out
}

func newCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "call_" + uuid.NewString()
	}
	return "call_" + id.String()
}
