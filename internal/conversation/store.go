// Package conversation holds the ordered, append-only turn log of each
// thread and the rules for starting and resuming one.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/registrar-ai/registrar/internal/llm"
)

var (
	// ErrThreadNotFound is returned when a thread id does not exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrNotOwner is returned when a caller touches someone else's thread.
	ErrNotOwner = errors.New("thread belongs to another user")
	// ErrRoleMismatch is returned when a thread is resumed under a role
	// other than the one it was started with.
	ErrRoleMismatch = errors.New("thread was started under a different role")
	// ErrEmptyTitle is returned when renaming a thread to blank text.
	ErrEmptyTitle = errors.New("title must not be empty")
)

// DefaultTitle names a thread until its first user message arrives.
const DefaultTitle = "New Conversation"

// Speakers.
const (
	System    = "system"
	User      = "user"
	Assistant = "assistant"
	Tool      = "tool"
)

// systemSeq is reserved for the system turn. Appended turns start at 1,
// so the system turn always sorts first and can be inserted at most
// once per thread.
const systemSeq = 0

// Turn is one entry in a thread's log.
type Turn struct {
	ThreadID   string         `json:"thread_id"`
	Seq        int            `json:"seq"`
	Speaker    string         `json:"speaker"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Thread is the metadata of one conversation.
type Thread struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Role      string    `json:"role"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists threads and their turns. Append must assign sequence
// numbers atomically: concurrent appends to one thread never interleave
// within a batch or skip a number.
type Store interface {
	CreateThread(ctx context.Context, ownerID, role, title string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, ownerID string) ([]*Thread, error)
	RenameThread(ctx context.Context, id, title string) error
	DeleteThread(ctx context.Context, id string) error

	// Load returns the thread's turns in sequence order.
	Load(ctx context.Context, threadID string) ([]Turn, error)
	// Append stores turns as one batch and returns them with their
	// assigned sequence numbers.
	Append(ctx context.Context, threadID string, turns ...Turn) ([]Turn, error)
	// EnsureSystem stores the system turn unless the thread has one and
	// reports whether it was inserted.
	EnsureSystem(ctx context.Context, threadID, content string) (bool, error)
}

// ToMessages converts turns to the message form the LLM client takes.
func ToMessages(turns []Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{
			Role:       t.Speaker,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return out
}

// FromMessage converts an LLM message to an unsequenced turn.
func FromMessage(m llm.Message) Turn {
	return Turn{
		Speaker:    m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}
