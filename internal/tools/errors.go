package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned (wrapped) when a tool call names a tool
// that no one registered, typically a name the model invented.
var ErrUnknownTool = errors.New("unknown tool")

// ErrToolUnavailable is returned when a tool call targets a tool that
// exists in the full catalogue but is not part of the caller's
// capability set. Executing it is refused; the model is told so and
// can pick another tool.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ArgumentError reports model-proposed arguments that do not satisfy
// the tool's input schema.
type ArgumentError struct {
	Tool     string
	Problems []string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Retryable reports whether a failed tool execution may succeed if run
// again unchanged. Argument, lookup and capability errors never do.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var argErr *ArgumentError
	var unavail *ErrToolUnavailable
	if errors.As(err, &argErr) || errors.As(err, &unavail) || errors.Is(err, ErrUnknownTool) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	// SQLite reports lock contention only through the message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
