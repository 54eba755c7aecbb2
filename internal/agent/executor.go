package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/registrar-ai/registrar/internal/events"
	"github.com/registrar-ai/registrar/internal/llm"
	"github.com/registrar-ai/registrar/internal/tools"
	"golang.org/x/sync/errgroup"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the outcome of one tool call. Every requested call yields
// exactly one Result.
type Result struct {
	CallID   string        `json:"call_id"`
	Tool     string        `json:"tool"`
	Status   string        `json:"status"`
	Payload  string        `json:"payload"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Content renders the result as the tool message content fed back to
// the model. A JSON payload is embedded as-is; anything else as a
// string.
func (r Result) Content() string {
	env := map[string]any{"status": r.Status}
	key := "result"
	if r.Status == StatusError {
		key = "error"
	}
	if json.Valid([]byte(r.Payload)) {
		env[key] = json.RawMessage(r.Payload)
	} else {
		env[key] = r.Payload
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Sprintf(`{"status":%q}`, r.Status)
	}
	return string(b)
}

// Message converts the result to a tool message keyed by call id.
func (r Result) Message() llm.Message {
	return llm.Message{Role: "tool", Content: r.Content(), ToolCallID: r.CallID}
}

// ExecutorConfig bounds tool execution.
type ExecutorConfig struct {
	Concurrency int
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
}

// Executor runs the tool calls of one model turn.
type Executor struct {
	logger *slog.Logger
	bus    *events.Bus
	cfg    ExecutorConfig
}

// NewExecutor creates an executor. Zero config values fall back to a
// serial executor without retries or timeout.
func NewExecutor(logger *slog.Logger, bus *events.Bus, cfg ExecutorConfig) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{logger: logger, bus: bus, cfg: cfg}
}

// Execute runs calls against reg on behalf of id and returns one result
// per call, in call order. Calls run concurrently up to the configured
// limit.
//
// Calls run detached from ctx's cancellation so a client disconnect
// cannot interrupt a write halfway; each call is bounded by the tool
// timeout instead.
func (e *Executor) Execute(ctx context.Context, reg *tools.Registry, id tools.Identity, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, tc := range calls {
		g.Go(func() error {
			results[i] = e.run(detached, reg, id, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) run(ctx context.Context, reg *tools.Registry, id tools.Identity, tc llm.ToolCall) Result {
	start := time.Now()
	res := Result{CallID: tc.ID, Tool: tc.Function.Name}
	runID := runIDFromContext(ctx)

	e.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"run_id":  runID,
		"tool":    tc.Function.Name,
		"call_id": tc.ID,
	})

	retries := 0
	if t, err := reg.Resolve(tc.Function.Name); err == nil && t.SideEffect == tools.Read {
		retries = e.cfg.Retries
	}

	var (
		out string
		err error
	)
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1
		out, err = e.attempt(ctx, reg, id, tc)
		if err == nil || attempt >= retries || !tools.Retryable(err) {
			break
		}
		delay := e.cfg.Backoff << attempt
		e.logger.Warn("tool failed, retrying",
			"tool", tc.Function.Name,
			"call_id", tc.ID,
			"attempt", res.Attempts,
			"delay", delay,
			"error", err)
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusError
		res.Payload = err.Error()
		e.logger.Warn("tool failed",
			"tool", tc.Function.Name,
			"call_id", tc.ID,
			"attempts", res.Attempts,
			"error", err)
	} else {
		res.Status = StatusOK
		res.Payload = out
		e.logger.Debug("tool done",
			"tool", tc.Function.Name,
			"call_id", tc.ID,
			"result_len", len(out),
			"elapsed", res.Duration.Round(time.Millisecond))
	}

	e.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"run_id":      runID,
		"tool":        tc.Function.Name,
		"call_id":     tc.ID,
		"ok":          err == nil,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res
}

// attempt runs the tool once. A panicking handler becomes an error.
func (e *Executor) attempt(ctx context.Context, reg *tools.Registry, id tools.Identity, tc llm.ToolCall) (out string, err error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tc.Function.Name, r)
		}
	}()

	return reg.Execute(ctx, tc.Function.Name, tc.Function.Arguments, id)
}
