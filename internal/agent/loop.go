// Package agent implements the dispatch loop: it alternates between a
// model call and execution of the tools the model requests until the
// model answers, persisting every step to the caller's thread.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/registrar-ai/registrar/internal/config"
	"github.com/registrar-ai/registrar/internal/conversation"
	"github.com/registrar-ai/registrar/internal/events"
	"github.com/registrar-ai/registrar/internal/llm"
	"github.com/registrar-ai/registrar/internal/prompts"
	"github.com/registrar-ai/registrar/internal/roles"
	"github.com/registrar-ai/registrar/internal/tools"
	"github.com/registrar-ai/registrar/internal/usage"
)

// ErrEmptyMessage is returned for a turn without user text.
var ErrEmptyMessage = errors.New("message is empty")

// State is a dispatch loop state.
type State int

const (
	AwaitingModel State = iota
	ModelResponded
	AwaitingTools
	ToolsExecuted
	Terminal
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "AWAITING_MODEL"
	case ModelResponded:
		return "MODEL_RESPONDED"
	case AwaitingTools:
		return "AWAITING_TOOLS"
	case ToolsExecuted:
		return "TOOLS_EXECUTED"
	case Terminal:
		return "TERMINAL"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Request is one inbound chat turn.
type Request struct {
	Role     string `json:"role"`
	CallerID string `json:"caller_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// Response is the terminal outcome of a turn.
type Response struct {
	Answer   string `json:"answer"`
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	Model    string `json:"model"`
	Rounds   int    `json:"rounds"`
	Degraded bool   `json:"degraded"`
	// Reason is set on degraded responses: max_rounds or
	// model_unavailable.
	Reason string `json:"reason,omitempty"`
}

// Config bounds the loop.
type Config struct {
	Model           string
	MaxRounds       int
	LLMTimeout      time.Duration
	LLMRetries      int
	RetryBackoff    time.Duration
	ToolTimeout     time.Duration
	ToolRetries     int
	ToolConcurrency int
}

// ConfigFrom extracts loop settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Model:           c.Models.Default,
		MaxRounds:       c.Agent.MaxRounds,
		LLMTimeout:      c.Agent.LLMTimeout,
		LLMRetries:      c.Agent.LLMRetries,
		RetryBackoff:    c.Agent.RetryBackoff,
		ToolTimeout:     c.Agent.ToolTimeout,
		ToolRetries:     c.Agent.ToolRetries,
		ToolConcurrency: c.Agent.ToolConcurrency,
	}
}

// Loop runs chat turns. It holds no per-request state and is safe for
// concurrent use.
type Loop struct {
	logger   *slog.Logger
	llm      llm.Client
	resolver *roles.Resolver
	threads  *conversation.Manager
	exec     *Executor
	cfg      Config

	runs     *RunStore
	usage    *usage.Store
	pricing  map[string]config.PricingEntry
	provider string
	bus      *events.Bus
}

// NewLoop creates a dispatch loop.
func NewLoop(logger *slog.Logger, client llm.Client, resolver *roles.Resolver, threads *conversation.Manager, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 15
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 45 * time.Second
	}
	return &Loop{
		logger:   logger,
		llm:      client,
		resolver: resolver,
		threads:  threads,
		cfg:      cfg,
		exec: NewExecutor(logger, nil, ExecutorConfig{
			Concurrency: cfg.ToolConcurrency,
			Timeout:     cfg.ToolTimeout,
			Retries:     cfg.ToolRetries,
			Backoff:     cfg.RetryBackoff,
		}),
	}
}

// SetRunStore enables the run audit trail.
func (l *Loop) SetRunStore(s *RunStore) { l.runs = s }

// SetUsageStore enables per-call token accounting.
func (l *Loop) SetUsageStore(s *usage.Store, provider string, pricing map[string]config.PricingEntry) {
	l.usage = s
	l.provider = provider
	l.pricing = pricing
}

// SetEventBus publishes loop transitions to bus.
func (l *Loop) SetEventBus(bus *events.Bus) {
	l.bus = bus
	l.exec.bus = bus
}

// Threads returns the thread manager the loop writes to.
func (l *Loop) Threads() *conversation.Manager { return l.threads }

// Resolver returns the capability resolver.
func (l *Loop) Resolver() *roles.Resolver { return l.resolver }

// turn is the state of one RunTurn call.
type turn struct {
	runID    string
	profile  *roles.Profile
	identity tools.Identity
	thread   *conversation.Thread
	messages []llm.Message
	start    time.Time

	round    int
	resp     *llm.ChatResponse
	pending  ToolRequests
	results  []Result
	answer   string
	degraded string

	// afterTools is set while the newest messages are tool results
	// the model has not seen. wrapUp marks the answer-only call made
	// once the round cap is reached.
	afterTools bool
	wrapUp     bool

	toolCalls    int
	toolErrors   int
	toolsCalled  map[string]int
	inputTokens  int
	outputTokens int
}

// RunTurn processes one user message for the caller and returns the
// terminal answer. A new thread is created when req.ThreadID is empty.
//
// At most cfg.MaxRounds model rounds may request tools. When the last
// permitted round requested tools, their results are sent back once
// more with no tools on offer so the model can answer from them; a
// further tool request then ends the turn with the round-cap answer.
//
// Cancellation of ctx is checked before each model call. A model call
// in flight uses ctx too, so a client disconnect aborts it; nothing
// from that call has been recorded yet and the run is marked
// cancelled. Tool calls already started are allowed to finish and
// their results are recorded.
func (l *Loop) RunTurn(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	profile := l.resolver.CapabilitiesFor(req.Role)
	identity := tools.Identity{CallerID: req.CallerID, Role: string(profile.Role)}

	thread, history, err := l.threads.Open(ctx, req.ThreadID, req.CallerID, string(profile.Role), profile.PromptFor(identity))
	if err != nil {
		return nil, err
	}
	userTurns, err := l.threads.Append(ctx, thread.ID, conversation.Turn{Speaker: conversation.User, Content: req.Message})
	if err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}
	l.threads.TitleFromFirstMessage(ctx, thread, req.Message)

	runUUID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	t := &turn{
		runID:       runUUID.String(),
		profile:     profile,
		identity:    identity,
		thread:      thread,
		messages:    conversation.ToMessages(append(history, userTurns...)),
		start:       time.Now(),
		toolsCalled: make(map[string]int),
	}
	ctx = withRunID(tools.WithConversationID(ctx, thread.ID), t.runID)
	// Persistence after this point must survive a client disconnect.
	persistCtx := context.WithoutCancel(ctx)

	l.logger.Info("turn started",
		"run_id", t.runID,
		"thread", thread.ID,
		"role", profile.Role,
		"tools", len(profile.Tools),
		"history", len(history))
	l.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"run_id":    t.runID,
		"thread_id": thread.ID,
		"role":      string(profile.Role),
	})

	catalogue := profile.Registry.List()
	state := AwaitingModel
	for state != Terminal {
		l.logger.Log(ctx, config.LevelTrace, "dispatch state", "run_id", t.runID, "state", state, "round", t.round)

		switch state {
		case AwaitingModel:
			// Checked between rounds, once the previous round's
			// results are recorded.
			if err := ctx.Err(); err != nil {
				return nil, l.cancelled(persistCtx, t, err)
			}
			offered := catalogue
			if t.round >= l.cfg.MaxRounds {
				if !t.afterTools || t.wrapUp {
					l.capReached(t)
					state = Terminal
					continue
				}
				// The last round's results still need a reply; ask
				// once more with no tools on offer.
				l.logger.Info("round cap reached, requesting final answer",
					"run_id", t.runID,
					"thread", thread.ID,
					"max_rounds", l.cfg.MaxRounds)
				t.wrapUp = true
				offered = nil
			}
			resp, err := l.complete(ctx, t, offered)
			if err != nil {
				if ctx.Err() != nil {
					return nil, l.cancelled(persistCtx, t, ctx.Err())
				}
				l.logger.Warn("model unavailable, returning degraded answer",
					"run_id", t.runID,
					"round", t.round,
					"error", err)
				t.answer = prompts.ModelUnavailableAnswer
				t.degraded = ExhaustModelUnavailable
				state = Terminal
				continue
			}
			if !t.wrapUp {
				t.round++
			}
			t.afterTools = false
			t.resp = resp
			state = ModelResponded

		case ModelResponded:
			decision, err := Decide(t.resp.Message)
			if err != nil {
				l.logger.Warn("model reply had no text, nudging",
					"run_id", t.runID,
					"round", t.round,
					"parts", len(t.resp.Message.Parts))
				t.messages = append(t.messages, llm.Message{Role: conversation.User, Content: prompts.NoTextNudge})
				state = AwaitingModel
				continue
			}
			switch d := decision.(type) {
			case Answer:
				t.answer = d.Text
				state = Terminal
			case ToolRequests:
				if t.wrapUp {
					l.capReached(t)
					state = Terminal
					continue
				}
				t.pending = d
				state = AwaitingTools
			}

		case AwaitingTools:
			t.results = l.exec.Execute(ctx, profile.Registry, identity, t.pending.Calls)
			state = ToolsExecuted

		case ToolsExecuted:
			batch := make([]conversation.Turn, 0, len(t.results)+1)
			batch = append(batch, conversation.FromMessage(t.pending.Message))
			for _, r := range t.results {
				batch = append(batch, conversation.FromMessage(r.Message()))
				t.toolCalls++
				t.toolsCalled[r.Tool]++
				if r.Status == StatusError {
					t.toolErrors++
				}
			}
			if _, err := l.threads.Append(persistCtx, thread.ID, batch...); err != nil {
				return nil, l.failed(persistCtx, t, fmt.Errorf("record tool results: %w", err))
			}
			t.messages = append(t.messages, conversation.ToMessages(batch)...)
			t.pending, t.results = ToolRequests{}, nil
			t.afterTools = true
			state = AwaitingModel
		}
	}

	if _, err := l.threads.Append(persistCtx, thread.ID, conversation.Turn{Speaker: conversation.Assistant, Content: t.answer}); err != nil {
		return nil, l.failed(persistCtx, t, fmt.Errorf("record answer: %w", err))
	}
	l.finish(persistCtx, t, "")

	return &Response{
		Answer:   t.answer,
		ThreadID: thread.ID,
		RunID:    t.runID,
		Model:    l.cfg.Model,
		Rounds:   t.round,
		Degraded: t.degraded != "",
		Reason:   t.degraded,
	}, nil
}

// capReached ends the turn with the degraded round-cap answer.
func (l *Loop) capReached(t *turn) {
	l.logger.Warn("round cap reached, returning degraded answer",
		"run_id", t.runID,
		"thread", t.thread.ID,
		"max_rounds", l.cfg.MaxRounds,
		"tool_calls", t.toolCalls)
	t.answer = prompts.RoundCapAnswer(l.cfg.MaxRounds)
	t.degraded = ExhaustMaxRounds
}

// complete makes one model call, retrying transient failures with
// exponential backoff. Each attempt gets its own timeout.
func (l *Loop) complete(ctx context.Context, t *turn, catalogue []map[string]any) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.LLMRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryBackoff << (attempt - 1)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"run_id":  t.runID,
			"round":   t.round,
			"model":   l.cfg.Model,
			"attempt": attempt + 1,
		})
		callStart := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.LLMTimeout)
		resp, err := l.llm.Chat(callCtx, l.cfg.Model, t.messages, catalogue)
		cancel()
		if err == nil {
			l.recordUsage(ctx, t, resp)
			l.logger.Info("llm response",
				"run_id", t.runID,
				"round", t.round,
				"model", l.cfg.Model,
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
				"tool_calls", len(resp.Message.ToolCalls),
				"elapsed", time.Since(callStart).Round(time.Millisecond))
			l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
				"run_id":     t.runID,
				"round":      t.round,
				"model":      l.cfg.Model,
				"tokens_in":  resp.InputTokens,
				"tokens_out": resp.OutputTokens,
				"tool_calls": len(resp.Message.ToolCalls),
			})
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !llm.IsTransient(err) {
			break
		}
		l.logger.Warn("llm call failed",
			"run_id", t.runID,
			"round", t.round,
			"attempt", attempt+1,
			"max_attempts", l.cfg.LLMRetries+1,
			"error", err)
	}
	return nil, lastErr
}

func (l *Loop) recordUsage(ctx context.Context, t *turn, resp *llm.ChatResponse) {
	t.inputTokens += resp.InputTokens
	t.outputTokens += resp.OutputTokens
	if l.usage == nil {
		return
	}
	rec := usage.Record{
		RunID:        t.runID,
		ThreadID:     t.thread.ID,
		CallerID:     t.identity.CallerID,
		Role:         t.identity.Role,
		Round:        t.round,
		Model:        l.cfg.Model,
		Provider:     l.provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      usage.ComputeCost(l.cfg.Model, resp.InputTokens, resp.OutputTokens, l.pricing),
	}
	if err := l.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record usage", "run_id", t.runID, "error", err)
	}
}

func (l *Loop) cancelled(ctx context.Context, t *turn, cause error) error {
	t.degraded = ExhaustCancelled
	l.logger.Info("turn cancelled", "run_id", t.runID, "thread", t.thread.ID, "round", t.round)
	l.finish(ctx, t, cause.Error())
	return fmt.Errorf("turn cancelled: %w", cause)
}

func (l *Loop) failed(ctx context.Context, t *turn, err error) error {
	l.logger.Error("turn failed", "run_id", t.runID, "thread", t.thread.ID, "error", err)
	l.finish(ctx, t, err.Error())
	return err
}

// finish logs, publishes and persists the run record.
func (l *Loop) finish(ctx context.Context, t *turn, errMsg string) {
	now := time.Now()
	elapsed := now.Sub(t.start)

	l.logger.Info("turn completed",
		"run_id", t.runID,
		"thread", t.thread.ID,
		"role", t.identity.Role,
		"rounds", t.round,
		"tool_calls", t.toolCalls,
		"tool_errors", t.toolErrors,
		"input_tokens", t.inputTokens,
		"output_tokens", t.outputTokens,
		"degraded", t.degraded,
		"elapsed", elapsed.Round(time.Millisecond))
	l.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"run_id":         t.runID,
		"thread_id":      t.thread.ID,
		"rounds":         t.round,
		"degraded":       t.degraded != "",
		"exhaust_reason": t.degraded,
		"elapsed_ms":     elapsed.Milliseconds(),
	})

	if l.runs == nil {
		return
	}
	rec := &RunRecord{
		ID:            t.runID,
		ThreadID:      t.thread.ID,
		CallerID:      t.identity.CallerID,
		Role:          t.identity.Role,
		Model:         l.cfg.Model,
		Rounds:        t.round,
		MaxRounds:     l.cfg.MaxRounds,
		ToolCalls:     t.toolCalls,
		ToolErrors:    t.toolErrors,
		InputTokens:   t.inputTokens,
		OutputTokens:  t.outputTokens,
		Degraded:      t.degraded != "",
		ExhaustReason: t.degraded,
		Answer:        t.answer,
		StartedAt:     t.start,
		CompletedAt:   now,
		DurationMs:    elapsed.Milliseconds(),
		Error:         errMsg,
	}
	if len(t.toolsCalled) > 0 {
		rec.ToolsCalled = t.toolsCalled
	}
	if err := l.runs.Record(ctx, rec); err != nil {
		l.logger.Warn("failed to persist run record", "run_id", t.runID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
