// Package api implements the HTTP and WebSocket surface of the agent
// gateway. Every conversational endpoint authenticates the caller from
// a bearer token and hands the verified identity to the dispatch loop.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/registrar-ai/registrar/internal/agent"
	"github.com/registrar-ai/registrar/internal/buildinfo"
	"github.com/registrar-ai/registrar/internal/connwatch"
	"github.com/registrar-ai/registrar/internal/conversation"
	"github.com/registrar-ai/registrar/internal/events"
	"github.com/registrar-ai/registrar/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	loop    *agent.Loop
	auth    *Authenticator
	runs    *agent.RunStore
	usage   *usage.Store
	bus     *events.Bus
	model   *connwatch.Watcher
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, auth *Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		auth:    auth,
		logger:  logger,
	}
}

// SetRunStore enables GET /v1/runs.
func (s *Server) SetRunStore(rs *agent.RunStore) {
	s.runs = rs
}

// SetUsageStore enables GET /v1/usage.
func (s *Server) SetUsageStore(us *usage.Store) {
	s.usage = us
}

// SetEventBus enables the /v1/events stream and thread lifecycle
// events.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetModelWatcher makes /health report model provider reachability.
func (s *Server) SetModelWatcher(w *connwatch.Watcher) {
	s.model = w
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /v1/chat/ws", s.requireAuth(s.handleChatSocket))

	mux.HandleFunc("GET /v1/threads", s.requireAuth(s.handleThreadList))
	mux.HandleFunc("GET /v1/threads/{id}", s.requireAuth(s.handleThreadGet))
	mux.HandleFunc("PATCH /v1/threads/{id}", s.requireAuth(s.handleThreadRename))
	mux.HandleFunc("DELETE /v1/threads/{id}", s.requireAuth(s.handleThreadDelete))

	mux.HandleFunc("GET /v1/tools", s.requireAuth(s.handleTools))

	// Admin introspection
	mux.HandleFunc("GET /v1/runs", s.requireAdmin(s.handleRunList))
	mux.HandleFunc("GET /v1/runs/{id}", s.requireAdmin(s.handleRunGet))
	mux.HandleFunc("GET /v1/usage", s.requireAdmin(s.handleUsage))
	mux.HandleFunc("GET /v1/events", s.requireAdmin(s.handleEvents))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// A chat turn can run several model rounds.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth always answers 200: chat turns still complete, with a
// degraded answer, while the model is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.model != nil {
		st := s.model.Status()
		if st.Checked && !st.Ready {
			body["status"] = "degraded"
		}
		body["model"] = st
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// ChatRequest is the body of POST /v1/chat. Identity is never read
// from the body.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChatResponse is the reply to a chat turn.
type ChatResponse struct {
	Answer   string `json:"answer"`
	ThreadID string `json:"thread_id"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.runTurn(r.Context(), req)
	if err != nil {
		s.domainError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.Reason == agent.ExhaustModelUnavailable {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, chatResponse(resp), s.logger)
}

// runTurn runs one chat turn as the request's principal.
func (s *Server) runTurn(ctx context.Context, req ChatRequest) (*agent.Response, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return s.loop.RunTurn(ctx, agent.Request{
		Role:     p.Role,
		CallerID: p.UserID,
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
}

func chatResponse(resp *agent.Response) ChatResponse {
	return ChatResponse{
		Answer:   resp.Answer,
		ThreadID: resp.ThreadID,
		Degraded: resp.Degraded,
		Reason:   resp.Reason,
		RunID:    resp.RunID,
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, conversation.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, conversation.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, conversation.ErrThreadNotFound), errors.Is(err, agent.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrRoleMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) domainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Info("client went away", "path", r.URL.Path)
		return
	}
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.errorResponse(w, code, "internal error")
		return
	}
	s.errorResponse(w, code, err.Error())
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleThreadList(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	threads, err := s.loop.Threads().Threads(r.Context(), p.UserID)
	if err != nil {
		s.logger.Error("list threads failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	if threads == nil {
		threads = []*conversation.Thread{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"threads": threads,
		"count":   len(threads),
	}, s.logger)
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	thread, turns, err := s.loop.Threads().Transcript(r.Context(), r.PathValue("id"), p.UserID)
	if err != nil {
		s.domainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"thread": thread,
		"turns":  turns,
	}, s.logger)
}

func (s *Server) handleThreadRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, _ := PrincipalFromContext(r.Context())
	if err := s.loop.Threads().Rename(r.Context(), r.PathValue("id"), p.UserID, body.Title); err != nil {
		s.domainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	id := r.PathValue("id")
	if err := s.loop.Threads().Delete(r.Context(), id, p.UserID); err != nil {
		s.domainError(w, r, err)
		return
	}
	s.bus.Emit(events.SourceAPI, events.KindThreadDeleted, map[string]any{"thread_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleTools returns the catalogue the caller's role is offered, as
// the model sees it.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	profile := s.loop.Resolver().CapabilitiesFor(p.Role)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"role":  profile.Role,
		"tools": profile.Registry.List(),
		"count": len(profile.Tools),
	}, s.logger)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	limit := parseIntParam(r, "limit", 50)
	runs, err := s.runs.List(r.Context(), r.URL.Query().Get("thread_id"), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []*agent.RunRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"runs":  runs,
		"count": len(runs),
	}, s.logger)
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	rec, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rec, s.logger)
}

// handleUsage reports token usage and cost over a trailing window,
// given as ?hours=N (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage store not configured")
		return
	}

	// Timestamps are stored at second precision; round the window end
	// up so calls made this second are included.
	end := time.Now().Truncate(time.Second).Add(time.Second)
	start := end.Add(-time.Duration(parseIntParam(r, "hours", 24)) * time.Hour)
	ctx := r.Context()

	total, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.domainError(w, r, err)
		return
	}
	byRole, err := s.usage.SummaryByRole(ctx, start, end)
	if err != nil {
		s.domainError(w, r, err)
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.domainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start":    start.UTC(),
		"end":      end.UTC(),
		"total":    total,
		"by_role":  byRole,
		"by_model": byModel,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
