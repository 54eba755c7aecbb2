package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 64 * 1024
	eventBuffer    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
}

// socketFrame is an outbound chat socket message. Type is "answer" or
// "error".
type socketFrame struct {
	Type  string        `json:"type"`
	Reply *ChatResponse `json:"reply,omitempty"`
	Error string        `json:"error,omitempty"`
	Code  int           `json:"code,omitempty"`
}

// handleChatSocket runs chat turns over a WebSocket. Each inbound
// ChatRequest is answered with one frame. The socket stays on the
// thread of its first turn unless a message names another.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	p, _ := PrincipalFromContext(ctx)
	s.logger.Info("chat socket opened", "user", p.UserID, "role", p.Role)

	var threadID string
	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("chat socket closed", "user", p.UserID)
			} else {
				s.logger.Debug("chat socket read error", "user", p.UserID, "error", err)
			}
			return
		}
		if req.ThreadID == "" {
			req.ThreadID = threadID
		}

		frame := socketFrame{Type: "answer"}
		resp, err := s.runTurn(ctx, req)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			frame = socketFrame{Type: "error", Error: err.Error(), Code: statusFor(err)}
			if frame.Code == http.StatusInternalServerError {
				s.logger.Error("chat socket turn failed", "user", p.UserID, "error", err)
				frame.Error = "internal error"
			}
		default:
			threadID = resp.ThreadID
			reply := chatResponse(resp)
			frame.Reply = &reply
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Debug("chat socket write failed", "user", p.UserID, "error", err)
			return
		}
	}
}

// handleEvents streams dispatch events to an admin until the socket
// closes. Events are dropped for a slow reader rather than stalling
// the loop.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventBuffer)
	defer s.bus.Unsubscribe(ch)

	// The read side only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
