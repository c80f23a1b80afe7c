package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/subzero/internal/agent"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/llm"
)

// maxToolOutput caps each tool result in chat responses.
const maxToolOutput = 1000

// offlineReply is shown to the phone when the backend cannot be
// reached and the message could not be queued.
const offlineReply = "Ollama is offline. Run 'ollama serve' on your PC."

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ChatTool summarizes one executed tool call.
type ChatTool struct {
	Tool         string `json:"tool"`
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	NeedsConfirm bool   `json:"needs_confirm,omitempty"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	OK       bool       `json:"ok"`
	Response string     `json:"response"`
	HTML     string     `json:"html,omitempty"`
	Tools    []ChatTool `json:"tools"`
	Model    string     `json:"model"`
	Session  string     `json:"session"`
	// Queued is set when the backend was down and the message is
	// waiting in the bridge queue.
	Queued         bool `json:"queued,omitempty"`
	PendingConfirm bool `json:"pending_confirm,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":    true,
		"model": s.agent.Model(),
	}

	if s.bridge != nil {
		st := s.bridge.Status()
		resp["ollama"] = st.State == bridge.StateConnected
		resp["bridge"] = st
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		resp["ollama"] = s.agent.Ping(ctx) == nil
	}

	count := 0
	if s.exec != nil {
		count = s.exec.Registry().Len()
	}
	resp["tools"] = count > 0
	resp["tool_count"] = count

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// handleChat answers a phone message. When the bridge knows the
// backend is down the message is queued instead and delivered in the
// same session once the backend returns.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "No message")
		return
	}
	session := req.Session
	if session == "" {
		session = agent.DefaultSession
	}
	model := req.Model
	if model == "" {
		model = s.agent.Model()
	}

	if s.bridge != nil && s.bridge.State() == bridge.StateDisconnected {
		if s.bridge.SendSession(session, req.Message, nil) == bridge.OutcomeQueued {
			text := fmt.Sprintf("SubZero is offline. Your message is queued (%d waiting) and will be sent when Ollama is back.", s.bridge.QueueLen())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, ChatResponse{
				OK:       true,
				Response: text,
				Tools:    []ChatTool{},
				Model:    model,
				Session:  session,
				Queued:   true,
			}, s.logger)
			return
		}
	}

	reply, err := s.agent.Respond(r.Context(), agent.Request{
		Message: req.Message,
		Session: session,
		Model:   model,
	})
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		s.errorResponse(w, http.StatusBadRequest, "No message")
		return
	case errors.Is(err, llm.ErrUnreachable):
		s.errorResponse(w, http.StatusServiceUnavailable, offlineReply)
		return
	case err != nil:
		s.logger.Error("chat failed", "session", session, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "Error: "+err.Error())
		return
	}

	resp := ChatResponse{
		OK:             true,
		Response:       reply.Text,
		HTML:           s.renderMarkdown(reply.Text),
		Tools:          make([]ChatTool, 0, len(reply.Results)),
		Model:          reply.Model,
		Session:        reply.Session,
		PendingConfirm: reply.PendingConfirm,
	}
	for _, res := range reply.Results {
		resp.Tools = append(resp.Tools, ChatTool{
			Tool:         res.ToolName,
			Success:      res.Success,
			Output:       truncateRunes(res.Output, maxToolOutput),
			NeedsConfirm: res.NeedsConfirm,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session string `json:"session"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.agent.Clear(r.Context(), req.Session); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "clear: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"ok": true}, s.logger)
}

// handleHistory returns the stored turns of a session.
// GET /api/history?session=name&limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		session = agent.DefaultSession
	}
	turns, err := s.agent.History(r.Context(), session)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "history: "+err.Error())
		return
	}
	if limit := parseIntParam(r, "limit", 0); limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	if turns == nil {
		turns = []agent.Turn{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session": session,
		"turns":   turns,
	}, s.logger)
}

func (s *Server) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(text), &buf); err != nil {
		s.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
