package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/subzero/internal/toolcall"
	"github.com/nugget/subzero/internal/tools"
)

// ToolExecuteRequest is the body of POST /v1/tools/execute.
type ToolExecuteRequest struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	// Confirm approves a Confirm-tier tool for this one call.
	Confirm bool `json:"confirm,omitempty"`
}

func (s *Server) requireExecutor(w http.ResponseWriter) bool {
	if s.exec == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return false
	}
	return true
}

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	if !s.requireExecutor(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"auto_trade": s.exec.AutoTrade(),
		"tools":      s.exec.Registry().List(),
	}, s.logger)
}

// handleToolLog returns recent executions, newest last.
// GET /v1/tools/log?limit=50&tool=run_command
func (s *Server) handleToolLog(w http.ResponseWriter, r *http.Request) {
	if !s.requireExecutor(w) {
		return
	}
	name := r.URL.Query().Get("tool")
	limit := parseIntParam(r, "limit", 50)

	entries := make([]tools.LogEntry, 0)
	for _, e := range s.exec.Log() {
		if name == "" || e.Tool == name {
			entries = append(entries, e)
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":   len(entries),
		"entries": entries,
	}, s.logger)
}

func (s *Server) handleToolPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.requireExecutor(w) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(s.exec.Registry().SystemPrompt())); err != nil {
		s.logger.Debug("failed to write tool prompt", "error", err)
	}
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	if !s.requireExecutor(w) {
		return
	}
	var req ToolExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	res := s.exec.Execute(r.Context(), toolcall.Call{Name: req.Name, Params: req.Params}, req.Confirm)

	code := http.StatusOK
	switch {
	case errors.Is(res.Err, tools.ErrUnknownTool):
		code = http.StatusNotFound
	case res.NeedsConfirm:
		code = http.StatusForbidden
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, res, s.logger)
}

// handleAutoTrade toggles the trading confirmation carve-out.
// PUT /v1/tools/auto-trade {"enabled": true}
func (s *Server) handleAutoTrade(w http.ResponseWriter, r *http.Request) {
	if !s.requireExecutor(w) {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		s.errorResponse(w, http.StatusBadRequest, "enabled is required")
		return
	}
	s.exec.SetAutoTrade(*req.Enabled)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"auto_trade": s.exec.AutoTrade()}, s.logger)
}
