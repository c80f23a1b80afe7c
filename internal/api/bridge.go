package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nugget/subzero/internal/bridge"
)

// BridgeSendRequest is the body of POST /v1/bridge/send.
type BridgeSendRequest struct {
	Prompt string `json:"prompt"`
	// Wait holds the request open until a live dispatch completes.
	// Queued prompts never wait.
	Wait bool `json:"wait,omitempty"`
}

// BridgeSendResponse reports what the bridge did with a prompt.
type BridgeSendResponse struct {
	Outcome     bridge.Outcome `json:"outcome"`
	QueueLength int            `json:"queue_length"`
	Response    string         `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type sendResult struct {
	resp string
	err  error
}

func (s *Server) requireBridge(w http.ResponseWriter) bool {
	if s.bridge == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "bridge not configured")
		return false
	}
	return true
}

func (s *Server) handleBridgeSend(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var req BridgeSendRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.errorResponse(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var done chan sendResult
	var cb bridge.Callback
	if req.Wait {
		done = make(chan sendResult, 1)
		cb = func(resp string, err error) { done <- sendResult{resp, err} }
	}

	outcome := s.bridge.Send(req.Prompt, cb)
	resp := BridgeSendResponse{Outcome: outcome, QueueLength: s.bridge.QueueLen()}

	switch outcome {
	case bridge.OutcomeRejected:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		writeJSON(w, resp, s.logger)
		return
	case bridge.OutcomeQueued:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, resp, s.logger)
		return
	}

	if done != nil {
		select {
		case res := <-done:
			resp.Response = res.resp
			if res.err != nil {
				resp.Error = res.err.Error()
			}
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleBridgeRetry(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	delivered := s.bridge.RetryQueue(r.Context())
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"delivered": delivered,
		"remaining": s.bridge.QueueLen(),
	}, s.logger)
}

// handleBridgeCheck runs one heartbeat iteration immediately.
func (s *Server) handleBridgeCheck(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	s.bridge.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.bridge.Status(), s.logger)
}

func (s *Server) handleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.bridge.Status(), s.logger)
}

func (s *Server) handleBridgeQueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	prompts := s.bridge.Queue()
	if prompts == nil {
		prompts = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":   len(prompts),
		"max":     s.bridge.Status().MaxQueueSize,
		"prompts": prompts,
		"as_of":   time.Now().UTC(),
	}, s.logger)
}
