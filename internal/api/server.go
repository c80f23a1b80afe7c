// Package api implements the SubZero HTTP API: the phone chat
// endpoints, bridge control, tool execution and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/subzero/internal/agent"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/buildinfo"
	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

const maxBodyBytes = 1 << 20

// RouteRegistrar mounts additional routes, such as the web UI, on the
// server's mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Config configures a Server. Agent is required; every other
// collaborator is optional and its endpoints answer 503 when absent.
type Config struct {
	Address  string
	Port     int
	Agent    *agent.Agent
	Bridge   *bridge.Bridge
	Executor *tools.Executor
	Bus      *events.Bus
	// Metrics serves GET /metrics.
	Metrics http.Handler
	// Web mounts the browser UI.
	Web    RouteRegistrar
	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	agent    *agent.Agent
	bridge   *bridge.Bridge
	exec     *tools.Executor
	bus      *events.Bus
	metrics  http.Handler
	web      RouteRegistrar
	logger   *slog.Logger
	server   *http.Server
	md       goldmark.Markdown
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: cfg.Address,
		port:    cfg.Port,
		agent:   cfg.Agent,
		bridge:  cfg.Bridge,
		exec:    cfg.Executor,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		web:     cfg.Web,
		logger:  logger,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
			// The phone UI is served from the same host but may be
			// opened by LAN address, so origins vary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the routed handler with logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	// Phone chat endpoints
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	// Bridge control
	mux.HandleFunc("POST /v1/bridge/send", s.handleBridgeSend)
	mux.HandleFunc("POST /v1/bridge/retry", s.handleBridgeRetry)
	mux.HandleFunc("POST /v1/bridge/check", s.handleBridgeCheck)
	mux.HandleFunc("GET /v1/bridge/status", s.handleBridgeStatus)
	mux.HandleFunc("GET /v1/bridge/queue", s.handleBridgeQueue)
	mux.HandleFunc("GET /v1/bridge/events", s.handleEvents)

	// Tools
	mux.HandleFunc("GET /v1/tools", s.handleToolList)
	mux.HandleFunc("GET /v1/tools/log", s.handleToolLog)
	mux.HandleFunc("GET /v1/tools/prompt", s.handleToolPrompt)
	mux.HandleFunc("POST /v1/tools/execute", s.handleToolExecute)
	mux.HandleFunc("PUT /v1/tools/auto-trade", s.handleAutoTrade)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.web != nil {
		s.web.RegisterRoutes(mux)
	}

	return s.withCORS(s.withLogging(mux))
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Chat requests wait on local inference, which can be slow on
		// small machines.
		WriteTimeout: 6 * time.Minute,
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

// withCORS lets the phone UI call the API when it is opened from a
// different origin, and answers preflight requests directly.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"ok":    false,
		"error": message,
		"code":  code,
	}, s.logger)
}

// decodeBody decodes a JSON request body into v. An empty body leaves
// v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
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
