// Package web serves the SubZero browser UI: the phone chat page and a
// runtime dashboard. Pages talk to the JSON endpoints in package api.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/tools"
)

//go:embed static/*
var staticFiles embed.FS

// Config holds the data providers for the web UI. Any func may be nil;
// the matching section of the dashboard is then left out.
type Config struct {
	BrandName string
	Model     string
	// PhoneURL is the LAN address shown on the dashboard.
	PhoneURL   string
	StatusFunc func() bridge.Status
	ToolsFunc  func() []tools.LogEntry
	Logger     *slog.Logger
}

// WebServer renders the UI pages.
type WebServer struct {
	brandName  string
	model      string
	phoneURL   string
	statusFunc func() bridge.Status
	toolsFunc  func() []tools.LogEntry
	templates  map[string]*template.Template
	static     http.Handler
	logger     *slog.Logger
}

// NewWebServer creates the UI server. It panics if the embedded
// templates fail to parse.
func NewWebServer(cfg Config) *WebServer {
	if cfg.BrandName == "" {
		cfg.BrandName = "SubZero"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return &WebServer{
		brandName:  cfg.BrandName,
		model:      cfg.Model,
		phoneURL:   cfg.PhoneURL,
		statusFunc: cfg.StatusFunc,
		toolsFunc:  cfg.ToolsFunc,
		templates:  parsePages(),
		static:     http.StripPrefix("/static/", http.FileServerFS(sub)),
		logger:     cfg.Logger,
	}
}

// RegisterRoutes adds the UI routes to mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleChat)
	mux.HandleFunc("GET /dashboard", s.handleDashboard)
	mux.HandleFunc("GET /manifest.json", s.handleManifest)
	mux.HandleFunc("GET /static/{file}", s.handleStatic)
}

// handleStatic serves embedded assets. Only files are served; the
// directory listing and the manifest live elsewhere.
func (s *WebServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("file") {
	case "", "manifest.json":
		http.NotFound(w, r)
		return
	}
	s.static.ServeHTTP(w, r)
}

func (s *WebServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/manifest+json")
	http.ServeFileFS(w, r, staticFiles, "static/manifest.json")
}
