package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/nugget/subzero/internal/agent"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/browser"
	"github.com/nugget/subzero/internal/config"
	"github.com/nugget/subzero/internal/deploy"
	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/fetch"
	"github.com/nugget/subzero/internal/llm"
	"github.com/nugget/subzero/internal/opstate"
	"github.com/nugget/subzero/internal/paths"
	"github.com/nugget/subzero/internal/search"
	"github.com/nugget/subzero/internal/toollog"
	"github.com/nugget/subzero/internal/tools"
	"github.com/nugget/subzero/internal/trading"
	"github.com/nugget/subzero/internal/watchlist"
)

// app holds the components shared by serve and the one-shot
// commands. With persistence off nothing touches the data directory:
// history stays in memory and the watchlist tools report unavailable.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *events.Bus

	db      *sql.DB
	state   *opstate.Store
	toolLog *toollog.Store

	deps     tools.Deps
	executor *tools.Executor
	client   llm.Client
	ollama   *llm.OllamaClient
	agent    *agent.Agent
}

func newApp(cfg *config.Config, logger *slog.Logger, persist bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, bus: events.New()}

	var wl tools.Watchlist
	if persist {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "subzero.db")
		db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db

		if a.state, err = opstate.NewStoreDB(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("operational state: %w", err)
		}
		if a.toolLog, err = toollog.NewStoreDB(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("tool log: %w", err)
		}
		store, err := watchlist.NewStore(db)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("watchlist: %w", err)
		}
		wl = store
		logger.Info("database opened", "path", dbPath)
	}

	a.deps = buildDeps(cfg, logger, wl)
	reg, err := tools.NewRegistry(tools.Builtin(a.deps)...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	opts := tools.ExecutorOptions{
		AutoTrade: cfg.Tools.AutoTrade,
		Logger:    logger,
		Bus:       a.bus,
	}
	if a.toolLog != nil {
		opts.Recorder = a.toolLog
	}
	a.executor = tools.NewExecutor(reg, opts)

	a.ollama = llm.NewOllamaClient(cfg.Ollama.URL, logger)
	a.client = a.ollama
	if cfg.Ollama.CLIFallback {
		a.client = llm.NewFallback(logger, a.ollama, llm.NewCLIClient(cfg.Ollama.Binary, cfg.Bridge.DeliveryTimeout()))
		logger.Info("ollama CLI fallback enabled", "binary", cfg.Ollama.Binary)
	}

	agentCfg := agent.Config{
		Client:   a.client,
		Model:    cfg.Ollama.Model,
		Executor: a.executor,
		Logger:   logger,
		Bus:      a.bus,
	}
	if a.state != nil {
		agentCfg.Sessions = agent.NewStateSessions(a.state)
	}
	a.agent = agent.New(agentCfg)

	return a, nil
}

// newBridge wraps the agent in a connection bridge. The queue is
// persisted only when the app has a database and the config asks
// for it.
func (a *app) newBridge(h bridge.Handlers) *bridge.Bridge {
	cfg := bridge.Config{
		HeartbeatInterval: a.cfg.Bridge.HeartbeatInterval(),
		MaxQueueSize:      a.cfg.Bridge.MaxQueueSize,
		ProbeTimeout:      a.cfg.Bridge.ProbeTimeout(),
		DeliveryTimeout:   a.cfg.Bridge.DeliveryTimeout(),
		Model:             a.cfg.Ollama.Model,
		Logger:            a.logger,
		Bus:               a.bus,
	}
	if a.state != nil && a.cfg.Bridge.PersistQueue {
		cfg.Store = bridge.NewStateStore(a.state)
	}
	return bridge.New(a.agent, cfg, h)
}

// Close releases the browser session and the database.
func (a *app) Close() error {
	if err := a.deps.Close(); err != nil {
		a.logger.Warn("failed to close browser", "error", err)
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// buildDeps creates the tool collaborators. Optional integrations that
// are not configured stay nil, which leaves their tools registered but
// reporting unavailable.
func buildDeps(cfg *config.Config, logger *slog.Logger, wl tools.Watchlist) tools.Deps {
	files := tools.NewFileTools(cfg.Tools.Workspace, cfg.Tools.ConfineWorkspace)
	files.SetShortcuts(paths.New(cfg.Tools.Shortcuts))

	d := tools.Deps{
		Shell: tools.NewShellExec(tools.ShellExecConfig{
			WorkingDir: cfg.Tools.ShellExec.WorkingDir,
			DeniedCmds: cfg.Tools.ShellExec.DeniedPatterns,
			Python:     cfg.Tools.ShellExec.Python,
		}),
		Files:  files,
		Web:    fetch.New(nil),
		Search: newSearch(cfg.Tools.Search, logger),
		Apps:   tools.SystemLauncher{},
		Deployer: deploy.New(deploy.Config{
			SourceDir:  cfg.Deploy.SourceDir,
			MountRoots: cfg.Deploy.MountRoots,
			Owner:      cfg.Deploy.Owner,
			Repo:       cfg.Deploy.Repo,
			Ref:        cfg.Deploy.Ref,
			Token:      cfg.Deploy.GitHubToken,
		}, logger),
	}

	if wl != nil {
		d.Watchlist = wl
	}
	if clip := (tools.SystemClipboard{}); clip.Available() {
		d.Clipboard = clip
	} else {
		logger.Debug("no clipboard utility found, clipboard tools unavailable")
	}
	if cfg.Tools.Browser.Enabled {
		d.Browser = browser.New(browser.Config{
			Headless:      cfg.Tools.Browser.Headless,
			ScreenshotDir: cfg.Tools.Browser.ScreenshotDir,
		}, logger)
	}
	if cfg.Trading.Configured() {
		client := trading.New(trading.Config{
			APIKey:    cfg.Trading.APIKey,
			APISecret: cfg.Trading.APISecret,
			Paper:     cfg.Trading.Paper,
			BaseURL:   cfg.Trading.BaseURL,
			DataURL:   cfg.Trading.DataURL,
		})
		d.Trader = client
		logger.Info("trading enabled", "mode", client.Mode(), "auto_trade", cfg.Tools.AutoTrade)
	}
	return d
}

// newSearch registers the configured SearXNG instance ahead of
// DuckDuckGo. An endpoint pointing at DuckDuckGo replaces its default
// URL instead.
func newSearch(cfg config.SearchConfig, logger *slog.Logger) *search.Manager {
	m := search.NewManager(cfg.MaxResults)
	switch {
	case cfg.Endpoint == "":
		m.Register(search.NewDuckDuckGo(""))
	case strings.Contains(cfg.Endpoint, "duckduckgo"):
		m.Register(search.NewDuckDuckGo(cfg.Endpoint))
	default:
		m.Register(search.NewSearXNG(cfg.Endpoint))
		m.Register(search.NewDuckDuckGo(""))
	}
	logger.Debug("web search configured", "providers", m.Providers())
	return m
}
