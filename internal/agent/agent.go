// Package agent turns a prompt into a reply: it assembles the
// conversation prompt, asks the model, runs any tool directives in the
// answer and records the exchange in the session history.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nugget/subzero/internal/config"
	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/llm"
	"github.com/nugget/subzero/internal/toolcall"
	"github.com/nugget/subzero/internal/tools"
)

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

const (
	defaultHistoryLimit = 50
	defaultContextTurns = 10
	defaultName         = "SubZero"
)

// ErrEmptyMessage is returned for blank prompts.
var ErrEmptyMessage = errors.New("no message")

// Config configures an Agent.
type Config struct {
	Client llm.Client
	// Model is used when a request does not name one.
	Model string
	// Name labels the assistant's turns in the prompt.
	Name string
	// Executor runs tool directives found in replies. Nil disables
	// tools.
	Executor *tools.Executor
	// Sessions persists history. Nil keeps history in memory only.
	Sessions SessionStore
	// HistoryLimit caps stored turns per session (default 50).
	HistoryLimit int
	// ContextTurns is how many recent turns go into each prompt
	// (default 10).
	ContextTurns int
	Logger       *slog.Logger
	Bus          *events.Bus
}

// Request is one user message.
type Request struct {
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Reply is the agent's answer to a Request.
type Reply struct {
	// Text is the model's answer followed by formatted tool output.
	Text string `json:"response"`
	// Raw is the model's answer alone.
	Raw     string         `json:"-"`
	Results []tools.Result `json:"tools"`
	// PendingConfirm is set when a tool call is waiting on the user.
	PendingConfirm bool   `json:"pending_confirm,omitempty"`
	Model          string `json:"model"`
	Session        string `json:"session"`
}

// Agent answers prompts against the configured model. It is safe for
// concurrent use.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string][]Turn
}

// New creates an agent. It panics if cfg.Client is nil.
func New(cfg Config) *Agent {
	if cfg.Client == nil {
		panic("agent: Client must not be nil")
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = defaultContextTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string][]Turn),
	}
}

// Model returns the default model name.
func (a *Agent) Model() string { return a.cfg.Model }

// Respond generates a reply, executes its tool directives and stores
// both turns. Nothing is stored when generation fails, so the same
// prompt can be retried.
func (a *Agent) Respond(ctx context.Context, req Request) (*Reply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	session := req.Session
	if session == "" {
		session = DefaultSession
	}
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}

	start := time.Now()
	a.cfg.Bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"session": session,
		"model":   model,
	})

	history, err := a.History(ctx, session)
	if err != nil {
		a.logger.Warn("failed to load history, continuing without it", "session", session, "error", err)
	}

	prompt := a.buildPrompt(model, history, msg)
	a.logger.Debug("generating", "session", session, "model", model, "prompt_len", len(prompt))
	a.logger.Log(ctx, config.LevelTrace, "model prompt", "session", session, "prompt", prompt)

	raw, err := a.cfg.Client.Generate(ctx, model, prompt)
	if err != nil {
		a.logger.Error("generation failed", "session", session, "model", model, "error", err)
		return nil, fmt.Errorf("generate: %w", err)
	}
	a.logger.Log(ctx, config.LevelTrace, "model output", "session", session, "raw", raw)
	if raw == "" {
		raw = "[No response]"
	}

	reply := &Reply{Text: raw, Raw: raw, Model: model, Session: session}
	if a.cfg.Executor != nil {
		if calls := toolcall.Parse(raw); len(calls) > 0 {
			reply.Results = a.cfg.Executor.ExecuteAll(ctx, calls, false)
			reply.Text = raw + "\n\n" + tools.FormatResults(reply.Results)
			reply.PendingConfirm = tools.HasPendingWork(reply.Results)
		}
	}

	now := time.Now()
	a.appendTurns(ctx, session,
		Turn{Role: RoleUser, Content: msg, Time: start},
		Turn{Role: RoleAssistant, Content: reply.Text, Time: now},
	)

	elapsed := time.Since(start)
	a.logger.Info("request complete",
		"session", session,
		"model", model,
		"tool_calls", len(reply.Results),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	a.cfg.Bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"session":    session,
		"model":      model,
		"tool_calls": len(reply.Results),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return reply, nil
}

// Chat answers prompt in the default session and returns the reply
// text.
func (a *Agent) Chat(ctx context.Context, prompt string) (string, error) {
	return a.ChatSession(ctx, DefaultSession, prompt)
}

// ChatSession is Chat within the named session.
func (a *Agent) ChatSession(ctx context.Context, session, prompt string) (string, error) {
	reply, err := a.Respond(ctx, Request{Message: prompt, Session: session})
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Ping checks that the model backend is reachable.
func (a *Agent) Ping(ctx context.Context) error {
	return a.cfg.Client.Ping(ctx)
}

// History returns a copy of the session's turns, oldest first.
func (a *Agent) History(ctx context.Context, session string) ([]Turn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns, err := a.loadLocked(ctx, session)
	return slices.Clone(turns), err
}

// Clear forgets a session.
func (a *Agent) Clear(ctx context.Context, session string) error {
	if session == "" {
		session = DefaultSession
	}
	a.mu.Lock()
	a.sessions[session] = nil
	a.mu.Unlock()

	a.logger.Info("session cleared", "session", session)
	if a.cfg.Sessions == nil {
		return nil
	}
	return a.cfg.Sessions.Delete(ctx, session)
}

// loadLocked returns the cached history, reading through to the store
// on first use. Caller holds a.mu.
func (a *Agent) loadLocked(ctx context.Context, session string) ([]Turn, error) {
	if turns, ok := a.sessions[session]; ok {
		return turns, nil
	}
	if a.cfg.Sessions == nil {
		return nil, nil
	}
	turns, err := a.cfg.Sessions.Load(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", session, err)
	}
	a.sessions[session] = turns
	return turns, nil
}

// appendTurns saves while holding a.mu so the store sees histories in
// the order they were built.
func (a *Agent) appendTurns(ctx context.Context, session string, turns ...Turn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	history, _ := a.loadLocked(ctx, session)
	history = append(slices.Clone(history), turns...)
	if over := len(history) - a.cfg.HistoryLimit; over > 0 {
		history = history[over:]
	}
	a.sessions[session] = history

	if a.cfg.Sessions != nil {
		if err := a.cfg.Sessions.Save(context.WithoutCancel(ctx), session, history); err != nil {
			a.logger.Warn("failed to save session", "session", session, "error", err)
		}
	}
}
