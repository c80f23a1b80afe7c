package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/toolcall"
)

// LogEntry records one handler invocation.
type LogEntry struct {
	Time     time.Time         `json:"time"`
	Tool     string            `json:"tool"`
	Tier     Tier              `json:"tier"`
	Params   map[string]string `json:"params,omitempty"`
	Result   Result            `json:"result"`
	Duration time.Duration     `json:"duration_ns"`
}

// Recorder persists log entries beyond the process lifetime.
type Recorder interface {
	Record(ctx context.Context, e LogEntry) error
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// AutoTrade lets trade_buy, trade_sell and trade_cancel run without
	// confirmation.
	AutoTrade bool
	Logger    *slog.Logger
	Bus       *events.Bus
	Recorder  Recorder
}

// Executor applies tier policy to tool calls and runs their handlers.
// It is safe for concurrent use.
type Executor struct {
	reg       *Registry
	logger    *slog.Logger
	bus       *events.Bus
	recorder  Recorder
	autoTrade atomic.Bool

	mu  sync.Mutex
	log []LogEntry
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, opts ExecutorOptions) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		reg:      reg,
		logger:   logger,
		bus:      opts.Bus,
		recorder: opts.Recorder,
	}
	e.autoTrade.Store(opts.AutoTrade)
	return e
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry { return e.reg }

// SetAutoTrade toggles the trading confirmation carve-out.
func (e *Executor) SetAutoTrade(on bool) {
	e.autoTrade.Store(on)
	e.logger.Info("auto-trade updated", "enabled", on)
}

// AutoTrade reports whether the trading carve-out is active.
func (e *Executor) AutoTrade() bool { return e.autoTrade.Load() }

// Execute runs one call. Unknown tools and Confirm-tier tools (without
// skipConfirm) return a failed result without invoking any handler.
func (e *Executor) Execute(ctx context.Context, call toolcall.Call, skipConfirm bool) Result {
	d, ok := e.reg.Lookup(call.Name)
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", call.Name)
		return Result{
			ToolName: call.Name,
			Output:   "Unknown tool: " + call.Name,
			Err:      fmt.Errorf("%w: %s", ErrUnknownTool, call.Name),
		}
	}

	tier := d.Tier()
	if tier == TierConfirm && !skipConfirm && !(d.Kind.AutoTradable() && e.AutoTrade()) {
		e.logger.Info("tool blocked pending confirmation", "tool", d.Name())
		e.bus.Emit(events.SourceTools, events.KindToolDone, map[string]any{
			"tool":          d.Name(),
			"tier":          tier.String(),
			"ok":            false,
			"needs_confirm": true,
		})
		return Result{
			ToolName:     d.Name(),
			NeedsConfirm: true,
			Output:       strings.TrimSpace("Confirmation needed: " + d.Name() + " " + FormatParams(call.Params)),
			Err:          ErrConfirmationRequired,
		}
	}

	return e.invoke(ctx, d, call.Params)
}

// ExecuteAll runs calls in order. A failed call does not stop the
// ones after it.
func (e *Executor) ExecuteAll(ctx context.Context, calls []toolcall.Call, skipConfirm bool) []Result {
	results := make([]Result, 0, len(calls))
	for _, c := range calls {
		results = append(results, e.Execute(ctx, c, skipConfirm))
	}
	return results
}

// Run parses text and executes every directive in it.
func (e *Executor) Run(ctx context.Context, text string, skipConfirm bool) []Result {
	var results []Result
	for c := range toolcall.All(text) {
		results = append(results, e.Execute(ctx, c, skipConfirm))
	}
	return results
}

func (e *Executor) invoke(ctx context.Context, d *Descriptor, params map[string]string) (res Result) {
	name, tier := d.Name(), d.Tier()
	if params == nil {
		params = map[string]string{}
	}

	switch tier {
	case TierLog, TierConfirm:
		e.logger.Info("executing tool", "tool", name, "tier", tier.String(), "params", FormatParams(params))
	default:
		e.logger.Debug("executing tool", "tool", name, "tier", tier.String())
	}
	e.bus.Emit(events.SourceTools, events.KindToolCall, map[string]any{
		"tool": name,
		"tier": tier.String(),
	})

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool handler panicked", "tool", name, "panic", p)
			res = Fail(&ExecutionError{Tool: name, Err: fmt.Errorf("handler panicked: %v", p)})
		}
		res.ToolName = name
		elapsed := time.Since(start)
		e.record(ctx, LogEntry{
			Time:     start,
			Tool:     name,
			Tier:     tier,
			Params:   maps.Clone(params),
			Result:   res,
			Duration: elapsed,
		})
		e.bus.Emit(events.SourceTools, events.KindToolDone, map[string]any{
			"tool":        name,
			"tier":        tier.String(),
			"ok":          res.Success,
			"retryable":   res.Retryable,
			"duration_ms": elapsed.Milliseconds(),
		})
		if !res.Success {
			e.logger.Warn("tool failed", "tool", name, "retryable", res.Retryable, "output", truncate(res.Output, 200))
		}
	}()

	res = d.Handler(ctx, params)
	var pe *ParamsError
	if errors.As(res.Err, &pe) && pe.Tool == "" {
		pe.Tool = name
		res.Output = res.Err.Error()
	}
	return res
}

func (e *Executor) record(ctx context.Context, entry LogEntry) {
	e.mu.Lock()
	e.log = append(e.log, entry)
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("failed to record tool execution", "tool", entry.Tool, "error", err)
		}
	}
}

// Log returns a copy of every handler invocation so far.
func (e *Executor) Log() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.log)
}

// FormatResults renders results one per line for the conversation:
// "[✓ name] output" or "[✗ name] output", and "[name] output" for
// calls awaiting confirmation.
func FormatResults(results []Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.NeedsConfirm:
			lines = append(lines, fmt.Sprintf("[%s] %s", r.ToolName, r.Output))
		case r.Success:
			lines = append(lines, fmt.Sprintf("[✓ %s] %s", r.ToolName, r.Output))
		default:
			lines = append(lines, fmt.Sprintf("[✗ %s] %s", r.ToolName, r.Output))
		}
	}
	return strings.Join(lines, "\n")
}

// HasPendingWork reports whether any result is waiting on a
// confirmation.
func HasPendingWork(results []Result) bool {
	return slices.ContainsFunc(results, func(r Result) bool { return r.NeedsConfirm })
}

// FormatParams renders params as key="value" pairs in key order.
func FormatParams(params map[string]string) string {
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, truncate(params[k], 80))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
