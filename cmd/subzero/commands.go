package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/nugget/subzero/internal/agent"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/llm"
	"github.com/nugget/subzero/internal/tools"
)

// oneShotSession keeps CLI prompts out of the phone UI's history.
const oneShotSession = "cli"

// runAsk sends one prompt straight to the model, bypassing the bridge,
// and prints the reply with any tool output. History is kept in
// memory only.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.agent.Respond(ctx, agent.Request{
		Message: strings.Join(args, " "),
		Session: oneShotSession,
	})
	if errors.Is(err, llm.ErrUnreachable) {
		return fmt.Errorf("ollama is offline at %s: run 'ollama serve' first", cfg.Ollama.URL)
	}
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, reply)
	}
	fmt.Fprintln(stdout, reply.Text)
	if reply.PendingConfirm {
		color.New(color.FgYellow).Fprintln(stdout, "\nSome tools need confirmation; run them from the web UI.")
	}
	return nil
}

// sendResult is the JSON form of runSend's output.
type sendResult struct {
	Outcome     bridge.Outcome `json:"outcome"`
	Response    string         `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
	QueueLength int            `json:"queue_length"`
}

// runSend pushes one prompt through the connection bridge after a
// single health probe. A delivered prompt prints its reply. A queued
// prompt is saved with the rest of the queue (when persist_queue is
// set) for the next serve to deliver.
func runSend(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	logger := newLogger(stderr, slog.LevelInfo, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, cfg.Bridge.PersistQueue)
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.newBridge(bridgeLogger(logger))
	if _, err := b.Restore(ctx); err != nil {
		logger.Warn("failed to restore queued messages", "error", err)
	}
	b.Check(ctx)
	if b.State() == bridge.StateConnected && b.QueueLen() > 0 {
		if n := b.RetryQueue(ctx); n > 0 {
			logger.Info("delivered saved messages", "count", n)
		}
	}

	type delivery struct {
		resp string
		err  error
	}
	done := make(chan delivery, 1)
	outcome := b.Send(strings.Join(args, " "), func(resp string, err error) {
		done <- delivery{resp, err}
	})

	res := sendResult{Outcome: outcome}
	if outcome == bridge.OutcomeSent {
		select {
		case d := <-done:
			res.Response = d.resp
			if d.err != nil {
				res.Error = d.err.Error()
			}
		case <-ctx.Done():
			res.Error = ctx.Err().Error()
		}
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := b.Close(closeCtx); err != nil {
		logger.Warn("bridge shutdown incomplete", "error", err)
	}
	res.QueueLength = b.QueueLen()

	if outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	switch {
	case res.Error != "":
		return fmt.Errorf("send: %s", res.Error)
	case outcome == bridge.OutcomeSent:
		fmt.Fprintln(stdout, res.Response)
	case outcome == bridge.OutcomeQueued && cfg.Bridge.PersistQueue:
		color.New(color.FgYellow).Fprintf(stdout, "SubZero is offline. Message saved (%d waiting) for the next serve.\n", res.QueueLength)
	case outcome == bridge.OutcomeQueued:
		return errors.New("SubZero is offline and bridge.persist_queue is off; message not saved")
	default:
		return fmt.Errorf("send: %s", outcome)
	}
	return nil
}

// runStatus probes the backend once and reports the bridge state and
// the installed models.
func runStatus(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.newBridge(bridge.Handlers{})
	b.Check(ctx)
	st := b.Status()

	var models []string
	if st.State == bridge.StateConnected {
		if models, err = a.ollama.ListModels(ctx); err != nil {
			logger.Warn("failed to list models", "error", err)
		}
	}

	if outputFmt == "json" {
		return writeJSON(stdout, map[string]any{
			"url":    cfg.Ollama.URL,
			"status": st,
			"models": models,
		})
	}

	stateColor := color.New(color.FgRed)
	if st.State == bridge.StateConnected {
		stateColor = color.New(color.FgGreen)
	}
	fmt.Fprintf(stdout, "Ollama:  %s\n", cfg.Ollama.URL)
	fmt.Fprint(stdout, "State:   ")
	stateColor.Fprintln(stdout, st.State)
	fmt.Fprintf(stdout, "Model:   %s\n", cfg.Ollama.Model)
	if st.LastError != "" {
		fmt.Fprintf(stdout, "Error:   %s\n", st.LastError)
	}
	if len(models) > 0 {
		fmt.Fprintf(stdout, "Models:  %s\n", strings.Join(models, ", "))
	}
	if st.State != bridge.StateConnected {
		return errors.New("backend unreachable")
	}
	return nil
}

// runTools lists the registered tools grouped by safety tier. With the
// "prompt" argument it prints the tool section of the system prompt.
func runTools(stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	reg, err := tools.NewRegistry(tools.Builtin(buildDeps(cfg, logger, nil))...)
	if err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "prompt" {
		fmt.Fprint(stdout, reg.SystemPrompt())
		return nil
	}
	if len(args) > 0 {
		return fmt.Errorf("usage: subzero tools [prompt]")
	}

	if outputFmt == "json" {
		return writeJSON(stdout, reg.List())
	}
	printTools(stdout, reg)
	return nil
}

func printTools(w io.Writer, reg *tools.Registry) {
	tierColor := map[tools.Tier]*color.Color{
		tools.TierAuto:    color.New(color.FgGreen),
		tools.TierLog:     color.New(color.FgYellow),
		tools.TierConfirm: color.New(color.FgRed, color.Bold),
	}
	for _, tier := range []tools.Tier{tools.TierAuto, tools.TierLog, tools.TierConfirm} {
		tierColor[tier].Fprintf(w, "%s:\n", strings.ToUpper(tier.String()))
		for _, d := range reg.Descriptors() {
			if d.Tier() != tier {
				continue
			}
			fmt.Fprintf(w, "  %-20s %s\n", d.Name(), d.Description)
		}
	}
	fmt.Fprintf(w, "\n%d tools\n", reg.Len())
}
