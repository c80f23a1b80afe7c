// SubZero is a local conversational assistant that runs over an Ollama
// backend which may come and go.
//
// Prompts go through a connection bridge that queues them while the
// backend is down and drains the queue when it returns. Replies may
// carry tool directives, which the tool runtime executes under a
// three-tier safety policy. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	subzero serve              Start the chat server and bridge
//	subzero init [dir]         Write a default config into dir
//	subzero ask <prompt>       Send one prompt straight to the model
//	subzero send <prompt>      Send one prompt through the bridge
//	subzero status             Probe the backend once and report
//	subzero tools [prompt]     List tools, or print the tool prompt
//	subzero version            Print version and build information
//	subzero -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/subzero/internal/buildinfo"
	"github.com/nugget/subzero/internal/config"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "subzero:", err)
		os.Exit(1)
	}
}

// invocation is a parsed command line.
type invocation struct {
	configPath string
	output     string
	command    string
	args       []string
	help       bool
}

// parseArgs reads global flags up to the command name. Everything
// after the command belongs to it, dashes included.
func parseArgs(args []string) (invocation, error) {
	inv := invocation{output: "text"}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if inv.command != "" {
			inv.args = append(inv.args, arg)
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "-h", "-help", "--help":
			inv.help = true
			return inv, nil
		case "-config", "--config", "-o", "--output":
			if !hasValue {
				if i+1 >= len(args) {
					return inv, fmt.Errorf("flag %s needs a value", name)
				}
				i++
				value = args[i]
			}
			if name == "-config" || name == "--config" {
				inv.configPath = value
			} else {
				inv.output = value
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return inv, fmt.Errorf("unknown flag: %s", arg)
			}
			inv.command = arg
		}
	}
	if inv.output != "text" && inv.output != "json" {
		return inv, fmt.Errorf("unknown output format: %q (expected text or json)", inv.output)
	}
	return inv, nil
}

// run executes one command line. serve logs to stdout; the one-shot
// commands log to stderr so their stdout stays machine readable.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	inv, err := parseArgs(args)
	if err != nil {
		return err
	}
	if inv.help || inv.command == "" {
		return printUsage(stdout)
	}

	needPrompt := func(name string) error {
		if len(inv.args) == 0 {
			return fmt.Errorf("usage: subzero %s <prompt>", name)
		}
		return nil
	}

	switch inv.command {
	case "serve":
		return runServe(ctx, stdout, stderr, inv.configPath)
	case "init":
		dir := "."
		if len(inv.args) > 0 {
			dir = inv.args[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if err := needPrompt("ask"); err != nil {
			return err
		}
		return runAsk(ctx, stdout, stderr, inv.configPath, inv.output, inv.args)
	case "send":
		if err := needPrompt("send"); err != nil {
			return err
		}
		return runSend(ctx, stdout, stderr, inv.configPath, inv.output, inv.args)
	case "status":
		return runStatus(ctx, stdout, stderr, inv.configPath, inv.output)
	case "tools":
		return runTools(stdout, stderr, inv.configPath, inv.output, inv.args)
	case "version":
		return runVersion(stdout, inv.output)
	}
	return fmt.Errorf("unknown command: %s", inv.command)
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	keys := []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"}
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

const usage = `SubZero - local assistant over an unreliable Ollama backend

Usage: subzero [flags] <command> [args]

Commands:
  serve           Start the chat server and connection bridge
  init [dir]      Write a starter config.yaml into dir (default .)
  ask <prompt>    Send one prompt straight to the model
  send <prompt>   Send one prompt through the bridge
  status          Probe the backend once and report
  tools [prompt]  List tools, or print the tool system prompt
  version         Show version information

Flags:
  -config <path>     Config file (default: first of ./config.yaml,
                     ~/.config/subzero/config.yaml, ~/.subzero/config.yaml,
                     /etc/subzero/config.yaml)
  -o, --output fmt   text (default) or json
`

func printUsage(w io.Writer) error {
	_, err := io.WriteString(w, usage)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger returns a JSON logger for format "json" and a text logger
// otherwise.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: config.ReplaceLogLevelNames}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig locates, parses and validates the configuration. An
// explicit path must exist; otherwise the default locations are
// searched. When nothing is found and explicit is empty, the built-in
// defaults are used so one-shot commands work without a config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
