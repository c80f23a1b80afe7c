package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ShellExec runs shell commands and Python snippets on the host.
type ShellExec struct {
	workingDir     string
	deniedCmds     []string
	python         string
	commandTimeout time.Duration
	pythonTimeout  time.Duration
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	WorkingDir string
	// DeniedCmds are case-insensitive substrings that block a command.
	DeniedCmds     []string
	Python         string
	CommandTimeout time.Duration
	PythonTimeout  time.Duration
}

// DefaultShellExecConfig returns the stock limits: 120s for commands,
// 60s for Python, and a deny list of obviously destructive patterns.
func DefaultShellExecConfig() ShellExecConfig {
	return ShellExecConfig{
		DeniedCmds: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
		},
		Python:         "python3",
		CommandTimeout: 120 * time.Second,
		PythonTimeout:  60 * time.Second,
	}
}

// NewShellExec creates a shell executor, filling zero fields from
// [DefaultShellExecConfig].
func NewShellExec(cfg ShellExecConfig) *ShellExec {
	def := DefaultShellExecConfig()
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.PythonTimeout <= 0 {
		cfg.PythonTimeout = def.PythonTimeout
	}
	if cfg.Python == "" {
		cfg.Python = def.Python
	}
	if cfg.DeniedCmds == nil {
		cfg.DeniedCmds = def.DeniedCmds
	}
	return &ShellExec{
		workingDir:     cfg.WorkingDir,
		deniedCmds:     cfg.DeniedCmds,
		python:         cfg.Python,
		commandTimeout: cfg.CommandTimeout,
		pythonTimeout:  cfg.PythonTimeout,
	}
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Exec runs command through the platform shell.
func (s *ShellExec) Exec(ctx context.Context, command string) (*ExecResult, error) {
	lower := strings.ToLower(command)
	for _, denied := range s.deniedCmds {
		if strings.Contains(lower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	name, args := "sh", []string{"-c", command}
	if runtime.GOOS == "windows" {
		name, args = "cmd", []string{"/C", command}
	}
	return s.run(ctx, s.commandTimeout, name, args...)
}

// Python runs code with the configured interpreter. The code is written
// to a temporary file so multi-line programs keep their indentation.
func (s *ShellExec) Python(ctx context.Context, code string) (*ExecResult, error) {
	f, err := os.CreateTemp("", "subzero-*.py")
	if err != nil {
		return nil, fmt.Errorf("create temp script: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp script: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write temp script: %w", err)
	}

	return s.run(ctx, s.pythonTimeout, s.python, f.Name())
}

func (s *ShellExec) run(ctx context.Context, timeout time.Duration, name string, args ...string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	// Children of sh can hold the output pipes open after a kill.
	cmd.WaitDelay = 2 * time.Second
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
	}

	return result, nil
}

type runCommandParams struct {
	Cmd string `param:"cmd"`
}

func (p *runCommandParams) Validate() error {
	if strings.TrimSpace(p.Cmd) == "" {
		return errors.New("no command provided")
	}
	return nil
}

func (s *ShellExec) handleRunCommand(ctx context.Context, p runCommandParams) Result {
	res, err := s.Exec(ctx, p.Cmd)
	if err != nil {
		return Fail(err)
	}
	if res.TimedOut {
		return Fail(&ExecutionError{
			Err:       fmt.Errorf("command timed out (%s)", s.commandTimeout),
			Retryable: true,
		})
	}

	var out strings.Builder
	if res.Stdout != "" {
		out.WriteString(truncateRunes(res.Stdout, 4000))
	}
	if res.Stderr != "" {
		out.WriteString("\n[stderr] ")
		out.WriteString(truncateRunes(res.Stderr, 2000))
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		text = "(no output)"
	}
	return Result{Success: res.ExitCode == 0, Output: text, Data: res}
}

type runPythonParams struct {
	Code string `param:"code"`
}

func (p *runPythonParams) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.New("no code provided")
	}
	return nil
}

func (s *ShellExec) handleRunPython(ctx context.Context, p runPythonParams) Result {
	res, err := s.Python(ctx, p.Code)
	if err != nil {
		return Fail(err)
	}
	if res.TimedOut {
		return Fail(&ExecutionError{
			Err:       fmt.Errorf("python execution timed out (%s)", s.pythonTimeout),
			Retryable: true,
		})
	}
	text := truncateRunes(strings.TrimSpace(res.Stdout+res.Stderr), 4000)
	if text == "" {
		text = "(no output)"
	}
	return Result{Success: res.ExitCode == 0, Output: text, Data: res}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
