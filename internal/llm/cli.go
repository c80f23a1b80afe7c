package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCLITimeout bounds one `ollama run` invocation.
const DefaultCLITimeout = 60 * time.Second

// CLIClient generates through the ollama command line. It works when
// the binary is installed but the HTTP server is not reachable from
// this process.
type CLIClient struct {
	binary  string
	timeout time.Duration
}

// NewCLIClient creates a client that runs binary (default "ollama").
func NewCLIClient(binary string, timeout time.Duration) *CLIClient {
	if binary == "" {
		binary = "ollama"
	}
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}
	return &CLIClient{binary: binary, timeout: timeout}
}

// Generate runs `ollama run <model>` with prompt on stdin.
func (c *CLIClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "run", model)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ollama run %s: %w", model, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("ollama run %s exited %d: %s", model, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", &unreachableError{err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Ping reports whether the binary can be found.
func (c *CLIClient) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return &unreachableError{err: err}
	}
	return nil
}
