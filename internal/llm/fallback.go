package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Fallback tries a list of clients in order.
type Fallback struct {
	clients []Client
	logger  *slog.Logger
}

// NewFallback creates a client that uses the first of clients that
// answers.
func NewFallback(logger *slog.Logger, clients ...Client) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{clients: clients, logger: logger}
}

// Generate returns the first successful completion. If every client
// fails the errors are joined, so ErrUnreachable is still detectable
// when all backends are down.
func (f *Fallback) Generate(ctx context.Context, model, prompt string) (string, error) {
	if len(f.clients) == 0 {
		return "", errors.New("no llm client configured")
	}
	var errs []error
	for i, c := range f.clients {
		text, err := c.Generate(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Warn("llm client failed", "client", fmt.Sprintf("%T", c), "index", i, "error", err)
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// Ping succeeds if any client is reachable.
func (f *Fallback) Ping(ctx context.Context) error {
	if len(f.clients) == 0 {
		return errors.New("no llm client configured")
	}
	var errs []error
	for _, c := range f.clients {
		err := c.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
