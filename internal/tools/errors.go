package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool marks calls naming a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrConfirmationRequired marks calls blocked by the Confirm tier.
// Nothing was executed.
var ErrConfirmationRequired = errors.New("confirmation required")

// ErrToolUnavailable is returned when a tool is registered but its
// backing collaborator (browser, brokerage, clipboard) is not
// configured in this process.
type ErrToolUnavailable struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tool %q is not available: %s", e.ToolName, e.Reason)
	}
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ExecutionError is a handler-reported failure.
type ExecutionError struct {
	Tool      string
	Err       error
	Retryable bool
}

func (e *ExecutionError) Error() string {
	if e.Tool == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ParamsError is a call whose parameters did not decode into the
// handler's parameter struct. The executor fills in Tool.
type ParamsError struct {
	Tool string
	Err  error
}

func (e *ParamsError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid parameters: %v", e.Err)
	}
	return fmt.Sprintf("invalid parameters for %s: %v", e.Tool, e.Err)
}

func (e *ParamsError) Unwrap() error { return e.Err }
