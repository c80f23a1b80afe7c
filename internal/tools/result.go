package tools

import (
	"errors"
	"fmt"

	"github.com/nugget/subzero/internal/httpkit"
)

// Result is the outcome of executing, or declining to execute, one
// tool call.
type Result struct {
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	Data         any    `json:"data,omitempty"`
	ToolName     string `json:"tool"`
	NeedsConfirm bool   `json:"needs_confirm,omitempty"`
	// Retryable marks failures caused by transient conditions
	// (network, timeouts) that may succeed if tried again.
	Retryable bool `json:"retryable,omitempty"`

	// Err is the underlying error for failed results.
	Err error `json:"-"`
}

// OK builds a successful result.
func OK(output string) Result {
	return Result{Success: true, Output: output}
}

// OKData builds a successful result carrying structured data.
func OKData(output string, data any) Result {
	return Result{Success: true, Output: output, Data: data}
}

// Fail builds a failed result from err. The output is the error text
// and Retryable reflects [httpkit.Retryable] unless err is an
// [*ExecutionError], whose own flag wins.
func Fail(err error) Result {
	r := Result{Output: err.Error(), Err: err}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		r.Retryable = ee.Retryable
	} else {
		r.Retryable = httpkit.Retryable(err)
	}
	return r
}

// Failf builds a failed, non-retryable result from a message.
func Failf(format string, args ...any) Result {
	return Fail(&ExecutionError{Err: fmt.Errorf(format, args...)})
}
