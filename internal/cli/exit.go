package cli

import (
	"errors"
	"fmt"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	// ExitStartup covers configuration and connectivity failures raised
	// before any block is processed.
	ExitStartup = 1
	// ExitFailure means the command ran but found failures: failed
	// blocks or an invalid archive set.
	ExitFailure = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// startupError wraps a failure that aborts a run before it starts.
func startupError(message string, err error) *ExitError {
	return WrapExitError(ExitStartup, message, err)
}

// GetExitCode extracts the exit code from err. Errors that are not an
// ExitError map to ExitStartup.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitStartup
}
