package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/config"
	"github.com/roach88/srcrecover/internal/toolchain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Best-effort completion, including partial recoveries
	ExitFailure      = 1 // Unexpected error (ledger I/O, reconcile failure, unavailable tools)
	ExitCommandError = 2 // Structurally fatal (bad arguments or config, archive missing/corrupt, no units)
)

// Error codes used in CLI output envelopes.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Config file invalid or unreadable
	ErrCodeNotFound     = "E003" // Archive or path not found
	ErrCodeCorrupt      = "E004" // Archive is not a readable zip
	ErrCodeNoUnits      = "E005" // Archive has no bytecode units
	ErrCodeUnavailable  = "E006" // Tool could not be resolved
	ErrCodeLedger       = "E007" // Run ledger error
	ErrCodeReconcile    = "E008" // Reconciliation failed
	ErrCodeInterrupted  = "E009" // Cancelled by signal
	ErrCodeBadArguments = "E010" // Invalid flag combination
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps a domain error onto an envelope code and exit code.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return ErrCodeConfig, ExitCommandError
	case errors.Is(err, archive.ErrNotFound):
		return ErrCodeNotFound, ExitCommandError
	case errors.Is(err, archive.ErrCorruptArchive):
		return ErrCodeCorrupt, ExitCommandError
	case errors.Is(err, archive.ErrNoUnits):
		return ErrCodeNoUnits, ExitCommandError
	case errors.Is(err, toolchain.ErrToolUnavailable):
		return ErrCodeUnavailable, ExitFailure
	case errors.Is(err, context.Canceled):
		return ErrCodeInterrupted, ExitFailure
	default:
		return ErrCodeGeneric, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result. In text mode the payload is rendered
// by text; a nil text prints the value with fmt.
func (f *OutputFormatter) Success(data any, text func(io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if text != nil {
		return text(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err through the envelope and returns the matching ExitError.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	if outErr := f.Error(code, fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
