package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projector"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Integrity failure (unresolved unit, event order, failed reconciliation, etc.)
	ExitCommandError = 2 // Command error (bad input, database not found, etc.)
)

// Error codes of CLI responses that are not data-integrity codes.
const (
	CodeCommand          = "COMMAND_ERROR"
	CodeNoBase           = "NO_BASE"
	CodeInconsistent     = "INCONSISTENT"
	CodeNonDeterministic = "NON_DETERMINISTIC"
	CodeScenarioFailed   = "SCENARIO_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error was written to the command output.
	Reported bool
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

// IsReported reports whether err was already written to the output.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
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
	Data   any       `json:"data,omitempty"`  // success payload, or the partial result of a failure
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // an ir.ErrorCode or one of the Code* constants
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether the formatter writes JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs a successful result. Text output is left to the caller
// unless data is a string.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if s, ok := data.(string); ok {
		fmt.Fprintln(f.Writer, s)
	}
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err to the output and returns the ExitError the command
// should return. Data-integrity errors exit with ExitFailure, everything
// else with ExitCommandError.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := classify(err)
	if werr := f.Error(code, err.Error(), errorDetails(err)); werr != nil {
		return werr
	}
	return &ExitError{Code: exit, Message: code, Err: err, Reported: true}
}

// Failure reports a completed command whose result is an integrity
// failure: data is the full result, code and message explain the failure.
func (f *OutputFormatter) Failure(data any, code, message string) error {
	if f.JSON() {
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   data,
			Error:  &CLIError{Code: code, Message: message},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	}
	return &ExitError{Code: ExitFailure, Message: message, Reported: true}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// classify maps an error to its response code and exit code.
func classify(err error) (string, int) {
	switch code := ir.CodeOf(err); {
	case code == ir.ErrCodeValidation:
		return string(code), ExitCommandError
	case code != "":
		return string(code), ExitFailure
	}
	if errors.Is(err, projector.ErrNoBase) {
		return CodeNoBase, ExitCommandError
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return CodeCommand, exitErr.Code
	}
	return CodeCommand, ExitCommandError
}

// errorDetails extracts the structured fields of data-integrity errors.
func errorDetails(err error) any {
	var (
		unresolved *ir.UnresolvedUnitError
		ambiguous  *ir.AmbiguousUnitError
		order      *ir.EventOrderError
		overlap    *ir.IntervalOverlapError
		invalid    *ir.ValidationError
		conflict   *ir.MappingConflictError
	)
	switch {
	case errors.As(err, &unresolved):
		d := map[string]any{"code": unresolved.Code, "level": int(unresolved.Level), "as_of": unresolved.AsOf}
		if unresolved.Nearest != nil {
			d["nearest"] = unresolved.Nearest
		}
		return d
	case errors.As(err, &ambiguous):
		return map[string]any{"code": ambiguous.Code, "level": int(ambiguous.Level), "as_of": ambiguous.AsOf, "units": ambiguous.Units}
	case errors.As(err, &order):
		return map[string]any{"event_id": order.EventID, "effective_date": order.EffectiveDate, "last_date": order.LastDate, "reason": order.Reason}
	case errors.As(err, &overlap):
		return map[string]any{"unit_id": overlap.UnitID, "code": overlap.Code, "open_from": overlap.OpenFrom, "new_from": overlap.NewFrom}
	case errors.As(err, &invalid):
		return map[string]any{"field": invalid.Field, "value": invalid.Value}
	case errors.As(err, &conflict):
		return map[string]any{"dimension": conflict.Dimension, "year": conflict.Year, "level": int(conflict.Level)}
	}
	return nil
}
