package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Runtime failure (scenarios failed, serve stopped on error)
	ExitCommandError = 2 // Command error (bad config, database not found, etc.)
)

// Error kinds reported in the "code" field of JSON error responses.
const (
	KindConfig     = "E_CONFIG"
	KindStore      = "E_STORE"
	KindFilter     = "E_FILTER"
	KindUsage      = "E_USAGE"
	KindRuntime    = "E_RUNTIME"
	KindTestFailed = "E_TEST_FAILED"
)

// ExitError is a command failure carrying its process exit code and the
// kind reported to JSON consumers.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Kind    string // One of the Kind constants; derived from Code when empty
	Message string
	Err     error

	reported bool
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

func (e *ExitError) kind() string {
	switch {
	case e.Kind != "":
		return e.Kind
	case e.Code == ExitCommandError:
		return KindUsage
	default:
		return KindRuntime
	}
}

// withKind sets the reported kind and returns e.
func (e *ExitError) withKind(kind string) *ExitError {
	e.Kind = kind
	return e
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

// Reported reports whether err was already written by an OutputFormatter,
// in which case main only sets the exit code.
func Reported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.reported
}

// OutputFormatter writes command results as text or JSON.
//
// Results and JSON errors go to Writer. Text errors and verbose progress
// go to ErrWriter so they never mix into piped output.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Falls back to Writer when nil
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // a Kind constant
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. Text output uses data's String method when it has
// one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if s, ok := data.(fmt.Stringer); ok {
		fmt.Fprint(f.Writer, s.String())
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error response. Details are printed in text mode only
// when verbose.
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

	w := f.errWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err with Error and returns it marked as reported. Errors
// that are not an *ExitError are wrapped as runtime failures.
func (f *OutputFormatter) Fail(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = WrapExitError(ExitFailure, "command failed", err)
		err = exitErr
	}
	if exitErr.reported {
		return err
	}

	var details any
	if exitErr.Err != nil {
		details = exitErr.Err.Error()
	}
	if writeErr := f.Error(exitErr.kind(), exitErr.Message, details); writeErr != nil {
		return err
	}
	exitErr.reported = true
	return err
}

// VerboseLog writes a progress line to ErrWriter when verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
