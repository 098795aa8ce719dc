package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed
	ExitCommandError = 2 // bad flags, config or connection
)

// ExitError carries the process exit code for a command failure.
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

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of an *ExitError, ExitFailure otherwise.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success writes data. Text output prints slices one element per line.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(response{Status: "ok", Data: data})
	}
	switch v := data.(type) {
	case []string:
		for _, s := range v {
			fmt.Fprintln(f.Writer, s)
		}
	case []any:
		for _, x := range v {
			fmt.Fprintln(f.Writer, x)
		}
	default:
		fmt.Fprintln(f.Writer, data)
	}
	return nil
}

// Error writes a failure in the configured format.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(response{Status: "error", Error: err.Error()})
	}
	_, werr := fmt.Fprintf(f.Writer, "Error: %v\n", err)
	return werr
}
