package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/ui"
)

type CIResult struct {
	OK       bool     `json:"ok"`
	Title    string   `json:"title"`
	Details  []string `json:"details,omitempty"`
	Error    string   `json:"error,omitempty"`
	Duration string   `json:"duration"`
}

// ExitError carries the process exit code for a failed tool command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Command describes one tool invocation.
type Command struct {
	Tool     string
	Name     string
	CI       bool
	Timeout  time.Duration
	ExitCode int
	Out      io.Writer
}

func (c Command) title() string {
	return c.Tool + " " + c.Name
}

// Execute runs action either behind the interactive spinner or, with CI set,
// directly with a JSON result written to Out. Failures come back as
// *ExitError.
func Execute(c Command, action ui.Action) error {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.ExitCode == 0 {
		c.ExitCode = 1
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}

	start := time.Now()
	var (
		details []string
		err     error
	)
	if c.CI {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		details, err = action(ctx)
		cancel()
	} else {
		details, err = ui.Run(c.title(), c.Timeout, action)
	}
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ctx := context.Background()
	observability.RecordToolCommandRun(ctx, c.Tool, c.Name, outcome)
	observability.RecordToolCommandDuration(ctx, c.Tool, c.Name, outcome, elapsed)

	if c.CI {
		PrintCIResult(c.Out, err == nil, c.title(), details, err, elapsed)
	}
	if err != nil {
		return &ExitError{Code: c.ExitCode, Err: err}
	}
	return nil
}

func PrintCIResult(w io.Writer, ok bool, title string, details []string, err error, elapsed time.Duration) {
	result := CIResult{OK: ok, Title: title, Details: details, Duration: elapsed.Round(time.Millisecond).String()}
	if err != nil {
		result.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

// Main runs a tool's root command Execute func and exits with the code of a
// returned *ExitError.
func Main(execute func() error) {
	err := execute()
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
