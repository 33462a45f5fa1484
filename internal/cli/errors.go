package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/reportflow/internal/distribute"
	"github.com/roach88/reportflow/internal/render"
)

// Execute runs the root command and returns the process exit code. Errors
// the commands already reported are not printed again.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitCommandError
		}
		return exitErr.Code
	}
	return ExitSuccess
}

// runError reports an error returned by a batch or distribution run.
func (a *app) runError(err error) error {
	var pfErr *render.PreflightError
	var refusal *distribute.RefusalError
	switch {
	case errors.As(err, &pfErr):
		var details interface{}
		if pfErr.Hint != "" {
			details = map[string]string{"hint": pfErr.Hint}
		}
		return a.out.Fail(ExitFailure, string(pfErr.Code), pfErr.Message, nil, details)
	case errors.As(err, &refusal):
		return a.out.Fail(ExitFailure, string(refusal.Code), refusal.Message, nil, nil)
	case isBusy(err):
		return a.out.Fail(ExitFailure, ErrCodeBusy, "another run is in progress", err, nil)
	default:
		return a.out.Fail(ExitFailure, ErrCodeGeneric, "run failed", err, nil)
	}
}
