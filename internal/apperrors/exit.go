package apperrors

import "errors"

// Process exit codes used by the CLI.
const (
	ExitOK                 = 0
	ExitFailure            = 1
	ExitMissingCredentials = 2
	ExitPrecondition       = 3
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMissingCredentials):
		return ExitMissingCredentials
	case errors.Is(err, ErrPrecondition):
		return ExitPrecondition
	default:
		return ExitFailure
	}
}
