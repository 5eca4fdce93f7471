package core

import (
	"os"
	"syscall"
)

// Exit codes for the campaign runner.
// Signal-based exits follow the Unix 128 + signal number convention.
const (
	// ExitCodeSuccess means every category was attempted, partial tallies included.
	ExitCodeSuccess = 0

	// ExitCodeError means the runner could not start (bad flags, logger, config).
	ExitCodeError = 1

	// ExitCodeSIGINT means the campaign was interrupted with Ctrl+C (128 + 2).
	ExitCodeSIGINT = 130

	// ExitCodeSIGTERM means the campaign was stopped by SIGTERM (128 + 15).
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// ExitCodeForSignal maps the signal that stopped a campaign to its exit code.
// A nil signal means the campaign ran to the end.
func ExitCodeForSignal(sig os.Signal) int {
	switch sig {
	case nil:
		return ExitCodeSuccess
	case syscall.SIGTERM:
		return ExitCodeSIGTERM
	default:
		return ExitCodeSIGINT
	}
}
