package cli

import (
	"errors"

	"pkengine/pkg/engine"
)

var (
	// ErrNoBackend is returned when the selected backend is not registered.
	ErrNoBackend = errors.New("backend not available")

	// ErrAborted is returned when the user aborts an operation.
	ErrAborted = errors.New("operation aborted by user")

	// ErrNothingToDo is returned when a transaction plan is empty.
	ErrNothingToDo = errors.New("nothing to do")

	// ErrNoHistory is returned when the history store is disabled or unavailable.
	ErrNoHistory = errors.New("transaction history is not available")
)

// Exit codes returned by ExitCode.
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitNotFound     = 3
	ExitNotSupported = 4
	ExitNothingToDo  = 5
	ExitCancelled    = 6
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrNothingToDo):
		return ExitNothingToDo
	case errors.Is(err, ErrAborted):
		return ExitCancelled
	}

	switch engine.CodeOf(err) {
	case engine.CodeNotSupported, engine.CodeRoleUnknown:
		return ExitNotSupported
	case engine.CodePackageNotFound, engine.CodeRepoNotFound:
		return ExitNotFound
	case engine.CodeCancelled:
		return ExitCancelled
	}
	return ExitFailed
}
