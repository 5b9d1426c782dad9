// Package executor runs external commands for command-line backends, with
// optional privilege escalation and a dry-run mode.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner runs external commands. Implementations must be safe for
// concurrent use.
type Runner interface {
	// Output runs an unprivileged query and returns its stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// RunPrivileged runs a command that changes the system, as root.
	RunPrivileged(ctx context.Context, name string, args ...string) (Result, error)
}

// Result holds the captured output of a command.
type Result struct {
	Stdout string
	Stderr string
}

// ExitError is returned when a command exits non-zero. Stderr holds what the
// command wrote to its error stream.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, msg)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Options configures an Executor.
type Options struct {
	// DryRun logs privileged commands instead of running them. Queries
	// still run.
	DryRun bool

	// Interactive lets sudo prompt for a password on the terminal.
	Interactive bool

	Logger zerolog.Logger
}

// Executor runs commands with os/exec.
type Executor struct {
	dryRun      bool
	interactive bool
	log         zerolog.Logger
}

var _ Runner = (*Executor)(nil)

// New creates an Executor.
func New(opts Options) *Executor {
	return &Executor{
		dryRun:      opts.DryRun,
		interactive: opts.Interactive,
		log:         opts.Logger.With().Str("component", "executor").Logger(),
	}
}

// DryRun reports whether privileged commands are skipped.
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Output runs a command and returns its stdout.
func (e *Executor) Output(ctx context.Context, name string, args ...string) (string, error) {
	res, err := e.run(ctx, false, name, args)
	return res.Stdout, err
}

// RunPrivileged runs a command with sudo if not already root.
func (e *Executor) RunPrivileged(ctx context.Context, name string, args ...string) (Result, error) {
	if e.dryRun {
		e.log.Info().Str("cmd", commandLine(name, args)).Msg("dry-run: would execute")
		return Result{}, nil
	}
	prog, full, err := elevate(name, args, e.interactive)
	if err != nil {
		return Result{}, err
	}
	return e.run(ctx, e.interactive && prog == "sudo", prog, full)
}

func (e *Executor) run(ctx context.Context, stdin bool, name string, args []string) (Result, error) {
	line := commandLine(name, args)
	cmd := exec.CommandContext(ctx, name, args...)
	// Output is parsed, so it must not be translated.
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin {
		cmd.Stdin = os.Stdin
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	e.log.Debug().Str("cmd", line).Dur("took", time.Since(start)).Err(err).Msg("executed")
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	xerr := &ExitError{Command: line, Code: -1, Stderr: res.Stderr, Err: err}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		xerr.Code = ee.ExitCode()
	}
	return res, xerr
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
