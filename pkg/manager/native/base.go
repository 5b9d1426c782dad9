// Package native implements backends that drive a system package manager
// through its command-line tools.
package native

import (
	"context"
	"os/exec"

	"github.com/rs/zerolog"

	"pkengine/internal/executor"
)

// BaseManager provides what every command-line backend shares: its
// identity, the binary it drives and the runner it drives it with.
type BaseManager struct {
	name        string
	displayName string
	binary      string
	run         executor.Runner
	log         zerolog.Logger
}

// NewBaseManager creates a new BaseManager with the given parameters.
func NewBaseManager(name, displayName, binary string, run executor.Runner, log zerolog.Logger) *BaseManager {
	return &BaseManager{
		name:        name,
		displayName: displayName,
		binary:      binary,
		run:         run,
		log:         log.With().Str("backend", name).Logger(),
	}
}

// Name returns the short identifier for this backend.
func (b *BaseManager) Name() string {
	return b.name
}

// DisplayName returns the human-readable name.
func (b *BaseManager) DisplayName() string {
	return b.displayName
}

// IsAvailable returns true if the binary is installed.
func (b *BaseManager) IsAvailable() bool {
	_, err := exec.LookPath(b.binary)
	return err == nil
}

// Binary returns the primary binary name for this backend.
func (b *BaseManager) Binary() string {
	return b.binary
}

// Runner returns the command runner.
func (b *BaseManager) Runner() executor.Runner {
	return b.run
}

// query runs the binary unprivileged and returns stdout.
func (b *BaseManager) query(ctx context.Context, args ...string) (string, error) {
	return b.run.Output(ctx, b.binary, args...)
}

// privileged runs the binary as root.
func (b *BaseManager) privileged(ctx context.Context, args ...string) (executor.Result, error) {
	b.log.Debug().Strs("args", args).Msg("running privileged")
	return b.run.RunPrivileged(ctx, b.binary, args...)
}
