package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports a provider create or control failure.
var ErrUnavailable = errors.New("sandbox unavailable")

// RunResult is the raw outcome of one command inside a sandbox.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Provider is the abstract sandbox backend. Implementations wrap whatever
// isolation the deployment uses; the manager depends only on this surface.
type Provider interface {
	// Create provisions a sandbox for the user and returns its opaque id.
	Create(ctx context.Context, userID string) (string, error)
	// Run executes a command in the sandbox, bounded by timeout.
	Run(ctx context.Context, sandboxID, command string, timeout time.Duration) (RunResult, error)
	// Pause suspends the sandbox, preserving its state.
	Pause(ctx context.Context, sandboxID string) error
	// Kill destroys the sandbox.
	Kill(ctx context.Context, sandboxID string) error
}
