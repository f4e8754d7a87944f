package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// LocalProvider runs commands in per-user working directories on the
// host. It is the standalone-mode backend; deployments wanting stronger
// isolation plug in their own Provider.
type LocalProvider struct {
	root string

	mu     sync.Mutex
	dirs   map[string]string // sandboxID -> workdir
	nextID int
}

// NewLocalProvider creates a provider rooted at dir. Sandboxes live in
// per-user subdirectories.
func NewLocalProvider(dir string) (*LocalProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	return &LocalProvider{root: dir, dirs: make(map[string]string)}, nil
}

// Create provisions a working directory for the user.
func (p *LocalProvider) Create(ctx context.Context, userID string) (string, error) {
	workdir := filepath.Join(p.root, userID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("local-%s-%d", userID, p.nextID)
	p.dirs[id] = workdir
	p.mu.Unlock()
	return id, nil
}

// Run executes the command with sh -c in the sandbox's directory.
func (p *LocalProvider) Run(ctx context.Context, sandboxID, command string, timeout time.Duration) (RunResult, error) {
	p.mu.Lock()
	workdir, ok := p.dirs[sandboxID]
	p.mu.Unlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%w: unknown sandbox %s", ErrUnavailable, sandboxID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("command timed out after %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

// Pause is a no-op: a directory has no running state to suspend. The
// mapping is kept so a later Create for the same user reuses the files.
func (p *LocalProvider) Pause(ctx context.Context, sandboxID string) error {
	return nil
}

// Kill forgets the sandbox mapping. Files stay on disk.
func (p *LocalProvider) Kill(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	delete(p.dirs, sandboxID)
	p.mu.Unlock()
	return nil
}
