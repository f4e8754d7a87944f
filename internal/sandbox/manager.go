package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Default lifecycle timeouts.
const (
	DefaultIdleTimeout = 50 * time.Minute
	DefaultExecTimeout = 30 * time.Second
)

// ExecResult is the structured outcome of Execute. Provider failures land
// here as Success=false, never as errors.
type ExecResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of a user's sandbox.
type Status struct {
	Active         bool       `json:"active"`
	SandboxID      string     `json:"sandbox_id,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	UptimeMs       int64      `json:"uptime_ms,omitempty"`
}

type userSandbox struct {
	sandboxID    string
	createdAt    time.Time
	lastActivity time.Time
	idleTimer    *time.Timer
}

// Manager owns per-user sandbox lifecycle: lazy single-flight creation,
// idle hibernation, and termination. At most one active sandbox exists per
// user.
type Manager struct {
	mu       sync.Mutex
	provider Provider
	active   map[string]*userSandbox
	group    singleflight.Group

	idleTimeout time.Duration
	execTimeout time.Duration

	// onEvent, when set, receives lifecycle notifications
	// (sandbox.created, sandbox.hibernated, sandbox.terminated).
	onEvent func(event, userID, sandboxID string)
}

// NewManager creates a manager over the given provider. Non-positive
// timeouts fall back to the defaults.
func NewManager(provider Provider, idleTimeout, execTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if execTimeout <= 0 {
		execTimeout = DefaultExecTimeout
	}
	return &Manager{
		provider:    provider,
		active:      make(map[string]*userSandbox),
		idleTimeout: idleTimeout,
		execTimeout: execTimeout,
	}
}

// OnEvent registers a lifecycle notification sink. Must be called before
// the manager is shared.
func (m *Manager) OnEvent(fn func(event, userID, sandboxID string)) { m.onEvent = fn }

func (m *Manager) emit(event, userID, sandboxID string) {
	if m.onEvent != nil {
		m.onEvent(event, userID, sandboxID)
	}
}

// GetOrCreate returns the user's sandbox id, creating one if needed.
// Concurrent calls for the same user share a single provider create.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	if us, ok := m.active[userID]; ok {
		m.touchLocked(userID, us)
		id := us.sandboxID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(userID, func() (any, error) {
		// A concurrent winner may have registered while we queued.
		m.mu.Lock()
		if us, ok := m.active[userID]; ok {
			m.touchLocked(userID, us)
			id := us.sandboxID
			m.mu.Unlock()
			return id, nil
		}
		m.mu.Unlock()

		id, err := m.provider.Create(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("create sandbox for %s: %w: %v", userID, ErrUnavailable, err)
		}

		now := time.Now()
		us := &userSandbox{sandboxID: id, createdAt: now, lastActivity: now}
		m.mu.Lock()
		m.active[userID] = us
		m.armIdleTimerLocked(userID, us)
		m.mu.Unlock()

		slog.Info("sandbox.created", "user_id", userID, "sandbox_id", id)
		m.emit(protocol.EventSandboxCreated, userID, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// touchLocked bumps activity and re-arms the idle timer. Caller holds mu.
func (m *Manager) touchLocked(userID string, us *userSandbox) {
	us.lastActivity = time.Now()
	m.armIdleTimerLocked(userID, us)
}

// armIdleTimerLocked replaces the idle timer. The callback re-checks that
// this exact sandbox is still registered, so a timer armed before a
// terminate or hibernate can never act afterwards.
func (m *Manager) armIdleTimerLocked(userID string, us *userSandbox) {
	if us.idleTimer != nil {
		us.idleTimer.Stop()
	}
	us.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.mu.Lock()
		current, ok := m.active[userID]
		m.mu.Unlock()
		if !ok || current != us {
			return
		}
		slog.Info("sandbox.idle_timeout", "user_id", userID, "sandbox_id", us.sandboxID)
		m.Hibernate(context.Background(), userID)
	})
}

// Execute runs a command in the user's sandbox. Output is stdout with
// stderr appended after a newline when non-empty. Failures are returned
// as structured results, never errors.
func (m *Manager) Execute(ctx context.Context, userID, command string) ExecResult {
	id, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return ExecResult{Success: false, Error: err.Error(), ExitCode: 1}
	}

	m.mu.Lock()
	if us, ok := m.active[userID]; ok {
		m.touchLocked(userID, us)
	}
	m.mu.Unlock()

	res, err := m.provider.Run(ctx, id, command, m.execTimeout)
	if err != nil {
		return ExecResult{Success: false, Error: err.Error(), ExitCode: 1}
	}

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n" + res.Stderr
	}
	return ExecResult{
		Success:  res.ExitCode == 0,
		Output:   output,
		ExitCode: res.ExitCode,
	}
}

// remove unregisters the user's sandbox and cancels its idle timer.
func (m *Manager) remove(userID string) (*userSandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	us, ok := m.active[userID]
	if !ok {
		return nil, false
	}
	delete(m.active, userID)
	if us.idleTimer != nil {
		us.idleTimer.Stop()
	}
	return us, true
}

// Hibernate pauses the user's sandbox and drops the active mapping. Pause
// failures fall back to a best-effort kill.
func (m *Manager) Hibernate(ctx context.Context, userID string) {
	us, ok := m.remove(userID)
	if !ok {
		return
	}
	if err := m.provider.Pause(ctx, us.sandboxID); err != nil {
		slog.Warn("sandbox.pause_failed", "user_id", userID, "sandbox_id", us.sandboxID, "error", err)
		if kerr := m.provider.Kill(ctx, us.sandboxID); kerr != nil {
			slog.Warn("sandbox.kill_failed", "user_id", userID, "sandbox_id", us.sandboxID, "error", kerr)
		}
	}
	slog.Info("sandbox.hibernated", "user_id", userID, "sandbox_id", us.sandboxID)
	m.emit(protocol.EventSandboxHibernated, userID, us.sandboxID)
}

// Terminate kills the user's sandbox best-effort and drops the mapping.
func (m *Manager) Terminate(ctx context.Context, userID string) {
	us, ok := m.remove(userID)
	if !ok {
		return
	}
	if err := m.provider.Kill(ctx, us.sandboxID); err != nil {
		slog.Warn("sandbox.kill_failed", "user_id", userID, "sandbox_id", us.sandboxID, "error", err)
	}
	slog.Info("sandbox.terminated", "user_id", userID, "sandbox_id", us.sandboxID)
	m.emit(protocol.EventSandboxTerminated, userID, us.sandboxID)
}

// TerminateAll fans termination out over every active user and waits for
// all of them.
func (m *Manager) TerminateAll(ctx context.Context) {
	m.mu.Lock()
	users := make([]string, 0, len(m.active))
	for userID := range m.active {
		users = append(users, userID)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, userID := range users {
		g.Go(func() error {
			m.Terminate(ctx, userID)
			return nil
		})
	}
	g.Wait()
}

// Status snapshots the user's sandbox state.
func (m *Manager) Status(userID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	us, ok := m.active[userID]
	if !ok {
		return Status{Active: false}
	}
	created := us.createdAt
	last := us.lastActivity
	return Status{
		Active:         true,
		SandboxID:      us.sandboxID,
		CreatedAt:      &created,
		LastActivityAt: &last,
		UptimeMs:       time.Since(us.createdAt).Milliseconds(),
	}
}
