package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawgate/internal/tracing"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Scheduler defaults.
const (
	DefaultMaxConcurrent    = 5
	DefaultExecutionTimeout = 5 * time.Minute
	DefaultMaxRetries       = 3
	DefaultBackoff          = time.Minute
	maxHTTPBody             = 1000
)

// ErrNotAllowed reports a shell command outside the cron whitelist.
var ErrNotAllowed = errors.New("Command not allowed")

// shellWhitelist is the set of command heads cron may run directly.
var shellWhitelist = map[string]bool{"echo": true, "date": true, "pwd": true, "whoami": true}

// AgentRunner executes "agent:" commands. The scheduler treats the agent
// surface as abstract.
type AgentRunner func(ctx context.Context, job Job, command string) (string, error)

type scheduledTask struct {
	timer *time.Timer
	next  time.Time
}

// SchedulerOptions tune the scheduler. Zero values take the defaults.
type SchedulerOptions struct {
	MaxConcurrent    int
	ExecutionTimeout time.Duration
	MaxRetries       int
	Backoff          time.Duration
	AgentRunner      AgentRunner
	HTTPClient       *http.Client
}

// Scheduler arms one timer per enabled job and executes on fire, with a
// concurrency cap, per-execution timeout, and linear-backoff retries.
type Scheduler struct {
	mu     sync.Mutex
	store  *FileStore
	gron   *gronx.Gronx
	tasks  map[string]*scheduledTask
	active int
	closed bool

	maxConcurrent int
	execTimeout   time.Duration
	maxRetries    int
	backoff       time.Duration
	agentRunner   AgentRunner
	httpClient    *http.Client

	// onEvent, when set, receives "cron" notifications with the run
	// subtype in payload "type".
	onEvent func(event string, payload map[string]any)
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(store *FileStore, opts SchedulerOptions) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scheduler{
		store:         store,
		gron:          gronx.New(),
		tasks:         make(map[string]*scheduledTask),
		maxConcurrent: opts.MaxConcurrent,
		execTimeout:   opts.ExecutionTimeout,
		maxRetries:    opts.MaxRetries,
		backoff:       opts.Backoff,
		agentRunner:   opts.AgentRunner,
		httpClient:    opts.HTTPClient,
	}
}

// OnEvent registers a notification sink. Must be called before Start.
func (s *Scheduler) OnEvent(fn func(event string, payload map[string]any)) { s.onEvent = fn }

func (s *Scheduler) emit(event string, payload map[string]any) {
	if s.onEvent != nil {
		s.onEvent(event, payload)
	}
}

// Start schedules every enabled persisted job.
func (s *Scheduler) Start() {
	for _, job := range s.store.List() {
		if !job.Enabled {
			continue
		}
		if err := s.Schedule(job); err != nil {
			slog.Warn("cron.schedule_failed", "job_id", job.ID, "error", err)
		}
	}
}

// Stop cancels every timer and refuses further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, id)
	}
}

// Schedule arms the job's next execution. Disabled jobs are ignored; an
// already-scheduled job is unscheduled first. An unparsable expression is
// persisted as the job's last_error and not scheduled.
func (s *Scheduler) Schedule(job Job) error {
	if !job.Enabled {
		return nil
	}
	if !s.gron.IsValid(job.CronExpression) {
		job.LastError = fmt.Sprintf("invalid cron expression: %q", job.CronExpression)
		job.UpdatedAt = time.Now()
		if err := s.store.Save(job); err != nil {
			slog.Warn("cron.store.save_failed", "job_id", job.ID, "error", err)
		}
		return fmt.Errorf("job %s: invalid cron expression %q", job.ID, job.CronExpression)
	}

	now := time.Now().In(job.Location())
	next, err := gronx.NextTickAfter(job.CronExpression, now, false)
	if err != nil {
		return fmt.Errorf("job %s: next tick: %w", job.ID, err)
	}

	job.NextExecutionAt = &next
	job.UpdatedAt = time.Now()
	if err := s.store.Save(job); err != nil {
		return err
	}
	s.armAt(job.ID, next)
	return nil
}

// armAt replaces the job's timer with one firing at t.
func (s *Scheduler) armAt(jobID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if task, ok := s.tasks[jobID]; ok {
		task.timer.Stop()
	}
	delay := max(0, time.Until(t))
	s.tasks[jobID] = &scheduledTask{
		next:  t,
		timer: time.AfterFunc(delay, func() { s.fire(jobID) }),
	}
}

// Unschedule cancels the job's timer.
func (s *Scheduler) Unschedule(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[jobID]; ok {
		task.timer.Stop()
		delete(s.tasks, jobID)
	}
}

// UnscheduleAll cancels every timer.
func (s *Scheduler) UnscheduleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, id)
	}
}

// Status reports scheduler occupancy.
func (s *Scheduler) Status() (scheduled, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks), s.active
}

// NextExecution returns the armed fire time for a job, if scheduled.
func (s *Scheduler) NextExecution(jobID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[jobID]
	if !ok {
		return time.Time{}, false
	}
	return task.next, true
}

// fire runs when a job's timer elapses. Over-capacity fires re-arm
// immediately rather than dropping the tick.
func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.active >= s.maxConcurrent {
		s.mu.Unlock()
		s.armAt(jobID, time.Now())
		return
	}
	s.active++
	s.mu.Unlock()

	s.execute(jobID)
}

// RunNow executes the job immediately, bypassing its schedule but
// honoring the concurrency cap.
func (s *Scheduler) RunNow(jobID string) error {
	if _, err := s.store.Get(jobID); err != nil {
		return err
	}
	go s.fire(jobID)
	return nil
}

func (s *Scheduler) execute(jobID string) {
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	job, err := s.store.Get(jobID)
	if err != nil {
		slog.Warn("cron.job_vanished", "job_id", jobID)
		return
	}

	s.emit(protocol.EventCron, map[string]any{
		"type": protocol.CronEventStarted, "job_id": job.ID, "name": job.Name,
	})
	slog.Info("cron.run.started", "job_id", job.ID, "name", job.Name)

	ctx, cancel := context.WithTimeout(context.Background(), s.execTimeout)
	ctx, span := tracing.StartSpan(ctx, "cron.run", trace.WithAttributes(
		attribute.String("cron.job_id", job.ID),
		attribute.String("cron.job_name", job.Name),
	))
	output, err := s.dispatch(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	cancel()

	now := time.Now()
	if err == nil {
		job.LastExecutedAt = &now
		job.LastError = ""
		job.ExecutionCount++
		job.FailureCount = 0
		job.UpdatedAt = now
		s.persistAndReschedule(job)
		s.emit(protocol.EventCron, map[string]any{
			"type": protocol.CronEventCompleted, "job_id": job.ID, "name": job.Name, "output": output,
		})
		slog.Info("cron.run.completed", "job_id", job.ID)
		return
	}

	job.FailureCount++
	job.LastError = err.Error()
	job.UpdatedAt = now
	if job.FailureCount <= s.maxRetries {
		retryAt := now.Add(s.backoff * time.Duration(job.FailureCount))
		job.NextExecutionAt = &retryAt
		if serr := s.store.Save(job); serr != nil {
			slog.Warn("cron.store.save_failed", "job_id", job.ID, "error", serr)
		}
		s.armAt(job.ID, retryAt)
		s.emit(protocol.EventCron, map[string]any{
			"type": protocol.CronEventRetrying, "job_id": job.ID, "attempt": job.FailureCount, "error": err.Error(),
		})
		slog.Warn("cron.run.retrying", "job_id", job.ID, "attempt", job.FailureCount, "error", err)
		return
	}

	// Retries exhausted: fall back to the regular schedule.
	s.persistAndReschedule(job)
	s.emit(protocol.EventCron, map[string]any{
		"type": protocol.CronEventFailed, "job_id": job.ID, "error": err.Error(),
	})
	slog.Error("cron.run.failed", "job_id", job.ID, "error", err)
}

// persistAndReschedule saves the job and arms its next cron tick.
func (s *Scheduler) persistAndReschedule(job Job) {
	next, err := gronx.NextTickAfter(job.CronExpression, time.Now().In(job.Location()), false)
	if err == nil {
		job.NextExecutionAt = &next
	}
	if serr := s.store.Save(job); serr != nil {
		slog.Warn("cron.store.save_failed", "job_id", job.ID, "error", serr)
	}
	if err == nil && job.Enabled {
		s.armAt(job.ID, next)
	}
}

// dispatch executes the job's command by shape: HTTP GET for http(s) URLs,
// the agent runner for "agent:" commands, and a whitelisted direct
// execution for everything else.
func (s *Scheduler) dispatch(ctx context.Context, job Job) (string, error) {
	cmd := strings.TrimSpace(job.Command)
	switch {
	case strings.HasPrefix(cmd, "http://"), strings.HasPrefix(cmd, "https://"):
		return s.runHTTP(ctx, cmd)
	case strings.HasPrefix(cmd, "agent:"):
		if s.agentRunner == nil {
			return "", errors.New("agent runner not configured")
		}
		return s.agentRunner(ctx, job, strings.TrimSpace(strings.TrimPrefix(cmd, "agent:")))
	default:
		return s.runShell(ctx, cmd)
	}
}

func (s *Scheduler) runHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("cron http: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cron http: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(body), fmt.Errorf("cron http: status %d", resp.StatusCode)
	}
	return string(body), nil
}

func (s *Scheduler) runShell(ctx context.Context, command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 || !shellWhitelist[fields[0]] {
		return "", ErrNotAllowed
	}
	out, err := exec.CommandContext(ctx, fields[0], fields[1:]...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("cron shell: %w", err)
	}
	return string(out), nil
}
