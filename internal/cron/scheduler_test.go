package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testJob(id, command string) Job {
	now := time.Now().UTC().Truncate(time.Second)
	return Job{
		ID:             id,
		UserID:         "u1",
		Name:           "test " + id,
		CronExpression: "* * * * *",
		Command:        command,
		ChannelID:      "c1",
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestJob_SerializeRoundTrip(t *testing.T) {
	last := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	job := testJob("j1", "echo hi")
	job.Description = "round trip"
	job.LastExecutedAt = &last
	job.ExecutionCount = 7
	job.FailureCount = 1
	job.LastError = "boom"
	job.Timezone = "America/New_York"

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(job, got) {
		t.Errorf("round trip mismatch:\n  in: %+v\n out: %+v", job, got)
	}
	// Timestamps persist as RFC 3339 strings.
	if !strings.Contains(string(data), `"2024-03-15T10:30:00Z"`) {
		t.Errorf("timestamp encoding: %s", data)
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	job := testJob("j1", "echo hi")
	if err := store.Save(job); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get("j1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Command != "echo hi" || !got.Enabled {
		t.Errorf("reloaded job: %+v", got)
	}
}

func TestFileStore_DeleteAndNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(testJob("j1", "date")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("j1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted: %v", err)
	}
	if err := store.Delete("j1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete deleted: %v", err)
	}
}

func TestSchedule_InvalidExpressionPersistsError(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	job := testJob("j1", "date")
	job.CronExpression = "not a cron"
	if err := s.Schedule(job); err == nil {
		t.Fatal("invalid expression scheduled")
	}

	got, err := store.Get("j1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LastError, "invalid cron expression") {
		t.Errorf("last_error = %q", got.LastError)
	}
	if n, _ := s.Status(); n != 0 {
		t.Errorf("scheduled tasks = %d, want 0", n)
	}
}

func TestSchedule_ArmsNextExecution(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	if err := s.Schedule(testJob("j1", "date")); err != nil {
		t.Fatal(err)
	}
	next, ok := s.NextExecution("j1")
	if !ok {
		t.Fatal("job not scheduled")
	}
	until := time.Until(next)
	if until <= 0 || until > time.Minute {
		t.Errorf("next execution in %v, want within the next minute", until)
	}

	got, _ := store.Get("j1")
	if got.NextExecutionAt == nil || !got.NextExecutionAt.Equal(next) {
		t.Errorf("persisted next_execution_at = %v, timer at %v", got.NextExecutionAt, next)
	}

	s.Unschedule("j1")
	if _, ok := s.NextExecution("j1"); ok {
		t.Error("still scheduled after Unschedule")
	}
}

func TestSchedule_DisabledIsIgnored(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	job := testJob("j1", "date")
	job.Enabled = false
	if err := s.Schedule(job); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Status(); n != 0 {
		t.Errorf("disabled job scheduled: %d tasks", n)
	}
}

func TestRunNow_ShellWhitelist(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	out, err := s.dispatch(context.Background(), testJob("j1", "echo hello"))
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("output = %q", out)
	}

	if _, err := s.dispatch(context.Background(), testJob("j2", "rm -rf /tmp/x")); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("non-whitelisted command: %v, want ErrNotAllowed", err)
	}
}

func TestDispatch_HTTPTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	out, err := s.dispatch(context.Background(), testJob("j1", srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != maxHTTPBody {
		t.Errorf("body length = %d, want %d", len(out), maxHTTPBody)
	}
}

func TestDispatch_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	if _, err := s.dispatch(context.Background(), testJob("j1", srv.URL)); err == nil {
		t.Error("5xx response not treated as failure")
	}
}

func TestDispatch_AgentRunner(t *testing.T) {
	store := newTestStore(t)
	var gotCommand string
	s := NewScheduler(store, SchedulerOptions{
		AgentRunner: func(_ context.Context, _ Job, command string) (string, error) {
			gotCommand = command
			return "done", nil
		},
	})
	defer s.Stop()

	out, err := s.dispatch(context.Background(), testJob("j1", "agent: summarize inbox"))
	if err != nil || out != "done" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if gotCommand != "summarize inbox" {
		t.Errorf("agent command = %q", gotCommand)
	}

	s2 := NewScheduler(newTestStore(t), SchedulerOptions{})
	defer s2.Stop()
	if _, err := s2.dispatch(context.Background(), testJob("j2", "agent: x")); err == nil {
		t.Error("agent command without a runner should fail")
	}
}

func TestExecute_SuccessBookkeeping(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	job := testJob("j1", "echo ok")
	if err := store.Save(job); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("j1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, _ := store.Get("j1")
		if got.ExecutionCount == 1 {
			if got.LastExecutedAt == nil || got.LastError != "" || got.FailureCount != 0 {
				t.Errorf("bookkeeping: %+v", got)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("execution never completed: %+v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecute_FailureRetriesWithBackoff(t *testing.T) {
	store := newTestStore(t)
	calls := int32(0)
	s := NewScheduler(store, SchedulerOptions{
		Backoff:    time.Hour, // keep the retry from actually firing
		MaxRetries: 3,
		AgentRunner: func(context.Context, Job, string) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", errors.New("agent offline")
		},
	})
	defer s.Stop()

	job := testJob("j1", "agent: ping")
	if err := store.Save(job); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("j1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, _ := store.Get("j1")
		if got.FailureCount == 1 {
			if got.LastError == "" || got.ExecutionCount != 0 {
				t.Errorf("bookkeeping: %+v", got)
			}
			next, ok := s.NextExecution("j1")
			if !ok {
				t.Fatal("retry not armed")
			}
			if until := time.Until(next); until < 50*time.Minute {
				t.Errorf("retry armed in %v, want ~1h backoff", until)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("failure never recorded: %+v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := NewScheduler(newTestStore(t), SchedulerOptions{})
	defer s.Stop()
	if err := s.RunNow("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExecute_EmitsTypedCronEvents(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, SchedulerOptions{})
	defer s.Stop()

	var mu sync.Mutex
	var types []string
	s.OnEvent(func(event string, payload map[string]any) {
		if event != protocol.EventCron {
			t.Errorf("event name = %q, want %q", event, protocol.EventCron)
			return
		}
		mu.Lock()
		types = append(types, payload["type"].(string))
		mu.Unlock()
	})

	if err := store.Save(testJob("j1", "echo ok")); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("j1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		got := append([]string(nil), types...)
		mu.Unlock()
		if len(got) >= 2 {
			if got[0] != protocol.CronEventStarted || got[1] != protocol.CronEventCompleted {
				t.Errorf("subtypes = %v, want [%s %s]", got, protocol.CronEventStarted, protocol.CronEventCompleted)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("events not emitted, have %v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
