package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// fakeProvider counts lifecycle calls and lets tests inject behavior.
type fakeProvider struct {
	mu          sync.Mutex
	createCalls int32
	pauseCalls  int32
	killCalls   int32
	createDelay time.Duration
	createErr   error
	runErr      error
	runResult   RunResult
}

func (p *fakeProvider) Create(ctx context.Context, userID string) (string, error) {
	n := atomic.AddInt32(&p.createCalls, 1)
	if p.createDelay > 0 {
		time.Sleep(p.createDelay)
	}
	if p.createErr != nil {
		return "", p.createErr
	}
	return fmt.Sprintf("sbx-%s-%d", userID, n), nil
}

func (p *fakeProvider) Run(ctx context.Context, sandboxID, command string, timeout time.Duration) (RunResult, error) {
	if p.runErr != nil {
		return RunResult{}, p.runErr
	}
	return p.runResult, nil
}

func (p *fakeProvider) Pause(ctx context.Context, sandboxID string) error {
	atomic.AddInt32(&p.pauseCalls, 1)
	return nil
}

func (p *fakeProvider) Kill(ctx context.Context, sandboxID string) error {
	atomic.AddInt32(&p.killCalls, 1)
	return nil
}

func TestGetOrCreate_SingleFlight(t *testing.T) {
	p := &fakeProvider{createDelay: 50 * time.Millisecond}
	m := NewManager(p, time.Hour, time.Second)

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.GetOrCreate(context.Background(), "u1")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&p.createCalls); got != 1 {
		t.Errorf("provider create called %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Errorf("caller %d got %q, caller 0 got %q", i, ids[i], ids[0])
		}
	}
}

func TestGetOrCreate_PerUserIsolation(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, time.Hour, time.Second)

	id1, _ := m.GetOrCreate(context.Background(), "u1")
	id2, _ := m.GetOrCreate(context.Background(), "u2")
	if id1 == id2 {
		t.Errorf("users share a sandbox: %q", id1)
	}
	if got := atomic.LoadInt32(&p.createCalls); got != 2 {
		t.Errorf("create calls = %d, want 2", got)
	}
}

func TestGetOrCreate_ProviderFailure(t *testing.T) {
	p := &fakeProvider{createErr: errors.New("quota exceeded")}
	m := NewManager(p, time.Hour, time.Second)

	if _, err := m.GetOrCreate(context.Background(), "u1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	// A later attempt retries the create.
	p.createErr = nil
	if _, err := m.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestExecute_CombinesOutput(t *testing.T) {
	p := &fakeProvider{runResult: RunResult{Stdout: "out", Stderr: "warn", ExitCode: 0}}
	m := NewManager(p, time.Hour, time.Second)

	res := m.Execute(context.Background(), "u1", "ls")
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("result: %+v", res)
	}
	if res.Output != "out\nwarn" {
		t.Errorf("output = %q, want stdout newline stderr", res.Output)
	}

	p.runResult = RunResult{Stdout: "only", ExitCode: 0}
	if res := m.Execute(context.Background(), "u1", "ls"); res.Output != "only" {
		t.Errorf("output = %q, want %q", res.Output, "only")
	}
}

func TestExecute_ErrorsAreStructured(t *testing.T) {
	p := &fakeProvider{runErr: errors.New("connection reset")}
	m := NewManager(p, time.Hour, time.Second)

	res := m.Execute(context.Background(), "u1", "ls")
	if res.Success || res.ExitCode != 1 || res.Error == "" {
		t.Errorf("result: %+v", res)
	}

	p2 := &fakeProvider{createErr: errors.New("no capacity")}
	m2 := NewManager(p2, time.Hour, time.Second)
	if res := m2.Execute(context.Background(), "u1", "ls"); res.Success || res.ExitCode != 1 {
		t.Errorf("create-failure result: %+v", res)
	}
}

func TestIdleTimer_Hibernates(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, 30*time.Millisecond, time.Second)

	if _, err := m.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&p.pauseCalls); got != 1 {
		t.Errorf("pause calls = %d, want exactly 1", got)
	}
	if st := m.Status("u1"); st.Active {
		t.Errorf("still active after idle timeout: %+v", st)
	}
}

func TestIdleTimer_ResetOnActivity(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, 120*time.Millisecond, time.Second)

	m.GetOrCreate(context.Background(), "u1")
	time.Sleep(80 * time.Millisecond)
	m.Execute(context.Background(), "u1", "ls") // touch re-arms the timer
	time.Sleep(80 * time.Millisecond)

	if st := m.Status("u1"); !st.Active {
		t.Error("hibernated despite recent activity")
	}
}

func TestIdleTimer_NeverFiresAfterTerminate(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, 50*time.Millisecond, time.Second)

	m.GetOrCreate(context.Background(), "u1")
	m.Terminate(context.Background(), "u1")
	time.Sleep(150 * time.Millisecond)

	if got := atomic.LoadInt32(&p.pauseCalls); got != 0 {
		t.Errorf("pause called %d times after terminate, want 0", got)
	}
	if got := atomic.LoadInt32(&p.killCalls); got != 1 {
		t.Errorf("kill calls = %d, want 1", got)
	}
}

func TestTerminateAll(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, time.Hour, time.Second)

	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := m.GetOrCreate(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	m.TerminateAll(context.Background())

	if got := atomic.LoadInt32(&p.killCalls); got != 3 {
		t.Errorf("kill calls = %d, want 3", got)
	}
	for _, u := range []string{"u1", "u2", "u3"} {
		if m.Status(u).Active {
			t.Errorf("%s still active", u)
		}
	}
}

func TestStatus(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, time.Hour, time.Second)

	if st := m.Status("u1"); st.Active || st.SandboxID != "" {
		t.Errorf("empty status: %+v", st)
	}

	id, _ := m.GetOrCreate(context.Background(), "u1")
	st := m.Status("u1")
	if !st.Active || st.SandboxID != id {
		t.Errorf("status: %+v", st)
	}
	if st.CreatedAt == nil || st.LastActivityAt == nil || st.LastActivityAt.Before(*st.CreatedAt) {
		t.Errorf("timestamps: %+v", st)
	}
}

func TestLifecycleEvents_UseProtocolNames(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, time.Hour, time.Second)

	var mu sync.Mutex
	var events []string
	m.OnEvent(func(event, userID, sandboxID string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	if _, err := m.GetOrCreate(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	m.Terminate(context.Background(), "u1")

	mu.Lock()
	defer mu.Unlock()
	want := []string{protocol.EventSandboxCreated, protocol.EventSandboxTerminated}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}
