package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func TestApprove_ResolvesWaiter(t *testing.T) {
	w := NewWaiter()
	ticket := w.Submit("curl https://example.com", security.TierYellow, "approval", "u1", time.Minute)

	done := make(chan struct{})
	var dec Decision
	var err error
	go func() {
		dec, err = ticket.Wait(context.Background())
		close(done)
	}()

	if aerr := w.Approve(ticket.Request.ID, "admin"); aerr != nil {
		t.Fatalf("Approve: %v", aerr)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Approve")
	}
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !dec.Approved || dec.ApprovedBy != "admin" || dec.Timestamp.IsZero() {
		t.Errorf("decision = %+v", dec)
	}
}

func TestReject_CarriesReason(t *testing.T) {
	w := NewWaiter()
	ticket := w.Submit("rm -rf build", security.TierYellow, "approval", "u1", time.Minute)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Reject(ticket.Request.ID, "too risky")
	}()

	_, err := ticket.Wait(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if err.Error() != "approval rejected: too risky" {
		t.Errorf("err = %q", err)
	}
}

func TestTimeout(t *testing.T) {
	w := NewWaiter()
	ticket := w.Submit("curl x", security.TierYellow, "approval", "u1", 30*time.Millisecond)

	_, err := ticket.Wait(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	// The entry is gone, so a late approve fails.
	if err := w.Approve(ticket.Request.ID, "admin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("late approve err = %v, want ErrNotFound", err)
	}
}

func TestApproveRejectMutuallyExclusive(t *testing.T) {
	w := NewWaiter()
	ticket := w.Submit("curl x", security.TierYellow, "approval", "u1", time.Minute)

	if err := w.Approve(ticket.Request.ID, "admin"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := w.Reject(ticket.Request.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reject after Approve: %v, want ErrNotFound", err)
	}

	dec, err := ticket.Wait(context.Background())
	if err != nil || !dec.Approved {
		t.Errorf("Wait = %+v, %v", dec, err)
	}
}

func TestUnknownID(t *testing.T) {
	w := NewWaiter()
	if err := w.Approve("nope", "admin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve unknown: %v", err)
	}
	if err := w.Reject("nope", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reject unknown: %v", err)
	}
}

func TestListPending_NewestFirst(t *testing.T) {
	w := NewWaiter()
	first := w.Submit("one", security.TierYellow, "r", "u1", time.Minute)
	time.Sleep(5 * time.Millisecond)
	second := w.Submit("two", security.TierYellow, "r", "u1", time.Minute)

	got := w.ListPending()
	if len(got) != 2 {
		t.Fatalf("pending = %d, want 2", len(got))
	}
	if got[0].ID != second.Request.ID || got[1].ID != first.Request.ID {
		t.Errorf("not newest-first: %+v", got)
	}
}

func TestContextCancellation(t *testing.T) {
	w := NewWaiter()
	ticket := w.Submit("curl x", security.TierYellow, "r", "u1", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ticket.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := len(w.ListPending()); n != 0 {
		t.Errorf("pending after cancel = %d, want 0", n)
	}
}

func TestCleanupExpired(t *testing.T) {
	w := NewWaiter()

	// Register directly with an already-past deadline; stop the timer so
	// only the sweep can resolve it.
	ticket := w.Submit("curl x", security.TierYellow, "r", "u1", time.Hour)
	w.mu.Lock()
	p := w.pending[ticket.Request.ID]
	p.req.ExpiresAt = time.Now().Add(-time.Second)
	w.mu.Unlock()

	if n := w.CleanupExpired(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := ticket.Wait(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestEvents_UseProtocolNames(t *testing.T) {
	w := NewWaiter()
	var events []string
	w.OnEvent(func(event string, payload map[string]any) {
		events = append(events, event)
	})

	ticket := w.Submit("npm install left-pad", security.TierYellow, "approval", "u1", time.Minute)
	if err := w.Approve(ticket.Request.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := ticket.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{protocol.EventApprovalRequest, protocol.EventApprovalResolved}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}
