package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// DefaultTimeout applies when a request does not name one.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimeout reports that nobody decided before the request expired.
	ErrTimeout = errors.New("approval timed out")
	// ErrRejected reports an explicit rejection.
	ErrRejected = errors.New("approval rejected")
	// ErrNotFound reports an unknown or already-decided request id.
	ErrNotFound = errors.New("approval request not found")
)

// Request is one pending human-in-the-loop confirmation.
type Request struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	Tier        security.Tier `json:"tier"`
	Reason      string        `json:"reason"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	RequesterID string        `json:"requester_id"`
}

// Decision is the successful outcome of a request.
type Decision struct {
	Approved   bool      `json:"approved"`
	ApprovedBy string    `json:"approved_by"`
	Timestamp  time.Time `json:"timestamp"`
}

type outcome struct {
	decision Decision
	err      error
}

type pendingRequest struct {
	req    Request
	result chan outcome
	timer  *time.Timer
}

// Ticket is a registered request a caller can block on.
type Ticket struct {
	Request Request

	w *Waiter
	p *pendingRequest
}

// Waiter coordinates requesters blocked on a decision with approvers
// arriving over RPC. Each request resolves exactly once: approve, reject,
// timeout, or caller cancellation.
type Waiter struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	// onEvent, when set, receives approval.requested / approval.resolved
	// notifications.
	onEvent func(event string, payload map[string]any)
}

// NewWaiter creates an empty waiter.
func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[string]*pendingRequest)}
}

// OnEvent registers a notification sink. Must be called before the
// waiter is shared.
func (w *Waiter) OnEvent(fn func(event string, payload map[string]any)) { w.onEvent = fn }

func (w *Waiter) emit(event string, payload map[string]any) {
	if w.onEvent != nil {
		w.onEvent(event, payload)
	}
}

// Submit registers a pending approval and arms its timeout timer. The
// returned ticket's id is immediately visible to ListPending and to
// Approve/Reject.
func (w *Waiter) Submit(command string, tier security.Tier, reason, requesterID string, timeout time.Duration) *Ticket {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := time.Now()
	p := &pendingRequest{
		req: Request{
			ID:          uuid.NewString(),
			Command:     command,
			Tier:        tier,
			Reason:      reason,
			CreatedAt:   now,
			ExpiresAt:   now.Add(timeout),
			RequesterID: requesterID,
		},
		result: make(chan outcome, 1),
	}

	w.mu.Lock()
	w.pending[p.req.ID] = p
	p.timer = time.AfterFunc(timeout, func() { w.resolve(p.req.ID, outcome{err: ErrTimeout}) })
	w.mu.Unlock()

	w.emit(protocol.EventApprovalRequest, map[string]any{
		"id": p.req.ID, "command": command, "tier": string(tier),
		"reason": reason, "requester_id": requesterID,
		"expires_at": p.req.ExpiresAt,
	})
	return &Ticket{Request: p.req, w: w, p: p}
}

// Wait blocks until the ticket is decided, times out, or ctx is canceled.
func (t *Ticket) Wait(ctx context.Context) (Decision, error) {
	select {
	case out := <-t.p.result:
		return out.decision, out.err
	case <-ctx.Done():
		t.w.resolve(t.Request.ID, outcome{err: ctx.Err()})
		// A decision may have raced the cancellation; prefer whatever
		// landed in the channel first.
		out := <-t.p.result
		return out.decision, out.err
	}
}

// RequestAndWait is the one-call form of Submit plus Wait.
func (w *Waiter) RequestAndWait(ctx context.Context, command string, tier security.Tier, reason, requesterID string, timeout time.Duration) (Decision, error) {
	return w.Submit(command, tier, reason, requesterID, timeout).Wait(ctx)
}

// resolve removes the request and delivers the outcome. Only the first
// caller for an id wins; later callers find nothing.
func (w *Waiter) resolve(id string, out outcome) bool {
	w.mu.Lock()
	p, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
		p.timer.Stop()
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	p.result <- out
	w.emit(protocol.EventApprovalResolved, map[string]any{
		"id":       id,
		"approved": out.err == nil && out.decision.Approved,
	})
	return true
}

// Approve decides the request in favor. Unknown or already-decided ids
// fail with ErrNotFound.
func (w *Waiter) Approve(id, approvedBy string) error {
	out := outcome{decision: Decision{Approved: true, ApprovedBy: approvedBy, Timestamp: time.Now()}}
	if !w.resolve(id, out) {
		return fmt.Errorf("approve %s: %w", id, ErrNotFound)
	}
	return nil
}

// Reject decides the request against. Unknown or already-decided ids fail
// with ErrNotFound.
func (w *Waiter) Reject(id, reason string) error {
	err := ErrRejected
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	if !w.resolve(id, outcome{err: err}) {
		return fmt.Errorf("reject %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPending returns the open requests, newest first.
func (w *Waiter) ListPending() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Request, 0, len(w.pending))
	for _, p := range w.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CleanupExpired sweeps requests past their deadline, resolving each as a
// timeout. The per-request timer is the primary mechanism; this is a
// defensive backstop.
func (w *Waiter) CleanupExpired() int {
	w.mu.Lock()
	var expired []string
	now := time.Now()
	for id, p := range w.pending {
		if now.After(p.req.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	w.mu.Unlock()

	n := 0
	for _, id := range expired {
		if w.resolve(id, outcome{err: ErrTimeout}) {
			n++
		}
	}
	return n
}
