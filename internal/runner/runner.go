// Package runner ties the hook pipeline, approval waiter, sandbox
// manager and secrets scanner into one guarded execution flow shared by
// the RPC and MCP surfaces.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawgate/internal/approval"
	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/orchestrator"
	"github.com/nextlevelbuilder/clawgate/internal/sandbox"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/internal/tracing"
)

// GuardedExec runs shell commands through the full pipeline: before-hooks
// decide, flagged commands wait for approval, execution happens in the
// user's sandbox, and after-hooks plus the scanner scrub the output.
type GuardedExec struct {
	Pipeline        *hooks.Pipeline
	Approvals       *approval.Waiter
	Sandboxes       *sandbox.Manager
	Scanner         *secrets.Scanner
	ApprovalTimeout time.Duration
}

// ErrBlocked wraps a pipeline block decision.
type ErrBlocked struct{ Reason string }

func (e ErrBlocked) Error() string { return e.Reason }

// Run executes one command for the given caller. The returned string is
// the (possibly redacted) output; a block at any stage returns ErrBlocked.
func (g *GuardedExec) Run(ctx context.Context, call hooks.CallContext, command string) (out string, err error) {
	ctx, span := tracing.StartSpan(ctx, "exec.run",
		trace.WithAttributes(attribute.String("user.id", call.UserID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ev := hooks.Event{
		ToolName: orchestrator.ShellTool,
		Params:   map[string]any{"command": command},
	}

	before := g.Pipeline.RunBefore(ctx, ev, call)
	if before.Block {
		return "", ErrBlocked{Reason: before.Reason}
	}
	if before.Params != nil {
		ev.Params = before.Params
	}

	// A tier marker means the pipeline wants a human decision first.
	if tier, _ := ev.Params[orchestrator.ParamTier].(string); tier != "" {
		reason, _ := ev.Params[orchestrator.ParamReason].(string)
		decision, err := g.Approvals.RequestAndWait(ctx, command,
			security.Tier(tier), reason, call.UserID, g.ApprovalTimeout)
		switch {
		case errors.Is(err, approval.ErrTimeout):
			return "", ErrBlocked{Reason: "Approval timed out"}
		case errors.Is(err, approval.ErrRejected):
			return "", ErrBlocked{Reason: "Approval rejected"}
		case err != nil:
			return "", err
		case !decision.Approved:
			return "", ErrBlocked{Reason: "Approval rejected"}
		}
	}

	start := time.Now()
	res := g.Sandboxes.Execute(ctx, call.UserID, command)
	ev.Result = res.Output
	ev.DurationMs = time.Since(start).Milliseconds()
	if !res.Success && res.Error != "" {
		ev.Error = res.Error
	}

	after := g.Pipeline.RunAfter(ctx, ev, call)
	if after.Block {
		return "", ErrBlocked{Reason: after.Reason}
	}

	output := res.Output
	if g.Scanner != nil && g.Scanner.Config().Get().Mode == secrets.ModeRedact {
		if scan := g.Scanner.ScanOutput(output); scan.HasSecrets {
			output = scan.RedactedText
		}
	}
	if !res.Success && res.Error != "" {
		return output, fmt.Errorf("command failed: %s", res.Error)
	}
	return output, nil
}
