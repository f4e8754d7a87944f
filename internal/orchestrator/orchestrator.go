package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/internal/tracing"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// ShellTool is the tool name the orchestrator guards.
const ShellTool = "Shell"

// Marker keys added to the parameters of calls that pass the pipeline.
const (
	ParamAuditID = "_audit_id"
	ParamTier    = "_tier"
	ParamReason  = "_reason"
)

// Stable user-facing strings. Dashboards match on these.
const (
	blockPrefix          = "Command blocked for security: "
	injectionBlockPrefix = "Security blocked: "
	outputBlockedMsg     = "[OUTPUT BLOCKED - Secrets detected]"
	reasonNotAuthorized  = "User not authorized for shell commands"
	reasonAuthFailed     = "Authorization check failed"
)

// maxAuditOutput bounds the output stored on an audit entry.
const maxAuditOutput = 4096

// AuthorizeFunc asks the platform whether this user may run commands.
type AuthorizeFunc func(ctx context.Context, userID, channelID, platformUserID string) (bool, error)

// Orchestrator sequences the security pipeline around shell tool calls:
// authorize, injection scan, rate limit, classify, anomaly escalation,
// audit, and output scrubbing.
type Orchestrator struct {
	classifier *security.Classifier
	injection  *security.InjectionDetector
	limiter    *security.RateLimiter
	anomaly    *security.AnomalyDetector
	auditLog   *audit.Log
	scanner    *secrets.Scanner
	authorize  AuthorizeFunc

	// onEvent, when set, receives security notifications
	// (security.blocked, security.flagged, security.secrets.detected).
	onEvent func(event string, payload map[string]any)
}

// Options carries the orchestrator's collaborators. Limiter and Authorize
// are optional; a nil limiter disables rate limiting and a nil Authorize
// skips the platform check.
type Options struct {
	Classifier *security.Classifier
	Injection  *security.InjectionDetector
	Limiter    *security.RateLimiter
	Anomaly    *security.AnomalyDetector
	AuditLog   *audit.Log
	Scanner    *secrets.Scanner
	Authorize  AuthorizeFunc
}

// New creates an orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		classifier: opts.Classifier,
		injection:  opts.Injection,
		limiter:    opts.Limiter,
		anomaly:    opts.Anomaly,
		auditLog:   opts.AuditLog,
		scanner:    opts.Scanner,
		authorize:  opts.Authorize,
	}
}

// OnEvent registers a notification sink. Must be called before the
// orchestrator is shared.
func (o *Orchestrator) OnEvent(fn func(event string, payload map[string]any)) { o.onEvent = fn }

func (o *Orchestrator) emit(event string, payload map[string]any) {
	if o.onEvent != nil {
		o.onEvent(event, payload)
	}
}

// Register subscribes the orchestrator's before and after hooks.
func (o *Orchestrator) Register(pipeline *hooks.Pipeline) {
	pipeline.OnBeforeToolCall("security", 100, o.BeforeShell)
	pipeline.OnAfterToolCall("security", 100, o.AfterShell)
}

// BeforeShell runs the decision pipeline for one shell call.
func (o *Orchestrator) BeforeShell(ctx context.Context, ev hooks.Event, call hooks.CallContext) hooks.Result {
	if ev.ToolName != ShellTool {
		return hooks.Pass
	}
	command, _ := ev.Params["command"].(string)

	userID := orUnknown(call.UserID)
	channelID := orUnknown(call.ChannelID)
	platformUserID := orUnknown(call.PlatformUserID)

	ctx, span := tracing.StartSpan(ctx, "security.before_shell",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if o.authorize != nil {
		ok, err := o.authorize(ctx, userID, channelID, platformUserID)
		if err != nil {
			// Fail safe: an authorization backend error blocks.
			slog.Error("security.authorize_error", "user_id", userID, "error", err)
			return o.block(command, userID, channelID, security.TierRed, reasonAuthFailed, reasonAuthFailed)
		}
		if !ok {
			return o.block(command, userID, channelID, security.TierRed, reasonNotAuthorized, reasonNotAuthorized)
		}
	}

	if det := o.injection.Detect(command); det.Confidence > 0.5 {
		reason := det.Reason
		if !det.Detected {
			reason = "Prompt injection detected"
		}
		return o.block(command, userID, channelID, security.TierRed, reason,
			injectionBlockPrefix+reason)
	}

	if o.limiter != nil {
		if st := o.limiter.Check(userID, channelID); !st.Allowed {
			// Transient, not a policy decision: no audit entry.
			return hooks.Result{Block: true, Reason: fmt.Sprintf(
				"Rate limit exceeded. Retry in %dms.", st.RetryAfterMs)}
		}
	}

	cls := o.classifier.Classify(command)
	tier, action, reason := cls.Tier, cls.Action, cls.Reason

	anom := o.anomaly.Analyze(userID, command)
	switch {
	case tier == security.TierGreen && anom.IsAnomaly:
		tier, action = security.TierYellow, security.ActionAsk
		reason = fmt.Sprintf("%s; anomalous activity (score %.2f)", reason, anom.Score)
	case tier == security.TierYellow && anom.Score >= 0.7:
		tier, action = security.TierRed, security.ActionBlock
		reason = fmt.Sprintf("%s; anomalous activity (score %.2f)", reason, anom.Score)
	}

	span.SetAttributes(
		attribute.String("security.tier", string(tier)),
		attribute.String("security.action", string(action)),
	)

	entry := o.auditLog.Create(command, tier, action, reason, userID, channelID)

	switch action {
	case security.ActionBlock:
		slog.Warn("security.blocked", "user_id", userID, "command", command, "reason", reason)
		o.emit(protocol.EventSecurityBlocked, map[string]any{
			"audit_id": entry.ID, "user_id": userID, "reason": reason,
		})
		return hooks.Result{Block: true, Reason: blockPrefix + reason}
	case security.ActionAsk:
		o.emit(protocol.EventSecurityFlagged, map[string]any{
			"audit_id": entry.ID, "user_id": userID, "tier": string(tier), "reason": reason,
		})
		return hooks.Result{Params: withMarkers(ev.Params, map[string]any{
			ParamAuditID: entry.ID,
			ParamTier:    string(tier),
			ParamReason:  reason,
		})}
	default:
		return hooks.Result{Params: withMarkers(ev.Params, map[string]any{
			ParamAuditID: entry.ID,
		})}
	}
}

// block audits a red/block decision and returns the hook block result.
func (o *Orchestrator) block(command, userID, channelID string, tier security.Tier, auditReason, userReason string) hooks.Result {
	entry := o.auditLog.Create(command, tier, security.ActionBlock, auditReason, userID, channelID)
	slog.Warn("security.blocked", "user_id", userID, "command", command, "reason", auditReason)
	o.emit(protocol.EventSecurityBlocked, map[string]any{
		"audit_id": entry.ID, "user_id": userID, "reason": auditReason,
	})
	return hooks.Result{Block: true, Reason: userReason}
}

// AfterShell scrubs the tool result for secrets and finalizes the audit
// entry created by BeforeShell.
func (o *Orchestrator) AfterShell(ctx context.Context, ev hooks.Event, call hooks.CallContext) hooks.Result {
	if ev.ToolName != ShellTool {
		return hooks.Pass
	}
	auditID, ok := ev.Params[ParamAuditID].(string)
	if !ok || auditID == "" {
		return hooks.Pass
	}

	_, span := tracing.StartSpan(ctx, "security.after_shell",
		trace.WithAttributes(attribute.String("audit.id", auditID)))
	defer span.End()

	output := coerceString(ev.Result)
	now := time.Now()
	patch := audit.Patch{ExecutedAt: &now}
	if ev.Error != "" {
		patch.Error = &ev.Error
	}

	res := o.scanner.ScanOutput(output)
	if !res.HasSecrets {
		stored := truncate(output, maxAuditOutput)
		patch.Output = &stored
		o.update(auditID, patch)
		return hooks.Pass
	}

	span.SetAttributes(attribute.Int("secrets.count", res.Count))
	o.emit(protocol.EventSecretsDetected, map[string]any{
		"audit_id": auditID, "user_id": call.UserID, "count": res.Count,
	})
	patch.SecretsFound = res.Matches

	switch o.scanner.Config().Get().Mode {
	case secrets.ModeBlock:
		blocked := outputBlockedMsg
		redacted := true
		patch.Output = &blocked
		patch.SecretsRedacted = &redacted
		o.update(auditID, patch)
		return hooks.Result{Block: true, Reason: fmt.Sprintf(
			"Output blocked: %d secret(s) detected", res.Count)}
	case secrets.ModeRedact:
		stored := truncate(res.RedactedText, maxAuditOutput)
		redacted := true
		patch.Output = &stored
		patch.SecretsRedacted = &redacted
		o.update(auditID, patch)
		return hooks.Pass
	default: // warn
		stored := truncate(output, maxAuditOutput)
		patch.Output = &stored
		o.update(auditID, patch)
		return hooks.Pass
	}
}

func (o *Orchestrator) update(auditID string, patch audit.Patch) {
	if err := o.auditLog.Update(auditID, patch); err != nil {
		slog.Warn("security.audit_update_failed", "audit_id", auditID, "error", err)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// withMarkers copies params and adds the marker keys, leaving the caller's
// map untouched.
func withMarkers(params, markers map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(markers))
	for k, v := range params {
		out[k] = v
	}
	for k, v := range markers {
		out[k] = v
	}
	return out
}

func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
