package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawgate/internal/approval"
	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/cron"
	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/runner"
	"github.com/nextlevelbuilder/clawgate/internal/sandbox"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Components are the subsystems the router exposes over RPC.
type Components struct {
	Classifier *security.Classifier
	Injection  *security.InjectionDetector
	Limiter    *security.RateLimiter
	Anomaly    *security.AnomalyDetector
	Scanner    *secrets.Scanner
	AuditLog   *audit.Log
	Approvals  *approval.Waiter
	Sandboxes  *sandbox.Manager
	CronStore  *cron.FileStore
	CronSched  *cron.Scheduler

	// Exec, when set, backs the exec method with the full guarded flow.
	Exec *runner.GuardedExec

	// ClassifyWithLLM, when set, backs security.classifyWithLLM. Without
	// it the method falls back to the static classifier.
	ClassifyWithLLM func(ctx context.Context, command string) (security.Classification, error)
}

// HandlerFunc handles one RPC method. A non-nil *protocol.ErrorBody wins
// over the payload.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody)

// MethodRouter dispatches request frames to method handlers.
type MethodRouter struct {
	cfg      *config.Config
	c        *Components
	handlers map[string]HandlerFunc
}

// NewMethodRouter builds the full method table.
func NewMethodRouter(cfg *config.Config, c *Components) *MethodRouter {
	r := &MethodRouter{cfg: cfg, c: c, handlers: make(map[string]HandlerFunc)}

	r.handlers[protocol.MethodHealth] = r.handleHealth
	r.handlers[protocol.MethodStatus] = r.handleStatus

	r.handlers[protocol.MethodSecurityClassify] = r.handleClassify
	r.handlers[protocol.MethodSecurityClassifyWithLLM] = r.handleClassifyWithLLM
	r.handlers[protocol.MethodRateLimitStatus] = r.handleRateLimitStatus
	r.handlers[protocol.MethodRateLimitReset] = r.handleRateLimitReset
	r.handlers[protocol.MethodAnomalyAnalyze] = r.handleAnomalyAnalyze
	r.handlers[protocol.MethodAnomalyUpdateBaseline] = r.handleAnomalyUpdateBaseline
	r.handlers[protocol.MethodAnomalyGetBaseline] = r.handleAnomalyGetBaseline
	r.handlers[protocol.MethodSecretsScan] = r.handleSecretsScan
	r.handlers[protocol.MethodSecretsRedact] = r.handleSecretsRedact
	r.handlers[protocol.MethodSecretsConfigure] = r.handleSecretsConfigure
	r.handlers[protocol.MethodSecretsGetConfig] = r.handleSecretsGetConfig
	r.handlers[protocol.MethodInjectionDetect] = r.handleInjectionDetect
	r.handlers[protocol.MethodInjectionSanitize] = r.handleInjectionSanitize

	r.handlers[protocol.MethodAuditLogs] = r.handleAuditLogs
	r.handlers[protocol.MethodAuditStats] = r.handleAuditStats

	r.handlers[protocol.MethodApprovalsPending] = r.handleApprovalsPending
	r.handlers[protocol.MethodApprovalsRequest] = r.handleApprovalsRequest
	r.handlers[protocol.MethodApprovalsApprove] = r.handleApprovalsApprove
	r.handlers[protocol.MethodApprovalsReject] = r.handleApprovalsReject

	r.handlers[protocol.MethodSandboxStatus] = r.handleSandboxStatus
	r.handlers[protocol.MethodSandboxCreate] = r.handleSandboxCreate
	r.handlers[protocol.MethodSandboxKill] = r.handleSandboxKill
	r.handlers[protocol.MethodSandboxHibernate] = r.handleSandboxHibernate

	r.handlers[protocol.MethodCronList] = r.handleCronList
	r.handlers[protocol.MethodCronCreate] = r.handleCronCreate
	r.handlers[protocol.MethodCronUpdate] = r.handleCronUpdate
	r.handlers[protocol.MethodCronDelete] = r.handleCronDelete
	r.handlers[protocol.MethodCronToggle] = r.handleCronToggle
	r.handlers[protocol.MethodCronStatus] = r.handleCronStatus
	r.handlers[protocol.MethodCronRun] = r.handleCronRun

	r.handlers[protocol.MethodExec] = r.handleExec

	return r
}

// Register adds or replaces a method handler.
func (r *MethodRouter) Register(method string, fn HandlerFunc) {
	r.handlers[method] = fn
}

// Dispatch routes one request frame and builds the response.
func (r *MethodRouter) Dispatch(ctx context.Context, req protocol.RequestFrame) *protocol.ResponseFrame {
	fn, ok := r.handlers[req.Method]
	if !ok {
		return protocol.ErrResponse(req.ID, protocol.ErrNotFound, "unknown method: "+req.Method)
	}
	payload, errBody := fn(ctx, req.Params)
	if errBody != nil {
		return &protocol.ResponseFrame{ID: req.ID, OK: false, Error: errBody}
	}
	return protocol.OKResponse(req.ID, payload)
}

func invalidParams(msg string) *protocol.ErrorBody {
	return &protocol.ErrorBody{Code: protocol.ErrInvalidParams, Message: msg}
}

func internalErr(err error) *protocol.ErrorBody {
	slog.Error("rpc internal error", "error", err)
	return &protocol.ErrorBody{Code: protocol.ErrInternal, Message: err.Error()}
}

func decode[T any](params json.RawMessage, out *T) *protocol.ErrorBody {
	if len(params) == 0 {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(params, out); err != nil {
		return invalidParams("malformed params: " + err.Error())
	}
	return nil
}

// --- system ---

func (r *MethodRouter) handleHealth(context.Context, json.RawMessage) (any, *protocol.ErrorBody) {
	return map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}, nil
}

func (r *MethodRouter) handleStatus(context.Context, json.RawMessage) (any, *protocol.ErrorBody) {
	scheduled, active := 0, 0
	if r.c.CronSched != nil {
		scheduled, active = r.c.CronSched.Status()
	}
	return map[string]any{
		"audit_entries":  r.c.AuditLog.Count(""),
		"cron_scheduled": scheduled,
		"cron_active":    active,
		"managed_mode":   r.cfg.IsManagedMode(),
	}, nil
}

// --- security ---

func (r *MethodRouter) handleClassify(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Command string `json:"command"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	return r.c.Classifier.Classify(p.Command), nil
}

func (r *MethodRouter) handleClassifyWithLLM(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Command string `json:"command"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if r.c.ClassifyWithLLM == nil {
		return r.c.Classifier.Classify(p.Command), nil
	}
	cls, err := r.c.ClassifyWithLLM(ctx, p.Command)
	if err != nil {
		// LLM audit is advisory; fall back to static rules.
		slog.Warn("security.llm_classify_failed", "error", err)
		return r.c.Classifier.Classify(p.Command), nil
	}
	return cls, nil
}

func (r *MethodRouter) handleRateLimitStatus(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID    string `json:"user_id"`
		ChannelID string `json:"channel_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.UserID == "" {
		return nil, invalidParams("user_id is required")
	}
	if r.c.Limiter == nil {
		return map[string]any{"enabled": false}, nil
	}
	return r.c.Limiter.Status(p.UserID, p.ChannelID), nil
}

func (r *MethodRouter) handleRateLimitReset(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.UserID == "" {
		return nil, invalidParams("user_id is required")
	}
	if r.c.Limiter != nil {
		r.c.Limiter.Reset(p.UserID)
	}
	return map[string]any{"success": true}, nil
}

func (r *MethodRouter) handleAnomalyAnalyze(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID  string `json:"user_id"`
		Command string `json:"command"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.UserID == "" {
		return nil, invalidParams("user_id is required")
	}
	return r.c.Anomaly.Analyze(p.UserID, p.Command), nil
}

func (r *MethodRouter) handleAnomalyUpdateBaseline(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.UserID == "" {
		return nil, invalidParams("user_id is required")
	}
	baseline, updated := r.c.Anomaly.UpdateBaseline(p.UserID)
	return map[string]any{"success": updated, "baseline": baseline}, nil
}

func (r *MethodRouter) handleAnomalyGetBaseline(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	return map[string]any{"baseline": r.c.Anomaly.Baseline(p.UserID)}, nil
}

func (r *MethodRouter) handleSecretsScan(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Text string `json:"text"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	return r.c.Scanner.ScanOutput(p.Text), nil
}

func (r *MethodRouter) handleSecretsRedact(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Text string `json:"text"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	matches := r.c.Scanner.Scan(p.Text)
	return map[string]any{
		"redacted": r.c.Scanner.Redact(p.Text),
		"found":    len(matches),
		"matches":  matches,
	}, nil
}

func (r *MethodRouter) handleSecretsConfigure(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Mode              *string `json:"mode"`
		EnableLineNumbers *bool   `json:"enable_line_numbers"`
		MaxPerType        *int    `json:"max_per_type"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	var mode *secrets.Mode
	if p.Mode != nil {
		m := secrets.Mode(*p.Mode)
		mode = &m
	}
	r.c.Scanner.Config().Update(mode, p.EnableLineNumbers, p.MaxPerType)
	return map[string]any{"success": true, "config": r.c.Scanner.Config().Get()}, nil
}

func (r *MethodRouter) handleSecretsGetConfig(context.Context, json.RawMessage) (any, *protocol.ErrorBody) {
	return map[string]any{"config": r.c.Scanner.Config().Get()}, nil
}

func (r *MethodRouter) handleInjectionDetect(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Text        string `json:"text"`
		Sensitivity string `json:"sensitivity"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.Sensitivity != "" {
		return r.c.Injection.DetectWith(p.Text, security.Sensitivity(p.Sensitivity)), nil
	}
	return r.c.Injection.Detect(p.Text), nil
}

func (r *MethodRouter) handleInjectionSanitize(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Text string `json:"text"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	sanitized, modified := r.c.Injection.Sanitize(p.Text)
	return map[string]any{
		"original":  p.Text,
		"sanitized": sanitized,
		"modified":  modified,
	}, nil
}

// --- audit ---

func (r *MethodRouter) handleAuditLogs(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
		Tier   string `json:"tier"`
		Action string `json:"action"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	entries := r.c.AuditLog.Query(p.UserID, audit.QueryFilter{
		Tier:   security.Tier(p.Tier),
		Action: security.Action(p.Action),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	return map[string]any{
		"entries": entries,
		"total":   r.c.AuditLog.Count(p.UserID),
	}, nil
}

func (r *MethodRouter) handleAuditStats(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
		Days   int    `json:"days"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	return r.c.AuditLog.Stats(p.UserID, p.Days), nil
}

// --- approvals ---

func (r *MethodRouter) handleApprovalsPending(context.Context, json.RawMessage) (any, *protocol.ErrorBody) {
	requests := r.c.Approvals.ListPending()
	return map[string]any{"requests": requests, "count": len(requests)}, nil
}

// handleApprovalsRequest blocks its dispatch goroutine until the request
// is decided or times out.
func (r *MethodRouter) handleApprovalsRequest(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Command     string `json:"command"`
		Tier        string `json:"tier"`
		Reason      string `json:"reason"`
		RequesterID string `json:"requester_id"`
		TimeoutSec  int    `json:"timeout_sec"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.Command == "" {
		return nil, invalidParams("command is required")
	}
	tier := security.Tier(p.Tier)
	if tier != security.TierYellow && tier != security.TierRed {
		return nil, invalidParams("tier must be yellow or red")
	}
	timeout := r.cfg.Security.ApprovalTimeout()
	if p.TimeoutSec > 0 {
		timeout = time.Duration(p.TimeoutSec) * time.Second
	}

	ticket := r.c.Approvals.Submit(p.Command, tier, p.Reason, p.RequesterID, timeout)
	decision, err := ticket.Wait(ctx)
	switch {
	case err == nil:
		return map[string]any{
			"approved":    decision.Approved,
			"approved_by": decision.ApprovedBy,
			"timestamp":   decision.Timestamp,
		}, nil
	case errors.Is(err, approval.ErrTimeout):
		return nil, &protocol.ErrorBody{Code: protocol.ErrApprovalTimeout, Message: err.Error()}
	case errors.Is(err, approval.ErrRejected):
		return nil, &protocol.ErrorBody{Code: protocol.ErrApprovalReject, Message: err.Error()}
	default:
		return nil, internalErr(err)
	}
}

func (r *MethodRouter) handleApprovalsApprove(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID         string `json:"id"`
		ApprovedBy string `json:"approved_by"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	if err := r.c.Approvals.Approve(p.ID, p.ApprovedBy); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
		}
		return nil, internalErr(err)
	}
	return map[string]any{"success": true}, nil
}

func (r *MethodRouter) handleApprovalsReject(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	if err := r.c.Approvals.Reject(p.ID, p.Reason); err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
		}
		return nil, internalErr(err)
	}
	return map[string]any{"success": true}, nil
}

// --- sandbox ---

func decodeUserID(params json.RawMessage) (string, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return "", eb
	}
	if p.UserID == "" {
		return "", invalidParams("user_id is required")
	}
	return p.UserID, nil
}

func (r *MethodRouter) handleSandboxStatus(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	userID, eb := decodeUserID(params)
	if eb != nil {
		return nil, eb
	}
	return r.c.Sandboxes.Status(userID), nil
}

func (r *MethodRouter) handleSandboxCreate(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	userID, eb := decodeUserID(params)
	if eb != nil {
		return nil, eb
	}
	if _, err := r.c.Sandboxes.GetOrCreate(ctx, userID); err != nil {
		return nil, &protocol.ErrorBody{Code: protocol.ErrSandbox, Message: err.Error()}
	}
	return r.c.Sandboxes.Status(userID), nil
}

func (r *MethodRouter) handleSandboxKill(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	userID, eb := decodeUserID(params)
	if eb != nil {
		return nil, eb
	}
	r.c.Sandboxes.Terminate(ctx, userID)
	return r.c.Sandboxes.Status(userID), nil
}

func (r *MethodRouter) handleSandboxHibernate(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	userID, eb := decodeUserID(params)
	if eb != nil {
		return nil, eb
	}
	r.c.Sandboxes.Hibernate(ctx, userID)
	return r.c.Sandboxes.Status(userID), nil
}

// --- guarded execution ---

// handleExec runs a command through the full pipeline: hooks, approval
// rendezvous for flagged commands, sandbox execution, output scrubbing.
// It blocks its dispatch goroutine for the approval wait.
func (r *MethodRouter) handleExec(ctx context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		Command   string `json:"command"`
		UserID    string `json:"user_id"`
		ChannelID string `json:"channel_id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.Command == "" {
		return nil, invalidParams("command is required")
	}
	if p.UserID == "" {
		return nil, invalidParams("user_id is required")
	}
	if r.c.Exec == nil {
		return nil, &protocol.ErrorBody{Code: protocol.ErrInternal, Message: "exec not configured"}
	}

	out, err := r.c.Exec.Run(ctx, hooks.CallContext{
		UserID:    p.UserID,
		ChannelID: p.ChannelID,
	}, p.Command)
	var blocked runner.ErrBlocked
	switch {
	case errors.As(err, &blocked):
		return nil, &protocol.ErrorBody{Code: protocol.ErrBlockedByPolicy, Message: blocked.Reason}
	case err != nil:
		return map[string]any{"success": false, "output": out, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "output": out}, nil
}

// --- cron ---

func (r *MethodRouter) handleCronList(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID string `json:"user_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("malformed params: " + err.Error())
		}
	}
	jobs := r.c.CronStore.List()
	if p.UserID != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.UserID == p.UserID {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	return map[string]any{"jobs": jobs, "count": len(jobs)}, nil
}

func (r *MethodRouter) handleCronCreate(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		UserID         string `json:"user_id"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		CronExpression string `json:"cron_expression"`
		Command        string `json:"command"`
		ChannelID      string `json:"channel_id"`
		Timezone       string `json:"timezone"`
		Enabled        *bool  `json:"enabled"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.Name == "" || p.CronExpression == "" || p.Command == "" {
		return nil, invalidParams("name, cron_expression and command are required")
	}

	now := time.Now().UTC()
	job := cron.Job{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		Name:           p.Name,
		Description:    p.Description,
		CronExpression: p.CronExpression,
		Command:        p.Command,
		ChannelID:      p.ChannelID,
		Timezone:       p.Timezone,
		Enabled:        p.Enabled == nil || *p.Enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.c.CronStore.Save(job); err != nil {
		return nil, internalErr(err)
	}
	if job.Enabled {
		if err := r.c.CronSched.Schedule(job); err != nil {
			return nil, invalidParams(err.Error())
		}
	}
	saved, err := r.c.CronStore.Get(job.ID)
	if err != nil {
		return nil, internalErr(err)
	}
	return saved, nil
}

func (r *MethodRouter) handleCronUpdate(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID             string  `json:"id"`
		Name           *string `json:"name"`
		Description    *string `json:"description"`
		CronExpression *string `json:"cron_expression"`
		Command        *string `json:"command"`
		Timezone       *string `json:"timezone"`
		Enabled        *bool   `json:"enabled"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	job, err := r.c.CronStore.Get(p.ID)
	if err != nil {
		return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
	}

	if p.Name != nil {
		job.Name = *p.Name
	}
	if p.Description != nil {
		job.Description = *p.Description
	}
	if p.CronExpression != nil {
		job.CronExpression = *p.CronExpression
	}
	if p.Command != nil {
		job.Command = *p.Command
	}
	if p.Timezone != nil {
		job.Timezone = *p.Timezone
	}
	if p.Enabled != nil {
		job.Enabled = *p.Enabled
	}
	job.UpdatedAt = time.Now().UTC()

	if err := r.c.CronStore.Save(job); err != nil {
		return nil, internalErr(err)
	}
	r.c.CronSched.Unschedule(job.ID)
	if job.Enabled {
		if err := r.c.CronSched.Schedule(job); err != nil {
			return nil, invalidParams(err.Error())
		}
	}
	saved, err := r.c.CronStore.Get(job.ID)
	if err != nil {
		return nil, internalErr(err)
	}
	return saved, nil
}

func (r *MethodRouter) handleCronDelete(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID string `json:"id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	r.c.CronSched.Unschedule(p.ID)
	if err := r.c.CronStore.Delete(p.ID); err != nil {
		if errors.Is(err, cron.ErrNotFound) {
			return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
		}
		return nil, internalErr(err)
	}
	return map[string]any{"success": true}, nil
}

func (r *MethodRouter) handleCronToggle(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	job, err := r.c.CronStore.Get(p.ID)
	if err != nil {
		return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
	}
	job.Enabled = p.Enabled
	job.UpdatedAt = time.Now().UTC()
	if err := r.c.CronStore.Save(job); err != nil {
		return nil, internalErr(err)
	}
	if p.Enabled {
		if err := r.c.CronSched.Schedule(job); err != nil {
			return nil, invalidParams(err.Error())
		}
	} else {
		r.c.CronSched.Unschedule(job.ID)
	}
	return map[string]any{"success": true, "enabled": p.Enabled}, nil
}

func (r *MethodRouter) handleCronStatus(context.Context, json.RawMessage) (any, *protocol.ErrorBody) {
	scheduled, active := r.c.CronSched.Status()
	jobs := r.c.CronStore.List()
	enabled := 0
	for _, j := range jobs {
		if j.Enabled {
			enabled++
		}
	}
	return map[string]any{
		"jobs":      len(jobs),
		"enabled":   enabled,
		"scheduled": scheduled,
		"active":    active,
	}, nil
}

func (r *MethodRouter) handleCronRun(_ context.Context, params json.RawMessage) (any, *protocol.ErrorBody) {
	var p struct {
		ID string `json:"id"`
	}
	if eb := decode(params, &p); eb != nil {
		return nil, eb
	}
	if p.ID == "" {
		return nil, invalidParams("id is required")
	}
	if err := r.c.CronSched.RunNow(p.ID); err != nil {
		if errors.Is(err, cron.ErrNotFound) {
			return nil, &protocol.ErrorBody{Code: protocol.ErrNotFound, Message: err.Error()}
		}
		return nil, internalErr(err)
	}
	return map[string]any{"success": true}, nil
}
