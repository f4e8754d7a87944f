package protocol

// RPC method name constants exposed to the dashboard.

// Security pipeline
const (
	MethodSecurityClassify        = "security.classify"
	MethodSecurityClassifyWithLLM = "security.classifyWithLLM"

	MethodRateLimitStatus = "security.rateLimit.status"
	MethodRateLimitReset  = "security.rateLimit.reset"

	MethodAnomalyAnalyze        = "security.anomaly.analyze"
	MethodAnomalyUpdateBaseline = "security.anomaly.updateBaseline"
	MethodAnomalyGetBaseline    = "security.anomaly.getBaseline"

	MethodSecretsScan      = "security.secrets.scan"
	MethodSecretsRedact    = "security.secrets.redact"
	MethodSecretsConfigure = "security.secrets.configure"
	MethodSecretsGetConfig = "security.secrets.getConfig"

	MethodInjectionDetect   = "security.injection.detect"
	MethodInjectionSanitize = "security.injection.sanitize"
)

// Audit log
const (
	MethodAuditLogs  = "audit.logs"
	MethodAuditStats = "audit.stats"
)

// Approvals
const (
	MethodApprovalsPending = "approvals.pending"
	MethodApprovalsRequest = "approvals.request"
	MethodApprovalsApprove = "approvals.approve"
	MethodApprovalsReject  = "approvals.reject"
)

// Sandbox lifecycle
const (
	MethodSandboxStatus    = "sandbox.status"
	MethodSandboxCreate    = "sandbox.create"
	MethodSandboxKill      = "sandbox.kill"
	MethodSandboxHibernate = "sandbox.hibernate"
)

// Cron scheduler
const (
	MethodCronList   = "cron.list"
	MethodCronCreate = "cron.create"
	MethodCronUpdate = "cron.update"
	MethodCronDelete = "cron.delete"
	MethodCronToggle = "cron.toggle"
	MethodCronStatus = "cron.status"
	MethodCronRun    = "cron.run"
)

// Guarded execution
const (
	MethodExec = "exec"
)

// System
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"
)
